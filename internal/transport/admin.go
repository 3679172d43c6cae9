package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/anime-shed/leaf-inspector-go/internal/decoder"
	apperrors "github.com/anime-shed/leaf-inspector-go/internal/errors"
	"github.com/anime-shed/leaf-inspector-go/internal/leafcheck"
	"github.com/anime-shed/leaf-inspector-go/internal/logger"
	"github.com/anime-shed/leaf-inspector-go/internal/storage"
	"github.com/anime-shed/leaf-inspector-go/pkg/models"
)

func (h *handler) getThresholds(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Thresholds.Get())
}

// updateThresholds merges a partial JSON object into the live thresholds
// and persists the result. Numeric strings and fractional values are
// coerced; unknown keys are ignored.
func (h *handler) updateThresholds(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || len(raw) == 0 {
		_ = c.Error(apperrors.NewValidationError("No JSON body provided", err))
		return
	}

	var patch leafcheck.Patch
	if err := json.Unmarshal(body, &patch); err != nil {
		_ = c.Error(apperrors.NewValidationError(err.Error(), err))
		return
	}

	t := h.deps.Thresholds.Get()
	if patch.IsEmpty() {
		logger.WithField("keys", len(raw)).Debug("Threshold update has no known keys")
	} else {
		if t, err = h.deps.Thresholds.Update(patch); err != nil {
			_ = c.Error(apperrors.NewValidationError(err.Error(), err))
			return
		}
		logger.WithField("thresholds", t).Info("Leaf thresholds updated")
	}

	c.JSON(http.StatusOK, models.ThresholdsResponse{
		Status:        "ok",
		HMin:          t.HMin,
		HMax:          t.HMax,
		SMin:          t.SMin,
		VMin:          t.VMin,
		MinProportion: t.MinProportion,
	})
}

func (h *handler) reloadModel(c *gin.Context) {
	if h.deps.Loader == nil {
		_ = c.Error(apperrors.NewNotFoundError("No local model configured", nil))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.Server.RequestTimeout)
	defer cancel()

	if err := h.deps.Loader.Reset(); err != nil {
		logger.WithError(err).Warn("Failed to close previous model")
	}
	if _, err := h.deps.Loader.Load(ctx); err != nil {
		_ = c.Error(apperrors.NewUnavailableError("Model reload failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) serveUpload(c *gin.Context) {
	data, err := h.deps.Store.Open(c.Request.Context(), c.Param("name"))
	if err != nil {
		_ = c.Error(storageError(err))
		return
	}
	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}

// preview serves the mask overlay of a stored upload, rendering it on
// first request
func (h *handler) preview(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	if err := storage.CheckName(name); err != nil {
		_ = c.Error(apperrors.NewValidationError("Invalid file name", err))
		return
	}
	maskName := leafcheck.MaskName(name)

	rendered, err := h.deps.Store.Exists(ctx, maskName)
	if err != nil {
		_ = c.Error(storageError(err))
		return
	}
	if !rendered {
		data, err := h.deps.Store.Open(ctx, name)
		if err != nil {
			_ = c.Error(storageError(err))
			return
		}
		img, err := decoder.DecodeBytes(data)
		if err != nil {
			_ = c.Error(apperrors.NewClassificationError(apperrors.StageDecode, err))
			return
		}
		if maskName, err = h.saveMask(ctx, img, name); err != nil {
			_ = c.Error(apperrors.NewInternalError("Failed to create mask overlay", err))
			return
		}
	}

	mask, err := h.deps.Store.Open(ctx, maskName)
	if err != nil {
		_ = c.Error(storageError(err))
		return
	}
	c.Data(http.StatusOK, "image/png", mask)
}

func storageError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NewNotFoundError("File not found", err)
	}
	return apperrors.NewInternalError("Storage failure", err)
}
