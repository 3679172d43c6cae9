package transport

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/leaf-inspector-go/internal/backend"
	"github.com/anime-shed/leaf-inspector-go/internal/decoder"
	apperrors "github.com/anime-shed/leaf-inspector-go/internal/errors"
	"github.com/anime-shed/leaf-inspector-go/internal/leafcheck"
	"github.com/anime-shed/leaf-inspector-go/internal/logger"
	"github.com/anime-shed/leaf-inspector-go/internal/observer"
	"github.com/anime-shed/leaf-inspector-go/pkg/models"
)

const notLeafMessage = "Uploaded image does not appear to contain a tomato leaf. Please upload a clear leaf image."

func (h *handler) predictUpload(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.Server.RequestTimeout)
	defer cancel()

	header, err := c.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			_ = c.Error(err)
			return
		}
		_ = c.Error(apperrors.NewValidationError("No file part", err))
		return
	}
	if err := h.uploads.ValidateFilename(header.Filename); err != nil {
		_ = c.Error(err)
		return
	}

	file, err := header.Open()
	if err != nil {
		_ = c.Error(apperrors.NewValidationError("Failed to read upload", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		_ = c.Error(apperrors.NewValidationError("Failed to read upload", err))
		return
	}

	logger.WithFields(logrus.Fields{
		"filename": header.Filename,
		"bytes":    len(data),
		"ip":       c.ClientIP(),
	}).Info("Processing prediction upload")

	h.predict(ctx, c, data, header.Filename)
}

func (h *handler) predictURL(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.Server.RequestTimeout)
	defer cancel()

	if h.deps.Fetcher == nil {
		_ = c.Error(apperrors.NewUnavailableError("URL fetching is disabled", nil))
		return
	}

	var req models.PredictURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewValidationError("Invalid request format", err))
		return
	}
	if err := h.urls.ValidateImageURL(req.URL); err != nil {
		_ = c.Error(err)
		return
	}

	start := time.Now()
	data, err := h.deps.Fetcher.Fetch(ctx, req.URL)
	if err != nil {
		h.publish(ctx, observer.ClassificationEvent{
			EventType:    observer.ImageFetchFailed,
			Source:       req.URL,
			ErrorMessage: err.Error(),
		})
		if errors.Is(err, context.DeadlineExceeded) {
			_ = c.Error(apperrors.NewTimeoutError("Image fetch timeout", err))
		} else {
			_ = c.Error(apperrors.NewNetworkError("Failed to fetch image", err))
		}
		return
	}

	h.publish(ctx, observer.ClassificationEvent{
		EventType:      observer.ImageFetched,
		Source:         req.URL,
		ProcessingTime: time.Since(start),
		Success:        true,
		Metadata:       map[string]interface{}{"bytes": len(data)},
	})

	h.predict(ctx, c, data, req.URL)
}

// predict runs the shared flow: sniff, leaf check, store, classify, mask
func (h *handler) predict(ctx context.Context, c *gin.Context, data []byte, source string) {
	if _, err := h.uploads.ValidateContent(data); err != nil {
		_ = c.Error(err)
		return
	}

	img, err := decoder.DecodeBytes(data)
	if err != nil {
		_ = c.Error(apperrors.NewClassificationError(apperrors.StageDecode, err))
		return
	}

	thresholds := h.deps.Thresholds.Get()
	if h.cfg.Leaf.Enabled {
		check := leafcheck.Check(img, thresholds)
		if !check.IsLeaf {
			h.publish(ctx, observer.ClassificationEvent{
				EventType: observer.LeafRejected,
				Source:    source,
				Metadata: map[string]interface{}{
					"green_proportion": check.Proportion,
					"threshold":        check.MinProportion,
				},
			})
			_ = c.Error(apperrors.NewValidationError(notLeafMessage, nil))
			return
		}
	}

	if err := h.ensureModel(ctx); err != nil {
		_ = c.Error(err)
		return
	}

	name := uuid.NewString() + mimetype.Detect(data).Extension()
	if err := h.deps.Store.Save(ctx, name, data); err != nil {
		_ = c.Error(apperrors.NewInternalError("Failed to store upload", err))
		return
	}

	result, err := h.deps.Pipeline.Classify(ctx, decoder.FromBytes(data, name))
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := models.PredictResponse{
		Prediction:  result.Prediction.Label,
		Confidence:  percent(result.Prediction.Confidence, result.Backend),
		Description: h.deps.Knowledge.Describe(result.Prediction.Label),
		RequestID:   result.RequestID,
		Filename:    name,
	}

	if mask, err := h.saveMask(ctx, img, name); err != nil {
		logger.WithError(err).WithField("filename", name).Warn("Failed to create mask overlay")
	} else {
		resp.Mask = &mask
	}

	c.JSON(http.StatusOK, resp)
}

// ensureModel loads the local model on first use
func (h *handler) ensureModel(ctx context.Context) error {
	if h.deps.Loader == nil || h.deps.Loader.Loaded() {
		return nil
	}
	if _, err := h.deps.Loader.Load(ctx); err != nil {
		return apperrors.NewClassificationError(apperrors.StageInfer,
			apperrors.NewInferenceError(apperrors.ModelNotLoaded, "Model not found", err))
	}
	return nil
}

func (h *handler) saveMask(ctx context.Context, img *decoder.Image, name string) (string, error) {
	data, err := leafcheck.EncodeMask(img, h.deps.Thresholds.Get())
	if err != nil {
		return "", err
	}
	mask := leafcheck.MaskName(name)
	if err := h.deps.Store.Save(ctx, mask, data); err != nil {
		return "", err
	}
	return mask, nil
}

// percent reports local scores as a percentage with two decimals. Remote
// servers already answer in percent.
func percent(confidence float64, kind backend.Kind) float64 {
	if kind == backend.KindLocal {
		confidence *= 100
	}
	return math.Round(confidence*100) / 100
}
