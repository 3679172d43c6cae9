package transport

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/leaf-inspector-go/internal/backend"
	"github.com/anime-shed/leaf-inspector-go/internal/config"
	apperrors "github.com/anime-shed/leaf-inspector-go/internal/errors"
	"github.com/anime-shed/leaf-inspector-go/internal/knowledge"
	"github.com/anime-shed/leaf-inspector-go/internal/leafcheck"
	"github.com/anime-shed/leaf-inspector-go/internal/logger"
	"github.com/anime-shed/leaf-inspector-go/internal/observer"
	"github.com/anime-shed/leaf-inspector-go/internal/pipeline"
	"github.com/anime-shed/leaf-inspector-go/internal/storage"
	"github.com/anime-shed/leaf-inspector-go/pkg/models"
	"github.com/anime-shed/leaf-inspector-go/pkg/validation"
)

// ModelLoader is the local backend's lifecycle, exposed for lazy loading
// and the reload endpoint
type ModelLoader interface {
	Load(ctx context.Context) (*backend.Local, error)
	Loaded() bool
	Reset() error
}

// DiseaseLookup resolves labels against the knowledge base
type DiseaseLookup interface {
	knowledge.Describer
	Lookup(label string) (knowledge.Entry, bool)
	Entries() []knowledge.Entry
}

// Dependencies are the services behind the HTTP API. Loader, Fetcher,
// Metrics and Publisher are optional.
type Dependencies struct {
	Pipeline   *pipeline.Pipeline
	Loader     ModelLoader
	Store      storage.Store
	Fetcher    storage.Fetcher
	Thresholds *leafcheck.ThresholdStore
	Knowledge  DiseaseLookup
	Metrics    *observer.MetricsObserver
	Publisher  observer.Subject
}

type handler struct {
	deps    Dependencies
	cfg     *config.Config
	uploads *validation.UploadValidator
	urls    *validation.URLValidator
}

func NewHandler(deps Dependencies, cfg *config.Config) http.Handler {
	h := &handler{
		deps:    deps,
		cfg:     cfg,
		uploads: validation.NewUploadValidator(cfg.Server.AllowedExtensions, cfg.Server.MaxRequestBodySize),
		urls:    validation.NewURLValidatorWithOptions([]string{"http", "https"}, cfg.Server.AllowedImageHosts),
	}

	r := gin.Default()

	r.Use(
		requestSizeLimiter(cfg.Server.MaxRequestBodySize),
		errorHandler(),
	)

	r.GET("/health", h.healthCheck)
	r.GET("/metrics", h.metrics)

	r.POST("/api/predict", h.predictUpload)
	r.POST("/api/predict/url", h.predictURL)
	r.GET("/api/diseases", h.listDiseases)
	r.GET("/api/diseases/:label", h.describeDisease)

	r.GET("/static/uploads/:name", h.serveUpload)
	r.GET("/preview/:name", h.preview)

	r.GET("/admin/api", h.getThresholds)
	r.POST("/admin/api", h.updateThresholds)
	r.POST("/admin/model/reload", h.reloadModel)

	return r
}

func (h *handler) healthCheck(c *gin.Context) {
	resp := models.HealthResponse{
		Status:  "ok",
		Backend: string(h.deps.Pipeline.Backend().Kind()),
	}
	if h.deps.Loader != nil {
		loaded := h.deps.Loader.Loaded()
		resp.ModelLoaded = &loaded
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) metrics(c *gin.Context) {
	if h.deps.Metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, h.deps.Metrics.GetMetrics())
}

func (h *handler) listDiseases(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Knowledge.Entries())
}

func (h *handler) describeDisease(c *gin.Context) {
	label := c.Param("label")
	resp := models.DiseaseResponse{Label: label, Description: knowledge.Fallback}
	if entry, ok := h.deps.Knowledge.Lookup(label); ok {
		resp = models.DiseaseResponse{Label: entry.Label, Description: entry.Description, Known: true}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) publish(ctx context.Context, event observer.ClassificationEvent) {
	if h.deps.Publisher != nil {
		h.deps.Publisher.NotifyObservers(ctx, event)
	}
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last().Err
			respondError(c, determineStatusCode(err), errorMessage(err), err)
		}
	}
}

func determineStatusCode(err error) int {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge
	}
	return apperrors.GetStatusCode(err)
}

// errorMessage is the client-facing text for err: an AppError's message or
// the originating stage message of a classification failure
func errorMessage(err error) string {
	var (
		appErr      *apperrors.AppError
		classifyErr *apperrors.ClassificationError
		maxBytesErr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &maxBytesErr):
		return "File too large"
	case errors.As(err, &appErr):
		return appErr.Message
	case errors.As(err, &classifyErr):
		if msg := classifyErr.Message(); msg != "" {
			return msg
		}
	}
	if err == nil {
		return http.StatusText(http.StatusInternalServerError)
	}
	return err.Error()
}

func respondError(c *gin.Context, code int, message string, err error) {
	entry := logger.WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	c.AbortWithStatusJSON(code, models.ErrorResponse{Error: message})
}
