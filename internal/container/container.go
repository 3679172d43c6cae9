package container

import (
	"context"
	"fmt"
	"net/http"

	"github.com/anime-shed/leaf-inspector-go/internal/backend"
	"github.com/anime-shed/leaf-inspector-go/internal/config"
	"github.com/anime-shed/leaf-inspector-go/internal/factory"
	"github.com/anime-shed/leaf-inspector-go/internal/knowledge"
	"github.com/anime-shed/leaf-inspector-go/internal/leafcheck"
	"github.com/anime-shed/leaf-inspector-go/internal/logger"
	"github.com/anime-shed/leaf-inspector-go/internal/observer"
	"github.com/anime-shed/leaf-inspector-go/internal/pipeline"
	"github.com/anime-shed/leaf-inspector-go/internal/storage"
	"github.com/anime-shed/leaf-inspector-go/internal/transport"
)

// Container holds all application dependencies
type Container struct {
	config     *config.Config
	fetcher    storage.Fetcher
	store      storage.Store
	backend    backend.Backend
	loader     *backend.Loader
	publisher  *observer.EventPublisher
	metrics    *observer.MetricsObserver
	pipeline   *pipeline.Pipeline
	knowledge  *knowledge.Base
	thresholds *leafcheck.ThresholdStore
	handler    http.Handler
}

type options struct {
	modelFactory backend.ModelFactory
	backend      backend.Backend
	store        storage.Store
}

type Option func(*options)

// WithModelFactory replaces the ONNX runtime for the local backend
func WithModelFactory(f backend.ModelFactory) Option {
	return func(o *options) { o.modelFactory = f }
}

// WithBackend skips backend construction from config
func WithBackend(b backend.Backend) Option {
	return func(o *options) { o.backend = b }
}

func WithStore(s storage.Store) Option {
	return func(o *options) { o.store = s }
}

// NewContainer builds the dependency graph. A local model that fails to
// load is logged, not fatal: the server starts and prediction requests
// report the failure until the model is reloaded.
func NewContainer(ctx context.Context, cfg *config.Config, opts ...Option) (*Container, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	fetcher := storage.NewHTTPFetcher(
		storage.WithTimeout(cfg.Server.RequestTimeout),
		storage.WithMaxBytes(cfg.Server.MaxRequestBodySize),
	)
	components := factory.NewComponentFactory(cfg, fetcher, o.modelFactory)

	store := o.store
	if store == nil {
		var err error
		store, err = components.StorageFactory.CreateStore(cfg.Storage.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	b := o.backend
	if b == nil {
		var err error
		b, err = components.BackendFactory.CreateBackend(backend.Kind(cfg.Backend.Type))
		if err != nil {
			return nil, fmt.Errorf("failed to create backend: %w", err)
		}
	}

	loader, _ := b.(*backend.Loader)
	if loader != nil {
		if _, err := loader.Load(ctx); err != nil {
			logger.WithError(err).Warn("Local model unavailable; predictions will fail until it is reloaded")
		}
	}

	kb := knowledge.Default()
	if cfg.Knowledge.Path != "" {
		var err error
		kb, err = knowledge.LoadFile(cfg.Knowledge.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load knowledge base: %w", err)
		}
	}

	defaults := leafcheck.Thresholds{
		HMin:          cfg.Leaf.HMin,
		HMax:          cfg.Leaf.HMax,
		SMin:          cfg.Leaf.SMin,
		VMin:          cfg.Leaf.VMin,
		MinProportion: cfg.Leaf.MinProportion,
	}
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid leaf thresholds: %w", err)
	}
	thresholds := leafcheck.NewThresholdStore(cfg.Leaf.ThresholdsFile, defaults)

	publisher := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	publisher.Subscribe(metrics)

	p := pipeline.New(b, pipeline.WithPublisher(publisher))

	deps := transport.Dependencies{
		Pipeline:   p,
		Store:      store,
		Fetcher:    fetcher,
		Thresholds: thresholds,
		Knowledge:  kb,
		Metrics:    metrics,
		Publisher:  publisher,
	}
	if loader != nil {
		deps.Loader = loader
	}

	return &Container{
		config:     cfg,
		fetcher:    fetcher,
		store:      store,
		backend:    b,
		loader:     loader,
		publisher:  publisher,
		metrics:    metrics,
		pipeline:   p,
		knowledge:  kb,
		thresholds: thresholds,
		handler:    transport.NewHandler(deps, cfg),
	}, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

func (c *Container) Pipeline() *pipeline.Pipeline {
	return c.pipeline
}

func (c *Container) Metrics() *observer.MetricsObserver {
	return c.metrics
}

// Close releases the local model, if one was loaded
func (c *Container) Close() error {
	if c.loader != nil {
		return c.loader.Close()
	}
	return nil
}
