// Package factory builds inference backends and object stores from
// configuration.
package factory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/leaf-inspector-go/internal/backend"
	"github.com/anime-shed/leaf-inspector-go/internal/backend/onnx"
	"github.com/anime-shed/leaf-inspector-go/internal/config"
	apperrors "github.com/anime-shed/leaf-inspector-go/internal/errors"
	"github.com/anime-shed/leaf-inspector-go/internal/logger"
	"github.com/anime-shed/leaf-inspector-go/internal/storage"
)

// BackendFactory creates inference backends
type BackendFactory interface {
	CreateBackend(kind backend.Kind) (backend.Backend, error)
}

// StorageFactory creates upload/mask stores
type StorageFactory interface {
	CreateStore(storageType string) (storage.Store, error)
}

type backendFactory struct {
	cfg          *config.Config
	fetcher      storage.Fetcher
	modelFactory backend.ModelFactory
}

// NewBackendFactory builds backends from cfg. modelFactory may be nil, in
// which case local models run on ONNX Runtime.
func NewBackendFactory(cfg *config.Config, fetcher storage.Fetcher, modelFactory backend.ModelFactory) BackendFactory {
	if modelFactory == nil {
		modelFactory = ONNXModelFactory(cfg.Model)
	}
	return &backendFactory{cfg: cfg, fetcher: fetcher, modelFactory: modelFactory}
}

// CreateBackend returns a *backend.Loader for local (not yet loaded) or a
// *backend.Remote.
func (f *backendFactory) CreateBackend(kind backend.Kind) (backend.Backend, error) {
	switch kind {
	case backend.KindLocal:
		return NewLocalLoader(f.cfg.Model, f.fetcher, f.modelFactory), nil
	case backend.KindRemote:
		if f.cfg.Backend.Endpoint == "" {
			return nil, fmt.Errorf("remote backend requires an endpoint")
		}
		return backend.NewRemote(f.cfg.Backend.Endpoint, backend.RemoteOptions{
			Timeout: f.cfg.Backend.Timeout,
			Retries: f.cfg.Backend.Retries,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", kind)
	}
}

// ONNXModelFactory runs models through the pooled ONNX Runtime sessions
func ONNXModelFactory(m config.ModelConfig) backend.ModelFactory {
	return func(modelData []byte) (backend.Model, error) {
		return onnx.New(modelData, onnx.Options{
			InputName:      m.InputName,
			OutputName:     m.OutputName,
			InputSize:      m.InputSize,
			PoolSize:       m.PoolSize,
			AcquireTimeout: m.AcquireTimeout,
			SharedLibrary:  m.SharedLibrary,
		})
	}
}

// NewLocalLoader reads the model and label files on first Load,
// downloading the model from m.URL when the file is missing.
func NewLocalLoader(m config.ModelConfig, fetcher storage.Fetcher, modelFactory backend.ModelFactory) *backend.Loader {
	return backend.NewLoader(m.InputSize, func(ctx context.Context) (*backend.Local, error) {
		if err := EnsureModel(ctx, m.Path, m.URL, fetcher); err != nil {
			return nil, apperrors.NewLoadError(apperrors.CorruptModel, "model download failed", err)
		}

		modelData, err := os.ReadFile(m.Path)
		if err != nil {
			return nil, apperrors.NewLoadError(apperrors.CorruptModel, "failed to read model", err)
		}
		labelData, err := os.ReadFile(m.LabelsPath)
		if err != nil {
			return nil, apperrors.NewLoadError(apperrors.CorruptLabels, "failed to read labels", err)
		}

		return backend.LoadLocal(modelData, labelData, m.InputSize, modelFactory)
	})
}

// EnsureModel downloads url to path unless path already exists. An empty
// url leaves a missing file for the loader to report.
func EnsureModel(ctx context.Context, path, url string, fetcher storage.Fetcher) error {
	if _, err := os.Stat(path); err == nil || !errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if url == "" || fetcher == nil {
		return nil
	}

	logger.WithFields(logrus.Fields{
		"path": path,
		"url":  url,
	}).Info("Downloading model")

	data, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create model dir: %w", err)
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write model: %w", err)
	}

	logger.WithField("bytes", len(data)).Info("Model downloaded")
	return nil
}

type storageFactory struct {
	cfg config.StorageConfig
}

func NewStorageFactory(cfg config.StorageConfig) StorageFactory {
	return &storageFactory{cfg: cfg}
}

func (f *storageFactory) CreateStore(storageType string) (storage.Store, error) {
	switch storageType {
	case config.StorageLocal:
		return storage.NewLocalStore(f.cfg.Dir)
	case config.StorageAzure:
		return storage.NewAzureStore(f.cfg.Azure.Account, f.cfg.Azure.Key, f.cfg.Azure.Container)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	BackendFactory BackendFactory
	StorageFactory StorageFactory
}

func NewComponentFactory(cfg *config.Config, fetcher storage.Fetcher, modelFactory backend.ModelFactory) *ComponentFactory {
	return &ComponentFactory{
		BackendFactory: NewBackendFactory(cfg, fetcher, modelFactory),
		StorageFactory: NewStorageFactory(cfg.Storage),
	}
}
