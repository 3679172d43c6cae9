package backend

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/leaf-inspector-go/internal/errors"
	"github.com/anime-shed/leaf-inspector-go/internal/labels"
	"github.com/anime-shed/leaf-inspector-go/internal/logger"
	"github.com/anime-shed/leaf-inspector-go/internal/tensor"
)

// Model is an opaque function from an input tensor to a score vector. The
// ONNX runtime implementation lives in backend/onnx.
type Model interface {
	Run(ctx context.Context, input []float32) ([]float32, error)
	Close() error
}

// ModelFactory builds a Model from the raw model artifact
type ModelFactory func(modelData []byte) (Model, error)

// Local runs a bundled model in-process. The model handle and label table
// are read-only after construction and shared by concurrent calls.
type Local struct {
	model  Model
	labels *labels.Table
	size   int
	closed atomic.Bool
}

// NewLocal wraps an already loaded model
func NewLocal(model Model, table *labels.Table, size int) *Local {
	return &Local{model: model, labels: table, size: size}
}

// LoadLocal parses the label table and builds the model. Malformed
// artifacts fail with a LoadError.
func LoadLocal(modelData, labelData []byte, size int, factory ModelFactory) (*Local, error) {
	if size <= 0 {
		return nil, apperrors.NewLoadError(apperrors.CorruptModel, fmt.Sprintf("invalid input size %d", size), nil)
	}

	table, err := labels.ParseTable(labelData)
	if err != nil {
		return nil, err
	}

	if len(modelData) == 0 {
		return nil, apperrors.NewLoadError(apperrors.CorruptModel, "model artifact is empty", nil)
	}

	model, err := factory(modelData)
	if err != nil {
		return nil, apperrors.NewLoadError(apperrors.CorruptModel, "failed to load model", err)
	}

	logger.WithFields(logrus.Fields{
		"labels":     table.Len(),
		"input_size": size,
	}).Info("Local model loaded")

	return NewLocal(model, table, size), nil
}

func (l *Local) Kind() Kind { return KindLocal }

func (l *Local) InputSize() int { return l.size }

// Labels exposes the loaded label table
func (l *Local) Labels() *labels.Table { return l.labels }

// Infer runs the model on a preprocessed tensor. A label table that does
// not match the model output length is reported here, not at load time.
func (l *Local) Infer(ctx context.Context, in Input) (*Output, error) {
	if l == nil || l.model == nil || l.labels == nil || l.closed.Load() {
		return nil, apperrors.NewInferenceError(apperrors.ModelNotLoaded, "local model is not loaded", nil)
	}
	if in.Tensor == nil {
		return nil, apperrors.NewInferenceError(apperrors.InvalidInput, "local inference requires a tensor", nil)
	}
	if want := tensor.Len(l.size); len(in.Tensor.Values) != want {
		return nil, apperrors.NewInferenceError(apperrors.InvalidInput,
			fmt.Sprintf("tensor has %d values, expected %d", len(in.Tensor.Values), want), nil)
	}

	scores, err := l.model.Run(ctx, in.Tensor.Values)
	if err != nil {
		return nil, apperrors.NewInferenceError(apperrors.ExecutionFailed, "model execution failed", err)
	}

	if len(scores) != l.labels.Len() {
		return nil, apperrors.NewInferenceError(apperrors.LabelCountMismatch,
			fmt.Sprintf("model produced %d scores for %d labels", len(scores), l.labels.Len()), nil)
	}

	return &Output{Scores: scores, Labels: l.labels}, nil
}

// Close releases the model. Later calls fail with ModelNotLoaded.
func (l *Local) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.model.Close()
}
