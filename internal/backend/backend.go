// Package backend defines the inference capability shared by the on-device
// model runner and the HTTP prediction client.
package backend

import (
	"context"

	"github.com/anime-shed/leaf-inspector-go/internal/labels"
	"github.com/anime-shed/leaf-inspector-go/internal/tensor"
)

// Kind identifies a backend variant
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Backend runs one inference. Implementations must be safe for concurrent
// use; calls share no mutable intermediate state.
type Backend interface {
	Kind() Kind
	// InputSize is the square tensor resolution the backend consumes, or 0
	// when it takes raw encoded image bytes.
	InputSize() int
	Infer(ctx context.Context, in Input) (*Output, error)
}

// Input carries either a preprocessed tensor or the original encoded
// image, depending on the backend's InputSize.
type Input struct {
	Tensor   *tensor.Tensor
	Encoded  []byte
	Filename string
}

// Output is either a raw confidence vector with its label table, or an
// already resolved prediction. Mask is only ever set by remote inference.
type Output struct {
	Scores     []float32
	Labels     *labels.Table
	Prediction *labels.Prediction
	Mask       string
}

// HasMask reports whether the backend returned a mask reference
func (o *Output) HasMask() bool {
	return o != nil && o.Mask != ""
}
