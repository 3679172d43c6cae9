// Package pipeline orchestrates decode, preprocess, inference and label
// resolution for a single image, and fans batches out over a worker pool.
package pipeline

import (
	"bytes"
	"context"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/leaf-inspector-go/internal/backend"
	"github.com/anime-shed/leaf-inspector-go/internal/decoder"
	apperrors "github.com/anime-shed/leaf-inspector-go/internal/errors"
	"github.com/anime-shed/leaf-inspector-go/internal/labels"
	"github.com/anime-shed/leaf-inspector-go/internal/logger"
	"github.com/anime-shed/leaf-inspector-go/internal/observer"
	"github.com/anime-shed/leaf-inspector-go/internal/tensor"
)

// bitmapFilename names in-memory captures sent to a remote backend
const bitmapFilename = "capture.png"

// Result is a successful classification. Mask is empty unless the remote
// server produced one.
type Result struct {
	RequestID  string
	Prediction labels.Prediction
	// Candidates holds the best K labels when the pipeline was built with
	// WithTopK and the backend returned raw scores
	Candidates []labels.Prediction
	Mask       string
	Backend    backend.Kind
	Duration   time.Duration
}

func (r *Result) HasMask() bool {
	return r.Mask != ""
}

// Pipeline binds a backend and an optional event publisher. It holds no
// per-request state, so concurrent Classify calls are independent.
type Pipeline struct {
	backend   backend.Backend
	publisher observer.Subject
	topK      int
}

type Option func(*Pipeline)

// WithPublisher reports started/completed/failed events to subject
func WithPublisher(subject observer.Subject) Option {
	return func(p *Pipeline) {
		p.publisher = subject
	}
}

// WithTopK keeps the k best labels of local inferences in Result.Candidates
func WithTopK(k int) Option {
	return func(p *Pipeline) { p.topK = k }
}

func New(b backend.Backend, opts ...Option) *Pipeline {
	p := &Pipeline{backend: b}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Backend() backend.Backend {
	return p.backend
}

// Classify runs src through the configured backend. Every failure is a
// *errors.ClassificationError naming the stage it came from.
func (p *Pipeline) Classify(ctx context.Context, src decoder.Source) (*Result, error) {
	requestID := uuid.NewString()
	start := time.Now()

	p.publish(ctx, observer.ClassificationEvent{
		EventType: observer.ClassificationStarted,
		RequestID: requestID,
		Source:    src.Filename,
		Backend:   string(p.backend.Kind()),
	})

	result, err := classify(ctx, src, p.backend, p.topK)
	elapsed := time.Since(start)

	if err != nil {
		event := observer.ClassificationEvent{
			EventType:      observer.ClassificationFailed,
			RequestID:      requestID,
			Source:         src.Filename,
			Backend:        string(p.backend.Kind()),
			ProcessingTime: elapsed,
			ErrorMessage:   err.Error(),
		}
		if ce, ok := err.(*apperrors.ClassificationError); ok {
			event.Stage = string(ce.Stage)
		}
		p.publish(ctx, event)
		return nil, err
	}

	result.RequestID = requestID
	result.Duration = elapsed

	p.publish(ctx, observer.ClassificationEvent{
		EventType:      observer.ClassificationCompleted,
		RequestID:      requestID,
		Source:         src.Filename,
		Backend:        string(result.Backend),
		Label:          result.Prediction.Label,
		Confidence:     result.Prediction.Confidence,
		ProcessingTime: elapsed,
		Success:        true,
	})

	return result, nil
}

func (p *Pipeline) publish(ctx context.Context, event observer.ClassificationEvent) {
	if p.publisher != nil {
		p.publisher.NotifyObservers(ctx, event)
	}
}

// Classify is the stateless core. Backends that consume tensors get
// decode and preprocess first; backends with InputSize 0 get the encoded
// bytes untouched.
func Classify(ctx context.Context, src decoder.Source, b backend.Backend) (*Result, error) {
	return classify(ctx, src, b, 0)
}

func classify(ctx context.Context, src decoder.Source, b backend.Backend, topK int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewClassificationError(apperrors.StageInfer, err)
	}

	var (
		in  backend.Input
		err error
	)
	if size := b.InputSize(); size > 0 {
		in, err = tensorInput(src, size)
	} else {
		in, err = encodedInput(src)
	}
	if err != nil {
		return nil, err
	}

	out, err := b.Infer(ctx, in)
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"stage":   apperrors.StageInfer,
			"backend": b.Kind(),
		}).Error("Inference failed")
		return nil, apperrors.NewClassificationError(apperrors.StageInfer, err)
	}

	// the caller walked away; nothing may be reported after this point
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewClassificationError(apperrors.StageInfer, err)
	}

	result := &Result{Backend: b.Kind(), Mask: out.Mask}
	if out.Prediction != nil {
		result.Prediction = *out.Prediction
		return result, nil
	}

	prediction, err := labels.Resolve(out.Scores, out.Labels)
	if err != nil {
		logger.WithError(err).WithField("stage", apperrors.StageResolve).Error("Label resolution failed")
		return nil, apperrors.NewClassificationError(apperrors.StageResolve, err)
	}

	logger.WithFields(logrus.Fields{
		"label": prediction.Label,
		"index": prediction.Index,
		"score": prediction.Confidence,
	}).Debug("Prediction resolved")

	result.Prediction = prediction
	if topK > 0 {
		if result.Candidates, err = labels.TopK(out.Scores, out.Labels, topK); err != nil {
			return nil, apperrors.NewClassificationError(apperrors.StageResolve, err)
		}
	}
	return result, nil
}

func tensorInput(src decoder.Source, size int) (backend.Input, error) {
	img, err := decoder.Decode(src)
	if err != nil {
		return backend.Input{}, apperrors.NewClassificationError(apperrors.StageDecode, err)
	}

	t, err := tensor.Preprocess(img, size)
	if err != nil {
		return backend.Input{}, apperrors.NewClassificationError(apperrors.StagePreprocess, err)
	}

	logger.WithFields(logrus.Fields{
		"width":      img.Width,
		"height":     img.Height,
		"tensor_len": len(t.Values),
	}).Debug("Image preprocessed")

	return backend.Input{Tensor: t, Filename: src.Filename}, nil
}

// encodedInput passes bytes through as-is; an in-memory bitmap is encoded
// to PNG first.
func encodedInput(src decoder.Source) (backend.Input, error) {
	if len(src.Data) > 0 {
		return backend.Input{Encoded: src.Data, Filename: src.Filename}, nil
	}
	if src.Bitmap == nil {
		return backend.Input{}, apperrors.NewClassificationError(apperrors.StageDecode,
			apperrors.NewDecodeError("empty image source", nil))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src.Bitmap, imaging.PNG); err != nil {
		return backend.Input{}, apperrors.NewClassificationError(apperrors.StageDecode,
			apperrors.NewDecodeError("failed to encode bitmap", err))
	}

	filename := src.Filename
	if filename == "" {
		filename = bitmapFilename
	}
	return backend.Input{Encoded: buf.Bytes(), Filename: filename}, nil
}
