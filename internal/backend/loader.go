package backend

import (
	"context"
	"sync/atomic"

	apperrors "github.com/anime-shed/leaf-inspector-go/internal/errors"
	"github.com/anime-shed/leaf-inspector-go/internal/logger"
)

// LoadFunc produces a ready Local backend
type LoadFunc func(ctx context.Context) (*Local, error)

type loadFailure struct{ err error }

// Loader is the single initialization point for the local model. Load is
// idempotent and safe under concurrent first use; a failed load is kept
// until Reset so every caller sees the same failure. Infer and Err never
// wait on a load in progress, and callers waiting in Load give up when
// their context ends.
type Loader struct {
	sem     chan struct{}
	load    LoadFunc
	size    int
	done    bool // guarded by sem
	failure atomic.Pointer[loadFailure]
	active  atomic.Pointer[Local]
}

func NewLoader(size int, load LoadFunc) *Loader {
	return &Loader{sem: make(chan struct{}, 1), load: load, size: size}
}

func (l *Loader) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loader) release() { <-l.sem }

// Load initializes the backend at most once
func (l *Loader) Load(ctx context.Context) (*Local, error) {
	if local := l.active.Load(); local != nil {
		return local, nil
	}
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()

	if l.done {
		return l.active.Load(), l.Err()
	}

	local, err := l.load(ctx)
	l.done = true
	if err != nil {
		l.failure.Store(&loadFailure{err: err})
		logger.WithError(err).Error("Local model initialization failed")
		return nil, err
	}

	l.active.Store(local)
	logger.WithField("labels", local.Labels().Len()).Info("Local model loaded")
	return local, nil
}

// Loaded reports whether a backend is available for inference
func (l *Loader) Loaded() bool {
	return l.active.Load() != nil
}

// Err returns the remembered initialization failure, if any
func (l *Loader) Err() error {
	if f := l.failure.Load(); f != nil {
		return f.err
	}
	return nil
}

func (l *Loader) Kind() Kind { return KindLocal }

func (l *Loader) InputSize() int { return l.size }

// Infer fails with ModelNotLoaded until Load has succeeded
func (l *Loader) Infer(ctx context.Context, in Input) (*Output, error) {
	local := l.active.Load()
	if local == nil {
		return nil, apperrors.NewInferenceError(apperrors.ModelNotLoaded, "local model is not loaded", l.Err())
	}
	return local.Infer(ctx, in)
}

// Reset closes any loaded backend and forgets a previous failure so the
// next Load starts over. It waits for a load in progress to finish.
func (l *Loader) Reset() error {
	_ = l.acquire(context.Background())
	defer l.release()

	var err error
	if local := l.active.Swap(nil); local != nil {
		err = local.Close()
	}
	l.failure.Store(nil)
	l.done = false
	return err
}

// Close releases the loaded model. Loaded reports false afterwards and a
// later Load starts over.
func (l *Loader) Close() error {
	return l.Reset()
}
