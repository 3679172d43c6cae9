package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultPoolSize       = 2
	DefaultAcquireTimeout = 5 * time.Second
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)

// Pool hands out exclusive sessions. Each session owns its bound input and
// output tensors, so concurrent inferences never share buffers.
type Pool[S any] struct {
	sessions       chan S
	size           int
	acquireTimeout time.Duration
	destroy        func(S)

	mu      sync.RWMutex
	closed  bool
	metrics *poolMetrics
}

type poolMetrics struct {
	mu              sync.RWMutex
	InUse           int
	TotalAcquired   int64
	TotalReleased   int64
	AcquireFailures int64
	WaitTime        time.Duration
}

// PoolStats is a point-in-time copy of the pool metrics
type PoolStats struct {
	Size            int           `json:"size"`
	InUse           int           `json:"in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time"`
}

// NewPool creates size sessions up front. If any fails, the ones already
// built are destroyed.
func NewPool[S any](size int, acquireTimeout time.Duration, create func() (S, error), destroy func(S)) (*Pool[S], error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}

	pool := &Pool[S]{
		sessions:       make(chan S, size),
		size:           size,
		acquireTimeout: acquireTimeout,
		destroy:        destroy,
		metrics:        &poolMetrics{},
	}

	for i := 0; i < size; i++ {
		session, err := create()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	return pool, nil
}

func (p *Pool[S]) Acquire(ctx context.Context) (S, error) {
	var zero S

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return zero, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.WaitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return zero, ErrPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.AcquireFailures++
		p.metrics.mu.Unlock()
		return zero, ErrAcquireTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Release returns a session; after Destroy it is destroyed instead
func (p *Pool[S]) Release(session S) {
	p.metrics.mu.Lock()
	p.metrics.InUse--
	p.metrics.TotalReleased++
	p.metrics.mu.Unlock()

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.destroy(session)
		return
	}
	p.sessions <- session
}

// Destroy closes the pool and destroys every idle session
func (p *Pool[S]) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.sessions)

	for session := range p.sessions {
		p.destroy(session)
	}
}

func (p *Pool[S]) Stats() PoolStats {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	return PoolStats{
		Size:            p.size,
		InUse:           p.metrics.InUse,
		TotalAcquired:   p.metrics.TotalAcquired,
		TotalReleased:   p.metrics.TotalReleased,
		AcquireFailures: p.metrics.AcquireFailures,
		WaitTime:        p.metrics.WaitTime,
	}
}
