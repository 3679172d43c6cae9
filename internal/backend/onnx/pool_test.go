package onnx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id        int
	destroyed atomic.Bool
}

func newFakePool(t *testing.T, size int, timeout time.Duration) (*Pool[*fakeSession], *[]*fakeSession) {
	t.Helper()
	var created []*fakeSession
	pool, err := NewPool(size, timeout, func() (*fakeSession, error) {
		s := &fakeSession{id: len(created)}
		created = append(created, s)
		return s, nil
	}, func(s *fakeSession) { s.destroyed.Store(true) })
	require.NoError(t, err)
	return pool, &created
}

func TestPool_AcquireRelease(t *testing.T) {
	pool, created := newFakePool(t, 2, time.Second)
	assert.Len(t, *created, 2)

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	stats := pool.Stats()
	assert.Equal(t, 2, stats.InUse)
	assert.Equal(t, int64(2), stats.TotalAcquired)

	pool.Release(a)
	pool.Release(b)

	stats = pool.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, int64(2), stats.TotalReleased)
}

func TestPool_AcquireTimeout(t *testing.T) {
	pool, _ := newFakePool(t, 1, 20*time.Millisecond)

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(s)

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	assert.Equal(t, int64(1), pool.Stats().AcquireFailures)
}

func TestPool_AcquireCancelled(t *testing.T) {
	pool, _ := newFakePool(t, 1, time.Minute)

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPool_Destroy(t *testing.T) {
	pool, created := newFakePool(t, 2, time.Second)

	inUse, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	pool.Destroy()
	pool.Destroy()

	idle := (*created)[0]
	if idle == inUse {
		idle = (*created)[1]
	}
	assert.True(t, idle.destroyed.Load(), "idle session destroyed on Destroy")
	assert.False(t, inUse.destroyed.Load())

	pool.Release(inUse)
	assert.True(t, inUse.destroyed.Load(), "released session destroyed after Destroy")

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_CreateFailureCleansUp(t *testing.T) {
	var created []*fakeSession
	_, err := NewPool(3, time.Second, func() (*fakeSession, error) {
		if len(created) == 2 {
			return nil, errors.New("out of memory")
		}
		s := &fakeSession{}
		created = append(created, s)
		return s, nil
	}, func(s *fakeSession) { s.destroyed.Store(true) })

	require.Error(t, err)
	for _, s := range created {
		assert.True(t, s.destroyed.Load())
	}
}

func TestPool_ExclusiveUse(t *testing.T) {
	pool, _ := newFakePool(t, 2, time.Second)

	var active sync.Map
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := pool.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			_, loaded := active.LoadOrStore(s.id, true)
			assert.False(t, loaded, "session %d handed out twice", s.id)
			time.Sleep(time.Millisecond)
			active.Delete(s.id)
			pool.Release(s)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), pool.Stats().TotalAcquired)
}

func TestPool_DefaultSize(t *testing.T) {
	pool, created := newFakePool(t, 0, 0)
	assert.Len(t, *created, DefaultPoolSize)
	assert.Equal(t, DefaultPoolSize, pool.Stats().Size)
}
