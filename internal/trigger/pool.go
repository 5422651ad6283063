package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks pool operational metrics.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
	Skipped   int64 `json:"skipped"`
}

var (
	// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
	ErrPoolShutdown = errors.New("trigger pool is shut down")
	// ErrInFlight is returned when work with the same key is still running.
	ErrInFlight = errors.New("already in flight")
)

// Pool is a bounded goroutine pool that runs at most one job per key.
type Pool struct {
	sem      chan struct{}
	wg       sync.WaitGroup
	metrics  PoolMetrics
	mu       sync.Mutex
	done     chan struct{}
	closed   bool
	inflight map[string]struct{}
}

// NewPool creates a pool with the given max concurrency.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:      make(chan struct{}, size),
		done:     make(chan struct{}),
		inflight: make(map[string]struct{}),
	}
}

// Submit runs fn for key in the background. It returns ErrInFlight without
// waiting when key is already running, and otherwise blocks until a slot is
// free, ctx is done or the pool shuts down.
func (p *Pool) Submit(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := p.acquireKey(key); err != nil {
		return err
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.releaseKey(key)
		return ctx.Err()
	case <-p.done:
		p.releaseKey(key)
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		p.releaseKey(key)
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.releaseKey(key)
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
		} else {
			atomic.AddInt64(&p.metrics.Completed, 1)
		}
	}()
	return nil
}

func (p *Pool) acquireKey(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolShutdown
	}
	if _, ok := p.inflight[key]; ok {
		atomic.AddInt64(&p.metrics.Skipped, 1)
		return ErrInFlight
	}
	p.inflight[key] = struct{}{}
	return nil
}

func (p *Pool) releaseKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, key)
}

// Wait blocks until all submitted work completes.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown prevents new submissions and waits for active work to complete.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool metrics.
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
		Skipped:   atomic.LoadInt64(&p.metrics.Skipped),
	}
}
