package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultPoolSize keeps one session per model; the frame loop is serial.
	DefaultPoolSize   = 1
	AcquireTimeout    = 5 * time.Second
	HealthCheckPeriod = 60 * time.Second
)

var ErrPoolClosed = errors.New("pool is closed")

// Destroyer is anything holding native resources.
type Destroyer interface {
	Destroy()
}

// Pool hands out model sessions. A session that failed mid-run is
// discarded and replaced by the health check.
type Pool[S Destroyer] struct {
	sessions   chan S
	size       int
	factory    func() (S, error)
	mu         sync.Mutex
	closed     bool
	done       chan struct{}
	metrics    *poolCounters
	lastErrors []error
}

// PoolMetrics is reported on the monitoring endpoint.
type PoolMetrics struct {
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	TotalDiscarded  int64         `json:"total_discarded"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
}

type poolCounters struct {
	mu sync.RWMutex
	PoolMetrics
}

func NewPool[S Destroyer](factory func() (S, error), size int) (*Pool[S], error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &Pool[S]{
		sessions: make(chan S, size),
		size:     size,
		factory:  factory,
		done:     make(chan struct{}),
		metrics:  &poolCounters{},
	}

	for i := 0; i < size; i++ {
		session, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	go pool.healthCheck()

	return pool, nil
}

func (p *Pool[S]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool[S]) Acquire(ctx context.Context) (S, error) {
	var zero S
	if p.isClosed() {
		return zero, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.WaitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(AcquireTimeout)
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
		return zero, fmt.Errorf("timeout waiting for available session")
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (p *Pool[S]) Release(session S) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.mu.Lock()
	p.metrics.InUse--
	p.metrics.TotalReleased++
	p.metrics.mu.Unlock()

	if p.closed {
		session.Destroy()
		return
	}
	p.offer(session)
}

// offer returns a session to the pool, destroying it when the pool is
// already full. Callers hold p.mu.
func (p *Pool[S]) offer(session S) {
	select {
	case p.sessions <- session:
	default:
		session.Destroy()
	}
}

// Discard destroys a session that is no longer trustworthy.
func (p *Pool[S]) Discard(session S) {
	p.metrics.mu.Lock()
	p.metrics.InUse--
	p.metrics.TotalDiscarded++
	p.metrics.mu.Unlock()
	session.Destroy()
}

func (p *Pool[S]) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.done)
	close(p.sessions)

	for session := range p.sessions {
		session.Destroy()
	}
}

func (p *Pool[S]) healthCheck() {
	ticker := time.NewTicker(HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.replenish()
		}
	}
}

// replenish tops the pool back up after discards.
func (p *Pool[S]) replenish() {
	p.metrics.mu.RLock()
	inUse := p.metrics.InUse
	p.metrics.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	missing := p.size - len(p.sessions) - inUse
	for i := 0; i < missing; i++ {
		session, err := p.factory()
		if err != nil {
			p.recordError(err)
			continue
		}
		p.offer(session)
	}
}

func (p *Pool[S]) recordError(err error) {
	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *Pool[S]) Size() int { return p.size }

// Metrics returns a snapshot of the counters.
func (p *Pool[S]) Metrics() PoolMetrics {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return p.metrics.PoolMetrics
}

// LastErrors returns the most recent replenish failures.
func (p *Pool[S]) LastErrors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.lastErrors...)
}
