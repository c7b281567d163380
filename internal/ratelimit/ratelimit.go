package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter implements a token bucket rate limiter
type Limiter struct {
	rate       float64 // tokens per second
	tokens     float64
	maxTokens  float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// New creates a new rate limiter with the specified rate (requests per second)
func New(rps float64) *Limiter {
	if rps <= 0 {
		rps = 1.0
	}
	return &Limiter{
		rate:       rps,
		tokens:     rps,
		maxTokens:  rps,
		lastUpdate: time.Now(),
	}
}

// Wait blocks until a token is available or context is cancelled
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.tryTake() {
			return nil
		}

		waitTime := time.Duration(float64(time.Second) / l.rate)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
			// Continue loop
		}
	}
}

func (l *Limiter) tryTake() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastUpdate).Seconds()

	l.tokens += elapsed * l.rate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}

	l.lastUpdate = now

	if l.tokens >= 1.0 {
		l.tokens -= 1.0
		return true
	}

	return false
}

// Semaphore caps the number of outbound requests in flight at once,
// shared across all analyzer workers and the trade monitor.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore creates a counting semaphore with n slots
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		n = 1
	}
	return &Semaphore{slots: make(chan struct{}, n)}
}

// Acquire takes a slot, blocking until one frees or the context is cancelled
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot. Must be called exactly once per successful Acquire.
func (s *Semaphore) Release() {
	<-s.slots
}
