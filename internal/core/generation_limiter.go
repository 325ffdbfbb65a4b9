package core

// generation_limiter.go bounds the number of generation batches running at
// once. Each batch holds a model connection for every member it fabricates,
// so the limiter keeps a burst of requests from queueing unbounded work on
// the model server. When all slots are occupied, new requests wait up to
// maxWait before failing with ErrTooManyGenerations.
//
// WaitForDrain lets shutdown block until in-flight batches finish.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyGenerations is returned when all generation slots are occupied
// and the wait timeout expires.
var ErrTooManyGenerations = errors.New("too many generations in progress, please try again later")

// DefaultMaxConcurrentGenerations is the default limit for parallel batches.
const DefaultMaxConcurrentGenerations = 2

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// GenerationLimiter controls concurrent generation batches using a semaphore.
type GenerationLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewGenerationLimiter creates a limiter that allows at most maxConcurrent
// simultaneous batches. Non-positive arguments fall back to the defaults.
func NewGenerationLimiter(maxConcurrent int, maxWait time.Duration) *GenerationLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentGenerations
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &GenerationLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire waits for a slot. Returns ErrTooManyGenerations if maxWait expires,
// or the context error if ctx ends first.
// The caller MUST call Release() when the batch completes (use defer).
func (l *GenerationLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyGenerations
	}
}

// Release releases a previously acquired slot.
func (l *GenerationLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of batches currently running.
func (l *GenerationLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxConcurrent returns the maximum allowed concurrent batches.
func (l *GenerationLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of free slots.
func (l *GenerationLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until all active batches complete or ctx ends.
func (l *GenerationLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GenerationLimiterStatus is a snapshot of the limiter's state.
type GenerationLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *GenerationLimiter) Status() GenerationLimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return GenerationLimiterStatus{
		Active:        active,
		Available:     l.Available(),
		MaxConcurrent: cap(l.semaphore),
	}
}
