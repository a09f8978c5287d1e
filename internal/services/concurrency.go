package services

import (
	"context"
	"fmt"
	"sync"
)

// Semaphore bounds how many operations run at once
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore creates a semaphore with the given number of slots (at least one)
func NewSemaphore(size int) *Semaphore {
	if size <= 0 {
		size = 1
	}
	return &Semaphore{slots: make(chan struct{}, size)}
}

// Acquire waits for a free slot. The returned release function is safe to
// call more than once; only the first call frees the slot.
func (s *Semaphore) Acquire(ctx context.Context) (func(), error) {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for slot: %w", ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-s.slots })
	}, nil
}
