package pubsub

import (
	"context"
	"sync"
)

// ChanHandler forwards messages into a buffered channel. When the buffer is
// full the message is dropped and counted rather than stalling dispatch.
type ChanHandler[T any] struct {
	C chan T

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// NewChanHandler returns a handler with a channel of the given capacity.
func NewChanHandler[T any](size int) *ChanHandler[T] {
	return &ChanHandler[T]{C: make(chan T, size)}
}

func (h *ChanHandler[T]) HandleMessage(ctx context.Context, msg T) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	select {
	case h.C <- msg:
	default:
		h.dropped++
	}
	return nil
}

// Dropped returns how many messages did not fit in the buffer.
func (h *ChanHandler[T]) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close closes the channel. Later messages fail with ErrClosed.
func (h *ChanHandler[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.C)
	}
}
