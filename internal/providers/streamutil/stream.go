package streamutil

import (
	"context"
	"sync"
	"sync/atomic"
)

// YieldFunc receives converted chunks. Returning false stops further forwarding.
type YieldFunc[T any] func(T) bool

// ForwardFunc produces chunks by calling yield until it returns false or the
// source is exhausted. A non-nil return is reported by Stream.Err.
type ForwardFunc[T any] func(ctx context.Context, yield YieldFunc[T]) error

// Stream is a single-use, lazily produced sequence of chunks. The producer
// runs only as fast as the consumer reads Chunks. Close may be called any
// number of times; the underlying resource is released exactly once, either
// when the producer finishes or when Close is first called.
type Stream[T any] struct {
	chunks   chan T
	done     chan struct{}
	cancel   context.CancelFunc
	closer   func() error
	once     sync.Once
	closed   atomic.Bool
	err      error
	closeErr error
}

// Forward wraps backend-specific streaming logic with a shared channel
// lifecycle so every adapter follows the same contract.
func Forward[T any](ctx context.Context, closer func() error, forward ForwardFunc[T]) *Stream[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream[T]{
		chunks: make(chan T),
		done:   make(chan struct{}),
		cancel: cancel,
		closer: closer,
	}

	go func() {
		err := forward(ctx, func(chunk T) bool {
			select {
			case <-ctx.Done():
				return false
			case s.chunks <- chunk:
				return true
			}
		})
		if err == nil && !s.closed.Load() {
			err = ctx.Err()
		}
		if s.closed.Load() {
			err = nil
		}
		s.err = err
		close(s.done)
		s.release()
		cancel()
		close(s.chunks)
	}()

	return s
}

// FromSlice returns a stream that yields the given chunks in order.
func FromSlice[T any](ctx context.Context, chunks []T, closer func() error) *Stream[T] {
	return Forward(ctx, closer, func(ctx context.Context, yield YieldFunc[T]) error {
		for _, chunk := range chunks {
			if !yield(chunk) {
				return nil
			}
		}
		return nil
	})
}

// Chunks returns the receive side of the stream. The channel is closed once
// the producer is finished and its resources are released.
func (s *Stream[T]) Chunks() <-chan T {
	return s.chunks
}

// Err reports the error that ended the stream. It is nil while the stream is
// still producing, after a clean finish, and after the consumer called Close.
func (s *Stream[T]) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close stops the producer and releases the underlying resource.
func (s *Stream[T]) Close() error {
	if s == nil {
		return nil
	}
	s.closed.Store(true)
	s.cancel()
	s.release()
	return s.closeErr
}

func (s *Stream[T]) release() {
	s.once.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer()
		}
	})
}
