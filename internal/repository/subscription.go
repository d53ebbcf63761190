package repository

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vbonduro/where2skate/internal/docstore"
)

// Subscription is a live sequence of values backed by a store listener. Every
// change delivers the full current value on Updates. The channel is closed
// when the subscription ends: after Close, after its context is cancelled, or
// when the listener fails, in which case Err reports the failure.
type Subscription[T any] struct {
	updates   chan T
	done      chan struct{}
	cancel    context.CancelFunc
	stop      func()
	closeOnce sync.Once
	err       error
}

// watchFunc opens a listener. next blocks for the next value; stop releases
// the listener and makes a blocked next return.
type watchFunc[T any] func(ctx context.Context) (next func() (T, error), stop func())

func subscribe[T any](parent context.Context, op string, logger *slog.Logger, m Metrics, watch watchFunc[T]) *Subscription[T] {
	ctx, cancel := context.WithCancel(parent)
	next, stop := watch(ctx)

	s := &Subscription[T]{
		updates: make(chan T),
		done:    make(chan struct{}),
		cancel:  cancel,
		stop:    stop,
	}

	m.SubscriptionStarted(op)
	go func() {
		defer func() {
			stop()
			m.SubscriptionEnded(op, s.err != nil)
			close(s.updates)
			close(s.done)
		}()

		for {
			v, err := next()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, docstore.ErrWatcherStopped) {
					logger.Debug("listener released", "op", op)
					return
				}
				logger.Warn("listen failed", "op", op, "error", err)
				s.err = &RemoteServiceError{Op: op, Err: err}
				return
			}
			if ctx.Err() != nil {
				return
			}
			select {
			case s.updates <- v:
				m.Emitted(op)
			case <-ctx.Done():
				return
			}
		}
	}()

	return s
}

// Updates delivers each snapshot in the order the store reported it.
func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

// Done is closed once the subscription has ended and released its listener.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Err blocks until the subscription ends and returns the listener failure, or
// nil if it was released by the consumer.
func (s *Subscription[T]) Err() error {
	<-s.done
	return s.err
}

// Close releases the listener. When Close returns no further value will be
// delivered. It is safe to call more than once and from any goroutine.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.stop()
	})
	<-s.done
}
