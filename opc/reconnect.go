package opc

import (
	"context"
	"time"

	"hublink/status"
)

// Reconnector recovers a faulted session. It is a distinct collaborator so
// the recovery policy can be swapped or mocked independently of the session.
type Reconnector interface {
	// Watch consumes fault signals from the session until ctx is cancelled,
	// attempting one recovery per signal.
	Watch(ctx context.Context, s *Session)
}

// BackoffReconnector waits a fixed delay after each fault, then attempts one
// bounded reconnect. A failed attempt re-arms itself for the next cycle;
// attempts never overlap because Watch runs on a single goroutine.
type BackoffReconnector struct {
	Delay   time.Duration // wait before each attempt
	Timeout time.Duration // bound on one attempt
	Sink    status.Sink
}

// NewBackoffReconnector creates a reconnector with the given delay and a
// per-attempt timeout.
func NewBackoffReconnector(delay, timeout time.Duration, sink status.Sink) *BackoffReconnector {
	if delay <= 0 {
		delay = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if sink == nil {
		sink = status.Discard
	}
	return &BackoffReconnector{Delay: delay, Timeout: timeout, Sink: sink}
}

// Watch implements Reconnector.
func (r *BackoffReconnector) Watch(ctx context.Context, s *Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Faults():
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.Delay):
		}

		attemptCtx, done := context.WithTimeout(ctx, r.Timeout)
		err := s.reattach(attemptCtx)
		done()

		if err != nil {
			status.Appendf(r.Sink, status.Warning, "reconnect attempt failed: %v", err)
			// Re-arm for the next cycle unless the session was closed.
			if ctx.Err() == nil {
				select {
				case s.faults <- struct{}{}:
				default:
				}
			}
		}
	}
}
