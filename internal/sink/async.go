package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned by Async.Send when the queue is at capacity.
var ErrQueueFull = errors.New("sink: queue full, event dropped")

// ErrClosed is returned by Async.Send after Close.
var ErrClosed = errors.New("sink: closed")

// Async decouples producers from a slow sink: Send enqueues and returns,
// one goroutine delivers events to the inner sink in order.
type Async struct {
	inner  Sink
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts delivering to inner with a queue of size events
// (default 256).
func NewAsync(inner Sink, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		inner:  inner,
		logger: logger,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		if err := a.inner.Send(context.Background(), ev); err != nil {
			a.logger.Warn("sink: deliver event failed", "event", ev.ID, "status", ev.Status, "error", err)
		}
	}
}

// Send enqueues ev. It never blocks.
func (a *Async) Send(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- ev:
		return nil
	default:
		a.logger.Warn("sink: queue full, event dropped", "event", ev.ID, "session", ev.SessionID)
		return ErrQueueFull
	}
}

// Close delivers the queued events, then closes the inner sink.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.inner.Close()
}
