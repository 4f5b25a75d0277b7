package audit

import (
	"context"
	"log/slog"
	"time"
)

// Store persists audit events. Implementations: postgres outbox, in-memory
// for tests.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// ChannelPublisher decouples emitters from persistence through a buffered
// inbox consumed by a Worker. Emit never blocks the calling operation: when
// the inbox is full the event is dropped and counted.
type ChannelPublisher struct {
	inbox  chan Event
	logger *slog.Logger
	now    func() time.Time
}

// PublisherOption configures a ChannelPublisher.
type PublisherOption func(*ChannelPublisher)

// WithLogger sets the publisher logger.
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *ChannelPublisher) { p.logger = logger }
}

// WithClock injects the timestamp source.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *ChannelPublisher) { p.now = now }
}

func NewChannelPublisher(buffer int, opts ...PublisherOption) *ChannelPublisher {
	p := &ChannelPublisher{
		inbox:  make(chan Event, buffer),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit queues the event for asynchronous persistence.
func (p *ChannelPublisher) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	select {
	case p.inbox <- event:
	default:
		droppedEventsTotal.Inc()
		p.logger.Warn("audit inbox full, event dropped", "action", event.Action)
	}
}

// Inbox exposes the consuming side for the Worker.
func (p *ChannelPublisher) Inbox() <-chan Event {
	return p.inbox
}

// Worker consumes audit events from the publisher inbox and persists them.
type Worker struct {
	store  Store
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run drains the inbox until the context is cancelled. Persistence failures
// are logged, never fatal: losing an audit event must not take the broker
// down.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.Error("audit event persistence failed", "action", event.Action, "error", err)
			}
		}
	}
}
