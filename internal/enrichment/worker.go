package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	deliverTimeout = 5 * time.Second
	drainTimeout   = 5 * time.Second
)

// Sink receives captured events.
type Sink interface {
	Capture(ctx context.Context, ev Event) error
}

// Worker drains a Queue into a Sink. Sink failures are logged and dropped.
type Worker struct {
	queue        *Queue
	sink         Sink
	logger       *slog.Logger
	drainTimeout time.Duration
}

func NewWorker(queue *Queue, sink Sink, logger *slog.Logger) *Worker {
	return &Worker{queue: queue, sink: sink, logger: logger, drainTimeout: drainTimeout}
}

// Run delivers events until ctx is canceled or the queue is closed and
// drained. On cancel, events already buffered are still delivered within the
// drain timeout; whatever is left after it is counted as dropped. Run always
// returns nil so it can sit in an errgroup beside the HTTP server without
// taking it down.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain(ctx)
			return nil
		case ev, ok := <-w.queue.ch:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				w.drain(ctx, ev)
				return nil
			}
			w.deliver(ctx, ev)
		}
	}
}

// drain delivers pending and then the buffered events, detached from the
// canceled ctx but bounded by the drain timeout.
func (w *Worker) drain(ctx context.Context, pending ...Event) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.drainTimeout)
	defer cancel()

	delivered := 0
	next := func() (Event, bool) {
		if len(pending) > 0 {
			ev := pending[0]
			pending = pending[1:]
			return ev, true
		}
		select {
		case ev, ok := <-w.queue.ch:
			return ev, ok
		default:
			return Event{}, false
		}
	}

	for {
		if dctx.Err() != nil {
			left := int64(len(pending)) + w.discardBuffered()
			if left > 0 {
				w.queue.dropped.Add(left)
				w.logger.Warn("enrichment drain timed out", "delivered", delivered, "dropped", left)
			}
			return
		}
		ev, ok := next()
		if !ok {
			break
		}
		w.deliver(dctx, ev)
		delivered++
	}
	if delivered > 0 {
		w.logger.Info("enrichment queue drained", "delivered", delivered)
	}
}

func (w *Worker) discardBuffered() int64 {
	var n int64
	for {
		select {
		case _, ok := <-w.queue.ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

func (w *Worker) deliver(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sink panicked: %v", r)
			}
		}()
		return w.sink.Capture(ctx, ev)
	}()
	if err != nil {
		w.logger.Warn("enrichment capture failed",
			"event_id", ev.ID,
			"session_id", ev.SessionID,
			"reason", ev.Reason,
			"error", err,
		)
		return
	}
	w.logger.Debug("enrichment captured", "event_id", ev.ID, "reason", ev.Reason)
}

// LogSink writes events to the log. It is used when no broker is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Capture(_ context.Context, ev Event) error {
	s.Logger.Info("enrichment event",
		"event_id", ev.ID,
		"session_id", ev.SessionID,
		"state_id", ev.StateID,
		"reason", ev.Reason,
		"category", ev.Category.String(),
		"confidence", ev.Confidence,
	)
	return nil
}
