package engine

import (
	"context"
	"errors"
	"log/slog"

	"option_bot/internal/domain"
	"option_bot/internal/infra"
)

// orderStream tracks event ordering state for one order.
type orderStream struct {
	nextSeq uint64
	pending map[uint64]domain.BrokerEvent
}

// Reconciler consumes the broker's asynchronous event stream and applies
// events to the book in per-order sequence order. Duplicates are dropped,
// gaps are buffered until the missing event arrives. It runs in its own
// goroutine, independent of the quote pipeline.
type Reconciler struct {
	book    *Book
	events  <-chan domain.BrokerEvent
	streams map[string]*orderStream
}

// NewReconciler wires the broker event stream to the book.
func NewReconciler(book *Book, events <-chan domain.BrokerEvent) *Reconciler {
	return &Reconciler{
		book:    book,
		events:  events,
		streams: make(map[string]*orderStream),
	}
}

// Run consumes events until the context is cancelled or the stream closes.
func (r *Reconciler) Run(ctx context.Context) {
	slog.Info("Reconciler started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Reconciler stopping...")
			return
		case ev, ok := <-r.events:
			if !ok {
				slog.Info("Broker event stream closed")
				return
			}
			r.handle(ev)
		}
	}
}

// handle applies one event, honoring per-order sequence numbers. Sequences
// start at 1 for each order. Sequence 0 marks an unsequenced venue; those
// events apply in arrival order with no dedup or reorder guarantees.
func (r *Reconciler) handle(ev domain.BrokerEvent) {
	if ev.Sequence == 0 {
		r.applyToBook(ev)
		return
	}

	stream, ok := r.streams[ev.OrderID]
	if !ok {
		stream = &orderStream{nextSeq: 1, pending: make(map[uint64]domain.BrokerEvent)}
		r.streams[ev.OrderID] = stream
	}

	if ev.Sequence < stream.nextSeq {
		infra.GlobalMetrics.RecordDuplicateEvent()
		slog.Debug("Duplicate broker event dropped",
			slog.String("order_id", ev.OrderID),
			slog.Uint64("sequence", ev.Sequence),
		)
		return
	}

	if ev.Sequence > stream.nextSeq {
		if _, dup := stream.pending[ev.Sequence]; dup {
			infra.GlobalMetrics.RecordDuplicateEvent()
			return
		}
		stream.pending[ev.Sequence] = ev
		slog.Debug("Out-of-order broker event buffered",
			slog.String("order_id", ev.OrderID),
			slog.Uint64("sequence", ev.Sequence),
			slog.Uint64("expected", stream.nextSeq),
		)
		return
	}

	r.apply(stream, ev)

	// Drain any buffered successors now unblocked.
	for {
		next, ok := stream.pending[stream.nextSeq]
		if !ok {
			break
		}
		delete(stream.pending, stream.nextSeq)
		r.apply(stream, next)
	}

	if order, ok := r.book.Order(ev.OrderID); ok && order.State.IsTerminal() {
		delete(r.streams, ev.OrderID)
	}
}

func (r *Reconciler) apply(stream *orderStream, ev domain.BrokerEvent) {
	stream.nextSeq = ev.Sequence + 1
	r.applyToBook(ev)
}

func (r *Reconciler) applyToBook(ev domain.BrokerEvent) {
	if err := r.book.ApplyEvent(ev); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownOrder):
			slog.Warn("Broker event for unknown order",
				slog.String("order_id", ev.OrderID),
				slog.String("event", ev.Type.String()),
			)
		default:
			slog.Error("Failed to apply broker event",
				slog.String("order_id", ev.OrderID),
				slog.String("event", ev.Type.String()),
				slog.Any("error", err),
			)
		}
	}
}
