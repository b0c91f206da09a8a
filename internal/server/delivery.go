package server

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"linechat/internal/store"
)

// deliveryItem is one replayed message bound for one connection.
type deliveryItem struct {
	msg *store.Message
	to  store.FrameSender
}

// deliveryQueue feeds stored messages to individual connections without
// blocking the protocol handlers that request the replay. Only replay
// traffic (history on join, history on scope change) goes through the
// queue; live fan-out writes straight to the target sessions.
//
// A single goroutine drains the queue in FIFO order, pacing itself with a
// token bucket so a large replay cannot monopolize the server. Per-recipient
// order is preserved: items are enqueued in insertion order and the one
// consumer forwards them in that same order.
type deliveryQueue struct {
	items   chan deliveryItem
	limiter *rate.Limiter
	log     zerolog.Logger
}

func newDeliveryQueue(perSecond int, log zerolog.Logger) *deliveryQueue {
	return &deliveryQueue{
		items:   make(chan deliveryItem, 4096),
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		log:     log,
	}
}

// enqueue queues msg for replay to the given connection. Non-blocking: when
// the queue is saturated the item is dropped with a warning rather than
// stalling the caller.
func (q *deliveryQueue) enqueue(m *store.Message, to store.FrameSender) {
	select {
	case q.items <- deliveryItem{msg: m, to: to}:
		queueDepth.Set(float64(len(q.items)))
	default:
		q.log.Warn().Str("id", m.ID).Msg("delivery queue full, replay item dropped")
	}
}

// run drains the queue until ctx is cancelled. Writes to connections that
// have gone away fail silently inside the session and are simply skipped.
func (q *deliveryQueue) run(ctx context.Context) {
	for {
		select {
		case it := <-q.items:
			if err := q.limiter.Wait(ctx); err != nil {
				return
			}
			frame, err := it.msg.Wire()
			if err != nil {
				q.log.Error().Err(err).Str("id", it.msg.ID).Msg("encode replay frame")
				continue
			}
			_ = it.to.SendFrame(frame)
			queueDepth.Set(float64(len(q.items)))
		case <-ctx.Done():
			return
		}
	}
}
