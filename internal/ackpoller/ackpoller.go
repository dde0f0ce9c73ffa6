// Package ackpoller watches tracked orders for acknowledgment and routes
// the paired response back through the message bus, applying the
// inline-vs-attachment size threshold before delivery.
package ackpoller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/galaxyprotocol/caduceus/internal/bus"
	"github.com/galaxyprotocol/caduceus/internal/orderstore"
)

// inlineThreshold is the response length, in characters, above which a
// response is delivered as a truncated inline summary plus the full text
// (standing in for a platform attachment) rather than inline verbatim.
const inlineThreshold = 1000

// staleAfter drops a tracked order that never acknowledges, so the
// pending map does not grow without bound across a long-lived process.
const staleAfter = 24 * time.Hour

// TrackOrder identifies an order whose acknowledgment this poller should
// watch for, and the channel/chat it must be routed back to.
type TrackOrder struct {
	OrderID string
	Channel string
	ChatID  string
}

type trackedEntry struct {
	order   TrackOrder
	sinceAt time.Time
}

// AckPoller owns the single `pending` map of tracked orders (spec's
// single-owner redesign note). Track may be called from any goroutine
// while the poll loop untracks entries, so mu guards every map access.
type AckPoller struct {
	store *orderstore.Store
	bus   *bus.Bus

	mu      sync.Mutex
	pending map[string]trackedEntry
}

// New creates an AckPoller.
func New(store *orderstore.Store, b *bus.Bus) *AckPoller {
	return &AckPoller{store: store, bus: b, pending: make(map[string]trackedEntry)}
}

// Track registers an order for acknowledgment polling. Safe to call from
// any goroutine; only the map mutation is locked, not the poll loop.
func (p *AckPoller) Track(t TrackOrder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[t.OrderID] = trackedEntry{order: t, sinceAt: time.Now().UTC()}
}

// Run polls every interval until ctx is cancelled, delivering any
// acknowledged order's response and un-tracking it.
func (p *AckPoller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.PollOnce()
		}
	}
}

// PollOnce runs a single scan of all tracked orders, delivering any that
// have acknowledged with an available response. Exported so callers
// (tests, or a gateway that wants an immediate drain) need not wait for a
// Run tick.
func (p *AckPoller) PollOnce() {
	for _, entry := range p.snapshot() {
		if time.Since(entry.sinceAt) > staleAfter {
			slog.Warn("ackpoller: dropping stale tracked order", "order_id", entry.order.OrderID)
			p.untrack(entry.order.OrderID)
			continue
		}

		order, found, err := p.store.FindOrder(entry.order.OrderID)
		if err != nil {
			slog.Error("ackpoller: failed to read tracked order", "order_id", entry.order.OrderID, "error", err)
			continue
		}
		if !found {
			// Missing-order handling: the order file has disappeared
			// (archived and swept, or deleted outright) without us ever
			// observing it acknowledged. Un-track silently.
			p.untrack(entry.order.OrderID)
			continue
		}
		if !order.Acknowledged {
			continue
		}

		p.deliverAcknowledged(entry)
	}
}

// deliverAcknowledged routes the response for an order already observed
// acknowledged, applying the documented fallback-to-latest-response-file
// match and missing-response notification.
func (p *AckPoller) deliverAcknowledged(entry trackedEntry) {
	id := entry.order.OrderID

	text, found, err := p.store.ReadResponse(id)
	if err != nil {
		slog.Error("ackpoller: failed to read response", "order_id", id, "error", err)
		return
	}

	deleteID := id
	if !found {
		fallbackID, fallbackText, fallbackFound, err := p.store.LatestResponse()
		if err != nil {
			slog.Error("ackpoller: failed to read latest response", "order_id", id, "error", err)
			return
		}
		if fallbackFound {
			text, found, deleteID = fallbackText, true, fallbackID
			slog.Warn("ackpoller: matched response by fallback, not order id", "order_id", id, "matched_order_id", fallbackID)
		}
	}

	if !found {
		p.notifyMissingResponse(entry.order)
		p.untrack(id)
		return
	}

	p.bus.PublishOutbound(bus.OutboundMessage{
		Channel:   entry.order.Channel,
		ChatID:    entry.order.ChatID,
		Content:   format(text),
		Severity:  "info",
		Timestamp: time.Now().UTC(),
	})

	if err := p.store.DeleteResponse(deleteID); err != nil {
		slog.Error("ackpoller: failed to delete consumed response", "order_id", deleteID, "error", err)
	}
	p.untrack(id)
}

// notifyMissingResponse emits the single "acknowledged but no response"
// warning notification spec §4.6 requires when an order's acknowledged
// flag flips true but no response artifact ever lands.
func (p *AckPoller) notifyMissingResponse(order TrackOrder) {
	_, err := p.store.WriteOutbox("missing-response-"+order.OrderID+".json", orderstore.Notification{
		Type: "notification", Severity: orderstore.SeverityWarning, From: "ackpoller",
		Message:   "Order acknowledged but no response file was found",
		Timestamp: time.Now().UTC(), ChatID: order.ChatID, OrderID: order.OrderID,
	})
	if err != nil {
		slog.Error("ackpoller: failed to write missing-response notification", "order_id", order.OrderID, "error", err)
	}
}

func (p *AckPoller) snapshot() []trackedEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]trackedEntry, 0, len(p.pending))
	for _, e := range p.pending {
		out = append(out, e)
	}
	return out
}

func (p *AckPoller) untrack(orderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, orderID)
}

// format applies the inline-vs-attachment threshold: short responses pass
// through unchanged, long ones are summarized inline with the full text
// appended as a stand-in for a platform attachment.
func format(text string) string {
	if len(text) <= inlineThreshold {
		return text
	}
	return fmt.Sprintf("%s\n\n... (response attached in full, %d chars)\n\n%s", text[:inlineThreshold], len(text), text)
}
