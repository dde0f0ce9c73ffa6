// Package outbox scans the outbox directory for unsent notifications and
// delivers them synchronously through a Deliverer, marking each sent only
// once delivery actually succeeds.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/galaxyprotocol/caduceus/internal/bus"
	"github.com/galaxyprotocol/caduceus/internal/orderstore"
)

// Deliverer sends an outbound message and reports whether delivery
// succeeded. The gateway implements this by routing through its live
// channels; tests can fake it. Unlike publishing onto the async outbound
// bus, this lets the dispatcher know the outcome before it decides
// whether the notification may be marked sent.
type Deliverer interface {
	Deliver(ctx context.Context, msg bus.OutboundMessage) error
}

// Dispatcher delivers outbox notifications: heartbeats, warnings, and
// other system-level messages not tied to a single order's response
// (that path belongs to ackpoller).
type Dispatcher struct {
	store     *orderstore.Store
	deliverer Deliverer
}

// New creates a Dispatcher.
func New(store *orderstore.Store, deliverer Deliverer) *Dispatcher {
	return &Dispatcher{store: store, deliverer: deliverer}
}

// Run scans for unsent notifications every interval until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.PollOnce(ctx)
		}
	}
}

// PollOnce scans and attempts delivery of every unsent notification in
// lexicographic (timestamp) order. A notification is marked sent only
// after its delivery attempt returns no error; on failure, it is logged
// and left for the next scan to retry, per spec §4.7.
func (d *Dispatcher) PollOnce(ctx context.Context) {
	unsent, err := d.store.ListUnsentOutbox()
	if err != nil {
		slog.Error("outbox: failed to list unsent notifications", "error", err)
		return
	}

	for _, u := range unsent {
		n := u.Notification
		// Channel is left empty: notifications are not tied to the channel
		// that produced the originating order (the record carries no
		// channel field per the protocol), so delivery fans out to every
		// enabled channel, each targeting n.ChatID or broadcasting if empty.
		msg := bus.OutboundMessage{
			ChatID:    n.ChatID,
			Content:   format(n),
			Severity:  string(n.Severity),
			Timestamp: time.Now().UTC(),
		}

		if err := d.deliverer.Deliver(ctx, msg); err != nil {
			slog.Warn("outbox: delivery failed, will retry next scan", "path", u.Path, "error", err)
			continue
		}

		if err := d.store.MarkSent(u.Path, n); err != nil {
			slog.Error("outbox: failed to mark notification sent", "path", u.Path, "error", err)
		}
	}
}

// format prefixes the notification message with a severity marker.
func format(n orderstore.Notification) string {
	return fmt.Sprintf("%s %s", icon(n.Severity), n.Message)
}

func icon(s orderstore.Severity) string {
	switch s {
	case orderstore.SeverityCritical:
		return "🔴"
	case orderstore.SeverityWarning:
		return "🟡"
	case orderstore.SeveritySuccess:
		return "🟢"
	case orderstore.SeverityAlert:
		return "🚨"
	default:
		return "ℹ️"
	}
}
