// Package executor bridges the message bus to the filesystem order
// protocol and the agent runner: it turns an InboundMessage into an
// order, invokes the agent, writes the response file and archives the
// order, with heartbeat and timeout handling along the way. Delivering
// the response to the channel is left to the ack poller.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/galaxyprotocol/caduceus/internal/ackpoller"
	"github.com/galaxyprotocol/caduceus/internal/agentrunner"
	"github.com/galaxyprotocol/caduceus/internal/bus"
	"github.com/galaxyprotocol/caduceus/internal/id"
	"github.com/galaxyprotocol/caduceus/internal/metrics"
	"github.com/galaxyprotocol/caduceus/internal/orderstore"
)

// maxPayloadChars rejects orders whose payload exceeds this length.
const maxPayloadChars = 10000

// heartbeatInterval is the minimum spacing between heartbeat
// notifications for a single in-flight order.
const heartbeatInterval = 60 * time.Second

// Config tunes the executor's polling and timeout behavior.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// Executor is the order state machine: Created -> Written -> Processing
// -> Responded -> Archived, with TimedOut and Failed(transient) terminal
// branches.
type Executor struct {
	store  *orderstore.Store
	bus    *bus.Bus
	runner *agentrunner.Runner
	hb     *agentrunner.HeartbeatWriter
	acks   *ackpoller.AckPoller
	cfg    Config
}

// New creates an Executor. Delivery of a completed order's response is
// delegated to acks, which owns the inline-vs-attachment formatting and
// the single `pending` map (spec's single-owner redesign note) — the
// executor's own job ends at claim/execute/archive.
func New(store *orderstore.Store, b *bus.Bus, runner *agentrunner.Runner, hb *agentrunner.HeartbeatWriter, acks *ackpoller.AckPoller, cfg Config) *Executor {
	return &Executor{store: store, bus: b, runner: runner, hb: hb, acks: acks, cfg: cfg}
}

// Run consumes inbound messages one at a time — orders are processed
// serially by this single consumer, per the gateway's concurrency model —
// until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	for {
		msg, err := e.bus.ConsumeInbound(ctx)
		if err != nil {
			return err
		}
		e.handleInbound(ctx, msg)
	}
}

func (e *Executor) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	if msg.DirectDispatch {
		// The channel already wrote the order file itself and is only
		// publishing here for observability; ScanAndExecute owns this
		// order's lifecycle.
		slog.Debug("executor: observed dual-dispatched message", "channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}

	if err := validatePayload(msg.Content, msg.Media); err != nil {
		// Invalid orders are rejected, never persisted.
		e.bus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel, ChatID: msg.ChatID,
			Content: fmt.Sprintf("Error: %s", err), Severity: "warning", Timestamp: time.Now().UTC(),
		})
		return
	}

	order := orderstore.Order{
		OrderID:    orderID(msg.SessionKey()),
		Payload:    msg.Content,
		Timestamp:  time.Now().UTC(),
		SessionKey: msg.SessionKey(),
		SenderID:   msg.SenderID,
		ChatID:     msg.ChatID,
		Channel:    msg.Channel,
		Priority:   orderstore.PriorityNormal,
	}

	path, err := e.store.Write(order)
	if err != nil {
		slog.Error("executor: failed to write order", "error", err)
		return
	}

	claimed, err := e.store.Claim(path)
	if err != nil {
		if errors.Is(err, orderstore.ErrClaimLost) {
			return // raced with the scan loop; whoever won processes it
		}
		slog.Error("executor: failed to claim freshly written order", "error", err)
		return
	}

	e.acks.Track(ackpoller.TrackOrder{OrderID: order.OrderID, Channel: order.Channel, ChatID: order.ChatID})
	e.execute(ctx, claimed, order)
}

// ScanAndExecute claims and executes every currently pending order found
// by the store, e.g. orders written directly to the filesystem by a
// channel's dual-dispatch path rather than via the bus. It is meant to be
// called on a timer by the gateway alongside Run.
func (e *Executor) ScanAndExecute(ctx context.Context) {
	pending, err := e.store.ReadUnacknowledged()
	if err != nil {
		slog.Error("executor: scan failed", "error", err)
		return
	}
	for _, p := range pending {
		claimed, err := e.store.Claim(p.Path)
		if err != nil {
			if errors.Is(err, orderstore.ErrClaimLost) {
				continue
			}
			slog.Error("executor: claim failed during scan", "path", p.Path, "error", err)
			continue
		}
		e.acks.Track(ackpoller.TrackOrder{OrderID: p.Order.OrderID, Channel: p.Order.Channel, ChatID: p.Order.ChatID})
		e.execute(ctx, claimed, p.Order)
	}
}

func (e *Executor) execute(ctx context.Context, claimedPath string, order orderstore.Order) {
	e.notifyProcessing(order)

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	result, agentErr := e.runWithHeartbeats(runCtx, claimedPath, order)

	e.clearEphemeralNotifications(order.OrderID)

	switch {
	case agentErr == nil:
		e.onSuccess(claimedPath, order, result.Text)
	case errors.Is(agentErr, context.DeadlineExceeded):
		e.onTimeout(claimedPath, order)
	case errors.Is(agentErr, agentrunner.ErrBinaryNotFound):
		e.onBinaryUnavailable(claimedPath, order)
	default:
		e.onFailure(claimedPath, order, agentErr)
	}
}

// runWithHeartbeats invokes the agent while emitting a heartbeat
// notification at most once per minute of elapsed wait time.
func (e *Executor) runWithHeartbeats(ctx context.Context, claimedPath string, order orderstore.Order) (agentrunner.Result, error) {
	type invokeResult struct {
		res agentrunner.Result
		err error
	}
	done := make(chan invokeResult, 1)

	go func() {
		res, err := e.runner.Invoke(ctx, "executor", order.Payload)
		done <- invokeResult{res, err}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	elapsed := 0

	for {
		select {
		case r := <-done:
			return r.res, r.err
		case <-ticker.C:
			elapsed += int(heartbeatInterval.Seconds())
			e.notifyHeartbeat(order, elapsed)
		}
	}
}

func (e *Executor) onSuccess(claimedPath string, order orderstore.Order, responseText string) {
	now := time.Now().UTC()
	order.Acknowledged = true
	order.AcknowledgedAt = &now
	order.AcknowledgedBy = "agent"

	if err := e.store.WriteResponse(order.OrderID, responseMarkdown(order, responseText)); err != nil {
		slog.Error("executor: failed to write response file", "order_id", order.OrderID, "error", err)
	}
	if err := e.store.Archive(claimedPath, order); err != nil {
		slog.Error("executor: failed to archive order", "order_id", order.OrderID, "error", err)
	}

	if err := e.hb.RecordOrderProcessed(""); err != nil {
		slog.Error("executor: heartbeat write failed", "error", err)
	}
	metrics.OrdersProcessed.Inc()
}

// responseMarkdown builds the response file body: header metadata lines,
// the agent's response as the body, and a trailing separator and
// signature line.
func responseMarkdown(order orderstore.Order, text string) string {
	return fmt.Sprintf(
		"**Order Received**: %s\n**Message**: %s\n**Acknowledged By**: %s\n\n%s\n\n---\n_caduceus gateway_\n",
		order.Timestamp.Format(time.RFC3339), order.Payload, order.AcknowledgedBy, text,
	)
}

func (e *Executor) onTimeout(claimedPath string, order orderstore.Order) {
	if err := e.store.Release(claimedPath); err != nil {
		slog.Error("executor: failed to release timed out order", "order_id", order.OrderID, "error", err)
	}
	e.writeNotification(order, "warning", fmt.Sprintf("Timeout after %ds", int(e.cfg.Timeout.Seconds())), "timeout-"+order.OrderID+".json")
	if err := e.hb.RecordFailure(""); err != nil {
		slog.Error("executor: heartbeat write failed", "error", err)
	}
	metrics.OrdersTimedOut.Inc()
}

func (e *Executor) onBinaryUnavailable(claimedPath string, order orderstore.Order) {
	if err := e.store.Release(claimedPath); err != nil {
		slog.Error("executor: failed to release order with no agent binary", "order_id", order.OrderID, "error", err)
	}
	e.writeNotification(order, "warning", "No agent CLI found; order requeued", "unavailable-"+order.OrderID+".json")
	metrics.OrdersFailed.WithLabelValues("agent_unavailable").Inc()
}

func (e *Executor) onFailure(claimedPath string, order orderstore.Order, agentErr error) {
	if err := e.store.Release(claimedPath); err != nil {
		slog.Error("executor: failed to release failed order", "order_id", order.OrderID, "error", err)
	}
	e.writeNotification(order, "warning", fmt.Sprintf("Agent execution failed: %s", agentErr), "failure-"+order.OrderID+".json")
	if err := e.hb.RecordFailure(""); err != nil {
		slog.Error("executor: heartbeat write failed", "error", err)
	}
	metrics.OrdersFailed.WithLabelValues("agent_error").Inc()
}

func (e *Executor) notifyProcessing(order orderstore.Order) {
	e.writeNotification(order, "info", "Order received, processing", "processing-"+order.OrderID+".json")
}

func (e *Executor) notifyHeartbeat(order orderstore.Order, elapsedSeconds int) {
	name := fmt.Sprintf("heartbeat-%s-%d.json", order.OrderID, elapsedSeconds)
	e.writeNotification(order, "info", fmt.Sprintf("Still working (%ds elapsed)", elapsedSeconds), name)
}

func (e *Executor) writeNotification(order orderstore.Order, severity orderstore.Severity, message, name string) {
	_, err := e.store.WriteOutbox(name, orderstore.Notification{
		Type: "notification", Severity: severity, From: "executor",
		Message: message, Timestamp: time.Now().UTC(), ChatID: order.ChatID, OrderID: order.OrderID,
	})
	if err != nil {
		slog.Error("executor: failed to write outbox notification", "name", name, "error", err)
	}
}

// clearEphemeralNotifications removes the processing and any heartbeat
// notification files for orderID, once the order reaches a terminal
// state, matching the timeout/completion cleanup the spec requires.
func (e *Executor) clearEphemeralNotifications(orderID string) {
	prefixes := []string{"processing-" + orderID, "heartbeat-" + orderID + "-"}
	unsent, err := e.store.ListUnsentOutbox()
	if err != nil {
		return
	}
	for _, u := range unsent {
		base := filepath.Base(u.Path)
		for _, p := range prefixes {
			if strings.HasPrefix(base, p) {
				if rmErr := os.Remove(u.Path); rmErr != nil && !os.IsNotExist(rmErr) {
					slog.Error("executor: failed to clean up notification", "path", u.Path, "error", rmErr)
				}
			}
		}
	}
}

func validatePayload(content string, media []string) error {
	if content == "" && len(media) == 0 {
		return fmt.Errorf("empty payload")
	}
	if len(content) > maxPayloadChars {
		return fmt.Errorf("payload too long (%d chars, max %d)", len(content), maxPayloadChars)
	}
	return nil
}

// orderID builds a unique per-order identifier from the current UTC time
// (to the second) and an 8-character random suffix; sessionKey is not
// part of it. A released order keeps its file name, so a later re-claim
// reuses the same id.
func orderID(sessionKey string) string {
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102-150405"), id.Generate()[:8])
}
