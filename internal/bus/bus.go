// Package bus implements the in-memory message bus connecting channels to
// the executor: an inbound queue of messages needing a response, and an
// outbound queue of responses to deliver.
package bus

import (
	"context"
	"time"
)

// InboundMessage is a message arriving from a channel, awaiting an agent
// response.
type InboundMessage struct {
	Channel   string            // "chat" or "web"
	SenderID  string            // platform-specific sender identifier
	ChatID    string            // platform-specific conversation identifier
	Content   string            // message text
	Media     []string          // attached media references, if any
	Metadata  map[string]string // channel-specific extras (e.g. message id)
	UserID    string            // resolved internal user id, if authenticated
	Timestamp time.Time

	// DirectDispatch is set by a channel that already wrote the order file
	// itself (the chat channel's dual-dispatch path) rather than relying on
	// the executor to do it. The executor logs such messages instead of
	// creating a second order from them.
	DirectDispatch bool
}

// SessionKey identifies the conversational session this message belongs
// to. It prefers the authenticated user id over the raw sender id so a
// user's history follows them across reconnects on the same channel.
func (m InboundMessage) SessionKey() string {
	if m.UserID != "" {
		return m.UserID
	}
	return m.SenderID
}

// OutboundMessage is a response or notification to deliver back to a
// channel.
type OutboundMessage struct {
	Channel   string
	ChatID    string
	Content   string
	Severity  string // "info", "warning", "error"
	Timestamp time.Time
}

// Bus is a pair of FIFO queues: inbound messages flow from channels to the
// executor, outbound messages flow from the executor/dispatcher back to
// channels. Both queues are unbounded (backed by a growable slice) so a
// slow consumer never blocks a channel's read loop, mirroring the
// unbounded asyncio.Queue the gateway was modeled on.
type Bus struct {
	inbound  *queue[InboundMessage]
	outbound *queue[OutboundMessage]
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		inbound:  newQueue[InboundMessage](),
		outbound: newQueue[OutboundMessage](),
	}
}

// PublishInbound enqueues a message from a channel for the executor to
// pick up. Never blocks.
func (b *Bus) PublishInbound(m InboundMessage) {
	b.inbound.push(m)
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *Bus) ConsumeInbound(ctx context.Context) (InboundMessage, error) {
	return b.inbound.pop(ctx)
}

// PublishOutbound enqueues a response for a channel to deliver. Never
// blocks.
func (b *Bus) PublishOutbound(m OutboundMessage) {
	b.outbound.push(m)
}

// ConsumeOutbound blocks until a response is available or ctx is done.
func (b *Bus) ConsumeOutbound(ctx context.Context) (OutboundMessage, error) {
	return b.outbound.pop(ctx)
}
