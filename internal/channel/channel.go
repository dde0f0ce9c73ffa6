// Package channel defines the frontend adapter contract shared by the
// chat-platform and web-socket variants.
package channel

import (
	"context"

	"github.com/galaxyprotocol/caduceus/internal/bus"
)

// Channel bridges a frontend to the message bus. Implementations translate
// platform events into bus.InboundMessage and deliver bus.OutboundMessage
// back through the platform's own API. Start and Stop must be idempotent.
type Channel interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
}
