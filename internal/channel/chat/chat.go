// Package chat implements the chat-platform Channel variant: a bot
// account that authorized users message directly, with a command surface
// (/status, /concerns, /order, /machines, /help) layered over plain-text
// order creation.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/galaxyprotocol/caduceus/internal/bus"
	"github.com/galaxyprotocol/caduceus/internal/id"
	"github.com/galaxyprotocol/caduceus/internal/orderstore"
	"github.com/galaxyprotocol/caduceus/internal/reference"
	"github.com/galaxyprotocol/caduceus/internal/sessionlog"
)

// Channel is the chat-platform frontend: it polls for updates, dispatches
// commands, creates orders directly (dual-dispatch, see handlePlainText),
// and formats/splits outbound deliveries.
type Channel struct {
	cfg    Config
	store  *orderstore.Store
	bus    *bus.Bus
	client *Client
	log    *sessionlog.Log

	authorized map[int64]bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a chat Channel. store is used for the dual-dispatch order
// write in handlePlainText and /order; the executor (via ScanAndExecute)
// is what actually claims and runs those orders.
func New(cfg Config, store *orderstore.Store, b *bus.Bus) (*Channel, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	var log *sessionlog.Log
	if cfg.SessionLogPath != "" {
		var err error
		log, err = sessionlog.Open(cfg.SessionLogPath)
		if err != nil {
			return nil, fmt.Errorf("chat: open session log: %w", err)
		}
	}

	authorized := make(map[int64]bool, len(cfg.AuthorizedUsers))
	for _, u := range cfg.AuthorizedUsers {
		authorized[u] = true
	}

	return &Channel{
		cfg:        cfg,
		store:      store,
		bus:        b,
		client:     NewClient(cfg.BotToken, cfg.APIBaseURL),
		log:        log,
		authorized: authorized,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins the long-poll loop. It returns once the poll goroutine is
// launched; call Stop to end it.
func (c *Channel) Start(ctx context.Context) error {
	go c.pollLoop(ctx)
	return nil
}

// Stop signals the poll loop to exit and waits for it to finish.
func (c *Channel) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	select {
	case <-c.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (c *Channel) pollLoop(ctx context.Context) {
	defer close(c.doneCh)

	var offset int64
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		updates, err := c.client.GetUpdates(ctx, offset, 30)
		if err != nil {
			slog.Error("chat: getUpdates failed", "error", err)
			select {
			case <-time.After(5 * time.Second):
			case <-c.stopCh:
				return
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message != nil {
				c.handleUpdate(ctx, *u.Message)
			}
		}
	}
}

// isAuthorized reports whether userID may interact with the bot.
func (c *Channel) isAuthorized(userID int64) bool {
	return c.authorized[userID]
}

// handleUpdate dispatches one incoming message: a recognized slash
// command, or plain text treated as an order for the default machine.
func (c *Channel) handleUpdate(ctx context.Context, msg IncomingMessage) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/") {
		c.handleCommand(ctx, msg, text)
		return
	}

	if !c.isAuthorized(msg.From.ID) {
		return
	}
	c.handlePlainText(ctx, msg, text)
}

func (c *Channel) handleCommand(ctx context.Context, msg IncomingMessage, text string) {
	cmd, rest := splitFirstWord(text)
	cmd = strings.SplitN(cmd, "@", 2)[0] // strip "@botname" suffix some clients append

	// /start and /help are privileged: they reply even to an unauthorized
	// sender, showing the caller's id so they can ask to be allow-listed.
	if !c.isAuthorized(msg.From.ID) {
		if cmd == "/start" || cmd == "/help" {
			c.replyUnauthorized(ctx, msg)
		}
		return
	}

	switch cmd {
	case "/help", "/start":
		c.reply(ctx, msg.Chat.ID, helpText)
	case "/machines":
		c.reply(ctx, msg.Chat.ID, c.machinesText())
	case "/status":
		c.reply(ctx, msg.Chat.ID, c.statusCommand(ctx, rest))
	case "/concerns":
		c.reply(ctx, msg.Chat.ID, c.concernsCommand(rest))
	case "/order":
		c.reply(ctx, msg.Chat.ID, c.orderCommand(msg, rest))
	case "/link":
		c.reply(ctx, msg.Chat.ID, c.linkCommand(ctx, msg, rest))
	default:
		c.reply(ctx, msg.Chat.ID, "Unknown command. Try /help.")
	}
}

const helpText = `🤖 Commands:
/status [machine|all] — health summary
/concerns [machine|all] — latest reported concerns
/order [machine|all] <text> — enqueue an order
/link <url> [note] — save a reference
/machines — list the machine registry
/help — this message

Plain text is treated as an order for the default machine.`

func (c *Channel) replyUnauthorized(ctx context.Context, msg IncomingMessage) {
	text := fmt.Sprintf(
		"🔒 You're not authorized yet.\nYour id: `%d`\nAsk an operator to add it to authorizedUsers in the gateway config.",
		msg.From.ID,
	)
	c.reply(ctx, msg.Chat.ID, text)
	if c.log != nil {
		c.log.Append("unauthorized_command", map[string]string{"user_id": strconv.FormatInt(msg.From.ID, 10)})
	}
}

func (c *Channel) statusCommand(ctx context.Context, target string) string {
	if target == "all" {
		var b strings.Builder
		for name, m := range c.cfg.Machines {
			b.WriteString(c.statusText(ctx, name, m))
			b.WriteString("\n\n")
		}
		return strings.TrimSpace(b.String())
	}
	name, m, ok := c.resolveMachine(target)
	if !ok {
		return fmt.Sprintf("Unknown machine %q. Try /machines.", target)
	}
	return c.statusText(ctx, name, m)
}

func (c *Channel) concernsCommand(target string) string {
	if target == "all" {
		var b strings.Builder
		for name, m := range c.cfg.Machines {
			b.WriteString(c.concernsText(name, m))
			b.WriteString("\n\n")
		}
		return strings.TrimSpace(b.String())
	}
	name, m, ok := c.resolveMachine(target)
	if !ok {
		return fmt.Sprintf("Unknown machine %q. Try /machines.", target)
	}
	return c.concernsText(name, m)
}

// orderCommand implements "/order [target|all] <payload>": one order per
// target, with the reply confirming destinations.
func (c *Channel) orderCommand(msg IncomingMessage, rest string) string {
	if rest == "" {
		return "Usage: /order [machine|all] <text>"
	}

	maybeTarget, remainder := splitFirstWord(rest)
	var targets []string
	payload := rest

	if maybeTarget == "all" {
		for name := range c.cfg.Machines {
			targets = append(targets, name)
		}
		payload = remainder
	} else if _, ok := c.cfg.Machines[maybeTarget]; ok {
		targets = []string{maybeTarget}
		payload = remainder
	} else {
		targets = []string{c.cfg.DefaultMachine}
	}

	if payload == "" {
		return "Usage: /order [machine|all] <text>"
	}

	for _, target := range targets {
		c.createOrder(msg, target, payload)
	}
	return fmt.Sprintf("📡 → %s", strings.Join(targets, ", "))
}

// linkCommand implements "/link <url> [note]": it saves a reference entry
// directly rather than going through the order protocol, since there is
// no agent invocation involved.
func (c *Channel) linkCommand(ctx context.Context, msg IncomingMessage, rest string) string {
	if c.cfg.ReferenceDir == "" {
		return "Reference storage is not configured."
	}
	url, note := splitFirstWord(rest)
	if url == "" {
		return "Usage: /link <url> [note]"
	}
	result, err := reference.ProcessFeed(ctx, c.cfg.ReferenceDir, url, note, "chat")
	if err != nil {
		slog.Error("chat: link command failed", "error", err, "url", url)
		return fmt.Sprintf("⚠️ Couldn't save that link: %v", err)
	}
	if result.UpdatedExisting {
		return fmt.Sprintf("🔗 Updated reference: %s", result.Entry.Title)
	}
	return fmt.Sprintf("🔗 Saved reference: %s", result.Entry.Title)
}

// handlePlainText treats an authorized sender's plain message as an order
// for the default machine.
func (c *Channel) handlePlainText(ctx context.Context, msg IncomingMessage, text string) {
	c.createOrder(msg, c.cfg.DefaultMachine, text)
	c.reply(ctx, msg.Chat.ID, "📡 → "+c.cfg.DefaultMachine)
}

// createOrder writes the order file directly (the filesystem write is
// authoritative) and also publishes an InboundMessage with
// DirectDispatch=true, purely for observability — the executor does not
// build a second order from it (see executor.handleInbound).
func (c *Channel) createOrder(msg IncomingMessage, target, payload string) {
	now := time.Now().UTC()
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	senderID := strconv.FormatInt(msg.From.ID, 10)

	order := orderstore.Order{
		OrderID:    now.Format("20060102-150405") + "-" + id.Generate()[:8],
		Payload:    payload,
		Timestamp:  now,
		SessionKey: "chat:" + senderID,
		SenderID:   senderID,
		ChatID:     chatID,
		Channel:    "chat",
		Priority:   orderstore.PriorityNormal,
		Project:    target,
	}

	if _, err := c.store.Write(order); err != nil {
		slog.Error("chat: failed to write order", "error", err)
		return
	}

	c.bus.PublishInbound(bus.InboundMessage{
		Channel: "chat", SenderID: senderID, ChatID: chatID, Content: payload,
		Timestamp: now, DirectDispatch: true,
	})
}

// reply sends text as a compact-formatted, sanitized, split message.
func (c *Channel) reply(ctx context.Context, chatID int64, text string) {
	if err := c.sendText(ctx, chatID, text); err != nil {
		slog.Error("chat: reply failed", "chat_id", chatID, "error", err)
	}
}

// Send delivers an OutboundMessage — a completed order's response or an
// outbox notification — to its chat, applying the same formatting as a
// direct reply.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("chat: invalid chat id %q: %w", msg.ChatID, err)
	}
	return c.sendText(ctx, chatID, msg.Content)
}

// BroadcastAll delivers text to every authorized user's private chat. In
// a direct bot conversation the chat id equals the user id, so the
// allow-list doubles as the broadcast recipient list.
func (c *Channel) BroadcastAll(ctx context.Context, text string) error {
	var firstErr error
	for userID := range c.authorized {
		if err := c.sendText(ctx, userID, text); err != nil {
			slog.Error("chat: broadcast failed", "user_id", userID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Channel) sendText(ctx context.Context, chatID int64, text string) error {
	formatted := sanitizePolicy.Sanitize(formatCompact(text))
	for _, chunk := range splitMessage(formatted, splitLimit) {
		if err := c.client.SendMessage(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}
