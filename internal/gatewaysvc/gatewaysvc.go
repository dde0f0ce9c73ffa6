// Package gatewaysvc wires every component (order store, bus, executor,
// ackpoller, outbox dispatcher, channels, reference storage) together per
// the loaded configuration and owns the gateway's graceful shutdown.
package gatewaysvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/galaxyprotocol/caduceus/internal/ackpoller"
	"github.com/galaxyprotocol/caduceus/internal/agentrunner"
	"github.com/galaxyprotocol/caduceus/internal/auth"
	"github.com/galaxyprotocol/caduceus/internal/bus"
	"github.com/galaxyprotocol/caduceus/internal/channel"
	"github.com/galaxyprotocol/caduceus/internal/channel/chat"
	"github.com/galaxyprotocol/caduceus/internal/channel/web"
	"github.com/galaxyprotocol/caduceus/internal/config"
	"github.com/galaxyprotocol/caduceus/internal/db"
	"github.com/galaxyprotocol/caduceus/internal/executor"
	"github.com/galaxyprotocol/caduceus/internal/orderstore"
	"github.com/galaxyprotocol/caduceus/internal/outbox"
)

// broadcaster is the subset of a channel's surface the dispatch loop
// needs: a targeted Send plus the no-target-id broadcast a channel-less
// outbox notification uses.
type broadcaster interface {
	channel.Channel
	BroadcastAll(ctx context.Context, text string) error
}

// Gateway owns every long-running component and their lifecycle.
type Gateway struct {
	cfg Config

	store    *orderstore.Store
	bus      *bus.Bus
	hb       *agentrunner.HeartbeatWriter
	executor *executor.Executor
	acks     *ackpoller.AckPoller
	dispatch *outbox.Dispatcher

	sqlDB *sql.DB

	channels   map[string]broadcaster
	channelsMu sync.RWMutex
}

// Config is an alias for config.Config, the configuration New builds the
// gateway from.
type Config = config.Config

// New builds every configured component but starts nothing.
func New(cfg Config) (*Gateway, error) {
	store, err := orderstore.New(
		cfg.OrderStore.OrdersDir,
		cfg.OrderStore.ArchiveDir,
		cfg.OrderStore.OutboxDir,
		cfg.OrderStore.CorruptedDir,
		cfg.OrderStore.ResponsesDir,
	)
	if err != nil {
		return nil, fmt.Errorf("gatewaysvc: order store: %w", err)
	}

	b := bus.New()

	binary := cfg.AgentRunner.Binary
	if binary == "" || binary == "opencode" {
		if resolved, err := agentrunner.ResolveBinary(); err == nil {
			binary = resolved
		} else {
			slog.Warn("gatewaysvc: agent binary not resolved, using configured value", "error", err)
		}
	}

	sessions, err := agentrunner.NewSessionStore(cfg.AgentRunner.SessionDir)
	if err != nil {
		return nil, fmt.Errorf("gatewaysvc: session store: %w", err)
	}
	workingDir := ""
	if m, ok := cfg.Machines[cfg.DefaultMachine]; ok {
		workingDir = m.RepoPath
	}
	runner := agentrunner.New(binary, workingDir, cfg.AgentRunner.Timeout, sessions)

	heartbeatDir := filepath.Join(filepath.Dir(cfg.OrderStore.OrdersDir), "heartbeat")
	hb, err := agentrunner.NewHeartbeatWriter(heartbeatDir, "executor")
	if err != nil {
		return nil, fmt.Errorf("gatewaysvc: heartbeat writer: %w", err)
	}

	acks := ackpoller.New(store, b)
	exec := executor.New(store, b, runner, hb, acks, executor.Config{
		PollInterval: cfg.Executor.PollInterval,
		Timeout:      cfg.Executor.Timeout,
	})

	gw := &Gateway{
		cfg:      cfg,
		store:    store,
		bus:      b,
		hb:       hb,
		executor: exec,
		acks:     acks,
		channels: make(map[string]broadcaster),
	}
	// The dispatcher delivers through gw itself (gw.Deliver routes through
	// whatever channels end up enabled below), not through the async
	// outbound bus, so it learns the outcome before marking a notification
	// sent.
	gw.dispatch = outbox.New(store, gw)

	if cfg.Chat.Enabled() {
		machines := make(map[string]chat.MachineConfig, len(cfg.Machines))
		for name, m := range cfg.Machines {
			machines[name] = chat.MachineConfig{
				Host: m.Host, RepoPath: m.RepoPath, SSHUser: m.SSHUser, HeartbeatDir: m.HeartbeatDir,
			}
		}
		chatCh, err := chat.New(chat.Config{
			BotToken:        cfg.Chat.Token,
			AuthorizedUsers: cfg.Chat.AuthorizedIDs,
			Machines:        machines,
			DefaultMachine:  cfg.DefaultMachine,
			PollInterval:    cfg.Chat.PollInterval,
			SessionLogPath:  cfg.Chat.SessionLogPath,
			ReferenceDir:    cfg.Reference.Dir,
		}, store, b)
		if err != nil {
			return nil, fmt.Errorf("gatewaysvc: chat channel: %w", err)
		}
		gw.channels["chat"] = chatCh
	}

	if cfg.Web.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Auth.DBPath), 0o750); err != nil {
			return nil, fmt.Errorf("gatewaysvc: create auth db dir: %w", err)
		}
		sqlDB, err := db.Open(cfg.Auth.DBPath)
		if err != nil {
			return nil, fmt.Errorf("gatewaysvc: open auth db: %w", err)
		}
		if err := db.Migrate(sqlDB); err != nil {
			_ = db.Close(sqlDB)
			return nil, fmt.Errorf("gatewaysvc: migrate auth db: %w", err)
		}
		gw.sqlDB = sqlDB

		store := auth.New(sqlDB, cfg.Auth.JWTSecret, cfg.Auth.TokenExpiryHours)
		webCh, err := web.New(web.Config{
			Addr:           cfg.Web.Addr,
			SecureCookies:  cfg.Web.SecureCookies,
			SessionLogPath: cfg.Web.SessionLogPath,
		}, store, b)
		if err != nil {
			_ = db.Close(sqlDB)
			return nil, fmt.Errorf("gatewaysvc: web channel: %w", err)
		}
		gw.channels["web"] = webCh
	}

	if len(gw.channels) == 0 {
		slog.Warn("gatewaysvc: no channel is enabled, the gateway will only process orders dropped on disk")
	}

	return gw, nil
}

// ChannelNames lists the enabled channels, for banner/log purposes.
func (g *Gateway) ChannelNames() []string {
	names := make([]string, 0, len(g.channels))
	for name := range g.channels {
		names = append(names, name)
	}
	return names
}

// Run starts every component and blocks until ctx is cancelled, then
// performs an orderly shutdown mirroring the teacher's reject-drain-wait
// shutdown sequence, scaled to this gateway's components.
func (g *Gateway) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 8)

	for name, ch := range g.channels {
		name, ch := name, ch
		if err := ch.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("gatewaysvc: start channel %s: %w", name, err)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := g.executor.Run(runCtx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("executor: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		interval := g.cfg.Executor.PollInterval
		if interval <= 0 {
			interval = 2 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				g.executor.ScanAndExecute(runCtx)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		interval := g.cfg.AckPoller
		if interval <= 0 {
			interval = 2 * time.Second
		}
		if err := g.acks.Run(runCtx, interval); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("ackpoller: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		interval := g.cfg.Outbox
		if interval <= 0 {
			interval = 2 * time.Second
		}
		if err := g.dispatch.Run(runCtx, interval); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("outbox: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.dispatchOutbound(runCtx)
	}()

	slog.Info("gateway running", "channels", g.ChannelNames())

	select {
	case <-ctx.Done():
		slog.Info("gateway shutting down...")
	case err := <-errCh:
		slog.Error("gateway: component failed, shutting down", "error", err)
	}

	// 1. Stop accepting new inbound work by stopping every channel first.
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for name, ch := range g.channels {
		if err := ch.Stop(shutdownCtx); err != nil {
			slog.Warn("gatewaysvc: channel stop error", "channel", name, "error", err)
		}
	}

	// 2. Wait for the background loops to observe cancellation.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		slog.Warn("gatewaysvc: timed out waiting for background loops")
	}

	// 3. Mark the heartbeat stopped and close the auth database, if open.
	if g.hb != nil {
		_ = g.hb.Stop("executor")
	}
	if g.sqlDB != nil {
		_ = db.Close(g.sqlDB)
	}

	return nil
}

// dispatchOutbound drains the async outbound bus — the ack poller's order
// responses and the executor's payload-rejection replies — and
// best-effort delivers each one, logging failures.
// Unlike outbox.Dispatcher's notifications, these responses carry no
// on-disk sent flag to protect, so there is nothing to gate on success.
func (g *Gateway) dispatchOutbound(ctx context.Context) {
	for {
		msg, err := g.bus.ConsumeOutbound(ctx)
		if err != nil {
			return
		}
		if err := g.Deliver(ctx, msg); err != nil {
			slog.Warn("gatewaysvc: delivery failed", "channel", msg.Channel, "error", err)
		}
	}
}

// Deliver routes an OutboundMessage to the channel(s) it is addressed to:
// a non-empty Channel picks one specific channel, an empty one (outbox
// notifications carry no channel, see outbox.Dispatcher) fans out to
// every enabled channel. Within a channel, an empty ChatID means
// broadcast to that channel's full reachable audience. Implements
// outbox.Deliverer so the outbox dispatcher learns whether delivery
// actually succeeded before marking a notification sent.
func (g *Gateway) Deliver(ctx context.Context, msg bus.OutboundMessage) error {
	targets := g.channelsFor(msg.Channel)
	if len(targets) == 0 {
		return fmt.Errorf("no channel matches %q", msg.Channel)
	}

	var errs []error
	for name, ch := range targets {
		var sendErr error
		if msg.ChatID == "" {
			sendErr = ch.BroadcastAll(ctx, msg.Content)
		} else {
			sendErr = ch.Send(ctx, msg)
		}
		if sendErr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, sendErr))
		}
	}
	return errors.Join(errs...)
}

func (g *Gateway) channelsFor(name string) map[string]broadcaster {
	g.channelsMu.RLock()
	defer g.channelsMu.RUnlock()

	if name == "" {
		out := make(map[string]broadcaster, len(g.channels))
		for k, v := range g.channels {
			out[k] = v
		}
		return out
	}
	if ch, ok := g.channels[name]; ok {
		return map[string]broadcaster{name: ch}
	}
	return nil
}
