package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/galaxyprotocol/caduceus/internal/ackpoller"
	"github.com/galaxyprotocol/caduceus/internal/agentrunner"
	"github.com/galaxyprotocol/caduceus/internal/bus"
	"github.com/galaxyprotocol/caduceus/internal/orderstore"
)

func newTestStore(t *testing.T) *orderstore.Store {
	t.Helper()
	root := t.TempDir()
	s, err := orderstore.New(
		filepath.Join(root, "orders"),
		filepath.Join(root, "archive"),
		filepath.Join(root, "outbox"),
		filepath.Join(root, "corrupted"),
		filepath.Join(root, "responses"),
	)
	require.NoError(t, err)
	return s
}

// writeFakeAgent creates a shell script standing in for the agent CLI.
// echoArg controls what it prints to stdout as a single NDJSON event.
func writeFakeAgent(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func newTestExecutor(t *testing.T, agentScript string, timeout time.Duration) (*Executor, *orderstore.Store, *bus.Bus, *ackpoller.AckPoller) {
	t.Helper()
	store := newTestStore(t)
	b := bus.New()
	binary := writeFakeAgent(t, agentScript)
	sessions, err := agentrunner.NewSessionStore(t.TempDir())
	require.NoError(t, err)
	runner := agentrunner.New(binary, t.TempDir(), timeout, sessions)
	hb, err := agentrunner.NewHeartbeatWriter(t.TempDir(), "executor")
	require.NoError(t, err)
	acks := ackpoller.New(store, b)
	ex := New(store, b, runner, hb, acks, Config{PollInterval: 10 * time.Millisecond, Timeout: timeout})
	return ex, store, b, acks
}

func TestExecutor_SuccessPublishesOutboundAndArchives(t *testing.T) {
	ex, store, b, acks := newTestExecutor(t, `echo '{"content":"the answer"}'`, time.Second)

	b.PublishInbound(bus.InboundMessage{
		Channel: "chat", SenderID: "u1", ChatID: "c1", Content: "what is it",
		Timestamp: time.Now().UTC(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := b.ConsumeInbound(ctx)
	require.NoError(t, err)
	ex.handleInbound(context.Background(), msg)
	acks.PollOnce()

	out, err := b.ConsumeOutbound(ctx)
	require.NoError(t, err)
	require.Contains(t, out.Content, "the answer")
	require.Equal(t, "c1", out.ChatID)

	entries, err := os.ReadDir(store.ArchiveDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	pending, err := store.ReadUnacknowledged()
	require.NoError(t, err)
	require.Empty(t, pending)

	responses, err := os.ReadDir(store.ResponsesDir)
	require.NoError(t, err)
	require.Empty(t, responses, "ack poller deletes the response file once delivered")
}

func TestExecutor_RejectsOversizedPayloadWithoutPersisting(t *testing.T) {
	ex, store, b, _ := newTestExecutor(t, `echo '{"content":"unused"}'`, time.Second)

	oversized := make([]byte, maxPayloadChars+1)
	for i := range oversized {
		oversized[i] = 'x'
	}
	b.PublishInbound(bus.InboundMessage{
		Channel: "chat", SenderID: "u1", ChatID: "c1", Content: string(oversized),
		Timestamp: time.Now().UTC(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := b.ConsumeInbound(ctx)
	require.NoError(t, err)
	ex.handleInbound(context.Background(), msg)

	out, err := b.ConsumeOutbound(ctx)
	require.NoError(t, err)
	require.Contains(t, out.Content, "too long")

	pending, err := store.ReadUnacknowledged()
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestExecutor_AgentFailureReleasesOrderAndWarns(t *testing.T) {
	ex, store, b, _ := newTestExecutor(t, `echo 'boom' 1>&2; exit 1`, time.Second)

	b.PublishInbound(bus.InboundMessage{
		Channel: "chat", SenderID: "u1", ChatID: "c1", Content: "hello",
		Timestamp: time.Now().UTC(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := b.ConsumeInbound(ctx)
	require.NoError(t, err)
	ex.handleInbound(context.Background(), msg)

	pending, err := store.ReadUnacknowledged()
	require.NoError(t, err)
	require.Len(t, pending, 1, "a failed order is released back to pending, not archived")

	unsent, err := store.ListUnsentOutbox()
	require.NoError(t, err)
	foundFailure := false
	for _, u := range unsent {
		if u.Notification.Severity == orderstore.SeverityWarning {
			foundFailure = true
		}
	}
	require.True(t, foundFailure)
}

func TestExecutor_ScanAndExecutePicksUpDirectlyWrittenOrder(t *testing.T) {
	ex, store, b, acks := newTestExecutor(t, `echo '{"content":"scanned"}'`, time.Second)

	_, err := store.Write(orderstore.Order{
		OrderID: "direct-1", Payload: "hi", Channel: "chat", ChatID: "c9",
		Priority: orderstore.PriorityNormal, Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	ex.ScanAndExecute(context.Background())
	acks.PollOnce()

	entries, err := os.ReadDir(store.ArchiveDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := b.ConsumeOutbound(ctx)
	require.NoError(t, err)
	require.Contains(t, out.Content, "scanned")
	require.Equal(t, "c9", out.ChatID)
}
