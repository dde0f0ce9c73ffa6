package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/galaxyprotocol/caduceus/internal/bus"
	"github.com/galaxyprotocol/caduceus/internal/orderstore"
)

type recordedSend struct {
	chatID int64
	text   string
}

type fakeBotAPI struct {
	mu    sync.Mutex
	sends []recordedSend
}

func (f *fakeBotAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			_ = r.ParseForm()
			chatID, _ := strconv.ParseInt(r.Form.Get("chat_id"), 10, 64)
			f.mu.Lock()
			f.sends = append(f.sends, recordedSend{chatID: chatID, text: r.Form.Get("text")})
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{}})
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": []any{}})
		default:
			http.NotFound(w, r)
		}
	}
}

func (f *fakeBotAPI) all() []recordedSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedSend, len(f.sends))
	copy(out, f.sends)
	return out
}

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

func newTestChannel(t *testing.T, api *fakeBotAPI) (*Channel, *orderstore.Store, *bus.Bus) {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	store := newTestStore(t)
	b := bus.New()
	cfg := Config{
		BotToken:        "test-token",
		APIBaseURL:      srv.URL,
		AuthorizedUsers: []int64{42},
		Machines: map[string]MachineConfig{
			"local": {Host: "localhost", RepoPath: t.TempDir()},
		},
		DefaultMachine: "local",
	}
	ch, err := New(cfg, store, b)
	require.NoError(t, err)
	return ch, store, b
}

func TestHandleUpdate_UnauthorizedPlainTextIsSilentlyDropped(t *testing.T) {
	api := &fakeBotAPI{}
	ch, store, _ := newTestChannel(t, api)

	ch.handleUpdate(context.Background(), IncomingMessage{
		From: User{ID: 1}, Chat: Chat{ID: 1}, Text: "do something",
	})

	require.Empty(t, api.all())
	pending, err := store.ReadUnacknowledged()
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestHandleUpdate_AuthorizedPlainTextDualDispatches(t *testing.T) {
	api := &fakeBotAPI{}
	ch, store, b := newTestChannel(t, api)

	ch.handleUpdate(context.Background(), IncomingMessage{
		From: User{ID: 42}, Chat: Chat{ID: 99}, Text: "focus on module X",
	})

	pending, err := store.ReadUnacknowledged()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "focus on module X", pending[0].Order.Payload)
	require.Equal(t, "99", pending[0].Order.ChatID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := b.ConsumeInbound(ctx)
	require.NoError(t, err)
	require.True(t, msg.DirectDispatch)
	require.Equal(t, "focus on module X", msg.Content)

	sends := api.all()
	require.Len(t, sends, 1)
	require.Contains(t, sends[0].text, "local")
}

func TestHandleUpdate_UnauthorizedHelpRepliesWithID(t *testing.T) {
	api := &fakeBotAPI{}
	ch, _, _ := newTestChannel(t, api)

	ch.handleUpdate(context.Background(), IncomingMessage{
		From: User{ID: 7}, Chat: Chat{ID: 7}, Text: "/help",
	})

	sends := api.all()
	require.Len(t, sends, 1)
	require.Contains(t, sends[0].text, "7")
}

func TestOrderCommand_ExplicitTargetCreatesOneOrder(t *testing.T) {
	api := &fakeBotAPI{}
	ch, store, _ := newTestChannel(t, api)

	ch.handleUpdate(context.Background(), IncomingMessage{
		From: User{ID: 42}, Chat: Chat{ID: 1}, Text: "/order local ship the feature",
	})

	pending, err := store.ReadUnacknowledged()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "ship the feature", pending[0].Order.Payload)
}

func TestMachinesCommand_MarksDefault(t *testing.T) {
	api := &fakeBotAPI{}
	ch, _, _ := newTestChannel(t, api)

	ch.handleUpdate(context.Background(), IncomingMessage{
		From: User{ID: 42}, Chat: Chat{ID: 1}, Text: "/machines",
	})

	sends := api.all()
	require.Len(t, sends, 1)
	require.Contains(t, sends[0].text, "local (default)")
}

func TestConcernsText_TruncatesPastBoundary(t *testing.T) {
	dir := t.TempDir()
	reportDir := filepath.Join(dir, ".sisyphus", "notepads", "stargazer-1")
	require.NoError(t, os.MkdirAll(reportDir, 0o755))

	exact := strings.Repeat("x", 3500)
	require.NoError(t, os.WriteFile(filepath.Join(reportDir, "problems.md"), []byte(exact), 0o644))

	c := &Channel{cfg: Config{Machines: map[string]MachineConfig{"local": {Host: "localhost", RepoPath: dir}}}}
	out := c.concernsText("local", c.cfg.Machines["local"])
	require.NotContains(t, out, "truncated")

	over := strings.Repeat("x", 3501)
	require.NoError(t, os.WriteFile(filepath.Join(reportDir, "problems.md"), []byte(over), 0o644))
	out = c.concernsText("local", c.cfg.Machines["local"])
	require.Contains(t, out, "truncated")
}

func TestChannel_SendFormatsAndDelivers(t *testing.T) {
	api := &fakeBotAPI{}
	ch, _, _ := newTestChannel(t, api)

	err := ch.Send(context.Background(), bus.OutboundMessage{
		ChatID: "99", Content: "# Done\nall good", Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	sends := api.all()
	require.Len(t, sends, 1)
	require.Equal(t, int64(99), sends[0].chatID)
	require.Contains(t, sends[0].text, "🎯 Done")
}

func TestLinkCommand_SavesReferenceAndReplies(t *testing.T) {
	api := &fakeBotAPI{}
	titleSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><head><title>Cool Repo</title></head><body></body></html>"))
	}))
	defer titleSrv.Close()

	ch, _, _ := newTestChannel(t, api)
	ch.cfg.ReferenceDir = t.TempDir()

	ch.handleUpdate(context.Background(), IncomingMessage{
		From: User{ID: 42}, Chat: Chat{ID: 1}, Text: "/link " + titleSrv.URL + " worth reading",
	})

	sends := api.all()
	require.Len(t, sends, 1)
	require.Contains(t, sends[0].text, "Cool Repo")

	data, err := os.ReadFile(filepath.Join(ch.cfg.ReferenceDir, "index.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), "Cool Repo")
}

func TestLinkCommand_RejectsMissingURL(t *testing.T) {
	api := &fakeBotAPI{}
	ch, _, _ := newTestChannel(t, api)
	ch.cfg.ReferenceDir = t.TempDir()

	ch.handleUpdate(context.Background(), IncomingMessage{
		From: User{ID: 42}, Chat: Chat{ID: 1}, Text: "/link",
	})

	sends := api.all()
	require.Len(t, sends, 1)
	require.Contains(t, sends[0].text, "Usage:")
}
