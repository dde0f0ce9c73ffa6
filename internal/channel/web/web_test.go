package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/galaxyprotocol/caduceus/internal/auth"
	"github.com/galaxyprotocol/caduceus/internal/bus"
)

// fakeStore is an in-memory UserStore double: username/password pairs
// and a trivial userID-as-token scheme, good enough to exercise the
// channel's HTTP and WebSocket plumbing without a real database.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]string // username -> password
}

func newFakeStore(users map[string]string) *fakeStore {
	return &fakeStore{users: users}
}

func (f *fakeStore) VerifyPassword(ctx context.Context, username, password string) (auth.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want, ok := f.users[username]
	if !ok || want != password {
		return auth.User{}, false
	}
	return auth.User{ID: "user-" + username, Username: username}, true
}

func (f *fakeStore) CreateToken(user auth.User) (string, error) {
	return "token-" + user.ID + "-" + user.Username, nil
}

func (f *fakeStore) VerifyToken(token string) (auth.TokenClaims, error) {
	const prefix = "token-"
	if !strings.HasPrefix(token, prefix) {
		return auth.TokenClaims{}, errInvalidToken
	}
	rest := strings.TrimPrefix(token, prefix)
	idx := strings.LastIndex(rest, "-")
	if idx < 0 {
		return auth.TokenClaims{}, errInvalidToken
	}
	return auth.TokenClaims{UserID: rest[:idx], Username: rest[idx+1:]}, nil
}

var errInvalidToken = &tokenError{"invalid token"}

type tokenError struct{ msg string }

func (e *tokenError) Error() string { return e.msg }

func newTestChannel(t *testing.T, users map[string]string) (*Channel, *bus.Bus, *httptest.Server) {
	t.Helper()
	b := bus.New()
	ch, err := New(Config{}, newFakeStore(users), b)
	require.NoError(t, err)
	srv := httptest.NewServer(ch.Handler())
	t.Cleanup(srv.Close)
	return ch, b, srv
}

func TestLogin_SetsCookieOnSuccess(t *testing.T) {
	_, _, srv := newTestChannel(t, map[string]string{"owl": "hunter22"})

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.PostForm(srv.URL+"/login", map[string][]string{
		"username": {"owl"}, "password": {"hunter22"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == cookieName {
			found = true
		}
	}
	require.True(t, found)
}

func TestLogin_RejectsBadPassword(t *testing.T) {
	_, _, srv := newTestChannel(t, map[string]string{"owl": "hunter22"})

	resp, err := http.PostForm(srv.URL+"/login", map[string][]string{
		"username": {"owl"}, "password": {"wrong"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIndex_RedirectsToLoginWithoutCookie(t *testing.T) {
	_, _, srv := newTestChannel(t, map[string]string{"owl": "hunter22"})

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/login", resp.Header.Get("Location"))
}

func loginAndGetToken(t *testing.T, srv *httptest.Server, username, password string) string {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar:           jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.PostForm(srv.URL+"/login", map[string][]string{
		"username": {username}, "password": {password},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	for _, c := range resp.Cookies() {
		if c.Name == cookieName {
			return c.Value
		}
	}
	t.Fatal("no session cookie set")
	return ""
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(context.Background(), wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Cookie": []string{cookieName + "=" + token}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestWebSocket_WelcomeFrameThenPublishesToBus(t *testing.T) {
	ch, b, srv := newTestChannel(t, map[string]string{"owl": "hunter22"})
	token := loginAndGetToken(t, srv, "owl", "hunter22")

	conn := dialWS(t, srv, token)
	welcome := readFrame(t, conn)
	require.Equal(t, "system", welcome.Type)
	require.Contains(t, welcome.Content, "Connected as owl")
	require.Equal(t, "user-owl", welcome.ChatID)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(`{"content":"focus on module X"}`)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := b.ConsumeInbound(ctx)
	require.NoError(t, err)
	require.Equal(t, "web", msg.Channel)
	require.Equal(t, "user-owl", msg.UserID)
	require.Equal(t, "user-owl", msg.ChatID)
	require.Equal(t, "focus on module X", msg.Content)

	_ = ch
}

func TestWebSocket_SessionReplacementClosesFirstSocket(t *testing.T) {
	ch, _, srv := newTestChannel(t, map[string]string{"owl": "hunter22"})
	token := loginAndGetToken(t, srv, "owl", "hunter22")

	first := dialWS(t, srv, token)
	_ = readFrame(t, first) // welcome

	second := dialWS(t, srv, token)
	_ = readFrame(t, second) // welcome

	replaced := readFrame(t, first)
	require.Equal(t, "system", replaced.Type)
	require.Contains(t, replaced.Content, "Session replaced")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := first.Read(ctx)
	require.Error(t, err)

	_ = ch
}

func TestSend_DeliversToIndexedSocket(t *testing.T) {
	ch, _, srv := newTestChannel(t, map[string]string{"owl": "hunter22"})
	token := loginAndGetToken(t, srv, "owl", "hunter22")

	conn := dialWS(t, srv, token)
	_ = readFrame(t, conn) // welcome

	require.NoError(t, ch.Send(context.Background(), bus.OutboundMessage{
		ChatID: "user-owl", Content: "all done", Timestamp: time.Now().UTC(),
	}))

	delivered := readFrame(t, conn)
	require.Equal(t, "message", delivered.Type)
	require.Equal(t, "all done", delivered.Content)
}

func TestSend_NoActiveSocketReturnsError(t *testing.T) {
	ch, _, _ := newTestChannel(t, map[string]string{"owl": "hunter22"})
	err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "user-nobody", Content: "hi"})
	require.Error(t, err)
}
