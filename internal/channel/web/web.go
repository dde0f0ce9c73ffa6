package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/galaxyprotocol/caduceus/internal/auth"
	"github.com/galaxyprotocol/caduceus/internal/bus"
	"github.com/galaxyprotocol/caduceus/internal/logging"
	"github.com/galaxyprotocol/caduceus/internal/metrics"
	"github.com/galaxyprotocol/caduceus/internal/sessionlog"
)

const cookieName = "galaxy_token"

// frame is the shape of every message sent to the browser.
type frame struct {
	Type      string  `json:"type"`
	Content   string  `json:"content"`
	ChatID    string  `json:"chat_id,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// inboundFrame is the shape of a message received from the browser.
type inboundFrame struct {
	Content string `json:"content"`
}

// Channel is the web-socket frontend: a tiny HTTP server serving a login
// page, a chat page, and a WebSocket endpoint, with one connection
// indexed per authenticated user.
type Channel struct {
	cfg   Config
	store UserStore
	bus   *bus.Bus
	log   *sessionlog.Log

	reg    *registry
	server *http.Server

	stopOnce sync.Once
	doneCh   chan struct{}
}

// New creates a web Channel. store performs password verification and
// JWT mint/verify; it is usually *auth.Store.
func New(cfg Config, store UserStore, b *bus.Bus) (*Channel, error) {
	var log *sessionlog.Log
	if cfg.SessionLogPath != "" {
		var err error
		log, err = sessionlog.Open(cfg.SessionLogPath)
		if err != nil {
			return nil, fmt.Errorf("web: open session log: %w", err)
		}
	}

	c := &Channel{
		cfg:    cfg,
		store:  store,
		bus:    b,
		log:    log,
		reg:    newRegistry(),
		doneCh: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", c.handleIndex)
	mux.HandleFunc("GET /login", c.handleLoginPage)
	mux.HandleFunc("POST /login", c.handleLoginSubmit)
	mux.HandleFunc("GET /logout", c.handleLogout)
	mux.HandleFunc("GET /ws", c.handleWebSocket)

	c.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           logging.HTTPMiddleware(metrics.HTTPMiddleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return c, nil
}

// Handler returns the channel's HTTP handler, for tests that want to
// drive it through an httptest.Server instead of a real listener.
func (c *Channel) Handler() http.Handler {
	return c.server.Handler
}

// Start begins serving HTTP in the background. It waits 50ms and returns
// the listen error if ListenAndServe failed within that time, nil
// otherwise.
func (c *Channel) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		defer close(c.doneCh)
		err := c.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web: listen: %w", err)
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// Stop closes every indexed socket and gracefully shuts down the HTTP
// server.
func (c *Channel) Stop(ctx context.Context) error {
	c.reg.closeAll()

	var err error
	c.stopOnce.Do(func() { err = c.server.Shutdown(ctx) })

	select {
	case <-c.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (c *Channel) handleIndex(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := c.authenticate(r); !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = chatPage.Execute(w, nil)
}

func (c *Channel) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = loginPage.Execute(w, nil)
}

func (c *Channel) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, `{"error":"invalid form"}`, http.StatusBadRequest)
		return
	}
	username := r.FormValue("username")
	password := r.FormValue("password")

	user, ok := c.store.VerifyPassword(r.Context(), username, password)
	if !ok {
		c.logEvent("login_failure", map[string]string{"username": username})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid username or password"}`))
		return
	}

	token, err := c.store.CreateToken(user)
	if err != nil {
		slog.Error("web: failed to mint token", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	c.logEvent("login_success", map[string]string{"username": username, "user_id": user.ID})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (c *Channel) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.cfg.SecureCookies,
		MaxAge:   -1,
	})
	http.Redirect(w, r, "/login", http.StatusFound)
}

// authenticate reads and verifies the session cookie, returning the
// claims it carries.
func (c *Channel) authenticate(r *http.Request) (auth.TokenClaims, *http.Cookie, bool) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return auth.TokenClaims{}, nil, false
	}
	claims, err := c.store.VerifyToken(cookie.Value)
	if err != nil {
		return auth.TokenClaims{}, cookie, false
	}
	return claims, cookie, true
}

func (c *Channel) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, _, ok := c.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("web: accept failed", "error", err)
		return
	}

	metrics.ActiveWebSockets.Inc()
	defer metrics.ActiveWebSockets.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	previous, replaced := c.reg.replace(claims.UserID, conn, cancel)
	if replaced {
		c.notify(context.Background(), previous, frame{Type: "system", Content: "Session replaced by new connection"})
		_ = previous.Close(websocket.StatusNormalClosure, "session replaced")
		c.logEvent("socket_replaced", map[string]string{"user_id": claims.UserID})
	}
	defer c.reg.remove(claims.UserID, conn)

	welcome := frame{Type: "system", Content: fmt.Sprintf("Connected as %s", claims.Username), ChatID: claims.UserID}
	if err := c.writeFrame(ctx, conn, welcome); err != nil {
		return
	}
	c.logEvent("socket_connected", map[string]string{"user_id": claims.UserID})

	if c.cfg.PingInterval > 0 {
		go func() {
			ticker := time.NewTicker(c.cfg.PingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := conn.Ping(ctx); err != nil {
						return
					}
				}
			}
		}()
	}

	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		c.logEvent("socket_disconnected", map[string]string{"user_id": claims.UserID})
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if !errors.As(err, &closeErr) {
				c.logEvent("socket_error", map[string]string{"user_id": claims.UserID, "error": err.Error()})
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var in inboundFrame
		if err := json.Unmarshal(data, &in); err != nil {
			_ = c.writeFrame(ctx, conn, frame{Type: "error", Content: "invalid message"})
			continue
		}
		content := strings.TrimSpace(in.Content)
		if content == "" {
			continue
		}

		c.bus.PublishInbound(bus.InboundMessage{
			Channel:   "web",
			SenderID:  claims.UserID,
			ChatID:    claims.UserID,
			UserID:    claims.UserID,
			Content:   content,
			Metadata:  map[string]string{"source": "web"},
			Timestamp: time.Now().UTC(),
		})
	}
}

// Send delivers an OutboundMessage to the socket indexed under its
// ChatID (the authenticated user id).
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	conn, ok := c.reg.get(msg.ChatID)
	if !ok {
		return fmt.Errorf("web: no active socket for user %q", msg.ChatID)
	}
	frameType := "message"
	if msg.Severity == "warning" || msg.Severity == "error" {
		frameType = msg.Severity
	}
	return c.writeFrame(ctx, conn, frame{
		Type:      frameType,
		Content:   msg.Content,
		Timestamp: float64(msg.Timestamp.Unix()),
	})
}

// BroadcastAll delivers text to every currently connected socket. Unlike
// the chat channel there is no static allow-list to iterate — only
// connected users can receive a broadcast.
func (c *Channel) BroadcastAll(ctx context.Context, text string) error {
	c.reg.mu.Lock()
	userIDs := make([]string, 0, len(c.reg.sockets))
	for userID := range c.reg.sockets {
		userIDs = append(userIDs, userID)
	}
	c.reg.mu.Unlock()

	var firstErr error
	for _, userID := range userIDs {
		conn, ok := c.reg.get(userID)
		if !ok {
			continue
		}
		if err := c.notify(ctx, conn, frame{Type: "system", Content: text}); err != nil {
			slog.Error("web: broadcast failed", "user_id", userID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Channel) notify(ctx context.Context, conn *websocket.Conn, f frame) error {
	return c.writeFrame(ctx, conn, f)
}

func (c *Channel) writeFrame(ctx context.Context, conn *websocket.Conn, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("web: marshal frame: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Channel) logEvent(eventType string, fields map[string]string) {
	if c.log != nil {
		c.log.Append(eventType, fields)
	}
}
