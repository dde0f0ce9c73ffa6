// Package web implements the web-socket Channel variant: a small
// JWT-cookie-authenticated chat UI served over HTTP, with one WebSocket
// per logged-in user.
package web

import (
	"context"
	"time"

	"github.com/galaxyprotocol/caduceus/internal/auth"
)

// Config configures a web Channel.
type Config struct {
	Addr           string // listen address, e.g. ":8080"
	SecureCookies  bool   // set the Secure flag on the session cookie
	SessionLogPath string

	// PingInterval governs the keepalive ping the server sends on each
	// open socket; zero disables pings.
	PingInterval time.Duration
}

// UserStore is the subset of internal/auth.Store the channel depends on,
// so this package can be tested against a fake store.
type UserStore interface {
	VerifyPassword(ctx context.Context, username, password string) (auth.User, bool)
	CreateToken(user auth.User) (string, error)
	VerifyToken(token string) (auth.TokenClaims, error)
}
