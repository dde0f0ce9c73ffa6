// Package auth implements the web channel's user store: bcrypt password
// verification and JWT mint/verify, backed by internal/db.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/galaxyprotocol/caduceus/internal/id"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,32}$`)

// dummyHash absorbs the bcrypt comparison cost for a username that
// doesn't exist, so a login attempt against an unknown user takes the
// same time as one against a real user with a wrong password — without
// this, timing alone would reveal which usernames are registered.
var dummyHash = mustHash("dummy-password-for-timing-safety")

func mustHash(s string) []byte {
	h, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("auth: failed to precompute dummy hash: %v", err))
	}
	return h
}

// User is an authenticated account record.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	LastSeenAt   time.Time
}

// Store is a SQLite-backed user store.
type Store struct {
	db           *sql.DB
	jwtSecret    string
	tokenExpiry  time.Duration
}

// New creates a Store over an already-open, already-migrated database.
func New(database *sql.DB, jwtSecret string, tokenExpiry time.Duration) *Store {
	if tokenExpiry <= 0 {
		tokenExpiry = 24 * time.Hour
	}
	return &Store{db: database, jwtSecret: jwtSecret, tokenExpiry: tokenExpiry}
}

// CreateUser registers a new account. username must be 3-32 alphanumeric/
// underscore/dash characters; password must be at least 6 characters.
// Returns an error if either fails validation or username is taken.
func (s *Store) CreateUser(ctx context.Context, username, password string) (User, error) {
	if !usernamePattern.MatchString(username) {
		return User{}, fmt.Errorf("invalid username %q", username)
	}
	if len(password) < 6 {
		return User{}, fmt.Errorf("password too short")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	userID := "user-" + id.Generate()[:8]

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at, last_seen_at) VALUES (?, ?, ?, ?, ?)`,
		userID, username, string(hash), now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return s.GetByUsername(ctx, username)
}

// VerifyPassword checks username/password and, on success, updates
// last_seen_at. Always performs a bcrypt comparison, even for an unknown
// username, to avoid timing-based user enumeration.
func (s *Store) VerifyPassword(ctx context.Context, username, password string) (User, bool) {
	user, err := s.GetByUsername(ctx, username)
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return User{}, false
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, false
	}

	now := time.Now().UTC()
	_, _ = s.db.ExecContext(ctx, `UPDATE users SET last_seen_at = ? WHERE id = ?`, now.Format(time.RFC3339), user.ID)
	return user, true
}

// GetByUsername looks up a user by username.
func (s *Store) GetByUsername(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at, last_seen_at FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// GetByID looks up a user by id.
func (s *Store) GetByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at, last_seen_at FROM users WHERE id = ?`, userID)
	return scanUser(row)
}

func scanUser(row *sql.Row) (User, error) {
	var u User
	var createdAt, lastSeenAt string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt, &lastSeenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, fmt.Errorf("user not found")
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	u.LastSeenAt, _ = time.Parse(time.RFC3339, lastSeenAt)
	return u, nil
}

// CreateToken mints a signed JWT for the given user.
func (s *Store) CreateToken(user User) (string, error) {
	return createToken(user.ID, user.Username, s.jwtSecret, s.tokenExpiry)
}

// VerifyToken validates a JWT and returns the identity it carries.
func (s *Store) VerifyToken(token string) (TokenClaims, error) {
	return verifyToken(token, s.jwtSecret)
}
