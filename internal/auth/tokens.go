package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// claims is the JWT payload shape: user id, username, and the standard
// registered claims (iat/exp).
type claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// createToken mints a signed HS256 JWT for user, valid for expiry.
func createToken(userID, username, secret string, expiry time.Duration) (string, error) {
	now := time.Now().UTC()
	c := claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TokenClaims is the verified, decoded identity carried by a token.
type TokenClaims struct {
	UserID   string
	Username string
}

// verifyToken checks signature and expiry and extracts the identity.
// Malformed, unsigned, or expired tokens all return an error; the
// caller never distinguishes the reason beyond "unauthenticated".
func verifyToken(tokenString, secret string) (TokenClaims, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return TokenClaims{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return TokenClaims{}, fmt.Errorf("invalid token")
	}
	return TokenClaims{UserID: c.UserID, Username: c.Username}, nil
}
