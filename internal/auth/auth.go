// Package auth resolves request tokens to user ids.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/crmpilot/internal/apperr"
	"github.com/kalambet/crmpilot/internal/storage"
)

const DefaultCookieName = "crm-session"

// ErrInvalidToken is returned when a token is unknown, expired or rejected.
var ErrInvalidToken = errors.New("invalid or expired session")

// Verifier resolves a token to the id of the user it belongs to.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// SessionLookup is the part of the record store that holds local sessions.
type SessionLookup interface {
	LookupSession(ctx context.Context, tokenHash string) (storage.Session, error)
}

// StoreVerifier checks tokens against the local sessions table.
type StoreVerifier struct {
	sessions SessionLookup
}

// NewStoreVerifier verifies tokens against sessions held in s.
func NewStoreVerifier(s SessionLookup) *StoreVerifier {
	return &StoreVerifier{sessions: s}
}

func (v *StoreVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	sess, err := v.sessions.LookupSession(ctx, HashToken(token))
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("looking up session: %w", err)
	}
	return sess.UserID, nil
}

// HashToken returns the hex SHA-256 of token, the form sessions are stored in.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SessionCreator is the part of the record store that persists sessions.
type SessionCreator interface {
	CreateSession(ctx context.Context, sess storage.Session) error
}

// IssueToken creates a session for userID valid for ttl and returns the raw
// token. Only its hash is stored.
func IssueToken(ctx context.Context, s SessionCreator, userID string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, apperr.Invalid("user id is required")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("generating token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	now := time.Now().UTC()
	expires := now.Add(ttl)
	err := s.CreateSession(ctx, storage.Session{
		TokenHash: HashToken(token),
		UserID:    userID,
		ExpiresAt: expires,
		CreatedAt: now,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// TokenFromRequest returns the bearer token, or the session cookie value when
// no Authorization header is present.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

type ctxKey struct{}

// WithUser returns a context carrying the authenticated user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserFrom returns the user id set by WithUser.
func UserFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
