package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kalambet/crmpilot/internal/apperr"
	"github.com/kalambet/crmpilot/internal/auth"
)

// SessionAuth resolves the bearer token or session cookie to a user and
// stores the user id in the request context. Unknown or expired sessions
// get 401.
func SessionAuth(v auth.Verifier, cookieName string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.TokenFromRequest(r, cookieName)
			if token == "" || v == nil {
				writeError(w, r, logger, apperr.Unauthenticated("authentication required"))
				return
			}

			userID, err := v.Verify(r.Context(), token)
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, logger, apperr.Unauthenticated("invalid or expired session"))
				return
			}
			if err != nil {
				writeError(w, r, logger, apperr.Wrap(apperr.KindInternal, err, "verifying session"))
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), userID)))
		})
	}
}
