package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/code-inbox/internal/apperror"
)

// contextKey is an unexported type used for context keys in this package,
// so no other package can read or shadow the session value.
type contextKey string

const sessionKey contextKey = "session"

// Header names the web client sends on every protected request.
const (
	HeaderEmail         = "Email"
	HeaderAuthorization = "Authorization"
)

// RequireSession is a middleware that enforces a valid Email + Authorization
// header pair. On success the *Session is stored in the request context.
// On failure the chain stops with 401, or 500 when the store is down.
func RequireSession(a *Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := a.Authenticate(r.Context(),
				r.Header.Get(HeaderEmail),
				r.Header.Get(HeaderAuthorization),
			)
			if err != nil {
				if errors.Is(err, apperror.ErrUnauthorized) {
					w.Header().Set("WWW-Authenticate", "Bearer")
					writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized User!")
					return
				}
				logger.Error("session validation failed",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeAuthError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
				return
			}

			ctx := WithSession(r.Context(), sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithSession stores sess in ctx. Handlers get it back with SessionFromContext.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFromContext retrieves the session installed by RequireSession.
//
// Usage in handlers:
//
//	sess, ok := auth.SessionFromContext(r.Context())
//	if !ok {
//	    // route was mounted without RequireSession
//	}
func SessionFromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*Session)
	return sess, ok && sess != nil
}

func writeAuthError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status_code": status,
		"error":       kind,
		"message":     message,
	})
}
