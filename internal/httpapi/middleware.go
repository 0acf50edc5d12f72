package httpapi

import (
	"errors"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"kirakira/backend/internal/auth"
	"kirakira/backend/internal/store"
)

// RequireAuth rejects requests without a valid token for an existing user.
func (h Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, status, message := h.authenticate(r)
		if status != 0 {
			writeError(w, status, "unauthorized", message)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

// OptionalAuth attaches the identity when a valid token is present and
// passes anonymous requests through unchanged.
func (h Handler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity, status, _ := h.authenticate(r); status == 0 {
			r = r.WithContext(withIdentity(r.Context(), identity))
		}
		next.ServeHTTP(w, r)
	})
}

func (h Handler) authenticate(r *http.Request) (auth.Identity, int, string) {
	raw, ok := readCookie(r, h.cfg.AuthCookieName)
	if !ok {
		return auth.Identity{}, http.StatusUnauthorized, "Not authenticated"
	}
	identity, err := h.tokens.Parse(raw)
	if err != nil {
		return auth.Identity{}, http.StatusUnauthorized, "Invalid token"
	}

	// Tokens outlive account deletion; the row must still exist.
	if _, err := h.store.UserByID(r.Context(), identity.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return auth.Identity{}, http.StatusUnauthorized, "Invalid token"
		}
		h.logger.Error("resolve token user failed", zap.String("user_id", identity.UserID), zap.Error(err))
		return auth.Identity{}, http.StatusInternalServerError, "Internal Server Error"
	}
	return identity, 0, ""
}

// requestLogger writes one access log line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(started)),
					zap.String("request_id", chimw.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func limitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
