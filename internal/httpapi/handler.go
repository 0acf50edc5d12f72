package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"kirakira/backend/internal/auth"
	"kirakira/backend/internal/config"
	"kirakira/backend/internal/gemini"
	"kirakira/backend/internal/storage"
	"kirakira/backend/internal/store"
)

type chatStreamer interface {
	StreamReply(ctx context.Context, req gemini.ChatRequest, onDelta func(string) error) error
	GenerateImagePrompt(ctx context.Context, character gemini.Character, history []gemini.HistoryMessage) (string, error)
}

type imageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

type Handler struct {
	cfg      config.Config
	store    store.Store
	tokens   auth.Tokens
	google   *auth.GoogleOAuth
	streamer chatStreamer
	images   imageGenerator
	objects  storage.ObjectStore
	logger   *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewHandler(
	cfg config.Config,
	st store.Store,
	tokens auth.Tokens,
	google *auth.GoogleOAuth,
	streamer chatStreamer,
	images imageGenerator,
	objects storage.ObjectStore,
	logger *zap.Logger,
) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Handler{
		cfg:      cfg,
		store:    st,
		tokens:   tokens,
		google:   google,
		streamer: streamer,
		images:   images,
		objects:  objects,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

type contextKey string

const identityContextKey contextKey = "identity"

func (h Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func withIdentity(ctx context.Context, identity auth.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

func identityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(auth.Identity)
	return identity, ok && identity.UserID != ""
}

func (h Handler) setAuthCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.AuthCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
		MaxAge:   int(h.tokens.TTL().Seconds()),
	})
}

func (h Handler) clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.AuthCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func readCookie(r *http.Request, name string) (string, bool) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	return value, value != ""
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
