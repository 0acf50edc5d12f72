package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t,
		"PORT", "APP_ENV", "FRONTEND_URL", "CORS_ALLOWED_ORIGINS", "JWT_SECRET", "NEXTAUTH_SECRET",
		"TOKEN_TTL_HOURS", "DATABASE_URL", "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET",
		"HUGGING_FACE_MODEL", "HUGGING_FACE_MIN_INTERVAL_MS", "UPLOAD_DIR", "GCS_BUCKET", "GCS_UPLOAD_PREFIX", "MAX_BODY_BYTES",
	)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.ListenAddress() != ":8003" {
		t.Fatalf("unexpected listen address: %s", cfg.ListenAddress())
	}
	if cfg.TokenTTL.Hours() != 168 {
		t.Fatalf("expected default 168h token ttl, got %v", cfg.TokenTTL)
	}
	if cfg.AuthCookieName != "token" {
		t.Fatalf("unexpected cookie name: %s", cfg.AuthCookieName)
	}
	if cfg.DatabaseURL != "file:kirakira.db" {
		t.Fatalf("unexpected database url: %s", cfg.DatabaseURL)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3003" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.HuggingFaceModel != "black-forest-labs/FLUX.1-dev" {
		t.Fatalf("unexpected huggingface model: %s", cfg.HuggingFaceModel)
	}
	if cfg.HuggingFaceSpacing != time.Second {
		t.Fatalf("unexpected huggingface spacing: %v", cfg.HuggingFaceSpacing)
	}
	if cfg.MaxBodyBytes != 50<<20 {
		t.Fatalf("unexpected max body bytes: %d", cfg.MaxBodyBytes)
	}
	if cfg.JWTSecret == "" {
		t.Fatal("expected development jwt secret fallback")
	}
	if cfg.GoogleOAuthEnabled() || cfg.UsesGCS() {
		t.Fatal("expected google oauth and gcs to be disabled by default")
	}
}

func TestLoadFallsBackToNextAuthSecret(t *testing.T) {
	clearEnv(t, "JWT_SECRET")
	t.Setenv("NEXTAUTH_SECRET", "legacy-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.JWTSecret != "legacy-secret" {
		t.Fatalf("expected NEXTAUTH_SECRET fallback, got %q", cfg.JWTSecret)
	}
}

func TestLoadRequiresSecretInProduction(t *testing.T) {
	clearEnv(t, "JWT_SECRET", "NEXTAUTH_SECRET")
	t.Setenv("APP_ENV", "production")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when JWT_SECRET is missing in production")
	}
}

func TestLoadProductionForcesSecureCookies(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("COOKIE_SECURE", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.CookieSecure {
		t.Fatal("expected secure cookies in production")
	}
}

func TestLoadRequiresAuthTokenForLibsql(t *testing.T) {
	t.Setenv("DATABASE_URL", "libsql://kirakira.example.turso.io")
	clearEnv(t, "DATABASE_AUTH_TOKEN")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_AUTH_TOKEN is missing")
	}
}

func TestLoadRequiresGoogleCredentialsTogether(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "client-id")
	clearEnv(t, "GOOGLE_CLIENT_SECRET")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when only GOOGLE_CLIENT_ID is set")
	}
}

func TestParseListTrimsTrailingSlashes(t *testing.T) {
	got := parseList(" https://kirakira.app/ , ,http://localhost:3003")
	if len(got) != 2 || got[0] != "https://kirakira.app" || got[1] != "http://localhost:3003" {
		t.Fatalf("unexpected list: %v", got)
	}
}

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
