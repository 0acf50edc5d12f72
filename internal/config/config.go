package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort                = "8003"
	defaultFrontendURL         = "http://localhost:3003"
	defaultAuthCookieName      = "token"
	defaultTokenTTLHours       = 168
	defaultDevJWTSecret        = "kirakira-dev-secret"
	defaultDatabaseURL         = "file:kirakira.db"
	defaultGoogleCallbackURL   = "http://localhost:8003/api/auth/google/callback"
	defaultHuggingFaceModel    = "black-forest-labs/FLUX.1-dev"
	defaultHuggingFaceBaseURL  = "https://router.huggingface.co/hf-inference"
	defaultPollinationsBaseURL = "https://image.pollinations.ai"
	defaultHuggingFaceSpacing  = 1000
	defaultUploadDir           = "./uploads"
	defaultGCSUploadPrefix     = "kirakira-uploads"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultMaxBodyBytes        = 50 << 20
)

type Config struct {
	Port                string
	Environment         string
	FrontendURL         string
	AllowedOrigins      []string
	CookieSecure        bool
	AuthCookieName      string
	JWTSecret           string
	TokenTTL            time.Duration
	DatabaseURL         string
	DatabaseAuthToken   string
	GeminiAPIKey        string
	GoogleClientID      string
	GoogleClientSecret  string
	GoogleCallbackURL   string
	HuggingFaceToken    string
	HuggingFaceModel    string
	HuggingFaceBaseURL  string
	HuggingFaceSpacing  time.Duration
	PollinationsBaseURL string
	UploadDir           string
	GCSBucket           string
	GCSUploadPrefix     string
	CleanupCron         string
	LogLevel            string
	LogFormat           string
	MaxBodyBytes        int64
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) GoogleOAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func (c Config) UsesGCS() bool {
	return c.GCSBucket != ""
}

func Load() (Config, error) {
	cfg := Config{
		Port:                envOrDefault("PORT", defaultPort),
		Environment:         envOrDefault("APP_ENV", "development"),
		FrontendURL:         strings.TrimRight(envOrDefault("FRONTEND_URL", defaultFrontendURL), "/"),
		CookieSecure:        boolOrDefault("COOKIE_SECURE", false),
		AuthCookieName:      envOrDefault("AUTH_COOKIE_NAME", defaultAuthCookieName),
		JWTSecret:           envOrDefault("JWT_SECRET", strings.TrimSpace(os.Getenv("NEXTAUTH_SECRET"))),
		DatabaseURL:         envOrDefault("DATABASE_URL", defaultDatabaseURL),
		DatabaseAuthToken:   strings.TrimSpace(os.Getenv("DATABASE_AUTH_TOKEN")),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GoogleClientID:      strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		GoogleClientSecret:  strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_SECRET")),
		GoogleCallbackURL:   envOrDefault("GOOGLE_CALLBACK_URL", defaultGoogleCallbackURL),
		HuggingFaceToken:    strings.TrimSpace(os.Getenv("HUGGING_FACE_TOKEN")),
		HuggingFaceModel:    envOrDefault("HUGGING_FACE_MODEL", defaultHuggingFaceModel),
		HuggingFaceBaseURL:  strings.TrimRight(envOrDefault("HUGGING_FACE_BASE_URL", defaultHuggingFaceBaseURL), "/"),
		PollinationsBaseURL: strings.TrimRight(envOrDefault("POLLINATIONS_BASE_URL", defaultPollinationsBaseURL), "/"),
		UploadDir:           envOrDefault("UPLOAD_DIR", defaultUploadDir),
		GCSBucket:           strings.TrimSpace(os.Getenv("GCS_BUCKET")),
		GCSUploadPrefix:     strings.Trim(envOrDefault("GCS_UPLOAD_PREFIX", defaultGCSUploadPrefix), "/"),
		CleanupCron:         strings.TrimSpace(os.Getenv("CLEANUP_CRON")),
		LogLevel:            envOrDefault("LOG_LEVEL", defaultLogLevel),
		LogFormat:           envOrDefault("LOG_FORMAT", defaultLogFormat),
		MaxBodyBytes:        int64(intOrDefault("MAX_BODY_BYTES", defaultMaxBodyBytes)),
	}

	if cfg.Environment == "production" {
		cfg.CookieSecure = true
	}

	cfg.HuggingFaceSpacing = time.Duration(intOrDefault("HUGGING_FACE_MIN_INTERVAL_MS", defaultHuggingFaceSpacing)) * time.Millisecond

	tokenTTLHours := intOrDefault("TOKEN_TTL_HOURS", defaultTokenTTLHours)
	cfg.TokenTTL = time.Duration(tokenTTLHours) * time.Hour
	if cfg.TokenTTL <= 0 {
		return Config{}, errors.New("TOKEN_TTL_HOURS must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, errors.New("MAX_BODY_BYTES must be > 0")
	}

	if cfg.JWTSecret == "" {
		if cfg.Environment == "production" {
			return Config{}, errors.New("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = defaultDevJWTSecret
	}

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", cfg.FrontendURL))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if isRemoteDatabaseURL(cfg.DatabaseURL) && cfg.DatabaseAuthToken == "" {
		return Config{}, errors.New("DATABASE_AUTH_TOKEN is required for libsql:// URLs")
	}
	if (cfg.GoogleClientID == "") != (cfg.GoogleClientSecret == "") {
		return Config{}, errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together")
	}

	return cfg, nil
}

func isRemoteDatabaseURL(raw string) bool {
	return strings.HasPrefix(raw, "libsql://")
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func boolOrDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimRight(strings.TrimSpace(item), "/")
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
