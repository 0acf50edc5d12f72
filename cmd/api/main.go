package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"kirakira/backend/internal/auth"
	"kirakira/backend/internal/config"
	"kirakira/backend/internal/db"
	"kirakira/backend/internal/gemini"
	"kirakira/backend/internal/httpapi"
	"kirakira/backend/internal/imagegen"
	"kirakira/backend/internal/logging"
	"kirakira/backend/internal/scheduler"
	"kirakira/backend/internal/storage"
	"kirakira/backend/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, driver, err := db.Open(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Named("db")); err != nil {
		return err
	}
	st := store.NewStore(sqlx.NewDb(database, driver))

	objects, err := storage.New(ctx, cfg)
	if err != nil {
		return err
	}

	chatClient, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, logger.Named("gemini"))
	if err != nil {
		return err
	}
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY is not set; chat and image prompts are disabled")
	}

	var primary imagegen.Provider
	if cfg.HuggingFaceToken != "" {
		spaced := imagegen.WithMinInterval(imagegen.NewHuggingFace(cfg, nil), cfg.HuggingFaceSpacing)
		primary = imagegen.WithCircuitBreaker(spaced, logger.Named("imagegen"))
	}
	images := imagegen.NewGenerator(primary, imagegen.NewPollinations(cfg, nil), logger.Named("imagegen"))

	google := auth.NewGoogleOAuth(cfg)
	if google == nil {
		logger.Info("google sign-in disabled")
	}

	if cfg.CleanupCron != "" {
		jobs, err := scheduler.Start(cfg.CleanupCron, func(ctx context.Context) (int64, error) {
			return st.DeleteConversationsCreatedBefore(ctx, time.Now().Add(-httpapi.ConversationTTL))
		}, logger.Named("scheduler"))
		if err != nil {
			return err
		}
		defer func() {
			if err := jobs.Stop(); err != nil {
				logger.Warn("stop scheduler", zap.Error(err))
			}
		}()
	}

	handler := httpapi.NewHandler(cfg, st, auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL), google, chatClient, images, objects, logger.Named("httpapi"))

	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           httpapi.NewRouter(handler),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api listening",
			zap.String("addr", cfg.ListenAddress()),
			zap.String("db_driver", driver),
			zap.String("storage", objects.Backend()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
