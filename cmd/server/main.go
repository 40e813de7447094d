package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/satriahrh/turnloop/internal/api"
	"github.com/satriahrh/turnloop/internal/config"
	"github.com/satriahrh/turnloop/internal/observe"
	"github.com/satriahrh/turnloop/internal/websocket"
	"github.com/satriahrh/turnloop/usecase"
)

var version = "dev"

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zap.NewExample().Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize logger
	logger, err := newLogger(cfg.Server)
	if err != nil {
		zap.NewExample().Fatal("Failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "turnloop",
		ServiceVersion: version,
	})
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	metrics := observe.DefaultMetrics()

	// Initialize adapters
	providers, err := newProviders(ctx, cfg.Providers, logger)
	if err != nil {
		logger.Fatal("Failed to initialize providers", zap.Error(err))
	}

	// Initialize usecase services
	conversation := usecase.NewConversationService(providers, usecase.ConversationConfig{
		TranscriptionTimeout: cfg.Timeouts.Transcription,
		GenerationTimeout:    cfg.Timeouts.Generation,
		SynthesisTimeout:     cfg.Timeouts.Synthesis,
		MaxFailures:          cfg.Resilience.MaxFailures,
		ResetTimeout:         cfg.Resilience.ResetTimeout,
	}, metrics, logger)

	dialogue := usecase.NewDialogueManager(conversation, usecase.DialogueConfig{
		SystemPrompt:     cfg.Dialogue.SystemPrompt,
		Truncation:       cfg.Dialogue.Truncation,
		MaxContextTokens: cfg.Dialogue.MaxContextTokens,
	}, logger)

	controllers := &usecase.SessionControllerFactory{
		Conversation: conversation,
		Dialogue:     dialogue,
		Config: usecase.SessionControllerConfig{
			DefaultChunkDuration: cfg.Session.DefaultChunkDuration,
			MaxTurnDuration:      cfg.Session.MaxTurnDuration,
		},
		Metrics: metrics,
		Logger:  logger,
	}

	// Initialize WebSocket hub and the idle session reaper
	hub := websocket.NewHub(controllers, cfg.Session, metrics, logger)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	cleanup := websocket.NewSessionCleanupService(hub, cfg.Session.IdleTimeout, logger)
	cleanup.Start()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, hub, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(cfg.Server.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("addr", cfg.Server.ListenAddr),
		zap.String("stt", cfg.Providers.STT.Name),
		zap.String("llm", cfg.Providers.LLM.Name),
		zap.String("tts", cfg.Providers.TTS.Name),
		zap.Bool("synthesisAvailable", conversation.SynthesisAvailable()))

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cleanup.Stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
	}

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("Failed to flush telemetry", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(cfg config.ServerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
