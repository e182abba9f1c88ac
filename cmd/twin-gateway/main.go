package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/tjfontaine/twin-gateway/internal/api/controlplane"
	"github.com/tjfontaine/twin-gateway/internal/api/dify"
	"github.com/tjfontaine/twin-gateway/internal/audit"
	"github.com/tjfontaine/twin-gateway/internal/config"
	"github.com/tjfontaine/twin-gateway/internal/domain"
	"github.com/tjfontaine/twin-gateway/internal/events"
	"github.com/tjfontaine/twin-gateway/internal/executor"
	"github.com/tjfontaine/twin-gateway/internal/frontdoor/chat"
	"github.com/tjfontaine/twin-gateway/internal/orchestrator"
	"github.com/tjfontaine/twin-gateway/internal/pkg/transport"
	"github.com/tjfontaine/twin-gateway/internal/server"
	"github.com/tjfontaine/twin-gateway/internal/signing"
	"github.com/tjfontaine/twin-gateway/internal/storage"
	"github.com/tjfontaine/twin-gateway/internal/storage/memory"
	"github.com/tjfontaine/twin-gateway/internal/storage/sqldb"
	"github.com/tjfontaine/twin-gateway/internal/telemetry"
	"github.com/tjfontaine/twin-gateway/internal/tokens"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Dify.UsingDevAPIKey() {
		logger.Warn("dify.api_key not set, using the development key")
	}

	tracing, err := telemetry.InitTracer(telemetry.Settings{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	store, err := openStore(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open audit storage: %v", err)
	}
	var auditLog domain.AuditLogger = audit.Nop{}
	if store != nil {
		defer store.Close()
		auditLog = audit.NewRecorder(store,
			audit.WithLogger(logger),
			audit.WithTokenCounter(tokens.NewTiktokenCounter("")),
		)
	}
	logger.Info("audit storage ready", slog.String("type", cfg.Storage.Type))

	hub := events.NewHub(logger)
	defer hub.Close()

	exec := executor.New(cfg.Executor.URL,
		executor.WithHTTPClient(transport.NewClient(transport.Timeouts{
			Connect: cfg.Executor.ConnectTimeout,
			Read:    cfg.Executor.ReadTimeout,
		})),
		executor.WithLogger(logger),
		executor.WithNotifier(hub),
	)

	var signerOpts []signing.Option
	if cfg.Dify.HMAC.Enabled {
		signerOpts = append(signerOpts, signing.WithHMAC(cfg.Dify.HMAC.SecretKey))
	}
	signer := signing.New(cfg.Dify.APIKey, cfg.Dify.ServiceName, signerOpts...)
	chatClient := dify.NewClient(cfg.Dify.ChatMessagesURL(), signer,
		dify.WithHTTPClient(transport.NewClient(transport.Timeouts{
			Connect: cfg.Dify.ConnectTimeout,
			Read:    cfg.Dify.ReadTimeout,
		})),
		dify.WithResponseMode(cfg.Dify.ResponseMode),
		dify.WithLogger(logger),
	)

	orch := orchestrator.New(chatClient, exec, auditLog,
		orchestrator.WithConfig(orchestrator.Config{
			LocalFallbackEnabled: cfg.Dify.Fallback.Enabled,
			AutoRetryOnFailure:   cfg.Dify.Fallback.AutoRetryOnFailure,
		}),
		orchestrator.WithLogger(logger),
		orchestrator.WithTracerProvider(tracing.Provider),
	)

	handler := chat.NewHandler(orch, exec, auditLog,
		chat.WithLogger(logger),
		chat.WithNotifier(hub),
	)

	srv := server.New(cfg.Server.Port, logger,
		server.WithRequestTimeout(cfg.TurnTimeout()),
		server.WithServiceName(cfg.Telemetry.ServiceName),
	)
	srv.API(func(r chi.Router) {
		handler.Routes(r)
		r.Mount("/api/logs", controlplane.NewServer(store, controlplane.WithLogger(logger)))
	})
	srv.Router.Get("/ws", hub.ServeHTTP)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("twin gateway started",
		slog.Int("port", cfg.Server.Port),
		slog.String("chat_endpoint", cfg.Dify.ChatMessagesURL()),
		slog.String("executor", exec.Endpoint()),
		slog.String("response_mode", chatClient.ResponseMode()),
		slog.Bool("hmac_signing", signer.HMACEnabled()),
		slog.Duration("request_timeout", srv.RequestTimeout()),
	)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping gateway...")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
		}
	}

	hub.SendStatus(events.StatusShuttingDown)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("Gateway shutdown complete")
}

// openStore returns nil for storage type "none".
func openStore(cfg config.StorageConfig) (storage.AuditStore, error) {
	switch cfg.Type {
	case "sqlite":
		return sqldb.NewSQLite(cfg.SQLite.Path)
	case "memory":
		return memory.New(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
