package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"custodia/config"
	"custodia/core/state"
	"custodia/gateway/auth"
	"custodia/gateway/middleware"
	"custodia/native/crowdfund"
	"custodia/native/escrow"
	"custodia/native/p2p"
	"custodia/observability"
	"custodia/observability/logging"
	otelinit "custodia/observability/otel"
	"custodia/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "./config.toml", "path to the gateway configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.OTLPEndpoint != "" {
		shutdownTelemetry, err := otelinit.Init(ctx, otelinit.Config{
			ServiceName: cfg.Observability.ServiceName,
			Environment: cfg.Environment,
			Endpoint:    cfg.Observability.OTLPEndpoint,
			Insecure:    cfg.Observability.OTLPInsecure,
			Headers:     otelinit.ParseHeaders(cfg.Observability.OTLPHeaders),
			Metrics:     cfg.Observability.Metrics,
			Traces:      cfg.Observability.Traces,
		})
		if err != nil {
			logger.Error("telemetry init failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("open state db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	manager, err := state.NewManager(db)
	if err != nil {
		logger.Error("state manager init failed", "error", err)
		os.Exit(1)
	}

	sqlStore, err := NewSQLiteStore(filepath.Join(cfg.DataDir, "gateway.db"))
	if err != nil {
		logger.Error("open gateway store", "error", err)
		os.Exit(1)
	}
	defer sqlStore.Close()

	queue := NewWebhookQueue(cfg.Webhooks.QueueSize, 0)
	emitter := observability.CountingEmitter{Next: NewQueueEmitter(queue)}

	escrowEngine := escrow.NewEngine()
	escrowEngine.SetState(manager)
	escrowEngine.SetEmitter(emitter)

	poolEngine := crowdfund.NewEngine()
	poolEngine.SetState(manager)
	poolEngine.SetEmitter(emitter)

	transferEngine := p2p.NewEngine()
	transferEngine.SetState(manager)
	transferEngine.SetEmitter(emitter)

	var authenticator *auth.Authenticator
	if cfg.Auth.Enabled {
		persistence, err := auth.NewLevelDBNoncePersistence(cfg.Auth.NonceStorePath)
		if err != nil {
			logger.Error("open nonce store", "error", err)
			os.Exit(1)
		}
		defer persistence.Close()

		authenticator = auth.NewAuthenticator(
			cfg.Auth.APIKeys,
			cfg.Auth.TimestampSkew(),
			cfg.Auth.ReplayWindow(),
			cfg.Auth.ReplayCapacity,
			nil,
			persistence,
		)
		cutoff := time.Now().Add(-cfg.Auth.ReplayWindow())
		if err := authenticator.HydrateNonces(ctx, cutoff); err != nil {
			logger.Warn("nonce hydration failed", "error", err)
		}
	}

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, limit := range cfg.RateLimits {
		limits[limit.Group] = middleware.RateLimit{
			RequestsPerMinute: limit.RequestsPerMinute,
			Burst:             limit.Burst,
		}
	}

	server := NewServer(ServerConfig{
		Escrow:        escrowEngine,
		Pools:         poolEngine,
		Transfers:     transferEngine,
		Store:         sqlStore,
		Authenticator: authenticator,
		Limiter:       middleware.NewRateLimiter(limits),
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   cfg.CORS.AllowedMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
		},
		ServiceName: cfg.Observability.ServiceName,
		Logger:      logger,
	})

	dispatcher := NewWebhookDispatcher(queue, sqlStore, logger, DispatcherConfig{
		Endpoints:   cfg.Webhooks.Endpoints,
		Secret:      cfg.Webhooks.Secret,
		Timeout:     time.Duration(cfg.Webhooks.TimeoutSeconds) * time.Second,
		MaxAttempts: cfg.Webhooks.MaxAttempts,
	})
	dispatcher.Start(ctx, cfg.Webhooks.Workers)
	defer dispatcher.Stop()

	handler := otelhttp.NewHandler(server.Router(), cfg.Observability.ServiceName)
	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("custody gateway listening", "address", cfg.ListenAddress, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down custody gateway")
	case err := <-errCh:
		logger.Error("listen failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
}

func setupLogging(cfg *config.Config) *slog.Logger {
	if cfg.Observability.LogFile == "" {
		return logging.Setup(cfg.Observability.ServiceName, cfg.Environment)
	}
	return logging.SetupWithWriter(&lumberjack.Logger{
		Filename:   cfg.Observability.LogFile,
		MaxSize:    100, // MiB per file
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}, cfg.Observability.ServiceName, cfg.Environment)
}
