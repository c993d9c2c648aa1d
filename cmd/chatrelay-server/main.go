// Package main provides the chatrelay server executable: REST API, broadcasting auth and
// the WebSocket relay endpoint.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/handlers"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/adapters/memory"
	"github.com/coregx/chatrelay/adapters/redis"
	"github.com/coregx/chatrelay/adapters/relica"
	"github.com/coregx/chatrelay/adapters/websocket"
	"github.com/coregx/chatrelay/cmd/chatrelay-server/internal/api"
	"github.com/coregx/chatrelay/cmd/chatrelay-server/internal/config"
	"github.com/coregx/chatrelay/cmd/chatrelay-server/internal/telemetry"
	"github.com/coregx/chatrelay/identity"
	"github.com/coregx/chatrelay/model"
	"github.com/coregx/chatrelay/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := chatrelay.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Errorf("Server failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger chatrelay.Logger) error {
	logger.Infof("🚀 Starting chatrelay server v%s...", api.Version)
	logger.Infof("📝 Configuration loaded: server=%s, database=%s, redis=%t",
		cfg.Server.Addr(), cfg.Database.Driver, cfg.Redis.Addr != "")

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warnf("Failed to flush traces: %v", err)
		}
	}()

	repo, closeDB, err := openRepository(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	store, err := chatrelay.NewMessageStore(
		chatrelay.WithMessageRepository(repo),
		chatrelay.WithMessageStoreLogger(logger),
		chatrelay.WithMaxBodyLength(cfg.Relay.MaxBodyLength),
	)
	if err != nil {
		return err
	}

	authorizer, err := chatrelay.NewChannelAuthorizer(
		chatrelay.WithSigningKey(cfg.Relay.AppKey, cfg.Relay.AppSecret),
		chatrelay.WithGrantTTL(cfg.Relay.GrantTTL),
	)
	if err != nil {
		return err
	}

	// Hub stats are read lazily by the metrics collectors, after hub is assigned.
	var hub *chatrelay.Hub
	metrics := telemetry.NewMetrics(func() chatrelay.HubStats { return hub.Stats() })

	notifications := chatrelay.MultiNotificationService{
		chatrelay.NewLoggingNotificationService(logger),
		metrics,
	}

	hub, err = chatrelay.NewHub(
		chatrelay.WithHubVerifier(authorizer),
		chatrelay.WithHubLogger(logger),
		chatrelay.WithBufferSize(cfg.Relay.BufferSize),
		chatrelay.WithHubNotifications(notifications),
	)
	if err != nil {
		return err
	}
	defer hub.Close()
	logger.Info("✅ Relay hub created")

	var relay chatrelay.Relay = hub
	if cfg.Redis.Addr != "" {
		backplane, closeRedis, err := openBackplane(cfg.Redis, hub, logger)
		if err != nil {
			return err
		}
		defer closeRedis()
		go runBackplane(ctx, backplane, logger)
		relay = backplane
	}

	sender, err := chatrelay.NewSender(
		chatrelay.WithSenderStore(store),
		chatrelay.WithSenderRelay(relay),
		chatrelay.WithSenderLogger(logger),
		chatrelay.WithSenderNotifications(notifications),
		chatrelay.WithPublishTimeout(cfg.Relay.PublishTimeout),
	)
	if err != nil {
		return err
	}

	gate, err := identity.NewJWTGate(
		identity.WithSecret(cfg.Identity.JWTSecret),
		identity.WithTokenTTL(cfg.Identity.TokenTTL),
	)
	if err != nil {
		return err
	}
	directory := identity.NewDirectory(cfg.Identity.BcryptCost)
	if err := directory.Seed(cfg.Identity.Users); err != nil {
		return err
	}
	logger.Info("✅ Identity gate ready")

	handler, err := api.NewHandler(api.Services{
		Sender:        sender,
		Store:         store,
		Authorizer:    authorizer,
		Tokens:        gate,
		Accounts:      directory,
		Stats:         hub,
		OnMessageSent: func(model.Message) { metrics.MessageSent() },
	}, logger)
	if err != nil {
		return err
	}

	wsHandler, err := websocket.NewHandler(
		websocket.WithHub(hub),
		websocket.WithLogger(logger),
		websocket.WithAppKey(cfg.Relay.AppKey),
		websocket.WithKeepalive(cfg.Relay.PingPeriod, cfg.Relay.PongWait),
		websocket.WithCheckOrigin(originChecker(cfg.Server.AllowedOrigins)),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	handler.Routes(mux)
	mux.Handle("GET /app/{key}", wsHandler)
	mux.Handle("GET /ws", wsHandler)
	if cfg.Telemetry.Metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           middleware(mux, cfg, logger),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("🌐 HTTP server listening on %s", server.Addr)
		logger.Info("📡 Endpoints: POST /message/send, GET /messages/{user}, POST /auth/login, " +
			"GET /auth/me, POST /auth/logout, POST /broadcasting/auth, GET /app/{key}, GET /ws, GET /api/v1/health")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown; closing the hub ends them.
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Server forced to shutdown: %v", err)
	}

	logger.Info("✅ Server stopped gracefully")
	return nil
}

// openRepository returns the message repository selected by cfg.Driver.
func openRepository(ctx context.Context, cfg config.DatabaseConfig, logger chatrelay.Logger) (chatrelay.MessageRepository, func(), error) {
	if cfg.Driver == "memory" {
		logger.Warnf("⚠️ Using in-memory message store; history is lost on restart")
		return memory.NewMessageRepository(), func() {}, nil
	}

	db, err := sql.Open(cfg.Driver, cfg.GetDSN())
	if err != nil {
		return nil, nil, chatrelay.NewErrorWithCause(chatrelay.ErrCodeDatabase, "failed to open database", err)
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Warnf("Failed to close database: %v", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		closeDB()
		return nil, nil, chatrelay.NewErrorWithCause(chatrelay.ErrCodeDatabase, "failed to connect to database", err)
	}
	logger.Info("✅ Database connection established")

	if cfg.Migrate {
		if cfg.Prefix != relica.DefaultTablePrefix {
			logger.Warnf("⚠️ Embedded migrations create %smessage; table prefix %q must be migrated manually",
				relica.DefaultTablePrefix, cfg.Prefix)
		}
		if err := chatrelay.ApplyMigrations(ctx, db, cfg.Driver); err != nil {
			closeDB()
			return nil, nil, err
		}
		logger.Info("✅ Migrations applied")
	}

	repos := relica.NewRepositoriesWithPrefix(db, cfg.Driver, cfg.Prefix)
	return repos.Message, closeDB, nil
}

func openBackplane(cfg config.RedisConfig, hub *chatrelay.Hub, logger chatrelay.Logger) (*redis.Backplane, func(), error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	closeRedis := func() {
		if err := client.Close(); err != nil {
			logger.Warnf("Failed to close redis client: %v", err)
		}
	}

	backplane, err := redis.NewBackplane(
		redis.WithClient(client),
		redis.WithLocalRelay(hub),
		redis.WithChannelPrefix(cfg.Prefix),
		redis.WithLogger(logger),
	)
	if err != nil {
		closeRedis()
		return nil, nil, err
	}
	logger.Infof("✅ Redis backplane configured (%s)", cfg.Addr)
	return backplane, closeRedis, nil
}

// runBackplane keeps the Redis subscription alive until ctx is done.
func runBackplane(ctx context.Context, backplane *redis.Backplane, logger chatrelay.Logger) {
	backoff := retry.NewBackoff(retry.DefaultStrategy())
	for {
		started := time.Now()
		err := backplane.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > retry.DefaultStrategy().MaxDelay {
			backoff.Reset()
		}
		logger.Errorf("🔄 Redis backplane stopped (attempt %d): %v", backoff.Attempts()+1, err)
		if err := backoff.Wait(ctx); err != nil {
			return
		}
	}
}

func middleware(mux http.Handler, cfg *config.Config, logger chatrelay.Logger) http.Handler {
	var h http.Handler = loggingMiddleware(mux, logger)
	h = handlers.CORS(
		handlers.AllowedOrigins(cfg.Server.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-Socket-Id"}),
	)(h)
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h)
	return otelhttp.NewHandler(h, "http.server")
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(next http.Handler, logger chatrelay.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger.Infof("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
		logger.Debugf("%s %s - %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// originChecker accepts WebSocket upgrades from the configured origins. "*" accepts all.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
