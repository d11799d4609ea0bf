package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	app "github.com/runhawk/engine"
	"github.com/runhawk/engine/internal/aiclient"
	"github.com/runhawk/engine/internal/archive"
	"github.com/runhawk/engine/internal/bus"
	"github.com/runhawk/engine/internal/config"
	"github.com/runhawk/engine/internal/engine"
	"github.com/runhawk/engine/internal/secrets"
	"github.com/runhawk/engine/internal/server"
	"github.com/runhawk/engine/internal/sqlclient"
	"github.com/runhawk/engine/internal/store"
	"github.com/runhawk/engine/pkg/log"
)

type runhawk struct {
	cfg        *config.Config
	rdb        *redis.Client
	store      store.Store
	bus        *bus.Bus
	sqlRunner  *sqlclient.PgxRunner
	engine     *engine.Engine
	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

var (
	ErrConnectRedis    = errors.New("failed to connect to redis")
	ErrConnectDatabase = errors.New("failed to connect to database")
	ErrOpenArchive     = errors.New("failed to open archive bucket")
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &runhawk{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *runhawk) run() error {
	if err := s.initializeStore(); err != nil {
		return err
	}

	if err := s.initializeEngine(); err != nil {
		return err
	}
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *runhawk) setupLogging() {
	level, ok := logLevels[s.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Runhawk engine starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("redis_addr", s.cfg.RedisAddr),
		slog.Int("redis_db", s.cfg.RedisDB),
		slog.String("redis_prefix", s.cfg.RedisPrefix),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort),
		slog.Bool("database", s.cfg.DatabaseURL != ""),
		slog.Bool("ai_backend", s.cfg.AIEndpoint != ""),
		slog.Bool("archive", s.cfg.ArchiveBucket != ""))
}

func (s *runhawk) initializeStore() error {
	s.rdb = redis.NewClient(&redis.Options{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPassword,
		DB:       s.cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectRedis, err)
	}

	s.store = store.NewRedisStore(s.rdb, s.cfg.RedisPrefix)
	s.bus = bus.New()
	return nil
}

func (s *runhawk) initializeEngine() error {
	deps := engine.Dependencies{
		Store:   s.store,
		Bus:     s.bus,
		Secrets: secrets.NewEnvResolver(""),
		HTTP:    &http.Client{Timeout: s.cfg.HTTPClientTimeout},
	}

	ctx := context.Background()
	if s.cfg.DatabaseURL != "" {
		runner, err := sqlclient.NewPgxRunner(ctx, s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConnectDatabase, err)
		}
		s.sqlRunner = runner
		deps.SQL = runner
	}

	if s.cfg.AIEndpoint != "" {
		deps.AI = aiclient.NewHTTPClient(
			s.cfg.AIEndpoint, s.cfg.AIAPIKey, s.cfg.HTTPClientTimeout,
		)
	}

	if s.cfg.ArchiveBucket != "" {
		archiver, err := archive.New(ctx, s.cfg.ArchiveBucket)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrOpenArchive, err)
		}
		deps.Archiver = archiver
	}

	s.engine = engine.New(s.cfg, deps)
	s.engine.Start()
	return nil
}

func (s *runhawk) startServer() {
	s.apiServer = server.NewServer(s.engine, s.store, s.bus)
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *runhawk) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.apiServer.CloseWebSockets()

	if err := s.engine.Stop(); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}

	if s.sqlRunner != nil {
		s.sqlRunner.Close()
	}
	_ = s.rdb.Close()

	slog.Info("Server exited")
}
