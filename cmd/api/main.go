package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	"roomqueue/internal/api"
	"roomqueue/internal/config"
	"roomqueue/internal/database"
	"roomqueue/internal/events"
	"roomqueue/internal/logging"
	"roomqueue/internal/metrics"
	"roomqueue/internal/models"
	"roomqueue/internal/queue"
	"roomqueue/internal/remote"
	"roomqueue/internal/repository"
	syncengine "roomqueue/internal/sync"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	rooms, err := loadRooms(cfg, &logger)
	if err != nil {
		return err
	}

	store, cleanup, err := initStore(cfg, &logger)
	if err != nil {
		return err
	}
	defer cleanup()

	bus := events.NewBus(&logger)
	engine := queue.New(store, bus, syncengine.RetryPolicy{
		MaxAttempts:   cfg.Queue.MaxAttempts,
		InitialDelay:  cfg.Queue.InitialRetryDelay(),
		MaxDelay:      cfg.Queue.MaxRetryDelay(),
		BackoffFactor: models.DefaultBackoffFactor,
	}, &logger)
	if len(rooms) > 0 {
		engine.SetRooms(rooms)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := initBackend(ctx, cfg, engine, &logger)

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, engine, backend, cfg.Exports.Path, &logger)
	return serve(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// loadRooms reads the optional rooms catalogue; ROOMS_PATH overrides the
// default location, and the rooms section of the main config wins over both.
func loadRooms(cfg *config.Config, logger *zerolog.Logger) ([]models.Room, error) {
	if len(cfg.Rooms) > 0 {
		return cfg.Rooms, nil
	}

	roomsPath := os.Getenv("ROOMS_PATH")
	if roomsPath == "" {
		roomsPath = "configs/rooms.yaml"
	}
	roomsData, err := os.ReadFile(roomsPath)
	if os.IsNotExist(err) {
		logger.Info().Str("rooms_path", roomsPath).Msg("no rooms catalogue, accepting any room id")
		return nil, nil
	}
	if err != nil {
		logger.Error().Err(err).Str("rooms_path", roomsPath).Msg("read rooms")
		return nil, err
	}

	var roomsConfig struct {
		Rooms []models.Room `yaml:"rooms"`
	}
	if err := yaml.Unmarshal(roomsData, &roomsConfig); err != nil {
		logger.Error().Err(err).Str("rooms_path", roomsPath).Msg("parse rooms")
		return nil, err
	}
	if err := config.ValidateRooms(roomsConfig.Rooms); err != nil {
		return nil, err
	}

	return roomsConfig.Rooms, nil
}

// initStore picks SQLite when a database path is configured, otherwise a
// redis store with an in-memory fallback.
func initStore(cfg *config.Config, logger *zerolog.Logger) (repository.Store, func(), error) {
	if cfg.Database.Path != "" {
		db, err := database.NewDB(cfg.Database.Path, logger)
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Error().Err(err).Str("addr", cfg.Redis.Address).Msg("redis connection failed")
		return nil, nil, err
	}
	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")

	store := repository.NewFailoverStore(
		repository.NewRedisStore(redisClient),
		repository.NewMemoryStore(),
		logger,
	)
	return store, func() { _ = redisClient.Close() }, nil
}

// initBackend builds the remote booking client and starts the connectivity
// watcher. Returns nil when no backend is configured; the engine then only
// queues and the sync endpoint reports unavailable.
func initBackend(ctx context.Context, cfg *config.Config, engine *queue.Engine, logger *zerolog.Logger) *api.Backend {
	if cfg.Remote.BaseURL == "" {
		logger.Warn().Msg("no remote backend configured, queue will not sync")
		return nil
	}

	client := remote.NewClient(cfg.Remote, logger)

	trigger := func(ctx context.Context) {
		results, err := engine.SyncQueue(ctx, client.Submit, client.CheckConflict)
		if err != nil {
			logger.Error().Err(err).Msg("sync cycle failed")
			return
		}
		if len(results) > 0 {
			logger.Info().Int("processed", len(results)).Msg("sync cycle completed")
		}
	}

	watcher := syncengine.NewWatcher(client.Health, trigger,
		cfg.Queue.PollInterval(), cfg.Queue.SyncInterval(), logger)
	go watcher.Run(ctx)

	return &api.Backend{Submit: client.Submit, CheckConflict: client.CheckConflict}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if !cfg.API.Enabled {
			logger.Warn().Msg("API is disabled in config, running headless")
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.Port).Msg("queue engine started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info().Msg("queue engine stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
