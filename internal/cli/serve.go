package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/refset/supportqueue/internal/api"
	"github.com/refset/supportqueue/internal/config"
	"github.com/refset/supportqueue/internal/feed"
	"github.com/refset/supportqueue/internal/feed/redisstream"
	"github.com/refset/supportqueue/internal/kafka"
	"github.com/refset/supportqueue/internal/metrics"
	"github.com/refset/supportqueue/internal/queue"
	"github.com/refset/supportqueue/internal/store/memory"
	"github.com/refset/supportqueue/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the change feed relay",
	RunE:  runServe,
}

// backend is a store whose outbox the relay can read.
type backend interface {
	queue.Store
	feed.Source
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	store, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	rec := metrics.New()
	engine := queue.New(store,
		queue.WithLogger(logger),
		queue.WithMaxAttempts(cfg.Engine.MaxAttempts),
		queue.WithObserver(rec),
	)

	publisher, closePublisher, err := openPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	relayDone := make(chan error, 1)
	if publisher != nil {
		relay := feed.NewRelay(store, publisher, feed.Config{
			PollInterval: cfg.Feed.PollInterval,
			BatchSize:    cfg.Feed.BatchSize,
		}, logger, rec)
		go func() { relayDone <- relay.Run(ctx) }()
	} else {
		relayDone <- nil
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: api.NewServer(engine, logger, rec.Handler()).Router(),
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr, "store", cfg.Store.Driver, "sink", cfg.Feed.Sink)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			cancel()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	return <-relayDone
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (backend, func(), error) {
	switch cfg.Driver {
	case "postgres":
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if cfg.MigrateOnStart {
			if err := s.Migrate(ctx); err != nil {
				s.Close()
				return nil, nil, err
			}
			logger.Info("schema applied")
		}
		return s, s.Close, nil
	case "memory":
		logger.Warn("using in-memory store, state is lost on exit")
		return memory.New(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func openPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (feed.Publisher, func(), error) {
	switch cfg.Feed.Sink {
	case "kafka":
		p := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TicketsTopic, cfg.Kafka.TerminalsTopic, logger)
		return p, func() {
			if err := p.Close(); err != nil {
				logger.Error("close kafka producer", "err", err)
			}
		}, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return redisstream.New(rdb, cfg.Redis.Stream, cfg.Redis.MaxLen), func() { rdb.Close() }, nil
	}
	return nil, func() {}, nil
}
