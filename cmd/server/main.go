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
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/order-core/internal/config"
	"github.com/kiwari-pos/order-core/internal/database"
	"github.com/kiwari-pos/order-core/internal/feed"
	"github.com/kiwari-pos/order-core/internal/handler"
	"github.com/kiwari-pos/order-core/internal/kitchen"
	"github.com/kiwari-pos/order-core/internal/router"
	"github.com/kiwari-pos/order-core/internal/ws"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := database.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	queries := database.New(pool)
	hub := ws.NewHub(logger)
	board := kitchen.NewBoard(cfg.Kitchen)
	dispatcher := feed.NewDispatcher(board, hub, logger, feed.WithRowLoader(queries))
	sessions := handler.NewCartSessions()

	hydrate := func(ctx context.Context) error {
		return dispatcher.Hydrate(ctx, queries, time.Now().Add(-cfg.KDSRetention))
	}

	source, apply, cleanup, err := newFeed(ctx, cfg, pool, dispatcher, hydrate, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.New(cfg, router.Deps{
			Queries:    queries,
			Pool:       pool,
			Hub:        hub,
			Board:      board,
			Dispatcher: dispatcher,
			Sessions:   sessions,
			Logger:     logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return source.Run(gctx, apply)
	})

	g.Go(func() error {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				orders := board.Evict(now.Add(-cfg.KDSRetention))
				carts := sessions.Sweep(cfg.CartIdleTimeout)
				if orders > 0 || carts > 0 {
					logger.Info("evicted stale state", "kitchen_orders", orders, "carts", carts)
				}
			}
		}
	})

	g.Go(func() error {
		logger.Info("starting server", "port", cfg.Port, "feed", cfg.FeedSource)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newFeed builds the change-feed source and the handler it drives.
// The Postgres listener reloads the board on every (re)connect; the AMQP
// consumer loads it once up front.
func newFeed(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, d *feed.Dispatcher, hydrate func(context.Context) error, logger *slog.Logger) (feed.Source, feed.Handler, func(), error) {
	apply := feed.Handler(d.Handle)
	cleanup := func() {}

	switch cfg.FeedSource {
	case config.FeedSourceAMQP:
		if err := hydrate(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("load kitchen board: %w", err)
		}
		return feed.NewAMQPSource(cfg.RabbitMQURL, cfg.FeedQueue, logger), apply, cleanup, nil

	default:
		if cfg.FeedRelay {
			pub, err := feed.NewAMQPPublisher(cfg.RabbitMQURL, cfg.FeedQueue)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("feed relay: %w", err)
			}
			apply = feed.Relay(apply, pub, logger)
			cleanup = func() {
				if err := pub.Close(); err != nil {
					logger.Warn("close feed relay", "error", err)
				}
			}
		}
		return feed.NewPGListener(pool, cfg.FeedChannel, logger, feed.OnConnect(hydrate)), apply, cleanup, nil
	}
}
