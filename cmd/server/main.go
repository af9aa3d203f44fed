package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/kart-party/internal/config"
	"github.com/DoyleJ11/kart-party/internal/directory"
	"github.com/DoyleJ11/kart-party/internal/httpapi"
	"github.com/DoyleJ11/kart-party/internal/hub"
	"github.com/DoyleJ11/kart-party/internal/logx"
	"github.com/DoyleJ11/kart-party/internal/results"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	log, err := logx.New(cfg.Log.Level, cfg.Log.Dev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var broker *redis.Client
	if cfg.RedisAddr != "" {
		broker = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	store, err := openStore(cfg, broker)
	if err != nil {
		return err
	}
	// RedisStore closes the shared client.
	defer func() { err = multierr.Append(err, store.Close()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir := directory.NewService(store, cfg.CodeTTL, log)
	h := hub.NewHub(ctx, log)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(httpapi.Options{
			Directory:      dir,
			Hub:            h,
			AllowedOrigins: cfg.CORSOrigins,
			Logger:         log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return dir.RunCleanup(ctx, cfg.CleanupInterval)
	})
	if broker != nil {
		g.Go(func() error {
			return results.Forward(ctx, broker, cfg.ResultsChannel, results.NewLogPublisher(log), log)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Websocket handlers are hijacked, so the hub must drop them itself.
		_ = h.Send(sctx, hub.ShutdownHub{})
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func openStore(cfg config.Server, broker *redis.Client) (directory.Store, error) {
	var store directory.Store
	switch cfg.Store {
	case config.StorePostgres:
		pg, err := directory.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		store = pg
	case config.StoreRedis:
		return directory.NewRedisStore(broker), nil
	default:
		store = directory.NewMemoryStore()
	}
	if broker != nil {
		return brokerStore{Store: store, broker: broker}, nil
	}
	return store, nil
}

// brokerStore closes the results broker along with a store that does not own it.
type brokerStore struct {
	directory.Store
	broker *redis.Client
}

func (s brokerStore) Close() error {
	return multierr.Append(s.Store.Close(), s.broker.Close())
}
