package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cketlive/scoring/internal/app/matches"
	"github.com/cketlive/scoring/internal/app/pipeline"
	"github.com/cketlive/scoring/internal/app/roster"
	"github.com/cketlive/scoring/internal/app/scoringapi"
	"github.com/cketlive/scoring/internal/messaging"
	platformauth "github.com/cketlive/scoring/internal/platform/auth"
	"github.com/cketlive/scoring/internal/platform/dbpool"
	"github.com/cketlive/scoring/internal/platform/docstore"
	"github.com/cketlive/scoring/internal/platform/env"
	"github.com/cketlive/scoring/internal/platform/metrics"
	"github.com/cketlive/scoring/internal/platform/migrate"
	"github.com/cketlive/scoring/internal/platform/natsutil"
	platformotel "github.com/cketlive/scoring/internal/platform/otel"
)

func main() {
	cfg, err := env.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := newLogger(cfg.LogFormat, os.Stdout)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(runCtx, cfg, log); err != nil {
		log.Error("scoring-api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg env.Config, log *slog.Logger) error {
	shutdownTracing, err := platformotel.Setup(ctx, "scoring-api", cfg.OTELEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("trace flush failed", "error", err)
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	subjects := messaging.Subjects{Updates: cfg.UpdatesSubject, Score: cfg.ScoreSubject}
	client, err := natsutil.ConnectJetStreamWithRetry(ctx, cfg.NATSURL, subjects, cfg.NATSTimeout)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer client.Close()
	publisher := natsutil.JetStreamPublisher{JS: client.JS}

	cache := matches.NewCache(cfg.CacheStripes)
	metrics.Default.MustRegister(cache.SizeGauge())
	repo := matches.NewRepository(store, cache, log)
	pipe := pipeline.New(repo, publisher.Publish)
	pipe.Subjects = subjects
	pipe.Timeout = cfg.PipelineTimeout
	pipe.Log = log

	tokens := platformauth.NewManager(cfg.JWTSecret, cfg.JWTTTL)
	if cfg.JWTPublicKey != "" {
		if tokens, err = tokens.WithPublicKeyPEM([]byte(cfg.JWTPublicKey)); err != nil {
			return err
		}
	}

	rosterSvc := roster.NewService(roster.NewRepository(store), repo)
	handler := scoringapi.NewHandler(
		scoringapi.NewService(pipe, rosterSvc),
		tokens,
		log,
	)
	handler.ReadyTTL = cfg.ReadyTimeout
	handler.Ready["nats"] = client
	if p, ok := store.(docstore.Pinger); ok {
		handler.Ready["store"] = p
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.PipelineTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("scoring api listening", "addr", cfg.Addr, "store", cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		log.Info("scoring api stopped")
		return nil
	})
	return g.Wait()
}

// openStore connects the configured document backend and applies its
// migrations.
func openStore(ctx context.Context, cfg env.Config, log *slog.Logger) (docstore.Store, func(), error) {
	switch cfg.StoreBackend {
	case env.BackendPostgres:
		pool, err := dbpool.New(ctx, cfg.DatabaseURL, cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		if err := migrate.Postgres(ctx, pool, log); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return docstore.NewPostgres(pool), pool.Close, nil

	case env.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return docstore.NewRedis(client), func() { _ = client.Close() }, nil

	case env.BackendSQLite:
		db, err := docstore.OpenSQLite(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil

	case env.BackendMemory:
		log.Warn("using in-memory document store, data is lost on exit")
		return docstore.NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
}

func newLogger(format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
