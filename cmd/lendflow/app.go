package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/VenkatGGG/lendflow/internal/catalog"
	"github.com/VenkatGGG/lendflow/internal/config"
	"github.com/VenkatGGG/lendflow/internal/kvstore"
	"github.com/VenkatGGG/lendflow/internal/lease"
	"github.com/VenkatGGG/lendflow/internal/realtime"
	"github.com/VenkatGGG/lendflow/internal/retry"
	"github.com/VenkatGGG/lendflow/internal/submission"
	"github.com/VenkatGGG/lendflow/pkg/httpx"
)

// app holds the components one command invocation needs.
type app struct {
	cfg    config.Config
	logger *log.Logger
	store  kvstore.Store
	leases lease.Manager
	close  func()
}

// backend is an opened store plus, for shared backends, a lease manager.
type backend struct {
	store  kvstore.Store
	leases lease.Manager
	close  func()
}

func openApp(ctx context.Context, storeOverride string, verbose bool) (*app, error) {
	cfg := config.Load()
	if storeOverride != "" {
		cfg.StoreDriver = storeOverride
	}

	logger := log.New(os.Stderr, "lendflow ", log.LstdFlags)
	if !verbose {
		logger.SetOutput(io.Discard)
	}

	opened, err := openStore(ctx, cfg)
	if err != nil {
		return nil, codeError(3, "open %s store: %v", cfg.StoreDriver, err)
	}
	logger.Printf("store opened: driver=%s", cfg.StoreDriver)
	return &app{cfg: cfg, logger: logger, store: opened.store, leases: opened.leases, close: opened.close}, nil
}

func openStore(ctx context.Context, cfg config.Config) (backend, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return backend{store: kvstore.NewInMemoryStore(), close: func() {}}, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return backend{}, fmt.Errorf("ping redis: %w", err)
		}
		return backend{
			store:  kvstore.NewRedisStore(client, cfg.RedisPrefix),
			leases: lease.NewRedisManager(client, cfg.RedisPrefix+":lease"),
			close:  func() { _ = client.Close() },
		}, nil
	case config.StorePostgres:
		store, err := kvstore.NewPostgresStore(ctx, cfg.PostgresDSN, cfg.StoreOrigin)
		if err != nil {
			return backend{}, err
		}
		return backend{store: store, close: store.Close}, nil
	case config.StoreSQLite:
		store, err := kvstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return backend{}, err
		}
		return backend{store: store, close: func() { _ = store.Close() }}, nil
	default:
		return backend{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func (a *app) catalogEngine() *catalog.Engine {
	fetcher := catalog.NewHTTPFetcher(httpx.JoinURL(a.cfg.APIBaseURL, a.cfg.CatalogPath), a.cfg.HTTPTimeout, nil)
	return catalog.NewEngine(fetcher, a.store, catalog.Config{RetryCeiling: a.cfg.CatalogRetryCeiling}, a.logger)
}

func (a *app) catalogScheduler() *catalog.Scheduler {
	return catalog.NewScheduler(a.catalogEngine(), catalog.SchedulerConfig{
		Interval: a.cfg.CatalogSyncInterval,
		Leases:   a.leases,
		Owner:    schedulerOwner(),
	}, a.logger)
}

func schedulerOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "lendflow"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}

func (a *app) coalescer() *submission.Coalescer {
	sender := submission.NewHTTPSender(a.cfg.APIBaseURL, map[submission.Kind]string{
		submission.KindReadiness: a.cfg.ReadinessPath,
		submission.KindContact:   a.cfg.ContactPath,
	}, a.cfg.HTTPTimeout)
	return submission.NewCoalescer(sender, a.store, submission.Config{
		EmailField: a.cfg.EmailField,
		PhoneField: a.cfg.PhoneField,
		Retry: retry.Policy{
			MaxAttempts: a.cfg.SubmitAttempts,
			BaseDelay:   a.cfg.SubmitRetryWait,
			MaxDelay:    a.cfg.SubmitRetryWait,
		},
	}, a.logger)
}

func (a *app) sessions() *submission.Sessions {
	return submission.NewSessions(a.store, a.logger)
}

func (a *app) realtimeManager() *realtime.Manager {
	return realtime.NewManager(realtime.WebSocketDialer{}, realtime.SystemClock{}, realtime.Config{
		Backoff: retry.Policy{
			BaseDelay: a.cfg.RealtimeBaseDelay,
			MaxDelay:  a.cfg.RealtimeMaxDelay,
		},
		MaxRetries: a.cfg.RealtimeMaxRetries,
	}, a.logger)
}
