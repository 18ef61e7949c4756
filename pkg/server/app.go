package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/heathcliff26/buildhook/pkg/client"
	"github.com/heathcliff26/buildhook/pkg/config"
	"github.com/heathcliff26/buildhook/pkg/consumer"
	"github.com/heathcliff26/buildhook/pkg/installation"
	"github.com/heathcliff26/buildhook/pkg/metrics"
	"github.com/heathcliff26/buildhook/pkg/queue"
	"github.com/heathcliff26/buildhook/pkg/signature"
	"github.com/heathcliff26/buildhook/pkg/storage/sqlite"
	"github.com/heathcliff26/buildhook/pkg/trigger"
)

// app holds all components built from a config
type app struct {
	cfg      config.Config
	recorder *metrics.PrometheusRecorder
	db       *sqlite.DB
	redis    *queue.RedisStore
	queue    *queue.Queue
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		recorder: metrics.NewPrometheusRecorder(),
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db

	var store queue.Store
	switch cfg.Queue.Backend {
	case config.QueueBackendRedis:
		a.redis, err = queue.NewRedisStore(ctx, cfg.Queue.Redis)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		store = a.redis
	case config.QueueBackendSQLite:
		store = sqlite.NewQueueStore(db)
	case config.QueueBackendMemory:
		slog.Warn("Using the in-memory queue, triggers are lost on restart")
		store = queue.NewMemoryStore()
	default:
		_ = a.Close()
		return nil, fmt.Errorf("unknown queue backend '%s'", cfg.Queue.Backend)
	}
	a.queue = queue.New(store, cfg.Queue.Key)

	return a, nil
}

func (a *app) gateway() *Gateway {
	verifier := signature.NewVerifier(a.cfg.Github.WebhookSecret, a.cfg.Github.DebugBypassSignature)
	return NewGateway(verifier, trigger.NewNormalizer(), a.queue, a.cfg.Queue, a.recorder)
}

func (a *app) server() *Server {
	return NewServer(a.cfg.Server, a.gateway(), a.recorder.Handler())
}

func (a *app) consumer() *consumer.Consumer {
	github := client.NewGithubClient(a.cfg.Github)
	reporter := client.NewReporter(github, a.cfg.Github, a.recorder)
	registry := installation.NewRegistry(sqlite.NewInstallationRepo(a.db))
	return consumer.New(a.queue, sqlite.NewBuildRepo(a.db), reporter, registry, a.cfg.Queue, a.recorder)
}

// Run the webhook server and optionally the consumer until ctx is cancelled.
// When one of them fails the other one is stopped as well.
func (a *app) run(ctx context.Context, withConsumer bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 2)

	if withConsumer {
		c := a.consumer()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			errs[1] = c.Run(ctx)
		}()
	}

	errs[0] = a.server().Run(ctx)
	cancel()
	wg.Wait()

	return errors.Join(errs...)
}

func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
