// Package bootstrap wires the completion engine from configuration for the binaries.
package bootstrap

import (
	"context"

	"flowplane/internal/completion"
	"flowplane/internal/config"
	"flowplane/internal/observability"
	"flowplane/internal/store/postgres"
	"flowplane/internal/txqueue"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine is the database, the optional queue mirror and the recorder built on them.
type Engine struct {
	Store    *postgres.Store
	Mirror   *txqueue.RedisNotifier // nil when redis_addr is unset
	Recorder *completion.Recorder
}

// OpenEngine connects to Postgres (running migrations) and, when configured, Redis.
func OpenEngine(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*Engine, error) {
	db, err := postgres.New(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}

	e := &Engine{Store: db}

	var notifier txqueue.Notifier
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		e.Mirror = txqueue.NewRedisNotifier(client, cfg.RedisQueuePrefix)
		if err := e.Mirror.Ping(ctx); err != nil {
			e.Close()
			return nil, errors.Wrapf(err, "connect to redis %s", cfg.RedisAddr)
		}
		notifier = e.Mirror
		log.Infow("Queue mirror enabled", "redis_addr", cfg.RedisAddr, "prefix", cfg.RedisQueuePrefix)
	}

	escalator := completion.NewEscalator(db, db, log)
	e.Recorder = completion.NewRecorder(completion.RecorderConfig{
		DB:          db.DB(),
		Notifier:    notifier,
		Pending:     db,
		Completed:   db,
		Coordinator: completion.NewCoordinator(db, escalator, log),
		Meter:       completion.NewMeter(db, cfg.CloudHosted, log),
		Metrics:     observability.NewCounters(nil, log),
		Logger:      log,
	})
	return e, nil
}

// Close releases the connections of e.
func (e *Engine) Close() error {
	var errs error
	if e.Mirror != nil {
		errs = errors.CombineErrors(errs, e.Mirror.Close())
	}
	return errors.CombineErrors(errs, e.Store.Close())
}
