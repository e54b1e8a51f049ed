// Package app wires configuration into a running engine: logger, store,
// apply lock and engine. Both binaries start from here.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/terravista/lot-sales/config"
	"github.com/terravista/lot-sales/generic"
	"github.com/terravista/lot-sales/logger"
	"github.com/terravista/lot-sales/reajuste"
	"github.com/terravista/lot-sales/store/redislock"
	"github.com/terravista/lot-sales/store/sqldb"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config *config.Config
	Log    *zap.Logger
	Store  *sqldb.Store
	Engine *reajuste.Engine

	closers []func() error
}

// NewLogger builds the zap logger described by cfg.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// New opens the store and builds the engine. With Redis enabled the apply
// lock is shared across instances; otherwise it is process-local.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	store, err := sqldb.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	var locker generic.Locker = generic.NewKeyedMutex()
	if cfg.Redis.Enabled {
		rl, err := redislock.New(redislock.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.LockTTL,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("apply lock: %w", err)
		}
		locker = rl
		a.closers = append(a.closers, rl.Close)
		log.Info("using redis apply lock", zap.String("addr", cfg.Redis.Addr))
	}

	a.Engine = reajuste.NewEngine(store,
		reajuste.WithLocker(locker),
		reajuste.WithClock(time.Now),
		reajuste.WithLogger(log.Named("engine")),
	)
	log.Info("store ready",
		zap.String("driver", store.DriverName()),
		zap.String("env", cfg.App.Env))
	return a, nil
}

// Close releases every resource opened by New.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
