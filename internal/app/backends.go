// Package app opens the configured storage, queue and notification backends
// shared by the cmd binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"classledger/internal/advisor"
	"classledger/internal/api"
	"classledger/internal/attendance"
	"classledger/internal/config"
	"classledger/internal/queue"
	"classledger/internal/roster"
	"classledger/internal/store"
)

// StudentWriter and FacultyWriter are the seeding side of the directory and
// registry backends.
type StudentWriter interface {
	UpsertStudent(ctx context.Context, s roster.Student) error
}

type FacultyWriter interface {
	UpsertFaculty(ctx context.Context, f advisor.Faculty) error
}

// Backends bundles the stores for one STORE_BACKEND.
type Backends struct {
	Directory roster.Directory
	Students  StudentWriter
	Ledger    attendance.Store
	Advisors  advisor.Store
	Faculty   FacultyWriter
	Redis     *store.Redis
	Checks    map[string]api.HealthCheck

	closers []func(context.Context) error
}

// Open connects the backends selected by cfg and applies schema or indexes
// when AUTO_MIGRATE is set.
func Open(ctx context.Context, cfg config.App, log *zap.Logger) (*Backends, error) {
	b := &Backends{Checks: map[string]api.HealthCheck{}}
	switch cfg.StoreBackend {
	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, func(context.Context) error { return db.Close() })
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				_ = b.Close(ctx)
				return nil, err
			}
			log.Info("postgres schema applied")
		}
		dir := roster.NewRepository(db.Client)
		reg := advisor.NewRepository(db.Client)
		b.Directory, b.Students = dir, dir
		b.Ledger = attendance.NewRepository(db.Client)
		b.Advisors, b.Faculty = reg, reg
		b.Checks["db"] = db.Healthy
	case "mongo":
		m, err := store.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		b.closers = append(b.closers, m.Close)
		if cfg.AutoMigrate {
			if err := m.EnsureIndexes(ctx); err != nil {
				_ = b.Close(ctx)
				return nil, err
			}
			log.Info("mongo indexes ensured")
		}
		dir := roster.NewMongoDirectory(m.DB)
		reg := advisor.NewMongoStore(m.DB)
		b.Directory, b.Students = dir, dir
		b.Ledger = attendance.NewMongoStore(m.DB)
		b.Advisors, b.Faculty = reg, reg
		b.Checks["mongo"] = m.Healthy
	case "memory":
		dir := roster.NewMemoryDirectory()
		reg := advisor.NewMemoryStore()
		b.Directory, b.Students = dir, dir
		b.Ledger = attendance.NewMemoryStore()
		b.Advisors, b.Faculty = reg, reg
		log.Warn("using in-memory stores, data is lost on exit")
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	if cfg.QueueBackend == "redis" || cfg.NotifyBackend == "redis" {
		r, err := store.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			_ = b.Close(ctx)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.Redis = r
		b.closers = append(b.closers, r.Close)
		b.Checks["redis"] = b.Redis.Healthy
	}
	return b, nil
}

// Queue returns the reconcile queue for cfg.
func (b *Backends) Queue(cfg config.App) queue.Queue {
	if cfg.QueueBackend == "memory" || b.Redis == nil {
		return queue.NewInMemory(256)
	}
	return queue.NewRedisQueue(b.Redis.Client, queue.DefaultKey)
}

// Close releases every connection in reverse order of opening.
func (b *Backends) Close(ctx context.Context) error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}
