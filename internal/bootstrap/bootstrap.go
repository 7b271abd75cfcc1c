// Package bootstrap wires storage, caches and domain services from configuration.
// It is shared by the server and the maintenance commands.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"stockledger/internal/config"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/balance"
	"stockledger/internal/domain/guard"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/masterdata"
	"stockledger/internal/domain/reports"
	"stockledger/internal/infrastructure/cache"
	"stockledger/internal/infrastructure/lock"
	"stockledger/internal/infrastructure/metrics"
	"stockledger/internal/infrastructure/storage/memory"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/internal/infrastructure/storage/postgres/ledger_repo"
	"stockledger/internal/infrastructure/storage/postgres/masterdata_repo"
	"stockledger/internal/infrastructure/storage/postgres/migration"
	"stockledger/pkg/logger"
)

// Storage is one opened backend.
type Storage struct {
	Driver    string
	Ledger    ledger.Store
	Balances  balance.Repository
	Tx        tx.SnapshotManager
	Directory masterdata.Directory

	// Pool is nil for the in-memory backend.
	Pool *postgres.Pool

	// Masterdata is the writable directory; nil for the in-memory backend.
	Masterdata *masterdata_repo.Directory

	closers []func()
}

// Close releases everything Open acquired, in reverse order.
func (s *Storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Ping implements the readiness check; the in-memory backend is always ready.
func (s *Storage) Ping(ctx context.Context) error {
	if s.Pool == nil {
		return nil
	}
	return s.Pool.Ping(ctx)
}

// OpenStorage connects the configured backend. With postgres it applies
// migrations when enabled and starts the master-data cache listener.
func OpenStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		store := memory.New()
		dir := masterdata.NewStaticDirectory().
			AddMaterials(cfg.Dev.Materials...).
			AddWarehouses(cfg.Dev.Warehouses...)
		logger.Warn(ctx, "using in-memory storage, data is lost on exit",
			"materials", len(cfg.Dev.Materials),
			"warehouses", len(cfg.Dev.Warehouses),
		)
		return &Storage{
			Driver:    config.DriverMemory,
			Ledger:    store.Ledger(),
			Balances:  store.Balances(),
			Tx:        store,
			Directory: dir,
		}, nil
	}

	s, err := OpenPostgres(ctx, cfg)
	if err != nil {
		return nil, err
	}

	dirCache := cache.NewDirectoryCache(s.Masterdata, s.Pool.Pool, masterdata_repo.ChangeChannel)
	if err := dirCache.Start(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("start master-data cache: %w", err)
	}
	s.closers = append(s.closers, dirCache.Stop)
	s.Directory = dirCache
	return s, nil
}

// OpenPostgres connects to PostgreSQL and runs migrations when enabled.
// The returned Directory reads the tables directly.
func OpenPostgres(ctx context.Context, cfg *config.Config) (*Storage, error) {
	poolCfg := postgres.DefaultPoolConfig(cfg.DB.URL)
	poolCfg.ApplicationName = cfg.App.Name
	if cfg.DB.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DB.MaxConns)
	}
	if cfg.DB.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.DB.MinConns)
	}

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	s := &Storage{Driver: config.DriverPostgres, Pool: pool, closers: []func(){pool.Close}}
	postgres.LogPoolStats(ctx, pool)

	if cfg.DB.MigrateOnStart {
		db := pool.DB()
		err := migration.Run(db)
		_ = db.Close()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		logger.Info(ctx, "database schema is up to date")
	}

	txm := postgres.NewTxManager(pool).
		WithStatementTimeout(cfg.DB.StatementTimeout).
		WithLockTimeout(cfg.Guard.LockWait)
	s.Tx = txm
	s.Ledger = ledger_repo.NewLedgerRepo(txm)
	s.Balances = ledger_repo.NewBalanceRepo(txm)
	s.Masterdata = masterdata_repo.NewDirectory(txm)
	s.Directory = s.Masterdata
	return s, nil
}

// Services holds the domain services of one process.
type Services struct {
	Guard    *guard.Service
	Balances *balance.Service
	Reports  *reports.Service
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	redis   *redis.Client
	closers []func()
}

// HealthChecks names the readiness probes of the opened dependencies.
func (s *Services) HealthChecks(st *Storage) map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{st.Driver: st.Ping}
	if s.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return s.redis.Ping(ctx).Err() }
	}
	return checks
}

// Close releases the Redis client, if any.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// NewServices builds the guard, aggregator and report engine over storage.
// When REDIS_URL is set the guard also takes a Redis lock per position and
// reports are cached in Redis.
func NewServices(ctx context.Context, cfg *config.Config, st *Storage) (*Services, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if st.Pool != nil {
		if err := reg.Register(st.Pool); err != nil {
			return nil, fmt.Errorf("register pool metrics: %w", err)
		}
	}

	loc, err := cfg.Report.Location()
	if err != nil {
		return nil, fmt.Errorf("report timezone: %w", err)
	}

	svc := &Services{Metrics: m, Registry: reg}
	guardOpts := []guard.Option{guard.WithRecorder(m)}
	reportOpts := []reports.Option{reports.WithLocation(loc), reports.WithObserver(m)}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		svc.redis = client
		svc.closers = append(svc.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			svc.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}

		guardOpts = append(guardOpts, guard.WithLocker(lock.NewRedisLocker(client, lock.Config{
			Prefix: cfg.Redis.KeyPrefix + "lock:",
			TTL:    cfg.Guard.LockTTL,
			Wait:   cfg.Guard.LockWait,
		})))

		reportCache, err := cache.NewReportCache(client, cfg.Redis.KeyPrefix+"report:", cfg.Report.CacheTTL)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("create report cache: %w", err)
		}
		reportOpts = append(reportOpts, reports.WithCache(reportCache))
		logger.Info(ctx, "redis enabled for position locks and report cache")
	}

	svc.Balances = balance.NewService(st.Ledger, st.Balances, st.Tx)
	svc.Balances.SetRebuildObserver(m)
	svc.Guard = guard.NewService(st.Ledger, svc.Balances, st.Directory, st.Tx, guard.Config{
		MaxAttempts:  cfg.Guard.MaxAttempts,
		RetryBackoff: cfg.Guard.RetryBackoff,
		LockWait:     cfg.Guard.LockWait,
	}, guardOpts...)
	svc.Reports = reports.NewService(st.Ledger, st.Tx, reportOpts...)
	return svc, nil
}
