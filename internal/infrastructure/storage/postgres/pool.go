// Package postgres provides the PostgreSQL backend of the stock ledger.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"stockledger/pkg/logger"
)

type PoolConfig struct {
	DSN               string
	ApplicationName   string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectAttempts   int
	ConnectBackoff    time.Duration
}

func DefaultPoolConfig(dsn string) PoolConfig {
	return PoolConfig{
		DSN:               dsn,
		ApplicationName:   "stockledger",
		MaxConns:          20,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   15 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectAttempts:   5,
		ConnectBackoff:    time.Second,
	}
}

// Pool is a pgx pool that also reports its statistics to Prometheus.
type Pool struct {
	*pgxpool.Pool

	total    *prometheus.Desc
	acquired *prometheus.Desc
	idle     *prometheus.Desc
	waits    *prometheus.Desc
}

func (p *Pool) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}

// DB opens a database/sql view of the pool for migrations.
// Closing it leaves the pool open.
func (p *Pool) DB() *sql.DB {
	return stdlib.OpenDBFromPool(p.Pool)
}

// NewPool connects and pings, retrying while the database starts up.
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.HealthCheckPeriod = cfg.HealthCheckPeriod
	if cfg.ApplicationName != "" {
		pc.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	attempts := max(cfg.ConnectAttempts, 1)
	for i := 1; ; i++ {
		err = pool.Ping(ctx)
		if err == nil {
			break
		}
		if i == attempts {
			pool.Close()
			return nil, fmt.Errorf("ping database after %d attempts: %w", attempts, err)
		}
		logger.Warn(ctx, "database not reachable yet", "attempt", i, "error", err)
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(cfg.ConnectBackoff * time.Duration(i)):
		}
	}

	return newPool(pool), nil
}

func newPool(pool *pgxpool.Pool) *Pool {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("stockledger_db_pool_"+name, help, nil, nil)
	}
	return &Pool{
		Pool:     pool,
		total:    desc("connections", "Open connections."),
		acquired: desc("acquired_connections", "Connections currently in use."),
		idle:     desc("idle_connections", "Idle connections."),
		waits:    desc("empty_acquire_total", "Acquires that had to wait for a connection."),
	}
}

func (p *Pool) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.total
	ch <- p.acquired
	ch <- p.idle
	ch <- p.waits
}

func (p *Pool) Collect(ch chan<- prometheus.Metric) {
	s := p.Stat()
	ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(p.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(p.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(p.waits, prometheus.CounterValue, float64(s.EmptyAcquireCount()))
}

// LogPoolStats writes one line with the current pool counters.
func LogPoolStats(ctx context.Context, pool *Pool) {
	s := pool.Stat()
	logger.Info(ctx, "database pool ready",
		"total", s.TotalConns(),
		"idle", s.IdleConns(),
		"max", s.MaxConns(),
	)
}
