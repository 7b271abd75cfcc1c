// Package main is the balance reconciliation command. It compares every
// stored balance snapshot with its ledger fold and optionally repairs drift.
//
//	reconcile [--repair] [--interval 10m]
//
// Without --interval it sweeps once and exits with status 2 when unrepaired
// drift remains.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"stockledger/internal/bootstrap"
	"stockledger/internal/config"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/domain/balance"
	"stockledger/pkg/logger"
)

func main() {
	repair := pflag.Bool("repair", false, "rebuild snapshots that drifted from the ledger")
	interval := pflag.Duration("interval", 0, "repeat the sweep at this interval until interrupted")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: cfg.App.IsDevelopment(),
		Service:     "reconcile",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	log = log.WithComponent("reconcile")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = appctx.WithActor(ctx, &appctx.ActorContext{ActorID: "reconcile", Source: "cli"})

	storage, err := bootstrap.OpenPostgres(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to open storage", "error", err)
	}
	defer storage.Close()

	services, err := bootstrap.NewServices(ctx, cfg, storage)
	if err != nil {
		log.Fatalw("failed to build services", "error", err)
	}
	defer services.Close()

	if *interval <= 0 {
		sum, err := sweep(ctx, log, services.Balances, *repair)
		if err != nil {
			log.Errorw("sweep failed", "error", err)
			os.Exit(1)
		}
		if sum.Drifted > sum.Repaired {
			os.Exit(2)
		}
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		if _, err := sweep(ctx, log, services.Balances, *repair); err != nil && ctx.Err() == nil {
			log.Errorw("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			log.Info("reconcile stopped")
			return
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, log *logger.Logger, balances *balance.Service, repair bool) (balance.SweepSummary, error) {
	ctx = appctx.WithTrace(ctx, appctx.NewTraceContext(ctx))
	start := time.Now()

	sum, err := balances.Sweep(ctx, repair, func(d balance.Drift) {
		if d.InSync() && !d.Repaired {
			return
		}
		log.WithContext(ctx).Warnw("balance drift",
			"material_id", d.Key.MaterialID,
			"warehouse_id", d.Key.WarehouseID,
			"snapshot_quantity", d.SnapshotQuantity,
			"ledger_quantity", d.LedgerQuantity,
			"stored", d.Stored,
			"repaired", d.Repaired,
		)
	})
	if err != nil {
		return sum, err
	}

	log.WithContext(ctx).Infow("sweep finished",
		"positions", sum.Positions,
		"drifted", sum.Drifted,
		"repaired", sum.Repaired,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return sum, nil
}
