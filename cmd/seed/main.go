// Package main provides a CLI tool for seeding master data and demo stock.
//
//	seed [--materials M1=Steel,M2] [--warehouses W1] [--demo-quantity 100]
//
// Entries are ID or ID=Name. Defaults come from DEV_MATERIALS and DEV_WAREHOUSES.
// Re-running is safe: master data is upserted and demo receipts are idempotent.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"stockledger/internal/bootstrap"
	"stockledger/internal/config"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/domain/guard"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/masterdata"
	"stockledger/pkg/logger"
)

const seedActor = "seed"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	materials := pflag.StringSlice("materials", cfg.Dev.Materials, "materials to upsert (ID or ID=Name)")
	warehouses := pflag.StringSlice("warehouses", cfg.Dev.Warehouses, "warehouses to upsert (ID or ID=Name)")
	demoQty := pflag.Int64("demo-quantity", 0, "receive this quantity of every material into every warehouse")
	pflag.Parse()

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	ctx := appctx.WithActor(context.Background(), &appctx.ActorContext{ActorID: seedActor, Source: "cli"})

	storage, err := bootstrap.OpenPostgres(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer storage.Close()
	log.Info("connected to database")

	materialIDs, err := upsertAll(ctx, storage, masterdata.KindMaterial, *materials, log)
	if err != nil {
		log.Fatalw("failed to seed materials", "error", err)
	}
	warehouseIDs, err := upsertAll(ctx, storage, masterdata.KindWarehouse, *warehouses, log)
	if err != nil {
		log.Fatalw("failed to seed warehouses", "error", err)
	}

	if *demoQty > 0 {
		if err := seedDemoStock(ctx, cfg, storage, materialIDs, warehouseIDs, *demoQty, log); err != nil {
			log.Fatalw("failed to seed demo stock", "error", err)
		}
	}

	log.Info("seeding completed successfully")
}

func upsertAll(ctx context.Context, storage *bootstrap.Storage, kind masterdata.Kind, entries []string, log *logger.Logger) ([]string, error) {
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		id, name := parseEntry(entry)
		if id == "" {
			continue
		}
		if err := storage.Masterdata.Upsert(ctx, kind, id, name, true); err != nil {
			return nil, fmt.Errorf("upsert %s %s: %w", kind, id, err)
		}
		log.Infow("master data upserted", "kind", kind, "id", id, "name", name)
		ids = append(ids, id)
	}
	return ids, nil
}

// parseEntry splits "ID=Name"; a bare ID is its own name.
func parseEntry(entry string) (id, name string) {
	id, name, found := strings.Cut(strings.TrimSpace(entry), "=")
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if !found || name == "" {
		name = id
	}
	return id, name
}

func seedDemoStock(
	ctx context.Context,
	cfg *config.Config,
	storage *bootstrap.Storage,
	materials, warehouses []string,
	qty int64,
	log *logger.Logger,
) error {
	services, err := bootstrap.NewServices(ctx, cfg, storage)
	if err != nil {
		return err
	}
	defer services.Close()

	for _, m := range materials {
		for _, w := range warehouses {
			res, err := services.Guard.Submit(ctx, guard.Request{
				MaterialID:     m,
				WarehouseID:    w,
				Type:           ledger.TypeIn,
				Quantity:       qty,
				IdempotencyKey: fmt.Sprintf("seed-%s-%s", m, w),
				Note:           "demo opening stock",
			})
			if err != nil {
				return fmt.Errorf("receive %s into %s: %w", m, w, err)
			}
			log.Infow("demo stock received",
				"material_id", m,
				"warehouse_id", w,
				"balance", res.ResultingBalance,
				"replayed", res.Replayed,
			)
		}
	}
	return nil
}
