// Package masterdata_repo reads and maintains the material and warehouse tables.
package masterdata_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/domain/masterdata"
	"stockledger/internal/infrastructure/storage/postgres"
)

var _ masterdata.Directory = (*Directory)(nil)

// ChangeChannel is the NOTIFY channel fired by the master-data triggers.
// The payload is "<kind>:<id>".
const ChangeChannel = "masterdata_changed"

type row struct {
	ID       string `db:"id"`
	Name     string `db:"name"`
	IsActive bool   `db:"is_active"`
}

// Directory implements masterdata.Directory on the materials and warehouses tables.
type Directory struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewDirectory creates a new master-data repository.
func NewDirectory(txm *postgres.TxManager) *Directory {
	return &Directory{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func table(kind masterdata.Kind) (string, error) {
	switch kind {
	case masterdata.KindMaterial:
		return "materials", nil
	case masterdata.KindWarehouse:
		return "warehouses", nil
	}
	return "", fmt.Errorf("unknown master-data kind %q", kind)
}

// Lookup implements masterdata.Directory.
func (d *Directory) Lookup(ctx context.Context, kind masterdata.Kind, id string) (masterdata.Reference, bool, error) {
	tbl, err := table(kind)
	if err != nil {
		return masterdata.Reference{}, false, err
	}

	sql, args, err := d.builder.Select("id", "name", "is_active").
		From(tbl).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return masterdata.Reference{}, false, fmt.Errorf("build query: %w", err)
	}

	var r row
	if err := pgxscan.Get(ctx, d.txm.GetQuerier(ctx), &r, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return masterdata.Reference{}, false, nil
		}
		return masterdata.Reference{}, false, fmt.Errorf("lookup %s: %w", kind, err)
	}
	return masterdata.Reference{Kind: kind, ID: r.ID, Active: r.IsActive}, true, nil
}

// LoadAll returns every reference of kind.
func (d *Directory) LoadAll(ctx context.Context, kind masterdata.Kind) ([]masterdata.Reference, error) {
	tbl, err := table(kind)
	if err != nil {
		return nil, err
	}

	sql, args, err := d.builder.Select("id", "name", "is_active").From(tbl).OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []row
	if err := pgxscan.Select(ctx, d.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("load %s: %w", kind, err)
	}
	refs := make([]masterdata.Reference, 0, len(rows))
	for _, r := range rows {
		refs = append(refs, masterdata.Reference{Kind: kind, ID: r.ID, Active: r.IsActive})
	}
	return refs, nil
}

// Upsert creates or updates one entity.
func (d *Directory) Upsert(ctx context.Context, kind masterdata.Kind, id, name string, active bool) error {
	tbl, err := table(kind)
	if err != nil {
		return err
	}

	sql, args, err := d.builder.Insert(tbl).
		Columns("id", "name", "is_active").
		Values(id, name, active).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, is_active = EXCLUDED.is_active, updated_at = now()").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := d.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upsert %s %s: %w", kind, id, err)
	}
	return nil
}
