package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestSchemaKeepsLedgerAppendOnly(t *testing.T) {
	up, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_stock_ledger.up.sql")
	require.NoError(t, err)

	schema := string(up)
	assert.Contains(t, schema, "UNIQUE (actor_id, idempotency_key)")
	assert.Contains(t, schema, "BEFORE UPDATE OR DELETE ON stock_transactions")
	assert.Contains(t, schema, "CHECK (quantity >= 0)")
	assert.Contains(t, schema, "stock_transactions_reverses_uq")
}
