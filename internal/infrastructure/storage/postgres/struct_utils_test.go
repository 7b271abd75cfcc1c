package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"stockledger/internal/core/id"
	"stockledger/internal/domain/balance"
	"stockledger/internal/domain/ledger"
)

type audited struct {
	CreatedAt time.Time `db:"created_at"`
}

type withEmbedded struct {
	audited
	Name    string `db:"name"`
	Ignored string `db:"-"`
	Plain   string
}

func TestExtractDBColumns(t *testing.T) {
	assert.Equal(t, []string{
		"id", "sequence", "material_id", "warehouse_id", "type", "quantity",
		"occurred_at", "actor_id", "idempotency_key", "note", "reverses_id",
		"balance_after", "recorded_at",
	}, ExtractDBColumns[ledger.StockTransaction]())

	assert.Equal(t, []string{
		"material_id", "warehouse_id", "quantity", "version", "last_sequence", "updated_at",
	}, ExtractDBColumns[balance.Snapshot]())
}

func TestExtractDBColumns_EmbeddedAndIgnored(t *testing.T) {
	assert.Equal(t, []string{"created_at", "name"}, ExtractDBColumns[withEmbedded]())
}

func TestStructToMap_Omit(t *testing.T) {
	rec := ledger.StockTransaction{
		ID:          id.New(),
		Sequence:    9,
		MaterialID:  "M1",
		WarehouseID: "W1",
		Type:        ledger.TypeIn,
		Quantity:    3,
	}

	m := StructToMap(&rec, "sequence", "recorded_at")

	assert.Len(t, m, 11)
	assert.Equal(t, rec.ID, m["id"])
	assert.Equal(t, ledger.TypeIn, m["type"])
	assert.Equal(t, int64(3), m["quantity"])
	assert.NotContains(t, m, "sequence")
	assert.NotContains(t, m, "recorded_at")
	assert.Nil(t, StructToMap(42))
}
