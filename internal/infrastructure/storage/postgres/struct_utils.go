package postgres

import (
	"reflect"
	"slices"
	"sync"
)

// ExtractDBColumns returns the "db" tags of T in field order, descending into
// embedded structs. Call it once at package init.
//
//	var transactionColumns = ExtractDBColumns[ledger.StockTransaction]()
func ExtractDBColumns[T any]() []string {
	fields := fieldsOf(reflect.TypeFor[T]())
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.column
	}
	return cols
}

type dbField struct {
	column string
	index  []int
}

// fieldCache holds []dbField per struct type.
var fieldCache sync.Map

func fieldsOf(t reflect.Type) []dbField {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]dbField)
	}

	var fields []dbField
	if t.Kind() == reflect.Struct {
		for _, sf := range reflect.VisibleFields(t) {
			if sf.Anonymous || !sf.IsExported() {
				continue
			}
			tag := sf.Tag.Get("db")
			if tag == "" || tag == "-" {
				continue
			}
			fields = append(fields, dbField{column: tag, index: sf.Index})
		}
	}
	fieldCache.Store(t, fields)
	return fields
}

// StructToMap maps the "db" columns of v to their values, leaving out the
// columns listed in omit (typically the ones the database generates).
// It is meant for squirrel's SetMap.
func StructToMap(v any, omit ...string) map[string]any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	fields := fieldsOf(rv.Type())
	res := make(map[string]any, len(fields))
	for _, f := range fields {
		if slices.Contains(omit, f.column) {
			continue
		}
		res[f.column] = rv.FieldByIndex(f.index).Interface()
	}
	return res
}
