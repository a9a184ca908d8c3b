package core

import "context"

// Row is one database row keyed by column name.
type Row map[string]any

// Record is a materialized result row: typed values, expanded
// relations, synthesized media paths. Records are ephemeral; they are
// built per query and never cached across requests.
type Record map[string]any

// ID returns the record's id as an int64 when present.
func (r Record) ID() (int64, bool) {
	switch v := r["id"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Result reports the outcome of a write statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// ColumnInfo is one introspected column of a live table, as reported
// by SHOW COLUMNS.
type ColumnInfo struct {
	Name     string
	Type     string
	Nullable bool
	Key      string
	Default  any
	Extra    string
}

// Connection executes parameterized SQL. It owns no schema knowledge;
// query text and parameters are built by the compiler layers above it.
type Connection interface {
	// Query runs a SELECT and returns all rows.
	Query(ctx context.Context, query string, params []Param) ([]Row, error)

	// Exec runs a write statement.
	Exec(ctx context.Context, query string, params []Param) (Result, error)

	// Columns introspects the live structure of a table. Returns
	// ErrNotFound when the table does not exist.
	Columns(ctx context.Context, table string) ([]ColumnInfo, error)

	// Tables lists the base tables of the connected database.
	Tables(ctx context.Context) ([]string, error)

	Close() error
}
