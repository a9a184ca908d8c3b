package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/skothari-dev/loom/internal/core"
)

// MySQLConnection implements core.Connection over a MySQL server. It
// owns no schema knowledge; query text and parameters arrive fully
// built from the compiler layers.
type MySQLConnection struct {
	db     *sql.DB
	closed bool
}

// Options configures the MySQL connection pool.
type Options struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
	ConnMaxIdleTime   time.Duration
	ConnectionTimeout time.Duration
}

// Connect opens and verifies a MySQL connection.
func Connect(opts Options) (*MySQLConnection, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=%s",
		opts.Username, opts.Password, opts.Host, opts.Port, opts.Database, opts.ConnectionTimeout)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectionTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &MySQLConnection{db: db}, nil
}

// Query runs a SELECT and returns every row keyed by column name.
// []byte column values are converted to strings; the materializer owns
// all further typing.
func (m *MySQLConnection) Query(ctx context.Context, query string, params []core.Param) ([]core.Row, error) {
	if m.closed {
		return nil, fmt.Errorf("database is closed: %w", core.ErrNoConnection)
	}
	args := paramArgs(params)
	log.Printf("[MYSQL] Executing query: %s with args: %v", query, args)
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Printf("[MYSQL] ERROR: Query failed: %v", err)
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	var out []core.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(core.Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	log.Printf("[MYSQL] Query returned %d rows", len(out))
	return out, nil
}

// Exec runs a write statement.
func (m *MySQLConnection) Exec(ctx context.Context, query string, params []core.Param) (core.Result, error) {
	if m.closed {
		return nil, fmt.Errorf("database is closed: %w", core.ErrNoConnection)
	}
	args := paramArgs(params)
	log.Printf("[MYSQL] Executing statement: %s with args: %v", query, args)
	result, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Printf("[MYSQL] ERROR: Exec failed: %v", err)
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}
	affected, _ := result.RowsAffected()
	log.Printf("[MYSQL] Statement executed successfully (rows affected: %d)", affected)
	return result, nil
}

// Columns introspects the live structure of a table, ordered by
// ordinal position. Returns core.ErrNotFound for an absent table.
func (m *MySQLConnection) Columns(ctx context.Context, table string) ([]core.ColumnInfo, error) {
	if m.closed {
		return nil, fmt.Errorf("database is closed: %w", core.ErrNoConnection)
	}

	query := `
		SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_KEY, COLUMN_DEFAULT, EXTRA
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	rows, err := m.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var cols []core.ColumnInfo
	for rows.Next() {
		var name, colType, nullable, key, extra string
		var def sql.NullString
		if err := rows.Scan(&name, &colType, &nullable, &key, &def, &extra); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		info := core.ColumnInfo{
			Name:     name,
			Type:     colType,
			Nullable: nullable == "YES",
			Key:      key,
			Extra:    extra,
		}
		if def.Valid {
			info.Default = def.String
		}
		cols = append(cols, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q: %w", table, core.ErrNotFound)
	}
	return cols, nil
}

// Tables lists the base tables of the connected database.
func (m *MySQLConnection) Tables(ctx context.Context) ([]string, error) {
	if m.closed {
		return nil, fmt.Errorf("database is closed: %w", core.ErrNoConnection)
	}

	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'
	`
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Close closes the connection pool.
func (m *MySQLConnection) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

func paramArgs(params []core.Param) []any {
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p.Value
	}
	return args
}
