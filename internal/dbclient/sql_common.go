package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
)

const queryTimeout = 30 * time.Second

// sqlConnector is the shared implementation for MySQL, Postgres, and SQLite.
type sqlConnector struct {
	driverName string
	db         *sql.DB

	mu           sync.Mutex
	activeRows   *sql.Rows
	cancelCursor context.CancelFunc
	columns      []string
	fetched      int
}

// newSQLConnector creates a generic SQL connector.
func newSQLConnector(driverName, dsn string) (*sqlConnector, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &sqlConnector{driverName: driverName, db: db}, nil
}

func (c *sqlConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}

// isReadQuery detects if a query is a read (SELECT, WITH, SHOW, DESCRIBE, EXPLAIN, PRAGMA, VALUES).
func isReadQuery(query string) bool {
	q := strings.ToUpper(strings.TrimLeft(query, " \t\r\n("))
	for _, prefix := range []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "EXPLAIN", "PRAGMA", "VALUES"} {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return false
}

func (c *sqlConnector) Execute(ctx context.Context, query string, fetchSize int) (*QueryPage, error) {
	if !isReadQuery(query) {
		return nil, ErrWriteQuery
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeCursorLocked()
	if fetchSize <= 0 {
		fetchSize = 50
	}

	// The cursor outlives this call, so its context is cancelled on close.
	cursorCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	rows, err := c.db.QueryContext(cursorCtx, query)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("query: %w", err)
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		cancel()
		return nil, fmt.Errorf("columns: %w", err)
	}

	c.activeRows = rows
	c.cancelCursor = cancel
	c.columns = cols
	c.fetched = 0

	return c.fetchBatchLocked(fetchSize)
}

func (c *sqlConnector) FetchMore(ctx context.Context, fetchSize int) (*QueryPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeRows == nil {
		return nil, fmt.Errorf("no active cursor: execute a query first")
	}
	if err := ctx.Err(); err != nil {
		c.closeCursorLocked()
		return nil, err
	}
	if fetchSize <= 0 {
		fetchSize = 50
	}
	return c.fetchBatchLocked(fetchSize)
}

// fetchBatchLocked reads up to fetchSize rows from the active cursor.
// Must be called while holding c.mu.
func (c *sqlConnector) fetchBatchLocked(fetchSize int) (*QueryPage, error) {
	var resultRows [][]any
	numCols := len(c.columns)

	for i := 0; i < fetchSize; i++ {
		if !c.activeRows.Next() {
			break
		}
		values := make([]any, numCols)
		ptrs := make([]any, numCols)
		for j := range values {
			ptrs[j] = &values[j]
		}
		if err := c.activeRows.Scan(ptrs...); err != nil {
			c.closeCursorLocked()
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make([]any, numCols)
		for j, v := range values {
			row[j] = normalizeValue(v)
		}
		resultRows = append(resultRows, row)
	}

	if err := c.activeRows.Err(); err != nil {
		c.closeCursorLocked()
		return nil, fmt.Errorf("iterate: %w", err)
	}

	c.fetched += len(resultRows)

	hasMore := len(resultRows) == fetchSize
	if !hasMore {
		c.closeCursorLocked()
	}

	return &QueryPage{
		Columns:      c.columns,
		Rows:         resultRows,
		TotalFetched: c.fetched,
		HasMore:      hasMore,
	}, nil
}

// normalizeValue converts driver values to plain Go values.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return val
	}
}

func (c *sqlConnector) Introspect(ctx context.Context) (*SchemaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch c.driverName {
	case "sqlite":
		return c.introspectSQLite(ctx)
	case "postgres":
		return c.introspectInfoSchema(ctx,
			`SELECT table_name FROM information_schema.tables
			 WHERE table_schema = current_schema() ORDER BY table_name`,
			`SELECT column_name, data_type FROM information_schema.columns
			 WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`)
	default:
		return c.introspectInfoSchema(ctx,
			`SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
			 WHERE TABLE_SCHEMA = DATABASE() ORDER BY TABLE_NAME`,
			`SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
			 WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`)
	}
}

// introspectInfoSchema works for MySQL and Postgres via INFORMATION_SCHEMA.
func (c *sqlConnector) introspectInfoSchema(ctx context.Context, tablesQuery, columnsQuery string) (*SchemaInfo, error) {
	tableNames, err := c.queryStrings(ctx, tablesQuery)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	schema := &SchemaInfo{}
	for _, tbl := range tableNames {
		colRows, err := c.db.QueryContext(ctx, columnsQuery, tbl)
		if err != nil {
			schema.Tables = append(schema.Tables, TableInfo{Name: tbl})
			continue
		}

		var cols []ColumnInfo
		for colRows.Next() {
			var ci ColumnInfo
			if err := colRows.Scan(&ci.Name, &ci.Type); err != nil {
				continue
			}
			cols = append(cols, ci)
		}
		colRows.Close()

		schema.Tables = append(schema.Tables, TableInfo{Name: tbl, Columns: cols})
	}
	return schema, nil
}

// introspectSQLite uses sqlite_master + PRAGMA table_info.
func (c *sqlConnector) introspectSQLite(ctx context.Context) (*SchemaInfo, error) {
	tableNames, err := c.queryStrings(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	schema := &SchemaInfo{}
	for _, tbl := range tableNames {
		pragmaRows, err := c.db.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?)`, tbl)
		if err != nil {
			schema.Tables = append(schema.Tables, TableInfo{Name: tbl})
			continue
		}

		var cols []ColumnInfo
		for pragmaRows.Next() {
			var ci ColumnInfo
			if err := pragmaRows.Scan(&ci.Name, &ci.Type); err != nil {
				continue
			}
			cols = append(cols, ci)
		}
		pragmaRows.Close()

		schema.Tables = append(schema.Tables, TableInfo{Name: tbl, Columns: cols})
	}
	return schema, nil
}

func (c *sqlConnector) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *sqlConnector) Close() error {
	c.mu.Lock()
	c.closeCursorLocked()
	c.mu.Unlock()
	return c.db.Close()
}

func (c *sqlConnector) closeCursorLocked() {
	if c.activeRows != nil {
		c.activeRows.Close()
		c.activeRows = nil
	}
	if c.cancelCursor != nil {
		c.cancelCursor()
		c.cancelCursor = nil
	}
}
