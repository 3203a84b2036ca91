package dbclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"recordpipe/internal/domain"
)

// ErrWriteQuery is returned when a query would modify the database.
// Connectors only read.
var ErrWriteQuery = errors.New("write queries are not allowed")

// QueryPage is a batch of rows fetched from a query cursor.
type QueryPage struct {
	Columns      []string `json:"columns"`
	Rows         [][]any  `json:"rows"`
	TotalFetched int      `json:"totalFetched"` // total rows fetched so far
	HasMore      bool     `json:"hasMore"`      // cursor has more rows
}

// SchemaInfo describes the tables of a database.
type SchemaInfo struct {
	Tables []TableInfo `json:"tables"`
}

// TableInfo describes a table/collection.
type TableInfo struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// ColumnInfo describes a column/field.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Connector abstracts read access to an external database.
type Connector interface {
	// TestConnection verifies connectivity.
	TestConnection(ctx context.Context) error

	// Execute runs a read query, opens a cursor and fetches fetchSize rows.
	Execute(ctx context.Context, query string, fetchSize int) (*QueryPage, error)

	// FetchMore continues reading from the open cursor.
	FetchMore(ctx context.Context, fetchSize int) (*QueryPage, error)

	// Introspect returns the tables and columns of the database.
	Introspect(ctx context.Context) (*SchemaInfo, error)

	// Close closes the connection and any open cursors.
	Close() error
}

// NewConnector creates a Connector for the given database connection.
// The password must be provided separately (from a SecretStore).
func NewConnector(conn *domain.DatabaseConnection, password string, log *slog.Logger) (Connector, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	switch conn.Driver {
	case domain.DatabaseDriverSQLite:
		return newSQLConnector("sqlite", buildSQLiteDSN(conn))
	case domain.DatabaseDriverMySQL:
		return newSQLConnector("mysql", buildMySQLDSN(conn, password))
	case domain.DatabaseDriverPostgres:
		return newSQLConnector("postgres", buildPostgresDSN(conn, password))
	case domain.DatabaseDriverMongoDB:
		return newMongoConnector(conn, password, log)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Driver)
	}
}
