package sources

import (
	"context"
	"fmt"

	"recordpipe/internal/dbclient"
	"recordpipe/internal/etl"
)

// ── Database Source ────────────────────────────────────────
// Reads rows from a stored database connection through dbclient.

// DBProvider opens connectors for stored connection IDs.
// The app layer implements this and injects it at startup.
type DBProvider interface {
	OpenConnector(ctx context.Context, connID string) (dbclient.Connector, error)
}

var dbProvider DBProvider

// SetDBProvider is called by the app at startup.
func SetDBProvider(p DBProvider) { dbProvider = p }

const defaultFetchSize = 500

type databaseSource struct{}

func init() { etl.RegisterSource(&databaseSource{}) }

func (s *databaseSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "database",
		Label: "Database Query",
		ConfigFields: []etl.ConfigField{
			{Key: "connectionId", Label: "Connection", Type: "string", Required: true, Help: "ID of a stored database connection"},
			{Key: "query", Label: "Query", Type: "string", Required: true, Help: "Read-only SQL query, or a MongoDB find/aggregate command"},
			{Key: "fetchSize", Label: "Fetch Size", Type: "number", Default: "500", Help: "Rows fetched per round trip"},
		},
	}
}

func openConnector(ctx context.Context, cfg etl.SourceConfig) (dbclient.Connector, string, error) {
	connID := configString(cfg, "connectionId")
	query := configString(cfg, "query")
	if connID == "" || query == "" {
		return nil, "", fmt.Errorf("connectionId and query are required")
	}
	if dbProvider == nil {
		return nil, "", fmt.Errorf("database provider not initialized")
	}
	conn, err := dbProvider.OpenConnector(ctx, connID)
	if err != nil {
		return nil, "", fmt.Errorf("open connection %s: %w", connID, err)
	}
	return conn, query, nil
}

func (s *databaseSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	conn, query, err := openConnector(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	page, err := conn.Execute(ctx, query, 1)
	if err != nil {
		return nil, err
	}

	schema := &etl.Schema{Fields: make([]etl.Field, len(page.Columns))}
	for i, col := range page.Columns {
		typ := "text"
		if len(page.Rows) > 0 && i < len(page.Rows[0]) {
			typ = etl.InferType(page.Rows[0][i])
		}
		schema.Fields[i] = etl.Field{Name: col, Type: typ}
	}
	return schema, nil
}

func (s *databaseSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		conn, query, err := openConnector(ctx, cfg)
		if err != nil {
			errCh <- err
			return
		}
		defer conn.Close()

		fetchSize := configInt(cfg, "fetchSize", defaultFetchSize)
		page, err := conn.Execute(ctx, query, fetchSize)
		if err != nil {
			errCh <- fmt.Errorf("execute: %w", err)
			return
		}
		if !emitPage(ctx, out, page) {
			return
		}

		for page.HasMore {
			page, err = conn.FetchMore(ctx, fetchSize)
			if err != nil {
				errCh <- fmt.Errorf("fetch more: %w", err)
				return
			}
			if !emitPage(ctx, out, page) {
				return
			}
		}
	}()

	return out, errCh
}

func emitPage(ctx context.Context, out chan<- etl.Record, page *dbclient.QueryPage) bool {
	for _, row := range page.Rows {
		data := make(map[string]any, len(page.Columns))
		for i, col := range page.Columns {
			if i < len(row) {
				data[col] = row[i]
			}
		}
		select {
		case out <- etl.Record{Data: data}:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
