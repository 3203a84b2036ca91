package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"recordpipe/internal/etl"
)

// DatasetStore keeps job output rows in named datasets. It implements
// etl.OutputStore for the "store" destination.
type DatasetStore struct {
	db *DB
}

// NewDatasetStore creates a new DatasetStore.
func NewDatasetStore(db *DB) *DatasetStore {
	return &DatasetStore{db: db}
}

// DatasetInfo summarizes a stored dataset.
type DatasetInfo struct {
	Name      string      `json:"name"`
	Schema    *etl.Schema `json:"schema"`
	Rows      int         `json:"rows"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

var _ etl.OutputStore = (*DatasetStore)(nil)

// ReplaceOutputs drops the dataset's rows and stores rows in their place.
func (s *DatasetStore) ReplaceOutputs(dataset string, schema *etl.Schema, rows []map[string]any) error {
	return s.write(dataset, schema, rows, true)
}

// AppendOutputs adds rows after the existing ones and merges new fields
// into the stored schema.
func (s *DatasetStore) AppendOutputs(dataset string, schema *etl.Schema, rows []map[string]any) error {
	return s.write(dataset, schema, rows, false)
}

func (s *DatasetStore) write(dataset string, schema *etl.Schema, rows []map[string]any, replace bool) error {
	tx, err := s.db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if !replace {
		if existing, err := s.schemaTx(tx, dataset); err == nil {
			schema = mergeSchemas(existing, schema)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	if schema == nil {
		schema = &etl.Schema{}
	}
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO datasets (name, schema_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET schema_json = excluded.schema_json, updated_at = excluded.updated_at`,
		dataset, string(schemaJSON), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("upsert dataset: %w", err)
	}

	next := 0
	if replace {
		if _, err := tx.Exec(`DELETE FROM dataset_rows WHERE dataset = ?`, dataset); err != nil {
			return fmt.Errorf("clear dataset: %w", err)
		}
	} else if err := tx.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) FROM dataset_rows WHERE dataset = ?`, dataset,
	).Scan(&next); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO dataset_rows (dataset, seq, data_json) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode row %d: %w", i, err)
		}
		if _, err := stmt.Exec(dataset, next+i+1, string(data)); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *DatasetStore) schemaTx(tx *sql.Tx, dataset string) (*etl.Schema, error) {
	var raw string
	err := tx.QueryRow(`SELECT schema_json FROM datasets WHERE name = ?`, dataset).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %q: %w", dataset, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var schema etl.Schema
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return &schema, nil
}

// mergeSchemas keeps the fields of a in order and appends fields of b
// that a does not have.
func mergeSchemas(a, b *etl.Schema) *etl.Schema {
	if b == nil {
		return a
	}
	merged := &etl.Schema{Fields: append([]etl.Field(nil), a.Fields...)}
	seen := make(map[string]bool, len(a.Fields))
	for _, f := range a.Fields {
		seen[f.Name] = true
	}
	for _, f := range b.Fields {
		if !seen[f.Name] {
			merged.Fields = append(merged.Fields, f)
		}
	}
	return merged
}

// ListRows returns up to limit rows of a dataset in insertion order.
// A limit of zero returns every row.
func (s *DatasetStore) ListRows(dataset string, limit, offset int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.conn.Query(
		`SELECT data_json FROM dataset_rows WHERE dataset = ? ORDER BY seq LIMIT ? OFFSET ?`,
		dataset, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListDatasets returns every dataset with its row count, sorted by name.
func (s *DatasetStore) ListDatasets() ([]DatasetInfo, error) {
	rows, err := s.db.conn.Query(
		`SELECT d.name, d.schema_json, d.updated_at,
		 (SELECT COUNT(*) FROM dataset_rows r WHERE r.dataset = d.name)
		 FROM datasets d ORDER BY d.name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DatasetInfo
	for rows.Next() {
		var info DatasetInfo
		var raw string
		if err := rows.Scan(&info.Name, &raw, &info.UpdatedAt, &info.Rows); err != nil {
			return nil, err
		}
		info.Schema = &etl.Schema{}
		if err := json.Unmarshal([]byte(raw), info.Schema); err != nil {
			return nil, fmt.Errorf("decode schema: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}
