package etl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ── Destination ────────────────────────────────────────────
// A Destination writes transformed records into a target.

// SyncMode determines how records are written to the destination.
type SyncMode string

const (
	SyncReplace SyncMode = "replace" // drop existing output, write fresh
	SyncAppend  SyncMode = "append"  // add records after existing output
)

// OutputConfig selects a destination and the target inside it.
type OutputConfig struct {
	Type   string   `json:"type" yaml:"type"`     // "jsonl" | "store"
	Target string   `json:"target" yaml:"target"` // file path for jsonl, dataset name for store
	Mode   SyncMode `json:"mode" yaml:"mode"`
}

// Destination writes records to a target system.
type Destination interface {
	Write(ctx context.Context, target string, schema *Schema, records []Record, mode SyncMode) (int, error)
}

// ── JSON lines destination ─────────────────────────────────

// JSONLWriter writes one JSON object per line to a file. Every record is
// encoded before the file is touched; replace mode swaps a finished temp
// file over the target, so a failed write leaves the old file in place.
type JSONLWriter struct{}

func (w *JSONLWriter) Write(ctx context.Context, target string, _ *Schema, records []Record, mode SyncMode) (int, error) {
	if target == "" {
		return 0, fmt.Errorf("jsonl: target path is required")
	}

	var buf bytes.Buffer
	written, err := EncodeJSONL(ctx, &buf, records)
	if err != nil {
		return 0, fmt.Errorf("jsonl: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("jsonl: create dir: %w", err)
	}
	if mode == SyncAppend {
		err = appendFile(target, buf.Bytes())
	} else {
		err = replaceFile(target, buf.Bytes())
	}
	if err != nil {
		return 0, fmt.Errorf("jsonl: %w", err)
	}
	return written, nil
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write: %w", err)
	}
	return f.Close()
}

func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// EncodeJSONL writes records as JSON lines and returns how many were written.
func EncodeJSONL(ctx context.Context, w io.Writer, records []Record) (int, error) {
	enc := json.NewEncoder(w)
	written := 0
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := enc.Encode(rec.Data); err != nil {
			return written, fmt.Errorf("encode record %d: %w", i, err)
		}
		written++
	}
	return written, nil
}

// ── Store destination ──────────────────────────────────────
// Writes records into the application database as named datasets.

// OutputStore persists transformed rows grouped by dataset.
type OutputStore interface {
	ReplaceOutputs(dataset string, schema *Schema, rows []map[string]any) error
	AppendOutputs(dataset string, schema *Schema, rows []map[string]any) error
}

// StoreWriter implements Destination on top of an OutputStore.
type StoreWriter struct {
	Store OutputStore
}

func (w *StoreWriter) Write(ctx context.Context, target string, schema *Schema, records []Record, mode SyncMode) (int, error) {
	if target == "" {
		return 0, fmt.Errorf("store: dataset name is required")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		rows[i] = rec.Data
	}

	var err error
	if mode == SyncAppend {
		err = w.Store.AppendOutputs(target, schema, rows)
	} else {
		err = w.Store.ReplaceOutputs(target, schema, rows)
	}
	if err != nil {
		return 0, fmt.Errorf("store: %w", err)
	}
	return len(rows), nil
}
