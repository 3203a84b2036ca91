package sources

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"recordpipe/internal/etl"
)

// ── JSON File Source ────────────────────────────────────────
// Reads records from a JSON document or a JSON lines file.

type jsonFileSource struct{}

func init() { etl.RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "json_file",
		Label: "JSON File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Path to a .json, .jsonl or .ndjson file"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Help: "Dot-separated path to the array (e.g., 'data.items'). Leave empty if root is an array."},
			{Key: "flatten", Label: "Flatten", Type: "bool", Default: "false", Help: "Serialize nested objects and arrays as JSON strings"},
		},
	}
}

func (s *jsonFileSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	records, err := readJSONFile(cfg)
	if err != nil {
		return nil, err
	}
	return etl.InferSchema(records), nil
}

func (s *jsonFileSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	return emitAll(ctx, func() ([]etl.Record, error) { return readJSONFile(cfg) })
}

func readJSONFile(cfg etl.SourceConfig) ([]etl.Record, error) {
	filePath := configString(cfg, "filePath")
	if filePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	flatten := configBool(cfg, "flatten", false)
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".jsonl", ".ndjson":
		return decodeJSONLines(data, flatten)
	}

	raw, err := decodeJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	raw, err = navigatePath(raw, configString(cfg, "dataPath"))
	if err != nil {
		return nil, err
	}
	return toRecords(raw, flatten)
}
