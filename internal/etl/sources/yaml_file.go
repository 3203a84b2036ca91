package sources

import (
	"context"
	"fmt"
	"os"

	"recordpipe/internal/etl"
)

// ── YAML File Source ────────────────────────────────────────
// Reads records from a YAML document: a list of mappings, or a mapping
// holding the list under dataPath.

type yamlFileSource struct{}

func init() { etl.RegisterSource(&yamlFileSource{}) }

func (s *yamlFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "yaml_file",
		Label: "YAML File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Path to the YAML file"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Help: "Dot-separated path to the list of records"},
			{Key: "flatten", Label: "Flatten", Type: "bool", Default: "false", Help: "Serialize nested mappings and lists as JSON strings"},
		},
	}
}

func (s *yamlFileSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	records, err := readYAMLFile(cfg)
	if err != nil {
		return nil, err
	}
	return etl.InferSchema(records), nil
}

func (s *yamlFileSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	return emitAll(ctx, func() ([]etl.Record, error) { return readYAMLFile(cfg) })
}

func readYAMLFile(cfg etl.SourceConfig) ([]etl.Record, error) {
	filePath := configString(cfg, "filePath")
	if filePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	raw, err := decodeYAML(data)
	if err != nil {
		return nil, err
	}
	raw, err = navigatePath(raw, configString(cfg, "dataPath"))
	if err != nil {
		return nil, err
	}
	return toRecords(raw, configBool(cfg, "flatten", false))
}
