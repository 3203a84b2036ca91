package sources

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cast"

	"recordpipe/internal/etl"
)

// ── CSV File Source ─────────────────────────────────────────
// Reads records from a local CSV file. Cells stay strings unless
// inferTypes is set, so field pipelines decide how to convert them.

type csvFileSource struct{}

func init() { etl.RegisterSource(&csvFileSource{}) }

func (s *csvFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "csv_file",
		Label: "CSV File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Type: "file", Required: true, Help: "Path to the CSV file"},
			{Key: "delimiter", Label: "Delimiter", Type: "string", Default: ",", Help: "Column delimiter (default: comma)"},
			{Key: "hasHeader", Label: "Has Header", Type: "bool", Default: "true", Help: "Whether the first row contains column names"},
			{Key: "inferTypes", Label: "Infer Types", Type: "bool", Default: "false", Help: "Convert numeric and boolean cells"},
		},
	}
}

func (s *csvFileSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	headers, rows, err := readCSVFile(cfg)
	if err != nil {
		return nil, err
	}

	infer := configBool(cfg, "inferTypes", false)
	schema := &etl.Schema{Fields: make([]etl.Field, len(headers))}
	for i, h := range headers {
		typ := "text"
		if infer && len(rows) > 0 && i < len(rows[0]) {
			typ = etl.InferType(inferCSVValue(rows[0][i]))
		}
		schema.Fields[i] = etl.Field{Name: h, Type: typ}
	}
	return schema, nil
}

func (s *csvFileSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	return emitAll(ctx, func() ([]etl.Record, error) {
		headers, rows, err := readCSVFile(cfg)
		if err != nil {
			return nil, err
		}
		return csvRecords(headers, rows, configBool(cfg, "inferTypes", false)), nil
	})
}

func readCSVFile(cfg etl.SourceConfig) ([]string, [][]string, error) {
	filePath := configString(cfg, "filePath")
	if filePath == "" {
		return nil, nil, fmt.Errorf("filePath is required")
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var comma rune
	if delim := cast.ToString(cfg["delimiter"]); delim != "" {
		if delim == `\t` {
			delim = "\t"
		}
		comma, _ = utf8.DecodeRuneInString(delim)
	}
	headers, rows, err := decodeCSV(f, comma, configBool(cfg, "hasHeader", true))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return headers, rows, nil
}

// inferCSVValue tries to parse a string as a number or bool.
func inferCSVValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}
	return s
}
