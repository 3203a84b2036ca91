package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"recordpipe/internal/config"
	"recordpipe/internal/etl/sources"
	"recordpipe/internal/pipeline"
	"recordpipe/internal/specfile"
)

type TransformCmd struct{}

func NewTransformCmd() *TransformCmd {
	return &TransformCmd{}
}

func (c *TransformCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Transform records from a file or stdin with a spec document",
		Example: `  recordpipe transform --spec people.yaml --input people.csv
  cat users.json | recordpipe transform --spec users.yaml --format json --output jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			specPath, err := cmd.Flags().GetString("spec")
			if err != nil {
				return fmt.Errorf("failed to get spec flag: %w", err)
			}
			inputPath, err := cmd.Flags().GetString("input")
			if err != nil {
				return fmt.Errorf("failed to get input flag: %w", err)
			}
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}
			output, err := cmd.Flags().GetString("output")
			if err != nil {
				return fmt.Errorf("failed to get output flag: %w", err)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

			doc, err := specfile.LoadFile(specPath)
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if inputPath != "" && inputPath != "-" {
				f, err := os.Open(inputPath)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
				if format == "" {
					format = formatFromPath(inputPath)
				}
			}
			if format == "" {
				format = "json"
			}

			records, err := readRecords(in, format)
			if err != nil {
				return err
			}

			tr := newTransformer(cfg, doc.Allow, log)
			out := make([]pipeline.Record, 0, len(records))
			for i, r := range records {
				rec, err := tr.Transform(r, doc.Fields)
				if err != nil {
					return fmt.Errorf("record %d: %w", i+1, err)
				}
				out = append(out, rec)
			}
			log.Debug("transformed records", "count", len(out))

			return writeRecords(cmd.OutOrStdout(), out, output)
		},
	}

	cmd.Flags().String("spec", "", "spec document (YAML or JSON)")
	cmd.Flags().String("input", "", "input file (default: stdin)")
	cmd.Flags().String("format", "", "input format: "+strings.Join(sources.Formats, ", ")+" (default: from file extension)")
	cmd.Flags().String("output", "json", "output format: json, jsonl or yaml")
	_ = cmd.MarkFlagRequired("spec")
	return cmd
}

// newTransformer builds a transformer whose guard reflects cfg and the
// document's allow list. Extended names only count when they come from cfg.
func newTransformer(cfg *config.Config, allow []string, log *slog.Logger) *pipeline.Transformer {
	reg := pipeline.NewStandardRegistry()
	g := pipeline.NewGuard()
	if cfg.Unguard {
		g.Disable()
	}
	g.Allow(cfg.Allow...)
	if refused := g.AllowUntrusted(reg, allow...); len(refused) > 0 {
		log.Warn("ignoring extended functions in spec allow list; use --allow", "names", refused)
	}
	return pipeline.New(
		pipeline.WithRegistry(reg),
		pipeline.WithGuard(g),
		pipeline.WithLogger(log),
	)
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		return "csv"
	case ".jsonl", ".ndjson":
		return "jsonl"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// readRecords decodes the input with the same decoders the file sources
// use.
func readRecords(r io.Reader, format string) ([]pipeline.Record, error) {
	records, err := sources.Decode(r, format)
	if err != nil {
		return nil, err
	}
	out := make([]pipeline.Record, len(records))
	for i, rec := range records {
		out[i] = rec.Data
	}
	return out, nil
}

func writeRecords(w io.Writer, records []pipeline.Record, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "jsonl":
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	case "yaml":
		// Values such as Date only know how to render themselves as JSON.
		data, err := json.Marshal(records)
		if err != nil {
			return err
		}
		var plain any
		if err := json.Unmarshal(data, &plain); err != nil {
			return err
		}
		return yaml.NewEncoder(w).Encode(plain)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
