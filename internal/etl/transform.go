package etl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"recordpipe/internal/pipeline"
)

// ── Stage ──────────────────────────────────────────────────
// Stages modify records in-flight between source and destination.
// Each takes a record and returns a (possibly modified) record, whether
// to keep it, and an error that aborts the run.

// Stage processes a single record.
type Stage interface {
	Apply(Record) (Record, bool, error)
}

// StageFunc adapts a plain function to the Stage interface.
type StageFunc func(Record) (Record, bool, error)

func (f StageFunc) Apply(r Record) (Record, bool, error) { return f(r) }

// StageConfig is a declarative stage definition (stored as JSON).
type StageConfig struct {
	Type   string         `json:"type" yaml:"type"` // "filter" | "rename" | "select" | "limit"
	Config map[string]any `json:"config" yaml:"config"`
}

// ── Field pipelines ────────────────────────────────────────

// FieldPipelines runs a job's field specs through the pipeline transformer.
type FieldPipelines struct {
	Transformer *pipeline.Transformer
	Specs       pipeline.Specs
}

func (p *FieldPipelines) Apply(r Record) (Record, bool, error) {
	if len(p.Specs) == 0 {
		return r, true, nil
	}
	out, err := p.Transformer.Transform(r.Data, p.Specs)
	if err != nil {
		return r, false, err
	}
	return Record{Data: out}, true, nil
}

// ── Built-in stages ────────────────────────────────────────

// FilterStage drops records where the given field does not match the value.
type FilterStage struct {
	Field string
	Op    string // "eq" | "neq" | "gt" | "lt" | "contains" | "present" | "blank"
	Value any
}

func (t *FilterStage) Apply(r Record) (Record, bool, error) {
	v, ok := r.Data[t.Field]
	switch t.Op {
	case "present":
		return r, ok && !pipeline.IsBlank(v), nil
	case "blank":
		return r, !ok || pipeline.IsBlank(v), nil
	}
	if !ok {
		return r, false, nil
	}
	switch t.Op {
	case "eq":
		return r, cast.ToString(v) == cast.ToString(t.Value), nil
	case "neq":
		return r, cast.ToString(v) != cast.ToString(t.Value), nil
	case "contains":
		return r, strings.Contains(cast.ToString(v), cast.ToString(t.Value)), nil
	case "gt":
		return r, cast.ToFloat64(v) > cast.ToFloat64(t.Value), nil
	case "lt":
		return r, cast.ToFloat64(v) < cast.ToFloat64(t.Value), nil
	}
	return r, false, fmt.Errorf("filter: unknown op %q", t.Op)
}

var filterOps = map[string]bool{
	"eq": true, "neq": true, "gt": true, "lt": true,
	"contains": true, "present": true, "blank": true,
}

// RenameStage renames fields in a record.
type RenameStage struct {
	Mapping map[string]string // oldName -> newName
}

func (t *RenameStage) Apply(r Record) (Record, bool, error) {
	for _, old := range sortedKeys(t.Mapping) {
		if v, ok := r.Data[old]; ok {
			delete(r.Data, old)
			r.Data[t.Mapping[old]] = v
		}
	}
	return r, true, nil
}

// SelectStage keeps only the specified fields.
type SelectStage struct {
	Fields []string
}

func (t *SelectStage) Apply(r Record) (Record, bool, error) {
	filtered := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		if v, ok := r.Data[f]; ok {
			filtered[f] = v
		}
	}
	r.Data = filtered
	return r, true, nil
}

// DedupeStage drops records with duplicate values for the given key.
type DedupeStage struct {
	Key  string
	seen map[string]bool
}

func NewDedupeStage(key string) *DedupeStage {
	return &DedupeStage{Key: key, seen: make(map[string]bool)}
}

func (t *DedupeStage) Apply(r Record) (Record, bool, error) {
	v := cast.ToString(r.Data[t.Key])
	if t.seen[v] {
		return r, false, nil
	}
	t.seen[v] = true
	return r, true, nil
}

// LimitStage caps the number of records.
type LimitStage struct {
	Count int
	seen  int
}

func (t *LimitStage) Apply(r Record) (Record, bool, error) {
	t.seen++
	return r, t.seen <= t.Count, nil
}

// ── Building ───────────────────────────────────────────────

// BuildStages turns declarative configs into stages. Field pipelines run
// first, configured stages next, and dedupe last when a key is given.
// Stateful stages are created fresh on every call.
func BuildStages(tr *pipeline.Transformer, fields pipeline.Specs, configs []StageConfig, dedupeKey string) ([]Stage, error) {
	stages := []Stage{&FieldPipelines{Transformer: tr, Specs: fields}}

	for i, sc := range configs {
		st, err := buildStage(sc)
		if err != nil {
			return nil, fmt.Errorf("stage %d (%s): %w", i, sc.Type, err)
		}
		stages = append(stages, st)
	}

	if dedupeKey != "" {
		stages = append(stages, NewDedupeStage(dedupeKey))
	}
	return stages, nil
}

func buildStage(sc StageConfig) (Stage, error) {
	switch sc.Type {
	case "filter":
		field := cast.ToString(sc.Config["field"])
		op := cast.ToString(sc.Config["op"])
		if field == "" || op == "" {
			return nil, fmt.Errorf("field and op are required")
		}
		if !filterOps[op] {
			return nil, fmt.Errorf("unknown op %q", op)
		}
		return &FilterStage{Field: field, Op: op, Value: sc.Config["value"]}, nil

	case "rename":
		mapping, err := cast.ToStringMapStringE(sc.Config["mapping"])
		if err != nil || len(mapping) == 0 {
			return nil, fmt.Errorf("mapping is required")
		}
		return &RenameStage{Mapping: mapping}, nil

	case "select":
		fields, err := cast.ToStringSliceE(sc.Config["fields"])
		if err != nil || len(fields) == 0 {
			return nil, fmt.Errorf("fields is required")
		}
		return &SelectStage{Fields: fields}, nil

	case "limit":
		count, err := cast.ToIntE(sc.Config["count"])
		if err != nil || count <= 0 {
			return nil, fmt.Errorf("count must be a positive number")
		}
		return &LimitStage{Count: count}, nil
	}
	return nil, fmt.Errorf("unknown stage type %q", sc.Type)
}

// ApplyStages runs a chain of stages on a record.
func ApplyStages(r Record, stages []Stage) (Record, bool, error) {
	for _, st := range stages {
		var keep bool
		var err error
		r, keep, err = st.Apply(r)
		if err != nil || !keep {
			return r, false, err
		}
	}
	return r, true, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
