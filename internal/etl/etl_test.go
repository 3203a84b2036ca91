package etl_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordpipe/internal/etl"
	"recordpipe/internal/pipeline"
)

// memorySource serves the rows stored under cfg["rows"].
type memorySource struct{}

func (memorySource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:         "memory_test",
		Label:        "Memory",
		ConfigFields: []etl.ConfigField{{Key: "rows", Required: true}},
	}
}

func (memorySource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	return etl.InferSchema(rowsOf(cfg)), nil
}

func (memorySource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		for _, rec := range rowsOf(cfg) {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
		if msg, ok := cfg["fail"].(string); ok {
			errCh <- errors.New(msg)
		}
	}()
	return out, errCh
}

func rowsOf(cfg etl.SourceConfig) []etl.Record {
	rows, _ := cfg["rows"].([]map[string]any)
	records := make([]etl.Record, len(rows))
	for i, r := range rows {
		data := make(map[string]any, len(r))
		for k, v := range r {
			data[k] = v
		}
		records[i] = etl.Record{Data: data}
	}
	return records
}

func init() { etl.RegisterSource(memorySource{}) }

type fakeStore struct {
	mu       sync.Mutex
	datasets map[string][]map[string]any
	modes    []string
}

func (s *fakeStore) ReplaceOutputs(dataset string, _ *etl.Schema, rows []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.datasets == nil {
		s.datasets = map[string][]map[string]any{}
	}
	s.datasets[dataset] = rows
	s.modes = append(s.modes, "replace")
	return nil
}

func (s *fakeStore) AppendOutputs(dataset string, _ *etl.Schema, rows []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.datasets == nil {
		s.datasets = map[string][]map[string]any{}
	}
	s.datasets[dataset] = append(s.datasets[dataset], rows...)
	s.modes = append(s.modes, "append")
	return nil
}

func people() []map[string]any {
	return []map[string]any{
		{"name": "  ada ", "email": "ada@example.com", "phone": "(555) 010-1234", "age": 36},
		{"name": "grace", "email": "grace@example.com", "phone": "555.010.9999", "age": 85},
		{"name": "ada again", "email": "ada@example.com", "phone": "", "age": 36},
	}
}

func newEngine(store etl.OutputStore) *etl.Engine {
	return etl.NewEngine(pipeline.NewStandardRegistry(), pipeline.NewGuard(), store, nil)
}

func readJSONL(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

// ── Engine ─────────────────────────────────────────────────

func TestEngine_Run_JSONL(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out", "people.jsonl")
	job := &etl.Job{
		ID:         "job-1",
		SourceType: "memory_test",
		SourceCfg:  etl.SourceConfig{"rows": people()},
		Fields: pipeline.Specs{
			"name":  "trim|ucfirst",
			"phone": []any{"?", `preg_replace:/[^0-9]/,,:value:`},
		},
		DedupeKey: "email",
		Output:    etl.OutputConfig{Type: "jsonl", Target: target},
	}

	res, err := newEngine(nil).Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, etl.StatusSuccess, res.Status)
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, 3, res.RowsRead)
	assert.Equal(t, 1, res.RowsDropped)
	assert.Equal(t, 2, res.RowsWritten)

	rows := readJSONL(t, target)
	require.Len(t, rows, 2)
	assert.Equal(t, "Ada", rows[0]["name"])
	assert.Equal(t, "5550101234", rows[0]["phone"])
	assert.Equal(t, 36.0, rows[0]["age"])
	assert.Equal(t, "Grace", rows[1]["name"])

	// A second replace run overwrites the file.
	job.SourceCfg = etl.SourceConfig{"rows": people()[:1]}
	_, err = newEngine(nil).Run(context.Background(), job)
	require.NoError(t, err)
	assert.Len(t, readJSONL(t, target), 1)

	job.Output.Mode = etl.SyncAppend
	_, err = newEngine(nil).Run(context.Background(), job)
	require.NoError(t, err)
	assert.Len(t, readJSONL(t, target), 2)
}

func TestEngine_Run_Store(t *testing.T) {
	store := &fakeStore{}
	job := &etl.Job{
		SourceType: "memory_test",
		SourceCfg:  etl.SourceConfig{"rows": people()},
		Stages: []etl.StageConfig{
			{Type: "filter", Config: map[string]any{"field": "age", "op": "gt", "value": 50}},
			{Type: "rename", Config: map[string]any{"mapping": map[string]any{"email": "contact"}}},
			{Type: "select", Config: map[string]any{"fields": []any{"name", "contact"}}},
		},
		Output: etl.OutputConfig{Type: "store", Target: "seniors", Mode: etl.SyncAppend},
	}

	res, err := newEngine(store).Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsDropped)
	assert.Equal(t, []string{"append"}, store.modes)
	assert.Equal(t, []map[string]any{{"name": "grace", "contact": "grace@example.com"}}, store.datasets["seniors"])
}

func TestEngine_Run_FailFast(t *testing.T) {
	target := filepath.Join(t.TempDir(), "never.jsonl")
	rows := people()
	rows[1]["joined"] = "not a date"
	rows[0]["joined"] = "2020-05-24"
	rows[2]["joined"] = "2021-01-01"

	job := &etl.Job{
		ID:         "job-2",
		SourceType: "memory_test",
		SourceCfg:  etl.SourceConfig{"rows": rows},
		Fields:     pipeline.Specs{"joined": "Date|->toDateString"},
		Output:     etl.OutputConfig{Type: "jsonl", Target: target},
	}

	res, err := newEngine(nil).Run(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, etl.StatusError, res.Status)
	assert.Contains(t, res.Error, "record 2")
	assert.Equal(t, 0, res.RowsWritten)

	var se *pipeline.StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "joined", se.Field)

	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
}

func TestEngine_Run_SourceError(t *testing.T) {
	store := &fakeStore{}
	job := &etl.Job{
		SourceType: "memory_test",
		SourceCfg:  etl.SourceConfig{"rows": people(), "fail": "connection reset"},
		Output:     etl.OutputConfig{Type: "store", Target: "people"},
	}
	_, err := newEngine(store).Run(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read: connection reset")
	assert.Empty(t, store.modes)
}

func TestEngine_Validate(t *testing.T) {
	e := newEngine(nil)
	base := func() *etl.Job {
		return &etl.Job{
			SourceType: "memory_test",
			SourceCfg:  etl.SourceConfig{"rows": people()},
			Output:     etl.OutputConfig{Type: "jsonl", Target: "x.jsonl"},
		}
	}

	require.NoError(t, e.Validate(base()))

	tests := []struct {
		name   string
		mutate func(*etl.Job)
		want   string
	}{
		{"unknown source", func(j *etl.Job) { j.SourceType = "nope" }, "unknown source type"},
		{"missing config", func(j *etl.Job) { j.SourceCfg = etl.SourceConfig{} }, "rows is required"},
		{"unknown function", func(j *etl.Job) { j.Fields = pipeline.Specs{"a": "no_such_fn"} }, "fields"},
		{"bad stage", func(j *etl.Job) { j.Stages = []etl.StageConfig{{Type: "explode"}} }, "unknown stage type"},
		{"unknown output", func(j *etl.Job) { j.Output.Type = "store" }, "unknown output type"},
		{"unknown mode", func(j *etl.Job) { j.Output.Mode = "merge" }, "unknown output mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := base()
			tt.mutate(j)
			err := e.Validate(j)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEngine_AllowListIsPerJob(t *testing.T) {
	reg := pipeline.NewStandardRegistry()
	reg.RegisterFunc("shout", func(args ...any) (any, error) {
		return strings.ToUpper(fmt.Sprint(args[0])) + "!", nil
	})
	e := etl.NewEngine(reg, pipeline.NewGuard(), nil, nil)
	job := &etl.Job{
		SourceType: "memory_test",
		SourceCfg:  etl.SourceConfig{"rows": []map[string]any{{"word": "hey"}}},
		Fields:     pipeline.Specs{"word": "shout"},
		Output:     etl.OutputConfig{Type: "jsonl", Target: "x.jsonl"},
	}

	err := e.Validate(job)
	assert.True(t, errors.Is(err, pipeline.ErrGuarded))

	job.Allow = []string{"shout"}
	records, _, err := e.Preview(context.Background(), job, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "HEY!", records[0].Data["word"])

	// The engine guard itself is untouched.
	assert.False(t, e.Guard.Permits("shout"))
}

func TestEngine_JobAllowCannotEnableExtended(t *testing.T) {
	t.Setenv("RECORDPIPE_ETL_TEST", "secret")
	e := newEngine(nil)
	job := &etl.Job{
		SourceType: "memory_test",
		SourceCfg:  etl.SourceConfig{"rows": []map[string]any{{"token": "RECORDPIPE_ETL_TEST"}}},
		Fields:     pipeline.Specs{"token": "getenv"},
		Allow:      []string{"getenv"},
		Output:     etl.OutputConfig{Type: "store", Target: "t"},
	}

	err := e.Validate(job)
	assert.True(t, errors.Is(err, pipeline.ErrGuarded))
	_, _, err = e.Preview(context.Background(), job, 0)
	assert.True(t, errors.Is(err, pipeline.ErrGuarded))

	e.Guard.Allow("getenv")
	records, _, err := e.Preview(context.Background(), job, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "secret", records[0].Data["token"])
}

func TestEngine_Run_UsesClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	reg := pipeline.NewStandardRegistry()
	reg.RegisterFunc("slow", func(args ...any) (any, error) {
		clock.Advance(2 * time.Second)
		return args[0], nil
	})
	e := etl.NewEngine(reg, pipeline.NewGuard(), &fakeStore{}, nil)
	e.Clock = clock

	job := &etl.Job{
		SourceType: "memory_test",
		SourceCfg:  etl.SourceConfig{"rows": people()},
		Fields:     pipeline.Specs{"name": "slow"},
		Allow:      []string{"slow"},
		Output:     etl.OutputConfig{Type: "store", Target: "people"},
	}
	res, err := e.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 6*time.Second, res.Duration)
}

func TestEngine_Preview_StopsAtMaxRows(t *testing.T) {
	rows := make([]map[string]any, 50)
	for i := range rows {
		rows[i] = map[string]any{"n": i}
	}
	job := &etl.Job{SourceType: "memory_test", SourceCfg: etl.SourceConfig{"rows": rows}}

	records, schema, err := newEngine(nil).Preview(context.Background(), job, 0)
	require.NoError(t, err)
	assert.Len(t, records, 10)
	assert.Equal(t, []etl.Field{{Name: "n", Type: "number"}}, schema.Fields)

	records, _, err = newEngine(nil).Preview(context.Background(), job, 3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestEngine_Run_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := &etl.Job{
		SourceType: "memory_test",
		SourceCfg:  etl.SourceConfig{"rows": people()},
		Output:     etl.OutputConfig{Type: "store", Target: "t"},
	}
	_, err := newEngine(&fakeStore{}).Run(ctx, job)
	require.Error(t, err)
}

// ── Stages ─────────────────────────────────────────────────

func TestFilterStage(t *testing.T) {
	rec := etl.Record{Data: map[string]any{"age": 36, "name": "Ada", "note": "  "}}
	tests := []struct {
		f    etl.FilterStage
		keep bool
	}{
		{etl.FilterStage{Field: "name", Op: "eq", Value: "Ada"}, true},
		{etl.FilterStage{Field: "name", Op: "neq", Value: "Ada"}, false},
		{etl.FilterStage{Field: "age", Op: "eq", Value: "36"}, true},
		{etl.FilterStage{Field: "age", Op: "gt", Value: 30}, true},
		{etl.FilterStage{Field: "age", Op: "lt", Value: "30"}, false},
		{etl.FilterStage{Field: "name", Op: "contains", Value: "d"}, true},
		{etl.FilterStage{Field: "note", Op: "present"}, false},
		{etl.FilterStage{Field: "note", Op: "blank"}, true},
		{etl.FilterStage{Field: "missing", Op: "blank"}, true},
		{etl.FilterStage{Field: "missing", Op: "eq", Value: ""}, false},
	}
	for _, tt := range tests {
		_, keep, err := tt.f.Apply(rec)
		require.NoError(t, err)
		assert.Equal(t, tt.keep, keep, "%s %s %v", tt.f.Field, tt.f.Op, tt.f.Value)
	}
}

func TestBuildStages(t *testing.T) {
	stages, err := etl.BuildStages(nil, nil, []etl.StageConfig{
		{Type: "rename", Config: map[string]any{"mapping": map[string]string{"a": "b"}}},
		{Type: "limit", Config: map[string]any{"count": 2.0}},
	}, "b")
	require.NoError(t, err)
	require.Len(t, stages, 4)

	kept := 0
	for _, v := range []string{"x", "x", "y", "z"} {
		out, keep, err := etl.ApplyStages(etl.Record{Data: map[string]any{"a": v}}, stages)
		require.NoError(t, err)
		if keep {
			kept++
			assert.Equal(t, map[string]any{"b": v}, out.Data)
		}
	}
	assert.Equal(t, 1, kept)

	bad := []etl.StageConfig{
		{Type: "filter", Config: map[string]any{"field": "a"}},
		{Type: "filter", Config: map[string]any{"field": "a", "op": "like"}},
		{Type: "rename", Config: map[string]any{}},
		{Type: "select", Config: map[string]any{"fields": []any{}}},
		{Type: "limit", Config: map[string]any{"count": 0}},
		{Type: "sort"},
	}
	for _, sc := range bad {
		_, err := etl.BuildStages(nil, nil, []etl.StageConfig{sc}, "")
		assert.Error(t, err, sc.Type)
	}
}

// ── Schema ─────────────────────────────────────────────────

func TestInferSchema(t *testing.T) {
	schema := etl.InferSchema([]etl.Record{
		{Data: map[string]any{"b": nil, "a": "x"}},
		{Data: map[string]any{"b": 2.5, "c": true, "d": []any{1}, "e": time.Now()}},
		{Data: map[string]any{"f": nil, "g": pipeline.NewDate(time.Now())}},
	})
	assert.Equal(t, []etl.Field{
		{Name: "a", Type: "text"},
		{Name: "b", Type: "number"},
		{Name: "c", Type: "boolean"},
		{Name: "d", Type: "json"},
		{Name: "e", Type: "datetime"},
		{Name: "f", Type: "text"},
		{Name: "g", Type: "datetime"},
	}, schema.Fields)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g"}, schema.FieldNames())
}

func TestListSources_IncludesRegistered(t *testing.T) {
	found := false
	for _, s := range etl.ListSources() {
		if s.Type == "memory_test" {
			found = true
		}
	}
	assert.True(t, found)
	_, err := etl.GetSource("nope")
	assert.Error(t, err)
}

// ── Destinations ───────────────────────────────────────────

func TestJSONLWriter_FailedEncodeKeepsTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.jsonl")
	require.NoError(t, os.WriteFile(target, []byte("{\"old\":true}\n"), 0o644))

	records := []etl.Record{
		{Data: map[string]any{"v": 1}},
		{Data: map[string]any{"v": math.NaN()}},
	}
	w := &etl.JSONLWriter{}
	for _, mode := range []etl.SyncMode{etl.SyncReplace, etl.SyncAppend} {
		n, err := w.Write(context.Background(), target, nil, records, mode)
		require.Error(t, err, mode)
		assert.Zero(t, n, mode)

		data, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, "{\"old\":true}\n", string(data), mode)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestJSONLWriter_ReplaceAndAppend(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "out.jsonl")
	w := &etl.JSONLWriter{}

	n, err := w.Write(context.Background(), target, nil, []etl.Record{{Data: map[string]any{"a": 1}}}, etl.SyncReplace)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = w.Write(context.Background(), target, nil, []etl.Record{{Data: map[string]any{"a": 2}}}, etl.SyncAppend)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []map[string]any{{"a": 1.0}, {"a": 2.0}}, readJSONL(t, target))

	_, err = w.Write(context.Background(), target, nil, []etl.Record{{Data: map[string]any{"a": 3}}}, etl.SyncReplace)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"a": 3.0}}, readJSONL(t, target))

	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEngine_Run_EncodeFailureKeepsPreviousOutput(t *testing.T) {
	target := filepath.Join(t.TempDir(), "people.jsonl")
	require.NoError(t, os.WriteFile(target, []byte("{\"name\":\"previous\"}\n"), 0o644))

	job := &etl.Job{
		SourceType: "memory_test",
		SourceCfg:  etl.SourceConfig{"rows": []map[string]any{{"name": "ada", "score": math.Inf(1)}}},
		Output:     etl.OutputConfig{Type: "jsonl", Target: target},
	}
	res, err := newEngine(nil).Run(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, etl.StatusError, res.Status)
	assert.Equal(t, []map[string]any{{"name": "previous"}}, readJSONL(t, target))
}
