package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordpipe/internal/pipeline"
	"recordpipe/internal/storage"
)

type harness struct {
	dir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{dir: t.TempDir()}
}

func (h *harness) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (h *harness) run(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	base := []string{"--env-file", filepath.Join(h.dir, "missing.env"), "--data-dir", filepath.Join(h.dir, "data")}
	cmd.SetArgs(append(base, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestTransform_CSVFile(t *testing.T) {
	h := newHarness(t)
	spec := h.write(t, "people.yaml", "name: trim|ucwords\nphone: 'preg_replace:/[^0-9]/,,:value:'\n")
	input := h.write(t, "people.csv", "name,phone\n  ada lovelace ,(555) 010-2030\nalan turing,555.123\n")

	out, err := h.run(t, nil, "transform", "--spec", spec, "--input", input)
	require.NoError(t, err)

	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "Ada Lovelace", records[0]["name"])
	assert.Equal(t, "5550102030", records[0]["phone"])
	assert.Equal(t, "555123", records[1]["phone"])
}

func TestTransform_StdinJSONToJSONL(t *testing.T) {
	h := newHarness(t)
	spec := h.write(t, "spec.json", `{"fields": {"email": ["trim", "strtolower"]}}`)

	out, err := h.run(t, strings.NewReader(`[{"email": " A@B.COM ", "n": 3}, {"email": "c@d.com"}]`),
		"transform", "--spec", spec, "--output", "jsonl")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"email": "a@b.com", "n": 3}`, lines[0])
	assert.JSONEq(t, `{"email": "c@d.com"}`, lines[1])
}

func TestTransform_GuardedFunction(t *testing.T) {
	h := newHarness(t)
	t.Setenv("RECORDPIPE_CLI_TEST", "secret-value")
	spec := h.write(t, "spec.yaml", "key: getenv\n")
	input := `{"key": "RECORDPIPE_CLI_TEST"}`

	_, err := h.run(t, strings.NewReader(input), "transform", "--spec", spec)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrGuarded)

	out, err := h.run(t, strings.NewReader(input), "transform", "--spec", spec, "--allow", "getenv", "--output", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "key: secret-value")
}

func TestTransform_SpecAllowCannotEnableExtended(t *testing.T) {
	h := newHarness(t)
	t.Setenv("RECORDPIPE_CLI_TEST", "secret-value")
	spec := h.write(t, "spec.yaml", "fields:\n  key: getenv\nallow: [getenv]\n")
	input := `{"key": "RECORDPIPE_CLI_TEST"}`

	out, err := h.run(t, strings.NewReader(input), "transform", "--spec", spec)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrGuarded)
	assert.NotContains(t, out, "secret-value")

	out, err = h.run(t, strings.NewReader(input), "transform", "--spec", spec, "--allow", "getenv", "--output", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "key: secret-value")
}

func TestTransform_RecordErrorNamesRecord(t *testing.T) {
	h := newHarness(t)
	spec := h.write(t, "spec.yaml", "joined: Date\n")

	_, err := h.run(t, strings.NewReader(`[{"joined": "2020-05-24"}, {"joined": "nope"}]`), "transform", "--spec", spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 2")
}

func TestFunctions(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, nil, "functions")
	require.NoError(t, err)

	var trimLine, getenvLine string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "trim":
			trimLine = line
		case "getenv":
			getenvLine = line
		}
	}
	assert.Contains(t, trimLine, "yes")
	assert.Contains(t, getenvLine, "extended")
	assert.Contains(t, getenvLine, "no")
}

func TestJobs_CreateRunAndRead(t *testing.T) {
	h := newHarness(t)
	input := h.write(t, "people.csv", "name,email\n  ada ,ADA@EXAMPLE.COM\n")
	def := h.write(t, "job.yaml", `name: people
sourceType: csv_file
sourceConfig:
  filePath: `+input+`
fields:
  name: trim|ucfirst
  email: strtolower
output:
  type: store
  target: people
`)

	out, err := h.run(t, nil, "jobs", "create", "-f", def)
	require.NoError(t, err)
	assert.Contains(t, out, "created job people")

	out, err = h.run(t, nil, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "store:people")

	out, err = h.run(t, nil, "jobs", "run", "people")
	require.NoError(t, err)
	assert.Contains(t, out, "success: read 1, dropped 0, wrote 1")

	out, err = h.run(t, nil, "datasets", "read", "people")
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada", rows[0]["name"])
	assert.Equal(t, "ada@example.com", rows[0]["email"])

	out, err = h.run(t, nil, "jobs", "logs", "people")
	require.NoError(t, err)
	assert.Contains(t, out, "manual")

	out, err = h.run(t, nil, "jobs", "preview", "people", "--rows", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"Ada"`)

	_, err = h.run(t, nil, "jobs", "delete", "people")
	require.NoError(t, err)
	_, err = h.run(t, nil, "jobs", "show", "people")
	assert.Error(t, err)
}

func TestJobs_CreateRejectsInvalidDefinition(t *testing.T) {
	h := newHarness(t)
	def := h.write(t, "job.json", `{"name": "bad", "sourceType": "ftp", "output": {"type": "store", "target": "x"}}`)

	_, err := h.run(t, nil, "jobs", "create", "-f", def)
	require.Error(t, err)
}

func TestApprovals_Resolve(t *testing.T) {
	h := newHarness(t)
	dataDir := filepath.Join(h.dir, "data")

	db, err := storage.New(filepath.Join(dataDir, "recordpipe.db"))
	require.NoError(t, err)
	approvals := storage.NewApprovalStore(db)
	pa := &storage.PendingApproval{Tool: "run_job", Description: "Run job people"}
	require.NoError(t, approvals.Create(pa))
	require.NoError(t, db.Close())

	out, err := h.run(t, nil, "approvals", "list")
	require.NoError(t, err)
	assert.Contains(t, out, pa.ID)
	assert.Contains(t, out, "Run job people")

	out, err = h.run(t, nil, "approvals", "reject", pa.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "rejected "+pa.ID)

	_, err = h.run(t, nil, "approvals", "approve", pa.ID)
	assert.Error(t, err, "only pending actions can be resolved")

	db, err = storage.New(filepath.Join(dataDir, "recordpipe.db"))
	require.NoError(t, err)
	defer db.Close()
	status, err := storage.NewApprovalStore(db).Status(pa.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.ApprovalRejected, status)
}

func TestConnections_AddListDelete(t *testing.T) {
	h := newHarness(t)
	ext := filepath.Join(h.dir, "ext.db")

	out, err := h.run(t, nil, "connections", "add", "local", "--driver", "sqlite", "--host", ext)
	require.NoError(t, err)
	assert.Contains(t, out, "created connection local")
	assert.Contains(t, out, "RECORDPIPE_SECRET_DB_")

	out, err = h.run(t, nil, "connections", "test", "local")
	require.NoError(t, err)
	assert.Contains(t, out, "connection OK")

	out, err = h.run(t, nil, "connections", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite")

	_, err = h.run(t, nil, "connections", "add", "bad", "--driver", "oracle", "--host", "x")
	require.Error(t, err)

	_, err = h.run(t, nil, "connections", "add", "pw", "--driver", "postgres", "--host", "pg", "--password-env", "RECORDPIPE_CLI_UNSET_PW")
	assert.ErrorContains(t, err, "RECORDPIPE_CLI_UNSET_PW")

	_, err = h.run(t, nil, "connections", "delete", "local")
	require.NoError(t, err)
}

// ── Record decoding ────────────────────────────────────────

func TestReadRecords(t *testing.T) {
	recs, err := readRecords(strings.NewReader("{\"a\": 1}\n\n{\"a\": 2.5}\n"), "jsonl")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0]["a"])
	assert.Equal(t, 2.5, recs[1]["a"])

	recs, err = readRecords(strings.NewReader("- a: 1\n- a: two\n"), "yaml")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0]["a"])

	recs, err = readRecords(strings.NewReader("a,b\n1\n"), "csv")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, pipeline.Record{"a": "1"}, recs[0])

	recs, err = readRecords(strings.NewReader(`{"n": 2, "f": 2.5, "nested": [1]}`), "json")
	require.NoError(t, err)
	assert.Equal(t, int64(2), recs[0]["n"])
	assert.Equal(t, 2.5, recs[0]["f"])
	assert.Equal(t, []any{int64(1)}, recs[0]["nested"])

	_, err = readRecords(strings.NewReader(`[1, 2]`), "json")
	assert.ErrorContains(t, err, "item 0")

	_, err = readRecords(strings.NewReader("{\"a\": 1}\nnot json\n"), "jsonl")
	assert.ErrorContains(t, err, "line 2")

	_, err = readRecords(strings.NewReader(""), "xml")
	assert.ErrorContains(t, err, "unknown input format")
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, "csv", formatFromPath("a.CSV"))
	assert.Equal(t, "jsonl", formatFromPath("a.ndjson"))
	assert.Equal(t, "yaml", formatFromPath("a.yml"))
	assert.Equal(t, "json", formatFromPath("a.txt"))
}
