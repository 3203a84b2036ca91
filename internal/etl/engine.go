package etl

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"recordpipe/internal/pipeline"
)

// ── Engine ─────────────────────────────────────────────────

// Engine runs jobs using the registered sources, a function registry
// and a set of destinations keyed by output type.
type Engine struct {
	Registry     *pipeline.Registry
	Guard        *pipeline.Guard
	Destinations map[string]Destination
	Log          *slog.Logger
	Clock        clockwork.Clock
}

// NewEngine returns an engine with the built-in jsonl destination and,
// when store is non-nil, the store destination.
func NewEngine(reg *pipeline.Registry, guard *pipeline.Guard, store OutputStore, log *slog.Logger) *Engine {
	dests := map[string]Destination{"jsonl": &JSONLWriter{}}
	if store != nil {
		dests["store"] = &StoreWriter{Store: store}
	}
	return &Engine{Registry: reg, Guard: guard, Destinations: dests, Log: log, Clock: clockwork.NewRealClock()}
}

func (e *Engine) clock() clockwork.Clock {
	if e.Clock == nil {
		return clockwork.NewRealClock()
	}
	return e.Clock
}

func (e *Engine) logger() *slog.Logger {
	if e.Log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.Log
}

// Transformer returns a transformer sharing the engine registry whose guard
// copies the engine guard and additionally permits allow. allow comes from
// jobs and spec documents, so extended names in it are ignored; only the
// engine guard can let those through.
func (e *Engine) Transformer(allow []string) *pipeline.Transformer {
	base := e.Guard
	if base == nil {
		base = pipeline.DefaultGuard
	}
	reg := e.Registry
	if reg == nil {
		reg = pipeline.NewStandardRegistry()
	}
	g := pipeline.NewGuard()
	if !base.IsEnabled() {
		g.Disable()
	}
	g.Allow(base.AllowList()...)
	if refused := g.AllowUntrusted(reg, allow...); len(refused) > 0 {
		e.logger().Warn("ignoring extended functions in allow list", "names", refused)
	}

	return pipeline.New(
		pipeline.WithRegistry(reg),
		pipeline.WithGuard(g),
		pipeline.WithLogger(e.logger()),
	)
}

// Validate checks a job without reading from its source: the source type
// and required config, every field spec, the stages and the output.
func (e *Engine) Validate(job *Job) error {
	source, err := GetSource(job.SourceType)
	if err != nil {
		return err
	}
	if err := source.Spec().CheckRequired(job.SourceCfg); err != nil {
		return err
	}
	if err := e.Transformer(job.Allow).Validate(job.Fields); err != nil {
		return fmt.Errorf("fields: %w", err)
	}
	if _, err := BuildStages(nil, nil, job.Stages, job.DedupeKey); err != nil {
		return err
	}
	if _, err := e.destination(job.Output); err != nil {
		return err
	}
	return nil
}

func (e *Engine) destination(out OutputConfig) (Destination, error) {
	d, ok := e.Destinations[out.Type]
	if !ok {
		return nil, fmt.Errorf("unknown output type: %q", out.Type)
	}
	switch out.Mode {
	case "", SyncReplace, SyncAppend:
	default:
		return nil, fmt.Errorf("unknown output mode: %q", out.Mode)
	}
	return d, nil
}

// Run executes a job end-to-end. The first failing record aborts the run
// and nothing is written.
func (e *Engine) Run(ctx context.Context, job *Job) (*RunResult, error) {
	clock := e.clock()
	start := clock.Now()
	result := &RunResult{JobID: job.ID}
	fail := func(err error) (*RunResult, error) {
		result.Status = StatusError
		result.Error = err.Error()
		result.Duration = clock.Since(start)
		e.logger().Warn("job failed", "job", job.ID, "error", err)
		return result, err
	}

	if err := e.Validate(job); err != nil {
		return fail(err)
	}
	dest, _ := e.destination(job.Output)

	records, err := e.collect(ctx, job, 0, result)
	if err != nil {
		return fail(err)
	}

	schema := InferSchema(records)
	mode := job.Output.Mode
	if mode == "" {
		mode = SyncReplace
	}
	written, err := dest.Write(ctx, job.Output.Target, schema, records, mode)
	if err != nil {
		return fail(fmt.Errorf("write: %w", err))
	}

	result.Status = StatusSuccess
	result.RowsWritten = written
	result.Duration = clock.Since(start)
	e.logger().Info("job finished", "job", job.ID, "read", result.RowsRead, "written", written, "duration", result.Duration)
	return result, nil
}

// Preview reads and transforms up to maxRows records without writing them.
func (e *Engine) Preview(ctx context.Context, job *Job, maxRows int) ([]Record, *Schema, error) {
	source, err := GetSource(job.SourceType)
	if err != nil {
		return nil, nil, err
	}
	if err := source.Spec().CheckRequired(job.SourceCfg); err != nil {
		return nil, nil, err
	}
	if maxRows <= 0 {
		maxRows = 10
	}
	records, err := e.collect(ctx, job, maxRows, &RunResult{})
	if err != nil {
		return records, nil, err
	}
	return records, InferSchema(records), nil
}

// collect reads the source and applies every stage. A maxRows of zero
// reads everything.
func (e *Engine) collect(ctx context.Context, job *Job, maxRows int, result *RunResult) ([]Record, error) {
	source, err := GetSource(job.SourceType)
	if err != nil {
		return nil, err
	}
	stages, err := BuildStages(e.Transformer(job.Allow), job.Fields, job.Stages, job.DedupeKey)
	if err != nil {
		return nil, err
	}

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	recCh, errCh := source.Read(readCtx, job.SourceCfg)

	stop := func() {
		cancel()
		for range recCh {
		}
	}

	var records []Record
	for rec := range recCh {
		result.RowsRead++
		out, keep, err := ApplyStages(rec, stages)
		if err != nil {
			stop()
			return nil, fmt.Errorf("record %d: %w", result.RowsRead, err)
		}
		if !keep {
			result.RowsDropped++
			continue
		}
		records = append(records, out)
		if maxRows > 0 && len(records) >= maxRows {
			stop()
			return records, nil
		}
	}

	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
