package pipeline

import (
	"errors"
	"io"
	"log/slog"
	"sort"
)

// Record is one row of data: field name to value.
type Record = map[string]any

// Specs maps a field name to its pipeline spec (see Parse).
type Specs = map[string]any

// Transformer applies field pipelines to records.
type Transformer struct {
	registry   *Registry
	guard      *Guard
	registered *Guard
	log        *slog.Logger
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithRegistry sets the registry names are resolved against.
func WithRegistry(r *Registry) Option {
	return func(t *Transformer) { t.registry = r }
}

// WithGuard sets the guard. Without it the Transformer uses DefaultGuard.
func WithGuard(g *Guard) Option {
	return func(t *Transformer) { t.guard = g }
}

// WithLogger sets the logger used for debug tracing.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transformer) { t.log = l }
}

// New returns a Transformer backed by the standard registry and
// DefaultGuard unless overridden.
func New(opts ...Option) *Transformer {
	t := &Transformer{registered: NewGuard()}
	for _, opt := range opts {
		opt(t)
	}
	if t.registry == nil {
		t.registry = NewStandardRegistry()
	}
	if t.guard == nil {
		t.guard = DefaultGuard
	}
	if t.log == nil {
		t.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return t
}

// Registry returns the transformer's registry.
func (t *Transformer) Registry() *Registry { return t.registry }

// Guard returns the transformer's guard.
func (t *Transformer) Guard() *Guard { return t.guard }

// Register adds a custom function to the registry and lets this
// transformer resolve it regardless of the guard's mode. The guard, which
// may be the shared DefaultGuard, is left untouched: other transformers on
// the same registry still need the name allowed.
func (t *Transformer) Register(name string, fn Func) {
	t.registry.RegisterFunc(name, fn)
	t.registered.Allow(name)
}

func (t *Transformer) resolver() *Resolver {
	r := NewResolver(t.registry, t.guard)
	r.Registered = t.registered
	return r
}

// Transform returns a new record with every field in specs rewritten by its
// pipeline. Maps and slices in the result never alias the input's. Fields without a spec are copied unchanged and specs for fields
// absent from the record are ignored. All pipelines are resolved before any
// step runs; the first error aborts the call and no record is returned.
func (t *Transformer) Transform(record Record, specs Specs) (Record, error) {
	fields := make([]string, 0, len(specs))
	for f := range specs {
		if _, ok := record[f]; ok {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)

	resolver := t.resolver()
	plans := make(map[string][]Step, len(fields))
	for _, f := range fields {
		steps, err := Parse(specs[f], resolver)
		if err != nil {
			return nil, withField(err, f)
		}
		plans[f] = steps
	}

	out := make(Record, len(record))
	for k, v := range record {
		if _, ok := plans[k]; !ok {
			out[k] = cloneValue(v)
		}
	}
	for _, f := range fields {
		v, err := run(t.log, f, plans[f], cloneValue(record[f]))
		if err != nil {
			return nil, err
		}
		out[f] = v
	}

	t.log.Debug("record transformed", "fields", len(fields))
	return out, nil
}

// TransformValue applies a single pipeline to one value.
func (t *Transformer) TransformValue(value any, spec any) (any, error) {
	steps, err := Parse(spec, t.resolver())
	if err != nil {
		return nil, err
	}
	return run(t.log, "", steps, value)
}

// Validate resolves every spec without running anything, reporting the
// first resolution error.
func (t *Transformer) Validate(specs Specs) error {
	fields := make([]string, 0, len(specs))
	for f := range specs {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	resolver := t.resolver()
	for _, f := range fields {
		if _, err := Parse(specs[f], resolver); err != nil {
			return withField(err, f)
		}
	}
	return nil
}

func withField(err error, field string) error {
	var se *StepError
	if errors.As(err, &se) && se.Field == "" {
		se.Field = field
	}
	return err
}
