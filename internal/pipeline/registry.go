package pipeline

import (
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Tier classifies registry entries for the Guard.
type Tier int

const (
	// Safe entries resolve under an Enforced guard.
	Safe Tier = iota
	// Custom entries resolve under an Enforced guard only once allowed.
	Custom
	// Extended entries reach outside the value (environment, files) and
	// should only be resolved by vetted pipelines.
	Extended
)

func (t Tier) String() string {
	switch t {
	case Safe:
		return "safe"
	case Custom:
		return "custom"
	case Extended:
		return "extended"
	}
	return "unknown"
}

type entry struct {
	fn   Func
	tier Tier
}

// Entry describes a registered name for listings.
type Entry struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // "function" | "type"
	Tier string `json:"tier"`
}

// Registry is the closed table of names a pipeline can resolve.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]entry
	types map[string]entry
	clock clockwork.Clock
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock sets the clock used by time-dependent builtins such as Date.
func WithClock(c clockwork.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		funcs: make(map[string]entry),
		types: make(map[string]entry),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewStandardRegistry returns a registry holding the builtin functions and
// types.
func NewStandardRegistry(opts ...RegistryOption) *Registry {
	r := NewRegistry(opts...)
	registerBuiltins(r)
	registerExtended(r)
	r.registerType("Date", Safe, r.newDate)
	r.registerType("Str", Safe, newStr)
	return r
}

// Clock returns the registry's clock.
func (r *Registry) Clock() clockwork.Clock { return r.clock }

// RegisterFunc registers a custom function. Under an Enforced guard it must
// also be allowed before it resolves.
func (r *Registry) RegisterFunc(name string, fn Func) {
	r.registerFunc(name, Custom, fn)
}

// RegisterExtendedFunc registers a function that only resolves once the
// guard is disabled (or the name is explicitly allowed).
func (r *Registry) RegisterExtendedFunc(name string, fn Func) {
	r.registerFunc(name, Extended, fn)
}

// RegisterType registers a custom constructible type.
func (r *Registry) RegisterType(name string, ctor Func) {
	r.registerType(name, Custom, ctor)
}

func (r *Registry) registerFunc(name string, tier Tier, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = entry{fn: fn, tier: tier}
}

func (r *Registry) registerType(name string, tier Tier, ctor Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[name] = entry{fn: ctor, tier: tier}
}

// LookupFunc returns the function registered under name.
func (r *Registry) LookupFunc(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.funcs[name]
	return e.fn, ok
}

// LookupType returns the constructor registered under name.
func (r *Registry) LookupType(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.types[name]
	return e.fn, ok
}

// TierOf returns the tier name is registered under. Types shadow functions.
func (r *Registry) TierOf(name string) (Tier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.types[name]; ok {
		return e.tier, true
	}
	if e, ok := r.funcs[name]; ok {
		return e.tier, true
	}
	return 0, false
}

// IsSafe reports whether name is registered in the Safe tier.
func (r *Registry) IsSafe(name string) bool {
	tier, ok := r.TierOf(name)
	return ok && tier == Safe
}

// Entries lists every registered name sorted by name.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.funcs)+len(r.types))
	for n, e := range r.types {
		out = append(out, Entry{Name: n, Kind: "type", Tier: e.tier.String()})
	}
	for n, e := range r.funcs {
		out = append(out, Entry{Name: n, Kind: "function", Tier: e.tier.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
