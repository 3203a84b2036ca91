package pipeline

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Guard is the allow-list policy for name-resolved steps.
//
// An Enforced guard (the zero value and the default) lets a name resolve
// only if the registry marks it safe or it has been passed to Allow. A
// Disabled guard lets every registered name resolve, including extended
// adapters. Configure a Guard once during trusted initialization; flipping
// it while transformations are running gives those runs an unspecified mix
// of both policies.
type Guard struct {
	disabled atomic.Bool

	mu      sync.RWMutex
	allowed map[string]struct{}
}

// DefaultGuard is the process-wide guard used by Transformers that are not
// given one with WithGuard.
var DefaultGuard = NewGuard()

// NewGuard returns an Enforced guard with an empty allow-list.
func NewGuard() *Guard {
	return &Guard{}
}

// Unguard disables DefaultGuard.
func Unguard() { DefaultGuard.Disable() }

// Reguard re-enables DefaultGuard.
func Reguard() { DefaultGuard.Enable() }

// Enable switches the guard to Enforced mode.
func (g *Guard) Enable() { g.disabled.Store(false) }

// Disable removes the allow-list restriction.
func (g *Guard) Disable() { g.disabled.Store(true) }

// IsEnabled reports whether the guard is Enforced.
func (g *Guard) IsEnabled() bool { return !g.disabled.Load() }

// Allow adds names to the allow-list.
func (g *Guard) Allow(names ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.allowed == nil {
		g.allowed = make(map[string]struct{}, len(names))
	}
	for _, n := range names {
		g.allowed[n] = struct{}{}
	}
}

// AllowUntrusted adds names taken from spec documents, stored jobs or
// remote callers. Names registered in reg's Extended tier are skipped and
// returned; those resolve only through Allow or a Disabled guard.
func (g *Guard) AllowUntrusted(reg *Registry, names ...string) (refused []string) {
	for _, n := range names {
		if tier, ok := reg.TierOf(n); ok && tier == Extended {
			refused = append(refused, n)
			continue
		}
		g.Allow(n)
	}
	return refused
}

// Revoke removes names from the allow-list.
func (g *Guard) Revoke(names ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range names {
		delete(g.allowed, n)
	}
}

// Allowed reports whether name was explicitly allowed.
func (g *Guard) Allowed(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.allowed[name]
	return ok
}

// AllowList returns the explicitly allowed names, sorted.
func (g *Guard) AllowList() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.allowed))
	for n := range g.allowed {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Permits reports whether the guard alone lets name through: it is
// Disabled or name was allowed. Registry-safe names are permitted on top of
// this when resolving.
func (g *Guard) Permits(name string) bool {
	return !g.IsEnabled() || g.Allowed(name)
}

// permits reports whether name may be resolved against reg.
func (g *Guard) permits(name string, reg *Registry) bool {
	return g.Permits(name) || reg.IsSafe(name)
}
