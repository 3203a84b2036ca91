package service

import (
	"context"
	"sort"
	"sync"
)

// ExportedRunningGuard is an exported alias so _test packages can test the guard.
type ExportedRunningGuard = runningJobsGuard

// ─────────────────────────────────────────────────────────────
// runningJobsGuard — single-flight execution per job ID
// ─────────────────────────────────────────────────────────────

// runningJobsGuard ensures only one run of a given job is in flight and
// lets shutdown wait for the runs that are.
type runningJobsGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// TryLock marks jobID as running. It returns false if a run is already
// in flight.
func (g *runningJobsGuard) TryLock(jobID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	if _, ok := g.running[jobID]; ok {
		return false
	}
	g.running[jobID] = struct{}{}
	g.wg.Add(1)
	return true
}

// Unlock marks the job as no longer running. Must follow a successful TryLock.
func (g *runningJobsGuard) Unlock(jobID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, jobID)
	g.wg.Done()
}

// Running returns the IDs of in-flight jobs, sorted.
func (g *runningJobsGuard) Running() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.running))
	for id := range g.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WaitAll blocks until all in-flight runs complete or ctx is cancelled.
func (g *runningJobsGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
