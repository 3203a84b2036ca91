package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"recordpipe/internal/etl"
	"recordpipe/internal/pipeline"
	"recordpipe/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Job Service — business logic for transform jobs
// ─────────────────────────────────────────────────────────────

// Events emitted by JobService.
const (
	EventJobCompleted = "job:completed"
	EventJobFailed    = "job:failed"
)

const (
	runTimeout      = 5 * time.Minute
	previewTimeout  = 30 * time.Second
	discoverTimeout = 15 * time.Second
	watchDebounce   = 500 * time.Millisecond
	defaultLogLimit = 50
)

// ErrJobRunning is returned when a run is requested for a job that is
// already running.
var ErrJobRunning = errors.New("job is already running")

// JobService manages jobs, their runs, cron schedules and file watchers.
type JobService struct {
	store       *storage.JobStore
	engine      *etl.Engine
	emitter     EventEmitter
	log         *slog.Logger
	clock       clockwork.Clock
	runningJobs runningJobsGuard

	// watcher / cron lifecycle
	watchMu     sync.Mutex
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewJobService creates a JobService ready for use.
func NewJobService(store *storage.JobStore, engine *etl.Engine, emitter EventEmitter, log *slog.Logger) *JobService {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if emitter == nil {
		emitter = &LogEmitter{Log: log}
	}
	return &JobService{
		store:   store,
		engine:  engine,
		emitter: emitter,
		log:     log,
		clock:   clockwork.NewRealClock(),
	}
}

// ── Job CRUD ───────────────────────────────────────────────

// CreateJobInput is the service-layer DTO for creating and updating jobs.
type CreateJobInput struct {
	Name          string            `json:"name" yaml:"name"`
	SourceType    string            `json:"sourceType" yaml:"sourceType"`
	SourceConfig  map[string]any    `json:"sourceConfig" yaml:"sourceConfig"`
	Fields        pipeline.Specs    `json:"fields" yaml:"fields"`
	Allow         []string          `json:"allow,omitempty" yaml:"allow"`
	Stages        []etl.StageConfig `json:"stages,omitempty" yaml:"stages"`
	DedupeKey     string            `json:"dedupeKey,omitempty" yaml:"dedupeKey"`
	Output        etl.OutputConfig  `json:"output" yaml:"output"`
	TriggerType   string            `json:"triggerType" yaml:"triggerType"`
	TriggerConfig string            `json:"triggerConfig" yaml:"triggerConfig"`
	Enabled       *bool             `json:"enabled,omitempty" yaml:"enabled"`
}

func (in CreateJobInput) apply(job *etl.Job) {
	job.Name = strings.TrimSpace(in.Name)
	job.SourceType = in.SourceType
	job.SourceCfg = in.SourceConfig
	job.Fields = in.Fields
	job.Allow = in.Allow
	job.Stages = in.Stages
	job.DedupeKey = in.DedupeKey
	job.Output = in.Output
	job.TriggerType = in.TriggerType
	job.TriggerConfig = strings.TrimSpace(in.TriggerConfig)

	if job.SourceCfg == nil {
		job.SourceCfg = etl.SourceConfig{}
	}
	if job.Output.Mode == "" {
		job.Output.Mode = etl.SyncReplace
	}
	if job.TriggerType == "" {
		job.TriggerType = etl.TriggerManual
	}
	if in.Enabled != nil {
		job.Enabled = *in.Enabled
	}
}

// validate checks everything the engine checks plus the name and trigger.
func (s *JobService) validate(job *etl.Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if err := s.engine.Validate(job); err != nil {
		return err
	}
	switch job.TriggerType {
	case etl.TriggerManual:
	case etl.TriggerSchedule:
		if _, err := cron.ParseStandard(job.TriggerConfig); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", job.TriggerConfig, err)
		}
	case etl.TriggerFileWatch:
		if job.TriggerConfig == "" {
			return fmt.Errorf("file_watch trigger needs a file path")
		}
	default:
		return fmt.Errorf("unknown trigger type: %q", job.TriggerType)
	}
	return nil
}

func (s *JobService) CreateJob(ctx context.Context, input CreateJobInput) (*etl.Job, error) {
	job := &etl.Job{Enabled: true}
	input.apply(job)
	if err := s.validate(job); err != nil {
		return nil, err
	}
	if err := s.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.log.Info("job created", "job", job.ID, "name", job.Name, "trigger", job.TriggerType)
	s.restartIfScheduled(ctx, job)
	return job, nil
}

// GetJob looks a job up by ID, falling back to its name.
func (s *JobService) GetJob(idOrName string) (*etl.Job, error) {
	job, err := s.store.GetJob(idOrName)
	if errors.Is(err, storage.ErrNotFound) {
		return s.store.GetJobByName(idOrName)
	}
	return job, err
}

func (s *JobService) ListJobs() ([]etl.Job, error) {
	return s.store.ListJobs()
}

func (s *JobService) UpdateJob(ctx context.Context, id string, input CreateJobInput) (*etl.Job, error) {
	job, err := s.GetJob(id)
	if err != nil {
		return nil, err
	}
	input.apply(job)
	if err := s.validate(job); err != nil {
		return nil, err
	}
	if err := s.store.UpdateJob(job); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	s.RestartWatchers(ctx)
	return job, nil
}

// SetEnabled turns a job's schedule or file watch on or off.
func (s *JobService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	job, err := s.GetJob(id)
	if err != nil {
		return err
	}
	job.Enabled = enabled
	if err := s.store.UpdateJob(job); err != nil {
		return err
	}
	s.RestartWatchers(ctx)
	return nil
}

func (s *JobService) DeleteJob(ctx context.Context, id string) error {
	job, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteJob(job.ID); err != nil {
		return err
	}
	s.restartIfScheduled(ctx, job)
	return nil
}

func (s *JobService) restartIfScheduled(ctx context.Context, job *etl.Job) {
	if job.TriggerType == etl.TriggerSchedule || job.TriggerType == etl.TriggerFileWatch {
		s.RestartWatchers(ctx)
	}
}

// ── Run ────────────────────────────────────────────────────

// RunJob executes a job synchronously, records a run log and emits an event.
// trigger names what started the run (manual, schedule or file_watch).
func (s *JobService) RunJob(ctx context.Context, id, trigger string) (*etl.RunResult, error) {
	job, err := s.GetJob(id)
	if err != nil {
		return nil, err
	}
	id = job.ID

	if !s.runningJobs.TryLock(id) {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobRunning)
	}
	defer s.runningJobs.Unlock(id)

	if trigger == "" {
		trigger = etl.TriggerManual
	}
	if err := s.store.UpdateJobStatus(id, etl.StatusRunning, ""); err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	start := s.clock.Now()
	result, runErr := s.engine.Run(runCtx, job)
	finished := s.clock.Now()

	runLog := &etl.RunLog{
		JobID:       id,
		Trigger:     trigger,
		StartedAt:   start.UTC(),
		FinishedAt:  finished.UTC(),
		Status:      result.Status,
		RowsRead:    result.RowsRead,
		RowsDropped: result.RowsDropped,
		RowsWritten: result.RowsWritten,
		Error:       result.Error,
	}
	if err := s.store.CreateRunLog(runLog); err != nil {
		s.log.Error("save run log", "job", id, "error", err)
	}
	if err := s.store.UpdateJobStatus(id, result.Status, result.Error); err != nil {
		s.log.Error("update job status", "job", id, "error", err)
	}

	event := EventJobCompleted
	if runErr != nil {
		event = EventJobFailed
	}
	s.emitter.Emit(ctx, event, map[string]any{
		"jobId":   id,
		"name":    job.Name,
		"trigger": trigger,
		"status":  result.Status,
		"written": result.RowsWritten,
	})

	return result, runErr
}

// ListSources returns the available source descriptors.
func (s *JobService) ListSources() []etl.SourceSpec {
	return etl.ListSources()
}

// ListRunLogs returns the newest run logs of a job. A limit of zero
// returns the last 50.
func (s *JobService) ListRunLogs(jobID string, limit int) ([]etl.RunLog, error) {
	job, err := s.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}
	return s.store.ListRunLogs(job.ID, limit)
}

// ── Preview / Schema Discovery ─────────────────────────────

// PreviewResult is the response from PreviewJob.
type PreviewResult struct {
	Schema  *etl.Schema  `json:"schema"`
	Records []etl.Record `json:"records"`
}

// PreviewJob transforms up to maxRows records of a stored job without writing.
func (s *JobService) PreviewJob(ctx context.Context, id string, maxRows int) (*PreviewResult, error) {
	job, err := s.GetJob(id)
	if err != nil {
		return nil, err
	}
	return s.Preview(ctx, job, maxRows)
}

// Preview transforms up to maxRows records of an unsaved job.
func (s *JobService) Preview(ctx context.Context, job *etl.Job, maxRows int) (*PreviewResult, error) {
	previewCtx, cancel := context.WithTimeout(ctx, previewTimeout)
	defer cancel()

	records, schema, err := s.engine.Preview(previewCtx, job, maxRows)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{Schema: schema, Records: records}, nil
}

// DiscoverSchema asks a source for the shape of its records.
func (s *JobService) DiscoverSchema(ctx context.Context, sourceType string, cfg etl.SourceConfig) (*etl.Schema, error) {
	source, err := etl.GetSource(sourceType)
	if err != nil {
		return nil, err
	}
	if err := source.Spec().CheckRequired(cfg); err != nil {
		return nil, err
	}

	discCtx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	return source.Discover(discCtx, cfg)
}

// ── Watchers (cron + file_watch) ──────────────────────────

// RestartWatchers tears down the current watcher and cron scheduler and
// rebuilds them from the enabled jobs. It returns the number of scheduled
// and watched jobs.
func (s *JobService) RestartWatchers(ctx context.Context) (scheduled, watched int) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.stopWatchersLocked()

	// Triggered runs outlive the request that restarted the watchers.
	ctx = context.WithoutCancel(ctx)

	jobs, err := s.store.ListEnabledScheduledJobs()
	if err != nil {
		s.log.Error("watchers: list jobs", "error", err)
		return 0, 0
	}

	// ── Cron jobs ──
	var c *cron.Cron
	for _, j := range jobs {
		if j.TriggerType != etl.TriggerSchedule || j.TriggerConfig == "" {
			continue
		}
		if c == nil {
			c = cron.New()
		}
		jid := j.ID
		if _, err := c.AddFunc(j.TriggerConfig, func() {
			s.log.Info("cron: running job", "job", jid)
			if _, err := s.RunJob(ctx, jid, etl.TriggerSchedule); err != nil {
				s.log.Warn("cron: job failed", "job", jid, "error", err)
			}
		}); err != nil {
			s.log.Warn("cron: invalid expression", "job", jid, "expr", j.TriggerConfig, "error", err)
			continue
		}
		scheduled++
	}
	if c != nil {
		c.Start()
		s.cronSched = c
		s.log.Info("cron: scheduled jobs", "count", scheduled)
	}

	// ── File watchers ──
	pathToJob := make(map[string]string)
	for _, j := range jobs {
		if j.TriggerType != etl.TriggerFileWatch || j.TriggerConfig == "" {
			continue
		}
		absPath, err := filepath.Abs(j.TriggerConfig)
		if err != nil {
			s.log.Warn("watcher: bad path", "path", j.TriggerConfig, "error", err)
			continue
		}
		pathToJob[absPath] = j.ID
	}
	if len(pathToJob) == 0 {
		return scheduled, 0
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Error("watcher: create", "error", err)
		return scheduled, 0
	}
	s.watcher = watcher

	watchedDirs := make(map[string]bool)
	for absPath := range pathToJob {
		dir := filepath.Dir(absPath)
		if watchedDirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			s.log.Warn("watcher: watch dir", "dir", dir, "error", err)
			continue
		}
		watchedDirs[dir] = true
	}
	for absPath := range pathToJob {
		if watchedDirs[filepath.Dir(absPath)] {
			watched++
		}
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel
	go s.watchLoop(ctx, watchCtx, watcher, pathToJob)

	s.log.Info("watcher: watching files", "count", watched)
	return scheduled, watched
}

// watchLoop runs a job once its file has been quiet for watchDebounce.
func (s *JobService) watchLoop(ctx, watchCtx context.Context, watcher *fsnotify.Watcher, pathToJob map[string]string) {
	timers := make(map[string]clockwork.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-watchCtx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			absPath, _ := filepath.Abs(event.Name)
			jobID, ok := pathToJob[absPath]
			if !ok {
				continue
			}
			if t, exists := timers[jobID]; exists {
				t.Stop()
			}
			timers[jobID] = s.clock.AfterFunc(watchDebounce, func() {
				if watchCtx.Err() != nil {
					return
				}
				s.log.Info("watcher: file changed", "path", absPath, "job", jobID)
				if _, err := s.RunJob(ctx, jobID, etl.TriggerFileWatch); err != nil {
					s.log.Warn("watcher: run failed", "job", jobID, "error", err)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("watcher: error", "error", err)
		}
	}
}

// Running returns the IDs of jobs with a run in flight.
func (s *JobService) Running() []string {
	return s.runningJobs.Running()
}

// WaitRunning blocks until all running jobs finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *JobService) WaitRunning(ctx context.Context) {
	s.runningJobs.WaitAll(ctx)
}

// Stop tears down all watchers and schedulers.
func (s *JobService) Stop() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.stopWatchersLocked()
}

func (s *JobService) stopWatchersLocked() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
