package etl

import (
	"time"

	"recordpipe/internal/pipeline"
)

// ── Job ────────────────────────────────────────────────────
// Orchestrates: source.Read → field pipelines → stages → destination.Write.

// Trigger types.
const (
	TriggerManual    = "manual"
	TriggerSchedule  = "schedule"   // TriggerConfig is a cron expression
	TriggerFileWatch = "file_watch" // TriggerConfig is a file path
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Job holds the configuration for a single transform job.
type Job struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	SourceType    string         `json:"sourceType"`
	SourceCfg     SourceConfig   `json:"sourceConfig"`
	Fields        pipeline.Specs `json:"fields"`
	Allow         []string       `json:"allow,omitempty"`
	Stages        []StageConfig  `json:"stages,omitempty"`
	DedupeKey     string         `json:"dedupeKey,omitempty"`
	Output        OutputConfig   `json:"output"`
	TriggerType   string         `json:"triggerType"`
	TriggerConfig string         `json:"triggerConfig"`
	Enabled       bool           `json:"enabled"`
	LastRunAt     time.Time      `json:"lastRunAt"`
	LastStatus    string         `json:"lastStatus"` // "success" | "error" | "running" | ""
	LastError     string         `json:"lastError"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// RunResult is the outcome of running a job.
type RunResult struct {
	JobID       string        `json:"jobId"`
	Status      string        `json:"status"` // "success" | "error"
	RowsRead    int           `json:"rowsRead"`
	RowsDropped int           `json:"rowsDropped"`
	RowsWritten int           `json:"rowsWritten"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// RunLog is a historical record of a job run.
type RunLog struct {
	ID          string    `json:"id"`
	JobID       string    `json:"jobId"`
	Trigger     string    `json:"trigger"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Status      string    `json:"status"`
	RowsRead    int       `json:"rowsRead"`
	RowsDropped int       `json:"rowsDropped"`
	RowsWritten int       `json:"rowsWritten"`
	Error       string    `json:"error,omitempty"`
}
