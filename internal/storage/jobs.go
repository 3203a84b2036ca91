package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"recordpipe/internal/etl"
)

// JobStore implements persistence for jobs and run logs.
type JobStore struct {
	db *DB
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, name, source_type, source_config, fields_json, allow_json, stages_json,
	dedupe_key, output_json, trigger_type, trigger_config, enabled,
	last_run_at, last_status, last_error, created_at, updated_at`

// jobJSON holds the JSON-encoded columns of a job row.
type jobJSON struct {
	sourceCfg, fields, allow, stages, output string
}

func encodeJob(job *etl.Job) (jobJSON, error) {
	var enc jobJSON
	for _, f := range []struct {
		dst *string
		v   any
	}{
		{&enc.sourceCfg, job.SourceCfg},
		{&enc.fields, job.Fields},
		{&enc.allow, job.Allow},
		{&enc.stages, job.Stages},
		{&enc.output, job.Output},
	} {
		b, err := json.Marshal(f.v)
		if err != nil {
			return enc, fmt.Errorf("encode job: %w", err)
		}
		*f.dst = string(b)
	}
	return enc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*etl.Job, error) {
	job := &etl.Job{}
	var enc jobJSON
	if err := row.Scan(
		&job.ID, &job.Name, &job.SourceType, &enc.sourceCfg, &enc.fields, &enc.allow, &enc.stages,
		&job.DedupeKey, &enc.output, &job.TriggerType, &job.TriggerConfig, &job.Enabled,
		&job.LastRunAt, &job.LastStatus, &job.LastError, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	for _, f := range []struct {
		src string
		dst any
	}{
		{enc.sourceCfg, &job.SourceCfg},
		{enc.fields, &job.Fields},
		{enc.allow, &job.Allow},
		{enc.stages, &job.Stages},
		{enc.output, &job.Output},
	} {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", job.ID, err)
		}
	}
	return job, nil
}

// ── Job CRUD ───────────────────────────────────────────────

func (s *JobStore) CreateJob(job *etl.Job) error {
	now := time.Now().UTC()
	job.ID = uuid.New().String()
	job.CreatedAt = now
	job.UpdatedAt = now

	enc, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = s.db.conn.Exec(
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.SourceType, enc.sourceCfg, enc.fields, enc.allow, enc.stages,
		job.DedupeKey, enc.output, job.TriggerType, job.TriggerConfig, job.Enabled,
		job.LastRunAt, job.LastStatus, job.LastError, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *JobStore) GetJob(id string) (*etl.Job, error) {
	job, err := scanJob(s.db.conn.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, err
}

// GetJobByName looks a job up by its unique name.
func (s *JobStore) GetJobByName(name string) (*etl.Job, error) {
	job, err := scanJob(s.db.conn.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %q: %w", name, ErrNotFound)
	}
	return job, err
}

func (s *JobStore) UpdateJob(job *etl.Job) error {
	job.UpdatedAt = time.Now().UTC()
	enc, err := encodeJob(job)
	if err != nil {
		return err
	}

	res, err := s.db.conn.Exec(
		`UPDATE jobs SET name=?, source_type=?, source_config=?, fields_json=?, allow_json=?, stages_json=?,
		 dedupe_key=?, output_json=?, trigger_type=?, trigger_config=?, enabled=?, updated_at=?
		 WHERE id=?`,
		job.Name, job.SourceType, enc.sourceCfg, enc.fields, enc.allow, enc.stages,
		job.DedupeKey, enc.output, job.TriggerType, job.TriggerConfig, job.Enabled, job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return requireAffected(res, "job "+job.ID)
}

func (s *JobStore) UpdateJobStatus(id, status, errMsg string) error {
	now := time.Now().UTC()
	_, err := s.db.conn.Exec(
		`UPDATE jobs SET last_run_at=?, last_status=?, last_error=?, updated_at=? WHERE id=?`,
		now, status, errMsg, now, id,
	)
	return err
}

func (s *JobStore) DeleteJob(id string) error {
	tx, err := s.db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM run_logs WHERE job_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := requireAffected(res, "job "+id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *JobStore) ListJobs() ([]etl.Job, error) {
	return s.queryJobs(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at ASC, name ASC`)
}

// ListEnabledScheduledJobs returns enabled jobs with a schedule or file_watch trigger.
func (s *JobStore) ListEnabledScheduledJobs() ([]etl.Job, error) {
	return s.queryJobs(
		`SELECT `+jobColumns+` FROM jobs
		 WHERE enabled = 1 AND trigger_type IN (?, ?)
		 ORDER BY created_at ASC, name ASC`,
		etl.TriggerSchedule, etl.TriggerFileWatch,
	)
}

func (s *JobStore) queryJobs(query string, args ...any) ([]etl.Job, error) {
	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []etl.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ── Run Logs ───────────────────────────────────────────────

func (s *JobStore) CreateRunLog(l *etl.RunLog) error {
	l.ID = uuid.New().String()
	_, err := s.db.conn.Exec(
		`INSERT INTO run_logs (id, job_id, trigger_type, started_at, finished_at, status, rows_read, rows_dropped, rows_written, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.JobID, l.Trigger, l.StartedAt, l.FinishedAt, l.Status, l.RowsRead, l.RowsDropped, l.RowsWritten, l.Error,
	)
	return err
}

// ListRunLogs returns the newest run logs of a job first.
func (s *JobStore) ListRunLogs(jobID string, limit int) ([]etl.RunLog, error) {
	rows, err := s.db.conn.Query(
		`SELECT id, job_id, trigger_type, started_at, finished_at, status, rows_read, rows_dropped, rows_written, error
		 FROM run_logs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []etl.RunLog
	for rows.Next() {
		var l etl.RunLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.Trigger, &l.StartedAt, &l.FinishedAt, &l.Status,
			&l.RowsRead, &l.RowsDropped, &l.RowsWritten, &l.Error); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
