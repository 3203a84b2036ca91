package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"recordpipe/internal/etl"
	"recordpipe/internal/service"
)

const defaultPreviewRows = 10

func (s *Server) registerJobTools() {
	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List available source types (csv, json, yaml, http, database) with their config fields"),
	), s.handleListSources)

	s.mcp.AddTool(mcp.NewTool("list_jobs",
		mcp.WithDescription("List all transform jobs with their last run status"),
	), s.handleListJobs)

	s.mcp.AddTool(mcp.NewTool("create_job",
		mcp.WithDescription(`Create a transform job. job is a JSON object: {"name", "sourceType", "sourceConfig", "fields": {field: pipeline}, "allow": [...], "stages": [{"type": "filter|rename|select|limit", "config": {...}}], "dedupeKey", "output": {"type": "jsonl|store", "target", "mode": "replace|append"}, "triggerType": "manual|schedule|file_watch", "triggerConfig"}`),
		mcp.WithString("job", mcp.Description("Job definition as a JSON object"), mcp.Required()),
	), s.handleCreateJob)

	s.mcp.AddTool(mcp.NewTool("run_job",
		mcp.WithDescription("Run a job now and write its output. 🛑 Requires user approval when approvals are enabled."),
		mcp.WithString("jobId", mcp.Description("Job ID or name"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRunJob)

	s.mcp.AddTool(mcp.NewTool("preview_job",
		mcp.WithDescription("Transform the first rows of a job's source without writing anything"),
		mcp.WithString("jobId", mcp.Description("Job ID or name"), mcp.Required()),
		mcp.WithNumber("maxRows", mcp.Description("Number of rows to preview (default 10)")),
	), s.handlePreviewJob)

	s.mcp.AddTool(mcp.NewTool("list_run_logs",
		mcp.WithDescription("Show recent runs of a job, newest first"),
		mcp.WithString("jobId", mcp.Description("Job ID or name"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Number of runs to return (default 50)")),
	), s.handleListRunLogs)

	s.mcp.AddTool(mcp.NewTool("discover_schema",
		mcp.WithDescription("Ask a source for the fields and types of its records"),
		mcp.WithString("sourceType", mcp.Description("Source type, see list_sources"), mcp.Required()),
		mcp.WithString("sourceConfig", mcp.Description("Source configuration as a JSON object"), mcp.Required()),
	), s.handleDiscoverSchema)
}

func (s *Server) handleListSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.jobs.ListSources())
}

func (s *Server) handleListJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs, err := s.jobs.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	type jobSummary struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		SourceType  string `json:"sourceType"`
		Output      string `json:"output"`
		TriggerType string `json:"triggerType"`
		Enabled     bool   `json:"enabled"`
		LastStatus  string `json:"lastStatus,omitempty"`
		LastError   string `json:"lastError,omitempty"`
	}
	summaries := make([]jobSummary, 0, len(jobs))
	for _, j := range jobs {
		summaries = append(summaries, jobSummary{
			ID:          j.ID,
			Name:        j.Name,
			SourceType:  j.SourceType,
			Output:      j.Output.Type + ":" + j.Output.Target,
			TriggerType: j.TriggerType,
			Enabled:     j.Enabled,
			LastStatus:  j.LastStatus,
			LastError:   truncate(j.LastError, 200),
		})
	}
	return jsonResult(summaries)
}

func (s *Server) handleCreateJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input service.CreateJobInput
	ok, err := decodeArg(req.GetArguments(), "job", &input)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("job is required")
	}
	job, err := s.jobs.CreateJob(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return jsonResult(job)
}

func (s *Server) handleRunJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("jobId", "")
	if id == "" {
		return nil, fmt.Errorf("jobId is required")
	}
	job, err := s.jobs.GetJob(id)
	if err != nil {
		return nil, err
	}

	desc := fmt.Sprintf("Run job %q (%s → %s:%s, mode %s)", job.Name, job.SourceType, job.Output.Type, job.Output.Target, job.Output.Mode)
	meta := fmt.Sprintf(`{"jobId":%q}`, job.ID)
	if err := s.approval.Request(ctx, "run_job", desc, meta); err != nil {
		return nil, err
	}

	result, err := s.jobs.RunJob(ctx, job.ID, etl.TriggerManual)
	if result == nil {
		return nil, err
	}
	res, jerr := jsonResult(result)
	if jerr != nil {
		return nil, jerr
	}
	// A failed run still reports its counts.
	res.IsError = err != nil
	return res, nil
}

func (s *Server) handlePreviewJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("jobId", "")
	if id == "" {
		return nil, fmt.Errorf("jobId is required")
	}
	maxRows := intArg(req.GetArguments(), "maxRows", defaultPreviewRows)
	preview, err := s.jobs.PreviewJob(ctx, id, maxRows)
	if err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}
	return jsonResult(preview)
}

func (s *Server) handleListRunLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("jobId", "")
	if id == "" {
		return nil, fmt.Errorf("jobId is required")
	}
	logs, err := s.jobs.ListRunLogs(id, intArg(req.GetArguments(), "limit", 0))
	if err != nil {
		return nil, fmt.Errorf("list run logs: %w", err)
	}
	return jsonResult(logs)
}

func (s *Server) handleDiscoverSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sourceType := req.GetString("sourceType", "")
	if sourceType == "" {
		return nil, fmt.Errorf("sourceType is required")
	}
	var cfg etl.SourceConfig
	if _, err := decodeArg(args, "sourceConfig", &cfg); err != nil {
		return nil, err
	}
	schema, err := s.jobs.DiscoverSchema(ctx, sourceType, cfg)
	if err != nil {
		return nil, fmt.Errorf("discover schema: %w", err)
	}
	return jsonResult(schema)
}
