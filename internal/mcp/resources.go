package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const datasetURIPrefix = "recordpipe://datasets/"

func (s *Server) registerResources() {
	// ── recordpipe://functions ─────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		"recordpipe://functions",
		"Pipeline Functions",
		mcp.WithResourceDescription("Functions and value types a field pipeline can call"),
		mcp.WithMIMEType("application/json"),
	), s.handleFunctionsResource)

	// ── recordpipe://jobs ──────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		"recordpipe://jobs",
		"All Jobs",
		mcp.WithMIMEType("application/json"),
	), s.handleJobsResource)

	// ── recordpipe://datasets/{name} ───────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			datasetURIPrefix+"{name}",
			"Rows of a Dataset",
		),
		s.handleDatasetResource,
	)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleFunctionsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, s.listFunctions())
}

func (s *Server) handleJobsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	jobs, err := s.jobs.ListJobs()
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, jobs)
}

func (s *Server) handleDatasetResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	name := strings.TrimPrefix(uri, datasetURIPrefix)
	if name == uri || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("could not extract dataset name from URI: %s", uri)
	}

	rows, err := s.datasets.ListRows(name, defaultDatasetRows, 0)
	if err != nil {
		return nil, err
	}
	return jsonContents(uri, rows)
}
