package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

const defaultDatasetRows = 100

func (s *Server) registerDatasetTools() {
	s.mcp.AddTool(mcp.NewTool("list_datasets",
		mcp.WithDescription("List datasets written by jobs with a store output, with schema and row count"),
	), s.handleListDatasets)

	s.mcp.AddTool(mcp.NewTool("read_dataset",
		mcp.WithDescription("Read rows from a stored dataset"),
		mcp.WithString("name", mcp.Description("Dataset name"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Number of rows to return (default 100)")),
		mcp.WithNumber("offset", mcp.Description("Number of rows to skip")),
	), s.handleReadDataset)
}

func (s *Server) handleListDatasets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	datasets, err := s.datasets.ListDatasets()
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return jsonResult(datasets)
}

func (s *Server) handleReadDataset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	args := req.GetArguments()
	rows, err := s.datasets.ListRows(name, intArg(args, "limit", defaultDatasetRows), intArg(args, "offset", 0))
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return jsonResult(map[string]any{
		"name":  name,
		"count": len(rows),
		"rows":  rows,
	})
}
