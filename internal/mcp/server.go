package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"recordpipe/internal/etl"
	"recordpipe/internal/service"
	"recordpipe/internal/storage"
)

// Server is the MCP server for recordpipe.
// It exposes tools, resources, and prompts so AI agents can transform
// records and manage jobs.
type Server struct {
	mcp      *server.MCPServer
	log      *slog.Logger
	approval *ApprovalQueue

	// Services (injected from app layer)
	engine      *etl.Engine
	jobs        *service.JobService
	connections *service.ConnectionService
	datasets    *storage.DatasetStore
}

// Deps holds all dependencies passed from the app layer to the MCP server.
type Deps struct {
	Engine      *etl.Engine
	Jobs        *service.JobService
	Connections *service.ConnectionService
	Datasets    *storage.DatasetStore
	Approvals   *storage.ApprovalStore // when set, destructive tools wait for `recordpipe approvals`
	Log         *slog.Logger
}

// New creates and configures a new MCP server with all tools and resources.
func New(ctx context.Context, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		log:         log,
		approval:    NewApprovalQueue(ctx, deps.Approvals, log),
		engine:      deps.Engine,
		jobs:        deps.Jobs,
		connections: deps.Connections,
		datasets:    deps.Datasets,
	}

	s.mcp = server.NewMCPServer(
		"recordpipe-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerTransformTools()
	s.registerJobTools()
	s.registerDatasetTools()
	s.registerDatabaseTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.log.Info("mcp: starting stdio server")
	return server.ServeStdio(s.mcp)
}

// MCP returns the underlying server, for in-process clients and tests.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

func boolPtr(v bool) *bool { return &v }
