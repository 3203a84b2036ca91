package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerDatabaseTools() {
	s.mcp.AddTool(mcp.NewTool("list_db_connections",
		mcp.WithDescription("List stored database connections usable by the database source"),
	), s.handleListDBConnections)

	s.mcp.AddTool(mcp.NewTool("test_db_connection",
		mcp.WithDescription("Open a stored database connection and ping it"),
		mcp.WithString("connectionId", mcp.Description("Database connection ID or name"), mcp.Required()),
	), s.handleTestDBConnection)

	s.mcp.AddTool(mcp.NewTool("introspect_database",
		mcp.WithDescription("Get schema information (tables and columns) of a database connection"),
		mcp.WithString("connectionId", mcp.Description("Database connection ID or name"), mcp.Required()),
	), s.handleIntrospectDatabase)
}

func (s *Server) handleListDBConnections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conns, err := s.connections.ListConnections()
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return jsonResult(conns)
}

func (s *Server) handleTestDBConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID := req.GetString("connectionId", "")
	if connID == "" {
		return nil, fmt.Errorf("connectionId is required")
	}
	if err := s.connections.TestConnection(ctx, connID); err != nil {
		return nil, fmt.Errorf("test connection: %w", err)
	}
	return textResult("Connection OK"), nil
}

func (s *Server) handleIntrospectDatabase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connID := req.GetString("connectionId", "")
	if connID == "" {
		return nil, fmt.Errorf("connectionId is required")
	}
	schema, err := s.connections.Introspect(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	return jsonResult(schema)
}
