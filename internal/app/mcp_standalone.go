package app

import (
	"context"

	"recordpipe/internal/config"
	mcpserver "recordpipe/internal/mcp"
)

// NewMCPServer builds the MCP server over the app's services. In "db"
// approval mode destructive tools wait on the mcp_approvals table.
func (a *App) NewMCPServer(ctx context.Context) *mcpserver.Server {
	deps := mcpserver.Deps{
		Engine:      a.Engine,
		Jobs:        a.Jobs,
		Connections: a.Connections,
		Datasets:    a.Datasets,
		Log:         a.log.With("component", "mcp"),
	}
	if a.cfg.MCPApproval == config.ApprovalDB {
		deps.Approvals = a.Approvals
	}
	return mcpserver.New(ctx, deps)
}

// ServeMCP runs the MCP server on stdin/stdout. Schedules and file
// watchers run alongside it until ctx is done.
func (a *App) ServeMCP(ctx context.Context) error {
	scheduled, watched := a.Jobs.RestartWatchers(ctx)
	a.log.Info("mcp: watchers started", "scheduled", scheduled, "watched", watched)

	srv := a.NewMCPServer(ctx)
	return srv.ServeStdio()
}
