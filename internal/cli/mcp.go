package cli

import (
	"context"

	"github.com/spf13/cobra"

	"recordpipe/internal/app"
)

type MCPCmd struct{}

func NewMCPCmd() *MCPCmd {
	return &MCPCmd{}
}

func (c *MCPCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools on stdin/stdout",
		Long: `Serve the MCP tools on stdin/stdout. Logs go to stderr.

With RECORDPIPE_MCP_APPROVAL=db, run_job waits until the request is
resolved with "recordpipe approvals approve|reject".`,
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			return a.ServeMCP(ctx)
		}),
	}
	return cmd
}
