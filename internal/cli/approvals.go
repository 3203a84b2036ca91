package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"recordpipe/internal/app"
)

type ApprovalsCmd struct{}

func NewApprovalsCmd() *ApprovalsCmd {
	return &ApprovalsCmd{}
}

// Command resolves actions an MCP server started with
// RECORDPIPE_MCP_APPROVAL=db is waiting on.
func (c *ApprovalsCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Approve or reject destructive actions requested over MCP",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List pending approvals",
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			pending, err := a.Approvals.ListPending()
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "ID", "Tool", "Description", "Requested")
			for _, p := range pending {
				table.Append([]string{p.ID, p.Tool, p.Description, formatTime(p.CreatedAt)})
			}
			table.Render()
			return nil
		}),
	}

	resolve := func(use, done, short string, approved bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
				if err := a.Approvals.Resolve(args[0], approved); err != nil {
					return fmt.Errorf("%s %s: %w", use, args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", done, args[0])
				return nil
			}),
		}
	}

	cmd.AddCommand(
		list,
		resolve("approve", "approved", "Approve a pending action", true),
		resolve("reject", "rejected", "Reject a pending action", false),
	)
	return cmd
}
