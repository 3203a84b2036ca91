package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"recordpipe/internal/app"
)

type DatasetsCmd struct{}

func NewDatasetsCmd() *DatasetsCmd {
	return &DatasetsCmd{}
}

func (c *DatasetsCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "Inspect datasets written by jobs with a store output",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List datasets",
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			datasets, err := a.Datasets.ListDatasets()
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "Name", "Rows", "Fields", "Updated")
			for _, d := range datasets {
				table.Append([]string{d.Name, fmt.Sprint(d.Rows), strings.Join(d.Schema.FieldNames(), ", "), formatTime(d.UpdatedAt)})
			}
			table.Render()
			return nil
		}),
	}

	read := &cobra.Command{
		Use:   "read <dataset>",
		Short: "Print dataset rows as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return fmt.Errorf("failed to get limit flag: %w", err)
			}
			offset, err := cmd.Flags().GetInt("offset")
			if err != nil {
				return fmt.Errorf("failed to get offset flag: %w", err)
			}
			rows, err := a.Datasets.ListRows(args[0], limit, offset)
			if err != nil {
				return err
			}
			if rows == nil {
				rows = []map[string]any{}
			}
			return printJSON(cmd.OutOrStdout(), rows)
		}),
	}
	read.Flags().Int("limit", 100, "maximum number of rows (0 for all)")
	read.Flags().Int("offset", 0, "number of rows to skip")

	cmd.AddCommand(list, read)
	return cmd
}
