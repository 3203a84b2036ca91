package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type FunctionsCmd struct{}

func NewFunctionsCmd() *FunctionsCmd {
	return &FunctionsCmd{}
}

func (c *FunctionsCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "functions",
		Short: "List the functions and value types a pipeline can use",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tr := newTransformer(cfg, nil, newLogger(cmd.ErrOrStderr(), cfg.LogLevel))
			reg, guard := tr.Registry(), tr.Guard()

			table := newTable(cmd.OutOrStdout(), "Name", "Kind", "Tier", "Permitted")
			for _, e := range reg.Entries() {
				table.Append([]string{e.Name, e.Kind, e.Tier, yesNo(guard.Permits(e.Name) || reg.IsSafe(e.Name))})
			}
			table.Render()

			if !guard.IsEnabled() {
				fmt.Fprintln(cmd.ErrOrStderr(), "guard disabled: every function is permitted")
			}
			return nil
		},
	}
	return cmd
}
