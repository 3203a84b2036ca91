package cli

import (
	"context"

	"github.com/spf13/cobra"

	"recordpipe/internal/app"
)

type ScheduleCmd struct{}

func NewScheduleCmd() *ScheduleCmd {
	return &ScheduleCmd{}
}

func (c *ScheduleCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run scheduled and file-watch jobs until interrupted",
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			log := a.Logger()
			scheduled, watched := a.Jobs.RestartWatchers(ctx)
			log.Info("scheduler started", "scheduled", scheduled, "watched", watched)

			<-ctx.Done()

			log.Info("scheduler stopping", "running", a.Jobs.Running())
			a.Jobs.Stop()
			a.Jobs.WaitRunning(context.Background())
			return nil
		}),
	}
	return cmd
}
