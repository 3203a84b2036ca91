package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"recordpipe/internal/app"
	"recordpipe/internal/etl"
	"recordpipe/internal/service"
)

type JobsCmd struct{}

func NewJobsCmd() *JobsCmd {
	return &JobsCmd{}
}

func (c *JobsCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage and run transform jobs",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a job from a YAML or JSON definition",
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			input, err := readJobInput(cmd)
			if err != nil {
				return err
			}
			job, err := a.Jobs.CreateJob(ctx, *input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created job %s (%s)\n", job.Name, job.ID)
			return nil
		}),
	}
	create.Flags().StringP("file", "f", "", "job definition file (YAML or JSON, - for stdin)")
	_ = create.MarkFlagRequired("file")

	update := &cobra.Command{
		Use:   "update <job>",
		Short: "Replace a job's definition",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			input, err := readJobInput(cmd)
			if err != nil {
				return err
			}
			job, err := a.Jobs.UpdateJob(ctx, args[0], *input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated job %s\n", job.Name)
			return nil
		}),
	}
	update.Flags().StringP("file", "f", "", "job definition file (YAML or JSON, - for stdin)")
	_ = update.MarkFlagRequired("file")

	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			jobs, err := a.Jobs.ListJobs()
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "Name", "Source", "Output", "Trigger", "Enabled", "Last Run", "Status")
			for _, j := range jobs {
				table.Append([]string{
					j.Name,
					j.SourceType,
					j.Output.Type + ":" + j.Output.Target,
					trigger(j),
					yesNo(j.Enabled),
					formatTime(j.LastRunAt),
					j.LastStatus,
				})
			}
			table.Render()
			return nil
		}),
	}

	show := &cobra.Command{
		Use:   "show <job>",
		Short: "Print a job definition as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			job, err := a.Jobs.GetJob(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		}),
	}

	run := &cobra.Command{
		Use:   "run <job>",
		Short: "Run a job now",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			result, err := a.Jobs.RunJob(ctx, args[0], etl.TriggerManual)
			if result != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: read %d, dropped %d, wrote %d in %s\n",
					result.Status, result.RowsRead, result.RowsDropped, result.RowsWritten, result.Duration.Round(time.Millisecond))
			}
			return err
		}),
	}

	preview := &cobra.Command{
		Use:   "preview <job>",
		Short: "Transform the first rows of a job without writing",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			rows, err := cmd.Flags().GetInt("rows")
			if err != nil {
				return fmt.Errorf("failed to get rows flag: %w", err)
			}
			result, err := a.Jobs.PreviewJob(ctx, args[0], rows)
			if err != nil {
				return err
			}
			data := make([]map[string]any, len(result.Records))
			for i, r := range result.Records {
				data[i] = r.Data
			}
			return printJSON(cmd.OutOrStdout(), data)
		}),
	}
	preview.Flags().Int("rows", 10, "number of rows to preview")

	logs := &cobra.Command{
		Use:   "logs <job>",
		Short: "Show recent runs of a job",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return fmt.Errorf("failed to get limit flag: %w", err)
			}
			runs, err := a.Jobs.ListRunLogs(args[0], limit)
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "Started", "Trigger", "Status", "Read", "Dropped", "Written", "Error")
			for _, l := range runs {
				table.Append([]string{
					formatTime(l.StartedAt),
					l.Trigger,
					l.Status,
					fmt.Sprint(l.RowsRead),
					fmt.Sprint(l.RowsDropped),
					fmt.Sprint(l.RowsWritten),
					l.Error,
				})
			}
			table.Render()
			return nil
		}),
	}
	logs.Flags().Int("limit", 20, "number of runs to show")

	enable := &cobra.Command{
		Use:   "enable <job>",
		Short: "Enable a job's schedule or file watch",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			return a.Jobs.SetEnabled(ctx, args[0], true)
		}),
	}

	disable := &cobra.Command{
		Use:   "disable <job>",
		Short: "Disable a job's schedule or file watch",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			return a.Jobs.SetEnabled(ctx, args[0], false)
		}),
	}

	del := &cobra.Command{
		Use:   "delete <job>",
		Short: "Delete a job and its run logs",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			return a.Jobs.DeleteJob(ctx, args[0])
		}),
	}

	sourcesCmd := &cobra.Command{
		Use:   "sources",
		Short: "List source types and their config fields",
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			table := newTable(cmd.OutOrStdout(), "Type", "Key", "Required", "Help")
			for _, spec := range a.Jobs.ListSources() {
				for _, f := range spec.ConfigFields {
					table.Append([]string{spec.Type, f.Key, yesNo(f.Required), f.Help})
				}
			}
			table.Render()
			return nil
		}),
	}

	cmd.AddCommand(create, update, list, show, run, preview, logs, enable, disable, del, sourcesCmd)
	return cmd
}

func readJobInput(cmd *cobra.Command) (*service.CreateJobInput, error) {
	path, err := cmd.Flags().GetString("file")
	if err != nil {
		return nil, fmt.Errorf("failed to get file flag: %w", err)
	}

	var data []byte
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read job definition: %w", err)
	}

	// JSON is valid YAML, so one decoder covers both.
	var input service.CreateJobInput
	if err := yaml.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("parse job definition: %w", err)
	}
	return &input, nil
}

func trigger(j etl.Job) string {
	if j.TriggerConfig == "" {
		return j.TriggerType
	}
	return j.TriggerType + " " + j.TriggerConfig
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
