package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"recordpipe/internal/app"
	"recordpipe/internal/config"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

func Run() ExitCode {
	if err := NewRootCmd().Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

// NewRootCmd builds the recordpipe command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "recordpipe",
		Short:         "Rewrite records field by field with pipe-separated function pipelines.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "set debug logging level")
	flags.String("data-dir", "", "directory holding the recordpipe database (env: "+config.EnvDataDir+")")
	flags.Bool("unguard", false, "let pipelines call extended functions (env: "+config.EnvUnguard+")")
	flags.StringSlice("allow", nil, "extended function names to permit (env: "+config.EnvAllow+")")
	flags.String("env-file", ".env", "optional dotenv file to load")

	rootCmd.AddCommand(
		NewTransformCmd().Command(),
		NewFunctionsCmd().Command(),
		NewJobsCmd().Command(),
		NewDatasetsCmd().Command(),
		NewConnectionsCmd().Command(),
		NewApprovalsCmd().Command(),
		NewScheduleCmd().Command(),
		NewMCPCmd().Command(),
	)
	return rootCmd
}

// loadConfig resolves the configuration from the environment and the
// root persistent flags. Flags win.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Root().PersistentFlags()

	envFile, err := flags.GetString("env-file")
	if err != nil {
		return nil, fmt.Errorf("failed to get env-file flag: %w", err)
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	if flags.Changed("data-dir") {
		if cfg.DataDir, err = flags.GetString("data-dir"); err != nil {
			return nil, fmt.Errorf("failed to get data-dir flag: %w", err)
		}
	}
	if flags.Changed("unguard") {
		if cfg.Unguard, err = flags.GetBool("unguard"); err != nil {
			return nil, fmt.Errorf("failed to get unguard flag: %w", err)
		}
	}
	allow, err := flags.GetStringSlice("allow")
	if err != nil {
		return nil, fmt.Errorf("failed to get allow flag: %w", err)
	}
	cfg.Allow = append(cfg.Allow, allow...)

	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	if verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	return cfg, nil
}

// withApp opens the app for the duration of one command. The context is
// cancelled on SIGINT/SIGTERM.
func withApp(f func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

		a, err := app.New(cfg, log)
		if err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}
		defer func() {
			if err := a.Close(); err != nil {
				log.Warn("failed to close app", "error", err)
			}
		}()

		err = f(ctx, a, cmd, args)
		if err != nil {
			log.Debug("command failed", "command", cmd.CommandPath(), "error", err)
		}
		return err
	}
}

// newLogger writes to w, which is stderr for real runs: stdout carries
// command output and the MCP stdio stream.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}
