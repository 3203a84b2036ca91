package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"recordpipe/internal/config"
	"recordpipe/internal/etl"
	"recordpipe/internal/etl/sources"
	"recordpipe/internal/pipeline"
	"recordpipe/internal/secret"
	"recordpipe/internal/service"
	"recordpipe/internal/storage"
)

// App owns the storage, engine and services shared by the CLI commands
// and the MCP server.
type App struct {
	cfg *config.Config
	log *slog.Logger

	db *storage.DB

	Registry    *pipeline.Registry
	Guard       *pipeline.Guard
	Engine      *etl.Engine
	Jobs        *service.JobService
	Connections *service.ConnectionService
	Datasets    *storage.DatasetStore
	Approvals   *storage.ApprovalStore
}

// New opens the database under cfg.DataDir and wires every service.
// The process-wide guard is configured here and left alone afterwards.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db, err := storage.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	secrets, err := secret.New(cfg.Secrets)
	if err != nil {
		db.Close()
		return nil, err
	}

	guard := pipeline.DefaultGuard
	if cfg.Unguard {
		pipeline.Unguard()
		log.Warn("guard disabled: pipelines may read the environment and files")
	}
	guard.Allow(cfg.Allow...)

	a := &App{
		cfg:      cfg,
		log:      log,
		db:       db,
		Registry: pipeline.NewStandardRegistry(),
		Guard:    guard,
		Datasets: storage.NewDatasetStore(db),
	}
	a.Approvals = storage.NewApprovalStore(db)
	a.Engine = etl.NewEngine(a.Registry, a.Guard, a.Datasets, log.With("component", "etl"))
	a.Connections = service.NewConnectionService(storage.NewConnectionStore(db), secrets, log.With("component", "connections"))
	a.Jobs = service.NewJobService(
		storage.NewJobStore(db),
		a.Engine,
		&service.LogEmitter{Log: log},
		log.With("component", "jobs"),
	)

	setupETLAdapters(a)

	log.Debug("app ready", "dataDir", cfg.DataDir, "secrets", cfg.Secrets)
	return a, nil
}

// Config returns the configuration the app was built with.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the app logger.
func (a *App) Logger() *slog.Logger { return a.log }

// Close stops watchers, waits for running jobs and closes the database.
func (a *App) Close() error {
	a.Jobs.Stop()
	a.Jobs.WaitRunning(context.Background())
	return a.db.Close()
}

// ── ETL adapters ───────────────────────────────────────────

// setupETLAdapters wires the database source to stored connections.
func setupETLAdapters(a *App) {
	sources.SetDBProvider(a.Connections)
}

