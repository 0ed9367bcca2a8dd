package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/intelforge/intelforge/internal/archive"
	"github.com/intelforge/intelforge/internal/budget"
	"github.com/intelforge/intelforge/internal/config"
	"github.com/intelforge/intelforge/internal/engine"
	"github.com/intelforge/intelforge/internal/humaninput"
	"github.com/intelforge/intelforge/internal/llm"
	"github.com/intelforge/intelforge/internal/metrics"
	"github.com/intelforge/intelforge/internal/notify"
	"github.com/intelforge/intelforge/internal/prompt"
	"github.com/intelforge/intelforge/internal/report"
	"github.com/intelforge/intelforge/internal/store"
	"github.com/intelforge/intelforge/pkg/models"
)

// app wires the full dependency graph for one CLI invocation. Commands that
// only inspect state pass an empty output directory and skip run artifacts.
type app struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Store    *store.Store
	Engine   *engine.Engine
	Inputs   *humaninput.Coordinator
	RunMgr   *report.RunManager
	Exporter *report.Exporter

	logFile *os.File
	closeDB func() error
}

func newApp(runOutputDir string) (*app, error) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	loadEnv(bootstrap)

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	a := &app{Cfg: cfg, Logger: bootstrap}

	if runOutputDir != "" {
		rm, err := report.NewRunManager(bootstrap, runOutputDir, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create run directory: %w", err)
		}
		logger, logFile, err := report.SetupLogger(rm, logLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to setup logger: %w", err)
		}
		if err := rm.BackupConfig(configPath); err != nil {
			logger.Warn("Config backup failed", "error", err)
		}
		a.RunMgr = rm
		a.Exporter = report.NewExporter(rm, logger)
		a.Logger = logger
		a.logFile = logFile
	}

	if cfg.Store.Path == ":memory:" {
		a.Store = store.NewMemory()
	} else {
		st, closeDB, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		a.Store = st
		a.closeDB = closeDB
	}

	catalog, err := prompt.NewCatalog(cfg.Prompts.CatalogPath, cfg.Prompts.Compress, a.Logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load prompt catalog: %w", err)
	}

	notifier := notify.New(cfg.Notify.WebhookURL, a.Logger)
	monitor := budget.NewMonitor(cfg.Budget.WindowSize, cfg.Budget.HandoverThreshold, a.Logger)
	coordinator := humaninput.NewCoordinator(
		a.Store.Requests,
		notifier,
		time.Duration(cfg.HumanInput.TimeoutHours)*time.Hour,
		cfg.HumanInput.ReminderFraction,
		a.Logger,
	)
	completer := llm.NewClient(cfg.Model, secrets.GetAPIKey(cfg.Model.BaseURL), a.Logger)

	eng, err := engine.New(cfg, models.DefaultPhasePlan(), engine.Deps{
		Store:       a.Store,
		Completer:   completer,
		Catalog:     catalog,
		Monitor:     monitor,
		Inputs:      coordinator,
		Synthesizer: archive.NewSynthesizer(a.Logger),
		Notifier:    notifier,
		Collector:   metrics.NewCollector(a.Logger),
		Logger:      a.Logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Engine = eng
	a.Inputs = coordinator
	return a, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.closeDB != nil {
		if err := a.closeDB(); err != nil {
			a.Logger.Error("Failed to close store", "error", err)
		}
	}
	if a.logFile != nil {
		_ = a.logFile.Sync()
		_ = a.logFile.Close()
	}
}

// resolveSession returns the session to execute: the given one, or a new one.
func (a *app) resolveSession(ctx context.Context, id string) (*models.Session, error) {
	if id != "" {
		session, err := a.Store.Sessions.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", id, err)
		}
		return session, nil
	}
	return a.Engine.StartSession(ctx)
}

// execute drives a session to its next stopping point and reports the outcome.
func (a *app) execute(ctx context.Context, session *models.Session) error {
	a.Logger.Info("IntelForge executing",
		"version", Version,
		"session_id", session.ID,
		"phases", len(session.Phases),
		"window_size", a.Cfg.Budget.WindowSize)

	stopProgress := a.trackProgress(ctx, session)
	result, err := a.Engine.ExecuteSession(ctx, session.ID)
	stopProgress()
	if err != nil {
		if ctx.Err() != nil {
			a.Logger.Warn("Execution interrupted, rerun to continue",
				"session_id", session.ID,
				"resume_command", fmt.Sprintf("intelforge run --session %s", session.ID))
			return fmt.Errorf("execution interrupted (rerun with --session %s)", session.ID)
		}
		return fmt.Errorf("execution failed: %w", err)
	}

	return a.presentResult(ctx, session.ID, result)
}

// presentResult reports a stopping point to the operator and writes run
// artifacts when a run directory exists.
func (a *app) presentResult(ctx context.Context, sessionID string, result *models.ExecutionResult) error {
	switch {
	case result.PendingRequestID != "":
		req, err := a.Store.Requests.Get(ctx, result.PendingRequestID)
		if err != nil {
			return err
		}
		fmt.Printf("\nSession paused for externally-sourced data.\n")
		fmt.Printf("Request: %s (%s)\n\n%s\n\n", req.ID, req.InputType, req.Instructions)
		fmt.Printf("Submit with: intelforge input submit %s --data '{...}'\n", req.ID)
	case result.HandoverID != "":
		fmt.Printf("\nContext budget exhausted; handover checkpoint created.\n")
		fmt.Printf("Resume with: intelforge handover resume %s\n", result.HandoverID)
	default:
		a.Logger.Info("Session finished",
			"session_id", result.SessionID,
			"status", result.Status,
			"completed", result.CompletedPhases,
			"failed", result.FailedPhases,
			"duration", result.Duration.Round(time.Millisecond))
	}

	return a.exportArtifacts(ctx, sessionID, result)
}

// trackProgress renders a phase progress bar while ExecuteSession runs.
func (a *app) trackProgress(ctx context.Context, session *models.Session) func() {
	if verbose {
		return func() {} // debug logs and the bar fight over the terminal
	}
	bar := progressbar.Default(int64(len(session.Phases)), "Executing phases")

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if summary, err := a.Engine.SessionStatus(ctx, session.ID); err == nil {
					completed := int(summary.PercentComplete / 100 * float64(len(session.Phases)))
					_ = bar.Set(completed)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
		_ = bar.Finish()
	}
}

// exportArtifacts writes the run's report and exports when a run directory exists.
func (a *app) exportArtifacts(ctx context.Context, sessionID string, result *models.ExecutionResult) error {
	if a.Exporter == nil {
		return nil
	}

	summary, err := a.Engine.SessionStatus(ctx, sessionID)
	if err != nil {
		return err
	}
	phaseMetrics, err := a.Engine.PhaseMetrics(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := a.Exporter.WriteReport(&report.SessionReport{
		Summary: *summary,
		Result:  *result,
		Metrics: phaseMetrics,
	}); err != nil {
		return err
	}

	records, err := a.Store.Phases.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := a.Exporter.WritePhases(records); err != nil {
		return err
	}

	archives, err := a.Store.Archives.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	return a.Exporter.WriteArchives(archives)
}
