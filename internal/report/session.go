package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RunManager manages per-run output directories and files
type RunManager struct {
	runDir string
	logger *slog.Logger
}

// NewRunManager creates a run manager rooted at outputDir. With a resume id
// it reuses the existing run directory; otherwise it creates a timestamped one.
func NewRunManager(logger *slog.Logger, outputDir, resumeRunID string) (*RunManager, error) {
	if outputDir == "" {
		outputDir = "output"
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var runDir string
	if resumeRunID != "" {
		runDir = filepath.Join(outputDir, resumeRunID)
		if _, err := os.Stat(runDir); os.IsNotExist(err) {
			return nil, fmt.Errorf("run directory not found: %s", runDir)
		}
		logger.Info("Resuming existing run directory", "path", runDir)
	} else {
		timestamp := time.Now().Format("2006-01-02T15-04-05")
		runDir = filepath.Join(outputDir, "run_"+timestamp)
		if err := os.MkdirAll(runDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create run directory: %w", err)
		}
		logger.Info("Created run directory", "path", runDir)
	}

	return &RunManager{runDir: runDir, logger: logger}, nil
}

// RunDir returns the run directory path
func (rm *RunManager) RunDir() string {
	return rm.runDir
}

// ReportPath returns the full path to the session report file
func (rm *RunManager) ReportPath() string {
	return filepath.Join(rm.runDir, "report.json")
}

// PhasesPath returns the full path to the phase record export
func (rm *RunManager) PhasesPath() string {
	return filepath.Join(rm.runDir, "phases.jsonl")
}

// ArchivesPath returns the full path to the archive export
func (rm *RunManager) ArchivesPath() string {
	return filepath.Join(rm.runDir, "archives.jsonl")
}

// LogPath returns the full path to the run log file
func (rm *RunManager) LogPath() string {
	return filepath.Join(rm.runDir, "run.log")
}

// ConfigBackupPath returns the full path to the config backup
func (rm *RunManager) ConfigBackupPath() string {
	return filepath.Join(rm.runDir, "config.toml.bak")
}

// BackupConfig copies the config file into the run directory so every run
// records the exact configuration it executed under.
func (rm *RunManager) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	backupPath := rm.ConfigBackupPath()
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}
	rm.logger.Info("Backed up config file", "path", backupPath)
	return nil
}
