package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/intelforge/intelforge/pkg/models"
)

// Exporter writes a run's final artifacts: the session report plus JSONL
// exports of phase records and archives. Writes are atomic (temp file then
// rename) so a crash never leaves a truncated artifact behind.
type Exporter struct {
	rm     *RunManager
	logger *slog.Logger
}

// NewExporter creates an exporter for a run directory
func NewExporter(rm *RunManager, logger *slog.Logger) *Exporter {
	return &Exporter{rm: rm, logger: logger.With("component", "report")}
}

// SessionReport is the top-level report document
type SessionReport struct {
	Summary models.SessionSummary  `json:"summary"`
	Result  models.ExecutionResult `json:"result"`
	Metrics []models.PhaseMetric   `json:"metrics"`
}

// WriteReport writes the session report document.
func (e *Exporter) WriteReport(report *SessionReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := atomicWrite(e.rm.ReportPath(), data); err != nil {
		return err
	}
	e.logger.Info("Report written", "path", e.rm.ReportPath())
	return nil
}

// WritePhases exports phase records as JSONL, one attempt per line.
func (e *Exporter) WritePhases(records []*models.PhaseRecord) error {
	return writeJSONL(e.rm.PhasesPath(), len(records), func(i int) any { return records[i] })
}

// WriteArchives exports archives as JSONL, one per line.
func (e *Exporter) WriteArchives(archives []*models.Archive) error {
	return writeJSONL(e.rm.ArchivesPath(), len(archives), func(i int) any { return archives[i] })
}

func writeJSONL(path string, n int, item func(int) any) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := 0; i < n; i++ {
		if err := enc.Encode(item(i)); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to flush %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}
