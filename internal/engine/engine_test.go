package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intelforge/intelforge/internal/archive"
	"github.com/intelforge/intelforge/internal/budget"
	"github.com/intelforge/intelforge/internal/config"
	"github.com/intelforge/intelforge/internal/humaninput"
	"github.com/intelforge/intelforge/internal/llm"
	"github.com/intelforge/intelforge/internal/notify"
	"github.com/intelforge/intelforge/internal/prompt"
	"github.com/intelforge/intelforge/internal/store"
	"github.com/intelforge/intelforge/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedCompleter lets a test decide each completion's outcome.
type scriptedCompleter struct {
	calls int
	fn    func(call int, req llm.CompletionRequest) (*llm.CompletionResult, error)
}

func (c *scriptedCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	c.calls++
	return c.fn(c.calls, req)
}

// analystResult is the standard happy-path completion: fixed usage plus a
// structured payload carrying one per-call insight.
func analystResult(call int) *llm.CompletionResult {
	return &llm.CompletionResult{
		Text: "Analysis body.",
		Usage: llm.Usage{
			PromptTokens:   400,
			ResponseTokens: 300,
			TotalTokens:    700,
		},
		Extracted: map[string]any{
			"insights": []any{fmt.Sprintf("finding %d", call)},
			"frameworks": map[string]any{
				"customer_psychology": map[string]any{
					"pain_points": []any{"slow quoting"},
				},
			},
		},
		FinishReason: "stop",
	}
}

func testConfig(phases ...string) *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Pipeline.TenantID = "t1"
	cfg.Pipeline.BusinessName = "Acme Tooling"
	cfg.Pipeline.Industry = "industrial supplies"
	cfg.Pipeline.TargetMarket = "small machine shops"
	cfg.Pipeline.Phases = phases
	cfg.Model.BaseURL = "http://localhost:0"
	cfg.Model.ModelName = "test-model"
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, completer llm.Completer) (*Engine, *store.Store) {
	t.Helper()
	logger := testLogger()
	s := store.NewMemory()

	catalog, err := prompt.NewCatalog("", false, logger)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	notifier := notify.New("", logger)
	eng, err := New(cfg, models.DefaultPhasePlan(), Deps{
		Store:       s,
		Completer:   completer,
		Catalog:     catalog,
		Monitor:     budget.NewMonitor(cfg.Budget.WindowSize, cfg.Budget.HandoverThreshold, logger),
		Inputs:      humaninput.NewCoordinator(s.Requests, notifier, 48*time.Hour, 0.5, logger),
		Synthesizer: archive.NewSynthesizer(logger),
		Notifier:    notifier,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return eng, s
}

func TestExecuteSessionCompletes(t *testing.T) {
	cfg := testConfig("market-landscape", "audience-segmentation", "foundation-synthesis")
	completer := &scriptedCompleter{fn: func(call int, _ llm.CompletionRequest) (*llm.CompletionResult, error) {
		return analystResult(call), nil
	}}
	eng, s := newTestEngine(t, cfg, completer)
	ctx := context.Background()

	session, err := eng.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	result, err := eng.ExecuteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ExecuteSession failed: %v", err)
	}

	if result.Status != models.SessionCompleted {
		t.Errorf("Expected completed session, got %s", result.Status)
	}
	if result.CompletedPhases != 3 || result.FailedPhases != 0 {
		t.Errorf("Expected 3 completed / 0 failed, got %d / %d", result.CompletedPhases, result.FailedPhases)
	}
	if len(result.ArchiveIDs) != 1 {
		t.Fatalf("Expected 1 archive from the boundary phase, got %d", len(result.ArchiveIDs))
	}

	// Token accounting is exactly the sum of per-phase usage.
	stored, err := s.Sessions.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get session failed: %v", err)
	}
	if stored.TokensUsed != 3*700 {
		t.Errorf("Expected %d tokens used, got %d", 3*700, stored.TokensUsed)
	}

	a, err := s.Archives.Get(ctx, result.ArchiveIDs[0])
	if err != nil {
		t.Fatalf("Get archive failed: %v", err)
	}
	if a.Version != 1 || len(a.PhasesIncluded) != 3 {
		t.Errorf("Expected v1 archive covering 3 phases, got v%d / %d", a.Version, len(a.PhasesIncluded))
	}
	if len(a.Summary.Insights) != 3 {
		t.Errorf("Expected 3 accumulated insights, got %v", a.Summary.Insights)
	}

	// Re-executing a completed session returns immediately.
	calls := completer.calls
	again, err := eng.ExecuteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ExecuteSession on completed session failed: %v", err)
	}
	if again.Status != models.SessionCompleted || completer.calls != calls {
		t.Error("Expected no further model calls on a completed session")
	}

	metrics, err := eng.PhaseMetrics(ctx, session.ID)
	if err != nil {
		t.Fatalf("PhaseMetrics failed: %v", err)
	}
	if len(metrics) != 3 {
		t.Fatalf("Expected 3 phase metrics, got %d", len(metrics))
	}
	for _, m := range metrics {
		if m.TotalTokens != 700 || m.Status != models.PhaseCompleted {
			t.Errorf("Unexpected metric: %+v", m)
		}
	}
}

func TestExecuteSessionPausesForHumanInput(t *testing.T) {
	cfg := testConfig("market-landscape", "keyword-research", "foundation-synthesis")
	completer := &scriptedCompleter{fn: func(call int, _ llm.CompletionRequest) (*llm.CompletionResult, error) {
		return analystResult(call), nil
	}}
	eng, s := newTestEngine(t, cfg, completer)
	ctx := context.Background()

	session, err := eng.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	result, err := eng.ExecuteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ExecuteSession failed: %v", err)
	}

	if !result.Paused || result.PendingRequestID == "" {
		t.Fatalf("Expected pause with pending request, got %+v", result)
	}
	if result.CompletedPhases != 1 {
		t.Errorf("Expected 1 completed phase before pause, got %d", result.CompletedPhases)
	}

	paused, err := s.Sessions.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get session failed: %v", err)
	}
	if paused.Status != models.SessionPaused {
		t.Errorf("Expected paused session, got %s", paused.Status)
	}

	// The paused phase holds a waiting record, not a failed attempt.
	records, err := s.Phases.ListBySession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	var waiting *models.PhaseRecord
	for _, r := range records {
		if r.PhaseID == models.PhaseKeywordResearch {
			waiting = r
		}
	}
	if waiting == nil || waiting.Status != models.PhaseWaitingHuman {
		t.Fatalf("Expected waiting record for keyword-research, got %+v", waiting)
	}

	// Re-execution while paused does not call the model.
	calls := completer.calls
	if again, err := eng.ExecuteSession(ctx, session.ID); err != nil || !again.Paused {
		t.Fatalf("Expected paused re-execution, got %+v err=%v", again, err)
	}
	if completer.calls != calls {
		t.Error("Paused session must not trigger model calls")
	}

	// Submitting the response resumes execution through to the end.
	final, err := eng.SubmitHumanInput(ctx, result.PendingRequestID, map[string]any{
		"volume":      float64(100),
		"competition": 0.4,
		"cost":        1.2,
	})
	if err != nil {
		t.Fatalf("SubmitHumanInput failed: %v", err)
	}
	if final.Status != models.SessionCompleted {
		t.Fatalf("Expected completed session, got %s", final.Status)
	}
	if final.PendingRequestID != "" {
		t.Errorf("Expected cleared pending request, got %q", final.PendingRequestID)
	}

	// The resumed phase reused its waiting record and saw the human data.
	resumed, err := s.Phases.Get(ctx, waiting.ID)
	if err != nil {
		t.Fatalf("Get record failed: %v", err)
	}
	if resumed.Status != models.PhaseCompleted {
		t.Errorf("Expected waiting record completed in place, got %s", resumed.Status)
	}
	if !strings.Contains(resumed.Prompt, "\"volume\": 100") {
		t.Errorf("Expected human data rendered into prompt, got %q", resumed.Prompt)
	}

	if len(final.ArchiveIDs) != 1 {
		t.Fatalf("Expected boundary archive after resume, got %d", len(final.ArchiveIDs))
	}
	a, err := s.Archives.Get(ctx, final.ArchiveIDs[0])
	if err != nil {
		t.Fatalf("Get archive failed: %v", err)
	}
	if len(a.PhasesIncluded) != 3 {
		t.Errorf("Expected archive covering all 3 phases, got %v", a.PhasesIncluded)
	}
}

func TestSubmitHumanInputValidationKeepsPause(t *testing.T) {
	cfg := testConfig("keyword-research")
	completer := &scriptedCompleter{fn: func(call int, _ llm.CompletionRequest) (*llm.CompletionResult, error) {
		return analystResult(call), nil
	}}
	eng, s := newTestEngine(t, cfg, completer)
	ctx := context.Background()

	session, err := eng.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	result, err := eng.ExecuteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ExecuteSession failed: %v", err)
	}

	_, err = eng.SubmitHumanInput(ctx, result.PendingRequestID, map[string]any{"volume": "lots"})
	var verr *humaninput.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}

	stored, err := s.Sessions.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get session failed: %v", err)
	}
	if stored.Status != models.SessionPaused || stored.PendingRequestID != result.PendingRequestID {
		t.Errorf("Expected session still paused on rejected input, got %+v", stored)
	}
}

func TestExecuteSessionContinuesPastFailures(t *testing.T) {
	cfg := testConfig("market-landscape", "audience-segmentation", "customer-psychology")
	completer := &scriptedCompleter{fn: func(call int, _ llm.CompletionRequest) (*llm.CompletionResult, error) {
		if call == 2 {
			return nil, errors.New("model unavailable")
		}
		return analystResult(call), nil
	}}
	eng, s := newTestEngine(t, cfg, completer)
	ctx := context.Background()

	session, err := eng.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	result, err := eng.ExecuteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ExecuteSession failed: %v", err)
	}

	if result.Status != models.SessionFailed {
		t.Errorf("Expected failed session, got %s", result.Status)
	}
	if result.CompletedPhases != 2 || result.FailedPhases != 1 {
		t.Errorf("Expected 2 completed / 1 failed, got %d / %d", result.CompletedPhases, result.FailedPhases)
	}

	// The failed attempt is recorded with its error.
	records, err := s.Phases.ListBySession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	var failed *models.PhaseRecord
	for _, r := range records {
		if r.Status == models.PhaseFailed {
			failed = r
		}
	}
	if failed == nil || failed.ErrorCode != "llm_call" {
		t.Fatalf("Expected failed record with llm_call code, got %+v", failed)
	}

	// Retrying the failed phase recovers the session.
	rec, err := eng.RetryPhase(ctx, session.ID, failed.PhaseID)
	if err != nil {
		t.Fatalf("RetryPhase failed: %v", err)
	}
	if rec.Attempt != failed.Attempt+1 {
		t.Errorf("Expected attempt %d, got %d", failed.Attempt+1, rec.Attempt)
	}

	recovered, err := s.Sessions.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get session failed: %v", err)
	}
	if recovered.Status != models.SessionCompleted {
		t.Errorf("Expected completed session after retry, got %s", recovered.Status)
	}

	// Retrying a phase that never failed is rejected.
	if _, err := eng.RetryPhase(ctx, session.ID, "market-landscape"); !errors.Is(err, ErrPhaseNotFailed) {
		t.Errorf("Expected ErrPhaseNotFailed, got %v", err)
	}
}

func TestHandoverAndResume(t *testing.T) {
	cfg := testConfig("market-landscape", "audience-segmentation", "customer-psychology")
	// 1000-token window, 0.70 threshold: the first 700-token phase crosses it.
	cfg.Budget.WindowSize = 1000
	completer := &scriptedCompleter{fn: func(call int, _ llm.CompletionRequest) (*llm.CompletionResult, error) {
		return analystResult(call), nil
	}}
	eng, s := newTestEngine(t, cfg, completer)
	ctx := context.Background()

	session, err := eng.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	result, err := eng.ExecuteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ExecuteSession failed: %v", err)
	}

	if !result.Paused || result.HandoverID == "" {
		t.Fatalf("Expected handover pause, got %+v", result)
	}
	if result.CompletedPhases != 1 {
		t.Errorf("Expected 1 phase before handover, got %d", result.CompletedPhases)
	}

	h, err := s.Handovers.Get(ctx, result.HandoverID)
	if err != nil {
		t.Fatalf("Get handover failed: %v", err)
	}
	if h.Recovered {
		t.Error("Fresh handover must not be recovered")
	}
	if h.Sequence != 1 || h.TotalTokens != 700 {
		t.Errorf("Unexpected handover: seq=%d tokens=%d", h.Sequence, h.TotalTokens)
	}
	if len(h.State.CompletedPhases) != 1 || len(h.State.PendingPhases) != 2 {
		t.Errorf("Unexpected critical state: %+v", h.State)
	}
	if h.NextAction != "resume at phase audience-segmentation" {
		t.Errorf("Unexpected next action: %q", h.NextAction)
	}

	// Re-executing the exhausted session just points at the handover.
	calls := completer.calls
	again, err := eng.ExecuteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ExecuteSession failed: %v", err)
	}
	if again.HandoverID != h.ID || completer.calls != calls {
		t.Error("Exhausted session must not execute further phases")
	}

	successor, err := eng.ResumeFromHandover(ctx, h.ID)
	if err != nil {
		t.Fatalf("ResumeFromHandover failed: %v", err)
	}
	if successor.ID == session.ID {
		t.Error("Successor must be a new session")
	}
	if !successor.CompletedPhases["market-landscape"] {
		t.Error("Successor must inherit completed phases")
	}
	if successor.TokensUsed != 0 {
		t.Errorf("Successor must start with a fresh window, got %d tokens", successor.TokensUsed)
	}

	// A handover resumes exactly once.
	if _, err := eng.ResumeFromHandover(ctx, h.ID); !errors.Is(err, ErrHandoverRecovered) {
		t.Errorf("Expected ErrHandoverRecovered, got %v", err)
	}

	// The successor continues from the next pending phase. Its own 700-token
	// first phase crosses the threshold again, producing the next handover in
	// sequence.
	next, err := eng.ExecuteSession(ctx, successor.ID)
	if err != nil {
		t.Fatalf("Successor ExecuteSession failed: %v", err)
	}
	if next.HandoverID == "" {
		t.Fatalf("Expected second handover, got %+v", next)
	}
	h2, err := s.Handovers.Get(ctx, next.HandoverID)
	if err != nil {
		t.Fatalf("Get handover failed: %v", err)
	}
	if h2.Sequence != 2 {
		t.Errorf("Expected handover sequence 2, got %d", h2.Sequence)
	}
	if len(h2.State.CompletedPhases) != 2 {
		t.Errorf("Expected 2 completed phases in second handover, got %+v", h2.State)
	}
}

func TestResumeFromHandoverConfigMismatch(t *testing.T) {
	cfg := testConfig("market-landscape", "audience-segmentation")
	cfg.Budget.WindowSize = 1000
	completer := &scriptedCompleter{fn: func(call int, _ llm.CompletionRequest) (*llm.CompletionResult, error) {
		return analystResult(call), nil
	}}
	eng, _ := newTestEngine(t, cfg, completer)
	ctx := context.Background()

	session, err := eng.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	result, err := eng.ExecuteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ExecuteSession failed: %v", err)
	}
	if result.HandoverID == "" {
		t.Fatalf("Expected handover, got %+v", result)
	}

	cfg.Model.ModelName = "different-model"
	if _, err := eng.ResumeFromHandover(ctx, result.HandoverID); !errors.Is(err, ErrConfigMismatch) {
		t.Errorf("Expected ErrConfigMismatch after config change, got %v", err)
	}
}

func TestHandoverCarriesArchivesForward(t *testing.T) {
	cfg := testConfig("market-landscape", "audience-segmentation", "foundation-synthesis", "authority-positioning")
	// Threshold crosses exactly when the boundary phase finishes, so the
	// handover is cut right after the archive.
	cfg.Budget.WindowSize = 3000
	completer := &scriptedCompleter{fn: func(call int, req llm.CompletionRequest) (*llm.CompletionResult, error) {
		return analystResult(call), nil
	}}
	eng, s := newTestEngine(t, cfg, completer)
	ctx := context.Background()

	session, err := eng.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	result, err := eng.ExecuteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ExecuteSession failed: %v", err)
	}
	if result.HandoverID == "" || len(result.ArchiveIDs) != 1 {
		t.Fatalf("Expected archive then handover, got %+v", result)
	}

	h, err := s.Handovers.Get(ctx, result.HandoverID)
	if err != nil {
		t.Fatalf("Get handover failed: %v", err)
	}
	if h.LatestArchiveID != result.ArchiveIDs[0] {
		t.Errorf("Expected handover to reference the fresh archive, got %s", h.LatestArchiveID)
	}

	successor, err := eng.ResumeFromHandover(ctx, h.ID)
	if err != nil {
		t.Fatalf("ResumeFromHandover failed: %v", err)
	}

	carried, err := s.Archives.ListBySession(ctx, successor.ID)
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	if len(carried) != 1 {
		t.Fatalf("Expected 1 carried archive, got %d", len(carried))
	}
	if carried[0].Version != 1 || len(carried[0].Summary.Insights) == 0 {
		t.Errorf("Carried archive lost content: %+v", carried[0])
	}

	// The successor's remaining phase sees the carried archive in context.
	var sawArchive bool
	completer.fn = func(call int, req llm.CompletionRequest) (*llm.CompletionResult, error) {
		for _, block := range req.Context {
			if strings.Contains(block, "Intelligence archive v1") {
				sawArchive = true
			}
		}
		return analystResult(call), nil
	}
	final, err := eng.ExecuteSession(ctx, successor.ID)
	if err != nil {
		t.Fatalf("Successor ExecuteSession failed: %v", err)
	}
	if final.Status != models.SessionCompleted {
		t.Errorf("Expected completed successor, got %s", final.Status)
	}
	if !sawArchive {
		t.Error("Expected carried archive in the successor's context blocks")
	}
}

func TestSessionStatus(t *testing.T) {
	cfg := testConfig("market-landscape", "keyword-research")
	completer := &scriptedCompleter{fn: func(call int, _ llm.CompletionRequest) (*llm.CompletionResult, error) {
		return analystResult(call), nil
	}}
	eng, _ := newTestEngine(t, cfg, completer)
	ctx := context.Background()

	session, err := eng.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := eng.ExecuteSession(ctx, session.ID); err != nil {
		t.Fatalf("ExecuteSession failed: %v", err)
	}

	summary, err := eng.SessionStatus(ctx, session.ID)
	if err != nil {
		t.Fatalf("SessionStatus failed: %v", err)
	}
	if summary.Status != models.SessionPaused {
		t.Errorf("Expected paused status, got %s", summary.Status)
	}
	if summary.PercentComplete != 50.0 {
		t.Errorf("Expected 50%% complete, got %.1f", summary.PercentComplete)
	}
	if summary.TokensUsed != 700 {
		t.Errorf("Expected 700 tokens, got %d", summary.TokensUsed)
	}
	if len(summary.PendingInputs) != 1 {
		t.Fatalf("Expected 1 pending input, got %d", len(summary.PendingInputs))
	}
	if summary.PendingInputs[0].InputType != models.InputTypeKeywordLookup {
		t.Errorf("Unexpected pending input type: %s", summary.PendingInputs[0].InputType)
	}
}

func pendingInputsGauge(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "intelforge_pending_human_inputs" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("Pending-inputs gauge not registered")
	return 0
}

func TestRetryPhaseRejectedWhileHandoverPending(t *testing.T) {
	cfg := testConfig("market-landscape", "audience-segmentation", "customer-psychology")
	cfg.Budget.WindowSize = 1000
	completer := &scriptedCompleter{fn: func(call int, _ llm.CompletionRequest) (*llm.CompletionResult, error) {
		if call == 1 {
			return nil, errors.New("model unavailable")
		}
		return analystResult(call), nil
	}}
	eng, s := newTestEngine(t, cfg, completer)
	ctx := context.Background()

	session, err := eng.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	// Phase 1 fails, phase 2's 700 tokens exhaust the 1000-token window.
	result, err := eng.ExecuteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ExecuteSession failed: %v", err)
	}
	if result.HandoverID == "" || result.FailedPhases != 1 {
		t.Fatalf("Expected handover with one failed phase, got %+v", result)
	}

	if _, err := eng.RetryPhase(ctx, session.ID, "market-landscape"); !errors.Is(err, ErrHandoverPending) {
		t.Fatalf("Expected ErrHandoverPending, got %v", err)
	}

	// The rejected retry must not have cut a second checkpoint.
	handovers, err := s.Handovers.ListBySession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	unrecovered := 0
	for _, h := range handovers {
		if !h.Recovered {
			unrecovered++
		}
	}
	if unrecovered != 1 {
		t.Errorf("Expected exactly 1 unrecovered handover, got %d", unrecovered)
	}
}

func TestExecuteSessionReopensExpiredRequest(t *testing.T) {
	cfg := testConfig("keyword-research", "foundation-synthesis")
	completer := &scriptedCompleter{fn: func(call int, _ llm.CompletionRequest) (*llm.CompletionResult, error) {
		return analystResult(call), nil
	}}
	eng, s := newTestEngine(t, cfg, completer)
	ctx := context.Background()

	session, err := eng.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	result, err := eng.ExecuteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ExecuteSession failed: %v", err)
	}
	if result.PendingRequestID == "" {
		t.Fatalf("Expected pause for human input, got %+v", result)
	}
	if got := pendingInputsGauge(t); got != 1 {
		t.Errorf("Expected 1 pending input on the gauge, got %.0f", got)
	}

	// Expire the request the way the sweep would.
	expired, err := s.Requests.Get(ctx, result.PendingRequestID)
	if err != nil {
		t.Fatalf("Get request failed: %v", err)
	}
	expired.Status = models.RequestExpired
	if err := s.Requests.Update(ctx, expired); err != nil {
		t.Fatalf("Update request failed: %v", err)
	}

	// The session is not stuck: execution reopens the workflow with a fresh
	// request instead of pointing at the dead one forever.
	reopened, err := eng.ExecuteSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ExecuteSession after expiry failed: %v", err)
	}
	if !reopened.Paused || reopened.PendingRequestID == "" {
		t.Fatalf("Expected a fresh pause, got %+v", reopened)
	}
	if reopened.PendingRequestID == result.PendingRequestID {
		t.Fatal("Expected a new request, got the expired one")
	}

	// The parked phase record is reused, not duplicated.
	records, err := s.Phases.ListBySession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	waiting := 0
	for _, r := range records {
		if r.PhaseID == models.PhaseKeywordResearch && r.Status == models.PhaseWaitingHuman {
			waiting++
		}
	}
	if waiting != 1 {
		t.Errorf("Expected 1 waiting record, got %d", waiting)
	}

	final, err := eng.SubmitHumanInput(ctx, reopened.PendingRequestID, map[string]any{
		"volume":      float64(50),
		"competition": 0.2,
		"cost":        0.8,
	})
	if err != nil {
		t.Fatalf("SubmitHumanInput failed: %v", err)
	}
	if final.Status != models.SessionCompleted {
		t.Errorf("Expected completed session after reopened input, got %s", final.Status)
	}
	if got := pendingInputsGauge(t); got != 0 {
		t.Errorf("Expected drained gauge, got %.0f", got)
	}
}

func TestStartSessionRejectsUnknownPhase(t *testing.T) {
	cfg := testConfig("market-landscape", "no-such-phase")
	completer := &scriptedCompleter{fn: func(call int, _ llm.CompletionRequest) (*llm.CompletionResult, error) {
		return analystResult(call), nil
	}}
	eng, _ := newTestEngine(t, cfg, completer)

	if _, err := eng.StartSession(context.Background()); !errors.Is(err, ErrUnknownPhase) {
		t.Errorf("Expected ErrUnknownPhase, got %v", err)
	}
}
