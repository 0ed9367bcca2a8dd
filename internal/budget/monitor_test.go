package budget

import (
	"log/slog"
	"os"
	"testing"

	"github.com/intelforge/intelforge/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testPhases() []models.PhaseID {
	return []models.PhaseID{"alpha", "beta", "gamma", "delta"}
}

func TestAddTokensAccounting(t *testing.T) {
	m := NewMonitor(10_000, 0.70, testLogger())
	m.StartSession("s1", testPhases())

	state, handover, err := m.AddTokens("s1", "alpha", 1000, 500)
	if err != nil {
		t.Fatalf("AddTokens failed: %v", err)
	}
	if handover {
		t.Error("Expected no handover at 15% utilization")
	}
	if state.TokensUsed != 1500 {
		t.Errorf("Expected 1500 tokens used, got %d", state.TokensUsed)
	}
	if state.Utilization != 15.0 {
		t.Errorf("Expected 15.0%% utilization, got %.2f", state.Utilization)
	}

	state, _, err = m.AddTokens("s1", "beta", 2000, 1000)
	if err != nil {
		t.Fatalf("AddTokens failed: %v", err)
	}
	if state.TokensUsed != 4500 {
		t.Errorf("Expected cumulative 4500 tokens, got %d", state.TokensUsed)
	}
}

func TestAddTokensUnknownSession(t *testing.T) {
	m := NewMonitor(10_000, 0.70, testLogger())
	if _, _, err := m.AddTokens("nope", "alpha", 10, 10); err == nil {
		t.Error("Expected error for unknown session")
	}
}

func TestHandoverThreshold(t *testing.T) {
	m := NewMonitor(10_000, 0.70, testLogger())
	m.StartSession("s1", testPhases())

	// 6999 tokens: just under the 7000-token threshold.
	_, handover, err := m.AddTokens("s1", "alpha", 6000, 999)
	if err != nil {
		t.Fatalf("AddTokens failed: %v", err)
	}
	if handover {
		t.Error("Expected no handover just under threshold")
	}

	// One more token crosses it.
	state, handover, err := m.AddTokens("s1", "beta", 1, 0)
	if err != nil {
		t.Fatalf("AddTokens failed: %v", err)
	}
	if !handover {
		t.Errorf("Expected handover at %d tokens", state.TokensUsed)
	}
	if !state.NeedsHandover {
		t.Error("Expected NeedsHandover in snapshot")
	}
}

func TestEstimateRemainingCapacity(t *testing.T) {
	m := NewMonitor(10_000, 0.70, testLogger())
	m.StartSession("s1", testPhases())

	// Before any phase completes the estimate falls back to windowSize/phases.
	est, err := m.EstimateRemainingCapacity("s1")
	if err != nil {
		t.Fatalf("EstimateRemainingCapacity failed: %v", err)
	}
	if est != 2 { // budget 7000 / (10000/4 = 2500 per phase)
		t.Errorf("Expected fallback estimate 2, got %d", est)
	}

	// With a completed phase the observed average drives the estimate.
	if _, _, err := m.AddTokens("s1", "alpha", 800, 200); err != nil {
		t.Fatalf("AddTokens failed: %v", err)
	}
	m.CompletePhase("s1", "alpha")

	est, err = m.EstimateRemainingCapacity("s1")
	if err != nil {
		t.Fatalf("EstimateRemainingCapacity failed: %v", err)
	}
	if est != 6 { // budget 6000 / avg 1000
		t.Errorf("Expected estimate 6, got %d", est)
	}
}

func TestEstimateZeroAtThreshold(t *testing.T) {
	m := NewMonitor(10_000, 0.70, testLogger())
	m.StartSession("s1", testPhases())

	if _, handover, err := m.AddTokens("s1", "alpha", 7000, 0); err != nil || !handover {
		t.Fatalf("Expected handover signal, got handover=%v err=%v", handover, err)
	}
	m.CompletePhase("s1", "alpha")

	// Once the threshold is crossed the estimate is pinned at zero and stays
	// there; repeating the query never increases it.
	for i := 0; i < 3; i++ {
		est, err := m.EstimateRemainingCapacity("s1")
		if err != nil {
			t.Fatalf("EstimateRemainingCapacity failed: %v", err)
		}
		if est != 0 {
			t.Errorf("Expected estimate 0 past threshold, got %d", est)
		}
	}
}

func TestRestoreSeedsCounter(t *testing.T) {
	m := NewMonitor(10_000, 0.70, testLogger())
	m.Restore("s1", testPhases(), 4000)

	state, err := m.Summary("s1")
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if state.TokensUsed != 4000 {
		t.Errorf("Expected restored 4000 tokens, got %d", state.TokensUsed)
	}

	if _, handover, err := m.AddTokens("s1", "beta", 3000, 0); err != nil || !handover {
		t.Errorf("Expected handover after restore pushes past threshold, got handover=%v err=%v", handover, err)
	}
}

func TestClearSession(t *testing.T) {
	m := NewMonitor(10_000, 0.70, testLogger())
	m.StartSession("s1", testPhases())
	m.ClearSession("s1")

	if _, err := m.Summary("s1"); err == nil {
		t.Error("Expected error after ClearSession")
	}
}
