package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/intelforge/intelforge/internal/llm"
	"github.com/intelforge/intelforge/internal/prompt"
	"github.com/intelforge/intelforge/internal/store"
	"github.com/intelforge/intelforge/pkg/models"
)

// ExecuteSession drives a session forward until it completes, fails, or
// pauses (human input or handover). Already-finished phases are skipped, so
// invoking it on a resumed session continues where the pause happened.
func (e *Engine) ExecuteSession(ctx context.Context, sessionID string) (*models.ExecutionResult, error) {
	started := time.Now()

	session, err := e.store.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Status == models.SessionCompleted || session.Status == models.SessionFailed {
		return e.result(session, started), nil
	}
	if session.Status == models.SessionPaused && session.PendingRequestID != "" {
		req, err := e.store.Requests.Get(ctx, session.PendingRequestID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load pending request: %w", err)
		}
		if err == nil && req.Status == models.RequestWaiting {
			res := e.result(session, started)
			res.Paused = true
			res.PendingRequestID = session.PendingRequestID
			return res, nil
		}
		// The request expired or errored out. Drop the stale reference so the
		// phase loop below reopens the workflow with a fresh request.
		e.logger.Warn("Pending request is no longer waiting, reopening workflow",
			"session_id", session.ID,
			"request_id", session.PendingRequestID)
		session.PendingRequestID = ""
	}
	if handoverID, err := e.pendingHandover(ctx, sessionID); err != nil {
		return nil, err
	} else if handoverID != "" {
		res := e.result(session, started)
		res.Paused = true
		res.HandoverID = handoverID
		return res, nil
	}

	e.ensureTracked(session)
	session.Status = models.SessionExecuting
	if err := e.updateSession(ctx, session); err != nil {
		return nil, err
	}

	var archiveIDs []string
	for _, phaseID := range session.Phases {
		if session.IsPhaseDone(phaseID) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("execution interrupted: %w", err)
		}

		spec, ok := e.plan.SpecFor(phaseID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPhase, phaseID)
		}
		session.CurrentPhase = phaseID
		if err := e.updateSession(ctx, session); err != nil {
			return nil, err
		}

		var humanData map[string]any
		if spec.RequiresHumanInput {
			humanData, err = e.completedInput(ctx, session.ID, phaseID)
			if err != nil {
				return nil, err
			}
			if humanData == nil {
				req, err := e.pauseForInput(ctx, session, spec)
				if err != nil {
					return nil, err
				}
				res := e.result(session, started)
				res.Paused = true
				res.PendingRequestID = req.ID
				return res, nil
			}
		}

		rec, err := e.runPhase(ctx, session, spec, humanData)
		if err != nil {
			session.FailedPhases[phaseID] = true
			if err := e.updateSession(ctx, session); err != nil {
				return nil, err
			}
			attempt := 0
			if rec != nil {
				attempt = rec.Attempt
			}
			e.logger.Error("Phase failed, continuing with remaining phases",
				"session_id", session.ID,
				"phase", phaseID,
				"attempt", attempt,
				"error", err)
			continue
		}

		outcome, err := e.finishPhase(ctx, session, spec, rec)
		if err != nil {
			return nil, err
		}
		if outcome.archiveID != "" {
			archiveIDs = append(archiveIDs, outcome.archiveID)
		}
		if outcome.handoverID != "" {
			res := e.result(session, started)
			res.Paused = true
			res.HandoverID = outcome.handoverID
			res.ArchiveIDs = archiveIDs
			return res, nil
		}
	}

	if session.AllPhasesCompleted() {
		session.Status = models.SessionCompleted
	} else {
		session.Status = models.SessionFailed
	}
	session.CurrentPhase = ""
	if err := e.updateSession(ctx, session); err != nil {
		return nil, err
	}
	e.monitor.ClearSession(session.ID)

	res := e.result(session, started)
	res.ArchiveIDs = archiveIDs
	e.logger.Info("Session finished",
		"session_id", session.ID,
		"status", session.Status,
		"completed", res.CompletedPhases,
		"failed", res.FailedPhases,
		"duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

// phaseOutcome is the post-phase bookkeeping result
type phaseOutcome struct {
	archiveID  string
	handoverID string
}

// finishPhase records a successful phase into the budget, synthesizes an
// archive at boundary phases, and cuts a handover when the budget signals
// exhaustion. Archive synthesis happens before the handover check so the
// checkpoint always references the freshest archive.
func (e *Engine) finishPhase(ctx context.Context, session *models.Session, spec models.PhaseSpec, rec *models.PhaseRecord) (phaseOutcome, error) {
	var outcome phaseOutcome

	state, needsHandover, err := e.monitor.AddTokens(session.ID, spec.ID, rec.PromptTokens, rec.ResponseTokens)
	if err != nil {
		return outcome, fmt.Errorf("budget accounting failed: %w", err)
	}
	e.monitor.CompletePhase(session.ID, spec.ID)

	rec.ContextUtilization = state.Utilization
	if err := e.store.Phases.Update(ctx, rec); err != nil {
		return outcome, fmt.Errorf("failed to update phase record: %w", err)
	}

	session.CompletedPhases[spec.ID] = true
	session.TokensUsed = state.TokensUsed
	if err := e.updateSession(ctx, session); err != nil {
		return outcome, err
	}

	e.collector.RecordPhase(string(spec.ID), rec.FinishedAt.Sub(rec.StartedAt), true)
	e.collector.RecordTokens(string(spec.ID), rec.PromptTokens, rec.ResponseTokens)
	e.collector.SetContextUtilization(session.ID, state.Utilization)

	if spec.CreatesArchive {
		a, err := e.synthesizeArchive(ctx, session, spec.ID, state.TokensUsed)
		if err != nil {
			return outcome, err
		}
		outcome.archiveID = a.ID
	}

	if needsHandover {
		h, err := e.createHandover(ctx, session, spec.ID, state)
		if err != nil {
			return outcome, err
		}
		outcome.handoverID = h.ID
	}
	return outcome, nil
}

// runPhase executes one attempt of one phase: render the prompt, call the
// model under the per-call deadline, persist the attempt record. A record is
// always persisted, failed attempts included. Phases paused for human input
// resume on their original waiting record rather than opening a new attempt.
func (e *Engine) runPhase(ctx context.Context, session *models.Session, spec models.PhaseSpec, humanData map[string]any) (*models.PhaseRecord, error) {
	rec, err := e.openAttempt(ctx, session, spec)
	if err != nil {
		return nil, err
	}

	fail := func(code string, cause error) (*models.PhaseRecord, error) {
		rec.Status = models.PhaseFailed
		rec.ErrorCode = code
		rec.ErrorMessage = cause.Error()
		rec.FinishedAt = time.Now()
		if uerr := e.store.Phases.Update(ctx, rec); uerr != nil {
			e.logger.Error("Failed to persist failed phase record", "record_id", rec.ID, "error", uerr)
		}
		e.collector.RecordPhase(string(spec.ID), rec.FinishedAt.Sub(rec.StartedAt), false)
		return rec, fmt.Errorf("phase %s attempt %d: %w", spec.ID, rec.Attempt, cause)
	}

	blocks, err := e.contextBlocks(ctx, session)
	if err != nil {
		return fail("context_assembly", err)
	}

	vars := map[string]any{
		"BusinessName":      e.cfg.Pipeline.BusinessName,
		"Industry":          e.cfg.Pipeline.Industry,
		"TargetMarket":      e.cfg.Pipeline.TargetMarket,
		"CompletedPhases":   joinPhases(session.Phases, session.CompletedPhases),
		"PriorIntelligence": priorIntelligenceNote(len(blocks)),
		"HumanData":         formatHumanData(humanData),
	}
	rendered, err := e.catalog.Render(spec.ID, vars)
	if err != nil {
		return fail("prompt_render", err)
	}

	rec.Prompt = rendered
	rec.Status = models.PhaseRunning
	if err := e.store.Phases.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to update phase record: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Model.CallTimeout())
	defer cancel()
	result, err := e.completer.Complete(callCtx, llm.CompletionRequest{
		Prompt:      rendered,
		System:      systemPrompt(spec),
		Context:     blocks,
		MaxTokens:   spec.MaxTokens,
		Temperature: spec.Temperature,
	})
	if err != nil {
		return fail("llm_call", err)
	}

	rec.Response = result.Text
	rec.Extracted = result.Extracted
	rec.PromptTokens = result.Usage.PromptTokens
	rec.ResponseTokens = result.Usage.ResponseTokens
	if rec.PromptTokens == 0 {
		rec.PromptTokens = prompt.EstimateTokens(rendered)
	}
	if rec.ResponseTokens == 0 {
		rec.ResponseTokens = prompt.EstimateTokens(result.Text)
	}
	rec.TotalTokens = rec.PromptTokens + rec.ResponseTokens
	rec.Status = models.PhaseCompleted
	rec.FinishedAt = time.Now()
	if err := e.store.Phases.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to update phase record: %w", err)
	}

	e.logger.Info("Phase completed",
		"session_id", session.ID,
		"phase", spec.ID,
		"attempt", rec.Attempt,
		"tokens", rec.TotalTokens,
		"finish_reason", result.FinishReason)
	return rec, nil
}

// openAttempt returns the phase record this execution writes into: the
// existing waiting-for-human record when resuming, otherwise a fresh attempt
// numbered after the last one.
func (e *Engine) openAttempt(ctx context.Context, session *models.Session, spec models.PhaseSpec) (*models.PhaseRecord, error) {
	records, err := e.store.Phases.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phase records: %w", err)
	}

	lastAttempt := 0
	var waiting *models.PhaseRecord
	for _, r := range records {
		if r.PhaseID != spec.ID {
			continue
		}
		if r.Attempt > lastAttempt {
			lastAttempt = r.Attempt
		}
		if r.Status == models.PhaseWaitingHuman {
			waiting = r
		}
	}
	if waiting != nil {
		waiting.StartedAt = time.Now()
		return waiting, nil
	}

	rec := &models.PhaseRecord{
		ID:             uuid.New().String(),
		SessionID:      session.ID,
		PhaseID:        spec.ID,
		Attempt:        lastAttempt + 1,
		Status:         models.PhasePending,
		HumanInput:     spec.RequiresHumanInput,
		HumanInputType: spec.HumanInputType,
		StartedAt:      time.Now(),
	}
	if err := e.store.Phases.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create phase record: %w", err)
	}
	return rec, nil
}

// pauseForInput opens a human-input workflow, parks a waiting phase record,
// and pauses the session.
func (e *Engine) pauseForInput(ctx context.Context, session *models.Session, spec models.PhaseSpec) (*models.HumanInputRequest, error) {
	req, err := e.inputs.InitiateWorkflow(ctx, session, spec.ID, spec.HumanInputType, map[string]any{
		"business_name": e.cfg.Pipeline.BusinessName,
		"industry":      e.cfg.Pipeline.Industry,
		"target_market": e.cfg.Pipeline.TargetMarket,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initiate human-input workflow: %w", err)
	}

	rec, err := e.openAttempt(ctx, session, spec)
	if err != nil {
		return nil, err
	}
	rec.Status = models.PhaseWaitingHuman
	if err := e.store.Phases.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to update phase record: %w", err)
	}

	session.Status = models.SessionPaused
	session.PendingRequestID = req.ID
	if err := e.updateSession(ctx, session); err != nil {
		return nil, err
	}

	e.refreshPendingInputs(ctx)
	e.logger.Info("Session paused for human input",
		"session_id", session.ID,
		"phase", spec.ID,
		"input_type", spec.HumanInputType,
		"request_id", req.ID,
		"expires_at", req.ExpiredAt)
	return req, nil
}

// SubmitHumanInput validates and attaches a response to a waiting request,
// unblocks the session, and continues execution from the parked phase. A
// validation failure leaves the request waiting and the session paused;
// callers may correct and resubmit.
func (e *Engine) SubmitHumanInput(ctx context.Context, requestID string, response map[string]any) (*models.ExecutionResult, error) {
	req, err := e.inputs.ProcessResponse(ctx, requestID, response)
	if err != nil {
		e.collector.RecordHumanInputOutcome("validation_failed")
		return nil, err
	}

	session, err := e.store.Sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.PendingRequestID == requestID {
		session.PendingRequestID = ""
		session.Status = models.SessionPending
		if err := e.updateSession(ctx, session); err != nil {
			return nil, err
		}
	}
	e.collector.RecordHumanInputOutcome("completed")
	e.refreshPendingInputs(ctx)
	return e.ExecuteSession(ctx, session.ID)
}

// RetryPhase re-executes a previously failed phase as a fresh attempt. The
// normal post-phase bookkeeping applies, so a retried boundary phase still
// synthesizes its archive and the budget can still trigger a handover.
func (e *Engine) RetryPhase(ctx context.Context, sessionID string, phaseID models.PhaseID) (*models.PhaseRecord, error) {
	session, err := e.store.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !session.FailedPhases[phaseID] {
		return nil, fmt.Errorf("%w: %s", ErrPhaseNotFailed, phaseID)
	}
	if handoverID, err := e.pendingHandover(ctx, sessionID); err != nil {
		return nil, err
	} else if handoverID != "" {
		return nil, fmt.Errorf("%w: resume handover %s first", ErrHandoverPending, handoverID)
	}
	spec, ok := e.plan.SpecFor(phaseID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPhase, phaseID)
	}

	e.ensureTracked(session)
	delete(session.FailedPhases, phaseID)
	if session.Status == models.SessionFailed {
		session.Status = models.SessionExecuting
	}
	session.CurrentPhase = phaseID
	if err := e.updateSession(ctx, session); err != nil {
		return nil, err
	}

	var humanData map[string]any
	if spec.RequiresHumanInput {
		humanData, err = e.completedInput(ctx, session.ID, phaseID)
		if err != nil {
			return nil, err
		}
	}

	rec, err := e.runPhase(ctx, session, spec, humanData)
	if err != nil {
		session.FailedPhases[phaseID] = true
		if session.NextPendingPhase() == "" {
			session.Status = models.SessionFailed
		}
		if uerr := e.updateSession(ctx, session); uerr != nil {
			return nil, uerr
		}
		return rec, err
	}

	if _, err := e.finishPhase(ctx, session, spec, rec); err != nil {
		return nil, err
	}
	if session.AllPhasesCompleted() {
		session.Status = models.SessionCompleted
		session.CurrentPhase = ""
		if err := e.updateSession(ctx, session); err != nil {
			return nil, err
		}
		e.monitor.ClearSession(session.ID)
	}
	return rec, nil
}

// completedInput returns the response of the completed human-input request
// for a phase, or nil when no completed request exists.
func (e *Engine) completedInput(ctx context.Context, sessionID string, phaseID models.PhaseID) (map[string]any, error) {
	requests, err := e.store.Requests.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list human-input requests: %w", err)
	}
	for _, req := range requests {
		if req.PhaseID == phaseID && req.Status == models.RequestCompleted {
			return req.Response, nil
		}
	}
	return nil, nil
}

// contextBlocks assembles the bounded prior-intelligence context: the most
// recent archives (up to the configured cap) rendered as labeled summaries,
// plus a progress line. Older archives are represented transitively through
// the chain, not re-sent.
func (e *Engine) contextBlocks(ctx context.Context, session *models.Session) ([]string, error) {
	archives, err := e.store.Archives.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	// Most recent first, capped.
	for i, j := 0, len(archives)-1; i < j; i, j = i+1, j-1 {
		archives[i], archives[j] = archives[j], archives[i]
	}
	if max := e.cfg.Pipeline.MaxContextArchives; len(archives) > max {
		archives = archives[:max]
	}

	var blocks []string
	for _, a := range archives {
		payload, err := json.MarshalIndent(a.Summary, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode archive summary: %w", err)
		}
		blocks = append(blocks, fmt.Sprintf("Intelligence archive v%d (after %s):\n%s", a.Version, a.TriggerPhase, payload))
	}
	if progress := joinPhases(session.Phases, session.CompletedPhases); progress != "" {
		blocks = append(blocks, "Phases completed so far: "+progress)
	}
	return blocks, nil
}

// synthesizeArchive builds and persists an archive from the completed records
// not yet covered by a prior archive.
func (e *Engine) synthesizeArchive(ctx context.Context, session *models.Session, trigger models.PhaseID, tokensUsed int) (*models.Archive, error) {
	previous, err := e.store.Archives.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	covered := make(map[models.PhaseID]bool)
	for _, a := range previous {
		for _, id := range a.PhasesIncluded {
			covered[id] = true
		}
	}

	records, err := e.store.Phases.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phase records: %w", err)
	}
	latest := make(map[models.PhaseID]*models.PhaseRecord)
	for _, r := range records {
		if r.Status != models.PhaseCompleted || covered[r.PhaseID] {
			continue
		}
		if prev, ok := latest[r.PhaseID]; !ok || r.Attempt > prev.Attempt {
			latest[r.PhaseID] = r
		}
	}
	var batch []*models.PhaseRecord
	for _, id := range session.Phases {
		if r, ok := latest[id]; ok {
			batch = append(batch, r)
		}
	}

	a := e.synth.BuildArchive(session.ID, trigger, batch, previous, tokensUsed)
	if err := e.store.Archives.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to persist archive: %w", err)
	}
	e.collector.IncrementArchives()
	return a, nil
}

// result snapshots the session into an ExecutionResult.
func (e *Engine) result(session *models.Session, started time.Time) *models.ExecutionResult {
	completed, failed := 0, 0
	for _, id := range session.Phases {
		if session.CompletedPhases[id] {
			completed++
		}
		if session.FailedPhases[id] {
			failed++
		}
	}
	return &models.ExecutionResult{
		SessionID:        session.ID,
		Status:           session.Status,
		CompletedPhases:  completed,
		FailedPhases:     failed,
		PendingRequestID: session.PendingRequestID,
		Duration:         time.Since(started),
	}
}

// systemPrompt is the fixed role preamble shared by all phases.
func systemPrompt(spec models.PhaseSpec) string {
	return fmt.Sprintf("You are a business-intelligence analyst executing the %q phase of a structured research pipeline. Ground every claim in the accumulated context when present. Always end with the requested fenced JSON block.", spec.Name)
}

func joinPhases(order []models.PhaseID, done map[models.PhaseID]bool) string {
	var ids []string
	for _, id := range order {
		if done[id] {
			ids = append(ids, string(id))
		}
	}
	return strings.Join(ids, ", ")
}

func priorIntelligenceNote(blocks int) string {
	if blocks == 0 {
		return ""
	}
	return "Prior synthesized intelligence is provided in the accumulated context above."
}

func formatHumanData(response map[string]any) string {
	if len(response) == 0 {
		return ""
	}
	payload, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", response)
	}
	return string(payload)
}
