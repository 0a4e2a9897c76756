package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"intentgate/internal/domain"
	"intentgate/internal/events"
	"intentgate/internal/repo"
)

func loopTerminal(status string) bool {
	switch status {
	case "completed", "cancelled", "failed":
		return true
	}
	return false
}

// LoopCreateOptions are parameters for creating an execution loop.
// Zero ceilings fall back to the configured project limits.
type LoopCreateOptions struct {
	ID                       string
	ProjectID                string
	IntentID                 string
	MaxTimeMinutes           int
	MaxActions               int
	MaxCostUSD               float64
	MaxIterationsBeforePause int
	ActorID                  string
}

func (e Engine) CreateLoop(ctx context.Context, opts LoopCreateOptions) (domain.ExecutionLoop, error) {
	if e.Config == nil {
		return domain.ExecutionLoop{}, errors.New("config not loaded")
	}
	if opts.ProjectID == "" {
		return domain.ExecutionLoop{}, errors.New("project is required")
	}
	if opts.IntentID == "" {
		return domain.ExecutionLoop{}, errors.New("intent is required")
	}
	in, err := e.Repo.GetIntent(ctx, opts.IntentID)
	if err != nil {
		return domain.ExecutionLoop{}, err
	}
	if in.Status != "frozen" {
		return domain.ExecutionLoop{}, ErrIntentNotFrozen
	}
	if opts.MaxTimeMinutes <= 0 {
		opts.MaxTimeMinutes = e.Config.Limits.MaxTimeMinutes
	}
	if opts.MaxActions <= 0 {
		opts.MaxActions = e.Config.Limits.MaxActions
	}
	if opts.MaxCostUSD <= 0 {
		opts.MaxCostUSD = e.Config.Limits.MaxCostUSD
	}
	if opts.MaxIterationsBeforePause <= 0 {
		opts.MaxIterationsBeforePause = e.Config.Limits.MaxIterationsBeforePause
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	l := domain.ExecutionLoop{
		ID:                       id,
		ProjectID:                opts.ProjectID,
		IntentID:                 opts.IntentID,
		Status:                   "pending",
		MaxTimeMinutes:           opts.MaxTimeMinutes,
		MaxActions:               opts.MaxActions,
		MaxCostUSD:               opts.MaxCostUSD,
		MaxIterationsBeforePause: opts.MaxIterationsBeforePause,
		CreatedAt:                e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return l, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertLoopTx(ctx, tx, l); err != nil {
		return l, err
	}
	if err := e.Events.Append(ctx, tx, "loop.created", l.ProjectID, "loop", l.ID, opts.ActorID, events.EventPayload{
		"intent_id":   l.IntentID,
		"max_actions": l.MaxActions,
	}); err != nil {
		return l, err
	}
	if err := tx.Commit(); err != nil {
		return l, err
	}
	return l, nil
}

// StartLoop moves a pending loop to running and derives its deadline.
func (e Engine) StartLoop(ctx context.Context, id, actorID string) (domain.ExecutionLoop, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ExecutionLoop{}, err
	}
	defer tx.Rollback()
	l, err := e.Repo.GetLoopTx(ctx, tx, id)
	if err != nil {
		return l, err
	}
	if l.Status != "pending" {
		return l, InvalidTransitionError{Entity: "loop", From: l.Status, To: "running"}
	}
	start := e.now().UTC()
	deadline := start.Add(time.Duration(l.MaxTimeMinutes) * time.Minute).Format(time.RFC3339)
	startStr := start.Format(time.RFC3339)
	l.Status = "running"
	l.StartedAt = &startStr
	l.Deadline = &deadline
	if err := e.Repo.UpdateLoopTx(ctx, tx, l); err != nil {
		return l, err
	}
	if err := e.Events.Append(ctx, tx, "loop.started", l.ProjectID, "loop", l.ID, actorID, events.EventPayload{"deadline": deadline}); err != nil {
		return l, err
	}
	if err := tx.Commit(); err != nil {
		return l, err
	}
	return l, nil
}

// CheckLimits probes every ceiling in fixed priority order: time, actions,
// cost, then the iteration checkpoint. Only the first tripped ceiling is
// reported. The result is an advisory snapshot, not a state change.
func (e Engine) CheckLimits(ctx context.Context, id string) (domain.LimitStatus, error) {
	l, err := e.Repo.GetLoop(ctx, id)
	if err != nil {
		return domain.LimitStatus{}, err
	}
	return evaluateLimits(l, e.now().UTC()), nil
}

func evaluateLimits(l domain.ExecutionLoop, now time.Time) domain.LimitStatus {
	if l.Deadline != nil {
		if deadline, err := time.Parse(time.RFC3339, *l.Deadline); err == nil && !now.Before(deadline) {
			return domain.LimitStatus{
				Reason:  "time_limit",
				Message: fmt.Sprintf("time limit of %d minutes reached", l.MaxTimeMinutes),
			}
		}
	}
	if l.ActionsExecuted >= l.MaxActions {
		return domain.LimitStatus{
			Reason:  "action_limit",
			Message: fmt.Sprintf("action limit of %d reached", l.MaxActions),
		}
	}
	if l.CostAccumulatedUSD >= l.MaxCostUSD {
		return domain.LimitStatus{
			Reason:  "cost_limit",
			Message: fmt.Sprintf("cost limit of %.2f USD reached", l.MaxCostUSD),
		}
	}
	if l.IterationsExecuted > 0 && l.MaxIterationsBeforePause > 0 && l.IterationsExecuted%l.MaxIterationsBeforePause == 0 {
		return domain.LimitStatus{
			Reason:  "iteration_limit",
			Message: fmt.Sprintf("checkpoint after %d iterations", l.IterationsExecuted),
		}
	}
	return domain.LimitStatus{WithinLimits: true}
}

// PauseLoop suspends a running loop and records the pause.
func (e Engine) PauseLoop(ctx context.Context, id, reason, message, pausedBy, actionRequired, actorID string) (domain.ExecutionLoop, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ExecutionLoop{}, err
	}
	defer tx.Rollback()
	l, err := e.Repo.GetLoopTx(ctx, tx, id)
	if err != nil {
		return l, err
	}
	if loopTerminal(l.Status) {
		return l, ErrLoopTerminated
	}
	if l.Status != "running" {
		return l, InvalidTransitionError{Entity: "loop", From: l.Status, To: "paused"}
	}
	if pausedBy == "" {
		pausedBy = "system"
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.LoopPause{
		LoopID:         l.ID,
		Reason:         reason,
		Message:        message,
		PausedBy:       pausedBy,
		ActionRequired: optionalString(actionRequired),
		PausedAt:       now,
	}
	if _, err := e.Repo.InsertLoopPauseTx(ctx, tx, p); err != nil {
		return l, err
	}
	l.Status = "paused"
	l.PauseCount++
	l.LastPauseReason = &reason
	l.LastPauseMessage = optionalString(message)
	l.LastPauseAt = &now
	if err := e.Repo.UpdateLoopTx(ctx, tx, l); err != nil {
		return l, err
	}
	if err := e.Events.Append(ctx, tx, "loop.paused", l.ProjectID, "loop", l.ID, actorID, events.EventPayload{
		"reason":  reason,
		"message": message,
	}); err != nil {
		return l, err
	}
	if err := tx.Commit(); err != nil {
		return l, err
	}
	return l, nil
}

// ResumeLoop resolves the most recent open pause and puts the loop back to
// running. The user response, if any, is stamped onto that pause.
func (e Engine) ResumeLoop(ctx context.Context, id, userResponse, actorID string) (domain.ExecutionLoop, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ExecutionLoop{}, err
	}
	defer tx.Rollback()
	l, err := e.Repo.GetLoopTx(ctx, tx, id)
	if err != nil {
		return l, err
	}
	if l.Status != "paused" {
		return l, InvalidTransitionError{Entity: "loop", From: l.Status, To: "running"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	p, err := e.Repo.LatestOpenPauseTx(ctx, tx, l.ID)
	if err == nil {
		if err := e.Repo.ResolvePauseTx(ctx, tx, p.ID, now, optionalString(userResponse)); err != nil {
			return l, err
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return l, err
	}
	l.Status = "running"
	if err := e.Repo.UpdateLoopTx(ctx, tx, l); err != nil {
		return l, err
	}
	if err := e.Events.Append(ctx, tx, "loop.resumed", l.ProjectID, "loop", l.ID, actorID, events.EventPayload{
		"user_response": userResponse,
	}); err != nil {
		return l, err
	}
	if err := tx.Commit(); err != nil {
		return l, err
	}
	return l, nil
}

// LoopActionOptions describe one executed action being recorded.
type LoopActionOptions struct {
	LoopID          string
	ActionType      string
	Description     string
	AgentID         string
	Success         bool
	Result          string
	Error           string
	CostUSD         float64
	DurationSeconds int
	ActorID         string
}

// RecordAction appends one ledger entry and advances the loop's counters.
// Budget is consumed whether or not the action itself succeeded. Recording
// is legal while running and while paused (an action can land mid-pause),
// never after a terminal state.
func (e Engine) RecordAction(ctx context.Context, opts LoopActionOptions) (domain.LoopAction, error) {
	if opts.ActionType == "" {
		return domain.LoopAction{}, errors.New("action type is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LoopAction{}, err
	}
	defer tx.Rollback()
	l, err := e.Repo.GetLoopTx(ctx, tx, opts.LoopID)
	if err != nil {
		return domain.LoopAction{}, err
	}
	if loopTerminal(l.Status) {
		return domain.LoopAction{}, ErrLoopTerminated
	}
	if l.Status != "running" && l.Status != "paused" {
		return domain.LoopAction{}, InvalidTransitionError{Entity: "loop", From: l.Status, To: l.Status}
	}
	now := e.now().UTC().Format(time.RFC3339)
	a := domain.LoopAction{
		LoopID:          l.ID,
		ActionType:      opts.ActionType,
		Description:     opts.Description,
		AgentID:         optionalString(opts.AgentID),
		Success:         opts.Success,
		Result:          optionalString(opts.Result),
		Error:           optionalString(opts.Error),
		CostUSD:         opts.CostUSD,
		DurationSeconds: opts.DurationSeconds,
		OccurredAt:      now,
	}
	actionID, err := e.Repo.InsertLoopActionTx(ctx, tx, a)
	if err != nil {
		return a, err
	}
	a.ID = actionID
	l.ActionsExecuted++
	l.CostAccumulatedUSD += opts.CostUSD
	l.ElapsedSeconds += opts.DurationSeconds
	l.LastAction = optionalString(opts.Description)
	if l.LastAction == nil {
		l.LastAction = &opts.ActionType
	}
	l.LastActionAt = &now
	if err := e.Repo.UpdateLoopTx(ctx, tx, l); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "loop.action.recorded", l.ProjectID, "loop", l.ID, opts.ActorID, events.EventPayload{
		"action_type": opts.ActionType,
		"success":     opts.Success,
		"cost_usd":    opts.CostUSD,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// AdvanceIteration bumps the iteration counter. The driver calls this once
// per planning cycle; the iteration checkpoint in CheckLimits keys off it.
func (e Engine) AdvanceIteration(ctx context.Context, id, actorID string) (domain.ExecutionLoop, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ExecutionLoop{}, err
	}
	defer tx.Rollback()
	l, err := e.Repo.GetLoopTx(ctx, tx, id)
	if err != nil {
		return l, err
	}
	if loopTerminal(l.Status) {
		return l, ErrLoopTerminated
	}
	if l.Status != "running" {
		return l, InvalidTransitionError{Entity: "loop", From: l.Status, To: l.Status}
	}
	l.IterationsExecuted++
	if err := e.Repo.UpdateLoopTx(ctx, tx, l); err != nil {
		return l, err
	}
	if err := e.Events.Append(ctx, tx, "loop.iteration.advanced", l.ProjectID, "loop", l.ID, actorID, events.EventPayload{
		"iterations_executed": l.IterationsExecuted,
	}); err != nil {
		return l, err
	}
	if err := tx.Commit(); err != nil {
		return l, err
	}
	return l, nil
}

// CheckLoopAction gates an action against the loop's referenced contract.
// Loop state is never mutated here; callers check before executing and
// record after.
func (e Engine) CheckLoopAction(ctx context.Context, id, actionDescription, attemptedBy string) (ActionCheck, error) {
	l, err := e.Repo.GetLoop(ctx, id)
	if err != nil {
		return ActionCheck{}, err
	}
	return e.CheckIntentAction(ctx, l.IntentID, actionDescription, attemptedBy)
}

// LoopProgressOptions updates the advisory progress fields.
type LoopProgressOptions struct {
	LoopID             string
	ProgressPercentage *float64
	CurrentPhase       *string
	NextAction         *string
	ActorID            string
}

func (e Engine) UpdateLoopProgress(ctx context.Context, opts LoopProgressOptions) (domain.ExecutionLoop, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ExecutionLoop{}, err
	}
	defer tx.Rollback()
	l, err := e.Repo.GetLoopTx(ctx, tx, opts.LoopID)
	if err != nil {
		return l, err
	}
	if loopTerminal(l.Status) {
		return l, ErrLoopTerminated
	}
	if opts.ProgressPercentage != nil {
		l.ProgressPercentage = *opts.ProgressPercentage
	}
	if opts.CurrentPhase != nil {
		l.CurrentPhase = opts.CurrentPhase
	}
	if opts.NextAction != nil {
		l.NextAction = opts.NextAction
	}
	if err := e.Repo.UpdateLoopTx(ctx, tx, l); err != nil {
		return l, err
	}
	if err := e.Events.Append(ctx, tx, "loop.progress.updated", l.ProjectID, "loop", l.ID, opts.ActorID, events.EventPayload{
		"progress": l.ProgressPercentage,
	}); err != nil {
		return l, err
	}
	if err := tx.Commit(); err != nil {
		return l, err
	}
	return l, nil
}

// CompleteLoop closes a running or paused loop with its result.
func (e Engine) CompleteLoop(ctx context.Context, id, result, artifactsJSON, actorID string) (domain.ExecutionLoop, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ExecutionLoop{}, err
	}
	defer tx.Rollback()
	l, err := e.Repo.GetLoopTx(ctx, tx, id)
	if err != nil {
		return l, err
	}
	if l.Status != "running" && l.Status != "paused" {
		return l, InvalidTransitionError{Entity: "loop", From: l.Status, To: "completed"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	l.Status = "completed"
	l.CompletedAt = &now
	l.ProgressPercentage = 100
	l.Result = optionalString(result)
	l.ArtifactsJSON = optionalString(artifactsJSON)
	if err := e.Repo.UpdateLoopTx(ctx, tx, l); err != nil {
		return l, err
	}
	if err := e.Events.Append(ctx, tx, "loop.completed", l.ProjectID, "loop", l.ID, actorID, events.EventPayload{
		"actions_executed": l.ActionsExecuted,
		"cost_usd":         l.CostAccumulatedUSD,
	}); err != nil {
		return l, err
	}
	if err := tx.Commit(); err != nil {
		return l, err
	}
	return l, nil
}

// CancelLoop cancels a loop from any state except completed or cancelled.
func (e Engine) CancelLoop(ctx context.Context, id, reason, actorID string) (domain.ExecutionLoop, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ExecutionLoop{}, err
	}
	defer tx.Rollback()
	l, err := e.Repo.GetLoopTx(ctx, tx, id)
	if err != nil {
		return l, err
	}
	if l.Status == "completed" || l.Status == "cancelled" {
		return l, InvalidTransitionError{Entity: "loop", From: l.Status, To: "cancelled"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	l.Status = "cancelled"
	l.CancelledAt = &now
	l.Result = optionalString(reason)
	if err := e.Repo.UpdateLoopTx(ctx, tx, l); err != nil {
		return l, err
	}
	if err := e.Events.Append(ctx, tx, "loop.cancelled", l.ProjectID, "loop", l.ID, actorID, events.EventPayload{"reason": reason}); err != nil {
		return l, err
	}
	if err := tx.Commit(); err != nil {
		return l, err
	}
	return l, nil
}
