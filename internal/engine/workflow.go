package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"intentgate/internal/domain"
	"intentgate/internal/events"
	"intentgate/internal/repo"
)

// WorkflowCreateOptions are parameters for creating a workflow.
// Empty StepKinds fall back to the configured step catalog.
type WorkflowCreateOptions struct {
	ID        string
	ProjectID string
	Name      string
	StepKinds []string
	ActorID   string
}

func (e Engine) CreateWorkflow(ctx context.Context, opts WorkflowCreateOptions) (domain.Workflow, []domain.WorkflowStep, error) {
	if e.Config == nil {
		return domain.Workflow{}, nil, errors.New("config not loaded")
	}
	if opts.ProjectID == "" {
		return domain.Workflow{}, nil, errors.New("project is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Workflow{}, nil, err
	}
	kinds := opts.StepKinds
	if len(kinds) == 0 {
		kinds = e.Config.Workflow.Steps
	}
	if len(kinds) == 0 {
		return domain.Workflow{}, nil, errors.New("no step kinds configured")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	name := opts.Name
	if name == "" {
		name = "main"
	}
	now := e.now().UTC().Format(time.RFC3339)
	w := domain.Workflow{
		ID:        id,
		ProjectID: opts.ProjectID,
		Name:      name,
		Status:    "pending",
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorkflowTx(ctx, tx, w); err != nil {
		return w, nil, err
	}
	steps := make([]domain.WorkflowStep, 0, len(kinds))
	for i, kind := range kinds {
		s := domain.WorkflowStep{
			ID:         uuid.New().String(),
			WorkflowID: w.ID,
			StepKind:   kind,
			Status:     "pending",
			StepOrder:  i,
		}
		if err := e.Repo.InsertWorkflowStepTx(ctx, tx, s); err != nil {
			return w, nil, err
		}
		steps = append(steps, s)
	}
	if err := e.Events.Append(ctx, tx, "workflow.created", w.ProjectID, "workflow", w.ID, opts.ActorID, events.EventPayload{
		"name":  w.Name,
		"steps": len(steps),
	}); err != nil {
		return w, nil, err
	}
	if err := tx.Commit(); err != nil {
		return w, nil, err
	}
	return w, steps, nil
}

// StartWorkflow moves a pending workflow to in_progress and puts its first
// step in running.
func (e Engine) StartWorkflow(ctx context.Context, id, actorID string) (domain.Workflow, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workflow{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkflowTx(ctx, tx, id)
	if err != nil {
		return w, err
	}
	if w.Status != "pending" {
		return w, InvalidTransitionError{Entity: "workflow", From: w.Status, To: "in_progress"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	first, err := e.Repo.NextWorkflowStepTx(ctx, tx, w.ID)
	if err != nil {
		return w, err
	}
	first.Status = "running"
	first.StartedAt = &now
	if err := e.Repo.UpdateWorkflowStepTx(ctx, tx, first); err != nil {
		return w, err
	}
	w.Status = "in_progress"
	w.UpdatedAt = now
	if err := e.Repo.UpdateWorkflowTx(ctx, tx, w); err != nil {
		return w, err
	}
	if err := e.Events.Append(ctx, tx, "workflow.started", w.ProjectID, "workflow", w.ID, actorID, events.EventPayload{
		"first_step": first.StepKind,
	}); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// NextStep returns the first step still pending or running, running first.
func (e Engine) NextStep(ctx context.Context, workflowID string) (domain.WorkflowStep, error) {
	return e.Repo.NextWorkflowStep(ctx, workflowID)
}

// AdvanceResult reports the effect of one advance call.
type AdvanceResult struct {
	Workflow domain.Workflow     `json:"workflow"`
	Step     *domain.WorkflowStep `json:"step,omitempty"`
	Failed   bool                `json:"failed"`
	Done     bool                `json:"done"`
}

// AdvanceWorkflow settles the current step. Success completes it and moves
// the next pending step to running; when nothing is left, the workflow
// completes. Failure marks the step and the workflow failed without
// skipping anything.
func (e Engine) AdvanceWorkflow(ctx context.Context, id string, success bool, errorMessage, outputJSON, actorID string) (AdvanceResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AdvanceResult{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkflowTx(ctx, tx, id)
	if err != nil {
		return AdvanceResult{}, err
	}
	if w.Status != "in_progress" {
		return AdvanceResult{Workflow: w}, InvalidTransitionError{Entity: "workflow", From: w.Status, To: "in_progress"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	step, err := e.Repo.NextWorkflowStepTx(ctx, tx, w.ID)
	if errors.Is(err, repo.ErrNotFound) {
		// Nothing left to run: settle the workflow.
		w.Status = "completed"
		w.UpdatedAt = now
		w.CompletedAt = &now
		if err := e.Repo.UpdateWorkflowTx(ctx, tx, w); err != nil {
			return AdvanceResult{Workflow: w}, err
		}
		if err := e.Events.Append(ctx, tx, "workflow.completed", w.ProjectID, "workflow", w.ID, actorID, events.EventPayload{}); err != nil {
			return AdvanceResult{Workflow: w}, err
		}
		if err := tx.Commit(); err != nil {
			return AdvanceResult{Workflow: w}, err
		}
		return AdvanceResult{Workflow: w, Done: true}, nil
	}
	if err != nil {
		return AdvanceResult{Workflow: w}, err
	}
	if step.StartedAt == nil {
		step.StartedAt = &now
	}
	if outputJSON != "" {
		step.OutputJSON = &outputJSON
	}
	step.CompletedAt = &now
	if !success {
		step.Status = "failed"
		step.Error = optionalString(errorMessage)
		if err := e.Repo.UpdateWorkflowStepTx(ctx, tx, step); err != nil {
			return AdvanceResult{Workflow: w}, err
		}
		w.Status = "failed"
		w.UpdatedAt = now
		if err := e.Repo.UpdateWorkflowTx(ctx, tx, w); err != nil {
			return AdvanceResult{Workflow: w}, err
		}
		if err := e.Events.Append(ctx, tx, "workflow.step.failed", w.ProjectID, "workflow", w.ID, actorID, events.EventPayload{
			"step_kind": step.StepKind,
			"error":     errorMessage,
		}); err != nil {
			return AdvanceResult{Workflow: w}, err
		}
		if err := tx.Commit(); err != nil {
			return AdvanceResult{Workflow: w}, err
		}
		return AdvanceResult{Workflow: w, Step: &step, Failed: true}, nil
	}
	step.Status = "completed"
	if err := e.Repo.UpdateWorkflowStepTx(ctx, tx, step); err != nil {
		return AdvanceResult{Workflow: w}, err
	}
	if err := e.Events.Append(ctx, tx, "workflow.step.completed", w.ProjectID, "workflow", w.ID, actorID, events.EventPayload{
		"step_kind": step.StepKind,
	}); err != nil {
		return AdvanceResult{Workflow: w}, err
	}
	next, err := e.Repo.NextWorkflowStepTx(ctx, tx, w.ID)
	if errors.Is(err, repo.ErrNotFound) {
		w.Status = "completed"
		w.UpdatedAt = now
		w.CompletedAt = &now
		if err := e.Repo.UpdateWorkflowTx(ctx, tx, w); err != nil {
			return AdvanceResult{Workflow: w}, err
		}
		if err := e.Events.Append(ctx, tx, "workflow.completed", w.ProjectID, "workflow", w.ID, actorID, events.EventPayload{}); err != nil {
			return AdvanceResult{Workflow: w}, err
		}
		if err := tx.Commit(); err != nil {
			return AdvanceResult{Workflow: w}, err
		}
		return AdvanceResult{Workflow: w, Step: &step, Done: true}, nil
	}
	if err != nil {
		return AdvanceResult{Workflow: w}, err
	}
	next.Status = "running"
	next.StartedAt = &now
	if err := e.Repo.UpdateWorkflowStepTx(ctx, tx, next); err != nil {
		return AdvanceResult{Workflow: w}, err
	}
	w.UpdatedAt = now
	if err := e.Repo.UpdateWorkflowTx(ctx, tx, w); err != nil {
		return AdvanceResult{Workflow: w}, err
	}
	if err := tx.Commit(); err != nil {
		return AdvanceResult{Workflow: w}, err
	}
	return AdvanceResult{Workflow: w, Step: &next}, nil
}

// RollbackWorkflow marks the workflow rolled back. Step statuses stay as
// they ran; the audit trail of what executed is preserved.
func (e Engine) RollbackWorkflow(ctx context.Context, id, actorID string) (domain.Workflow, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workflow{}, err
	}
	defer tx.Rollback()
	w, err := e.Repo.GetWorkflowTx(ctx, tx, id)
	if err != nil {
		return w, err
	}
	if w.Status == "rolled_back" {
		return w, InvalidTransitionError{Entity: "workflow", From: w.Status, To: "rolled_back"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	w.Status = "rolled_back"
	w.UpdatedAt = now
	if err := e.Repo.UpdateWorkflowTx(ctx, tx, w); err != nil {
		return w, err
	}
	if err := e.Events.Append(ctx, tx, "workflow.rolled_back", w.ProjectID, "workflow", w.ID, actorID, events.EventPayload{}); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// WorkflowStatus summarizes a workflow's progress.
type WorkflowStatus struct {
	Workflow           domain.Workflow      `json:"workflow"`
	StepCounts         map[string]int       `json:"step_counts"`
	TotalSteps         int                  `json:"total_steps"`
	CompletedSteps     int                  `json:"completed_steps"`
	ProgressPercentage float64              `json:"progress_percentage"`
	CurrentStep        *domain.WorkflowStep `json:"current_step,omitempty"`
}

func (e Engine) GetWorkflowStatus(ctx context.Context, id string) (WorkflowStatus, error) {
	w, err := e.Repo.GetWorkflow(ctx, id)
	if err != nil {
		return WorkflowStatus{}, err
	}
	counts, err := e.Repo.CountStepsByStatus(ctx, id)
	if err != nil {
		return WorkflowStatus{}, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	st := WorkflowStatus{
		Workflow:       w,
		StepCounts:     counts,
		TotalSteps:     total,
		CompletedSteps: counts["completed"],
	}
	if total > 0 {
		st.ProgressPercentage = float64(st.CompletedSteps) / float64(total) * 100
	}
	cur, err := e.Repo.NextWorkflowStep(ctx, id)
	if err == nil {
		st.CurrentStep = &cur
	} else if !errors.Is(err, repo.ErrNotFound) {
		return st, err
	}
	return st, nil
}

