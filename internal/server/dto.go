package server

import (
	"encoding/json"

	"intentgate/internal/config"
	"intentgate/internal/domain"
	"intentgate/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateIntentRequest struct {
	ID                 *string  `json:"id,omitempty"`
	IntentType         string   `json:"intent_type,omitempty" enum:"create,improve,understand"`
	ProductName        string   `json:"product_name"`
	ProductDescription string   `json:"product_description,omitempty"`
	BusinessGoal       string   `json:"business_goal,omitempty"`
	TargetAudience     string   `json:"target_audience,omitempty"`
	SuccessCriteria    string   `json:"success_criteria,omitempty"`
	Constraints        []string `json:"constraints,omitempty"`
	RiskLevel          string   `json:"risk_level,omitempty" enum:"minimal,low,medium,high"`
	MainFeatures       []string `json:"main_features,omitempty"`
	AdditionalContext  *string  `json:"additional_context,omitempty"`
	RepositoryURL      *string  `json:"repository_url,omitempty"`
}

type UpdateIntentRequest struct {
	ProductName        *string  `json:"product_name,omitempty"`
	ProductDescription *string  `json:"product_description,omitempty"`
	BusinessGoal       *string  `json:"business_goal,omitempty"`
	TargetAudience     *string  `json:"target_audience,omitempty"`
	SuccessCriteria    *string  `json:"success_criteria,omitempty"`
	Constraints        []string `json:"constraints,omitempty"`
	RiskLevel          *string  `json:"risk_level,omitempty" enum:"minimal,low,medium,high"`
	MainFeatures       []string `json:"main_features,omitempty"`
	AdditionalContext  *string  `json:"additional_context,omitempty"`
	RepositoryURL      *string  `json:"repository_url,omitempty"`
}

type CheckActionRequest struct {
	Action string `json:"action"`
}

type CreateLoopRequest struct {
	ID                       *string  `json:"id,omitempty"`
	IntentID                 string   `json:"intent_id"`
	MaxTimeMinutes           int      `json:"max_time_minutes,omitempty"`
	MaxActions               int      `json:"max_actions,omitempty"`
	MaxCostUSD               float64  `json:"max_cost_usd,omitempty"`
	MaxIterationsBeforePause int      `json:"max_iterations_before_pause,omitempty"`
}

type PauseLoopRequest struct {
	Reason         string  `json:"reason" enum:"iteration_limit,time_limit,cost_limit,action_limit,user_request,quality_gate_failed,intent_violation,manual_review_required"`
	Message        string  `json:"message,omitempty"`
	PausedBy       string  `json:"paused_by,omitempty"`
	ActionRequired *string `json:"action_required,omitempty"`
}

type ResumeLoopRequest struct {
	UserResponse string `json:"user_response,omitempty"`
}

type RecordActionRequest struct {
	ActionType      string         `json:"action_type"`
	Description     string         `json:"description,omitempty"`
	AgentID         *string        `json:"agent_id,omitempty"`
	Success         *bool          `json:"success,omitempty"`
	Result          *string        `json:"result,omitempty"`
	Error           *string        `json:"error,omitempty"`
	CostUSD         float64 `json:"cost_usd,omitempty"`
	DurationSeconds int     `json:"duration_seconds,omitempty"`
}

type LoopProgressRequest struct {
	ProgressPercentage *float64 `json:"progress_percentage,omitempty"`
	CurrentPhase       *string  `json:"current_phase,omitempty"`
	NextAction         *string  `json:"next_action,omitempty"`
}

type CompleteLoopRequest struct {
	Result    string         `json:"result,omitempty"`
	Artifacts map[string]any `json:"artifacts,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CreateWorkflowRequest struct {
	ID    *string  `json:"id,omitempty"`
	Name  string   `json:"name,omitempty"`
	Steps []string `json:"steps,omitempty"`
}

type AdvanceWorkflowRequest struct {
	Success *bool          `json:"success,omitempty"`
	Error   string         `json:"error,omitempty"`
	Output  map[string]any `json:"output,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type IntentResponse struct {
	ID                 string   `json:"id"`
	ProjectID          string   `json:"project_id"`
	IntentType         string   `json:"intent_type" enum:"create,improve,understand"`
	Status             string   `json:"status" enum:"draft,validated,frozen,completed,cancelled"`
	ProductName        string   `json:"product_name"`
	ProductDescription string   `json:"product_description,omitempty"`
	BusinessGoal       string   `json:"business_goal,omitempty"`
	TargetAudience     string   `json:"target_audience,omitempty"`
	SuccessCriteria    string   `json:"success_criteria,omitempty"`
	Constraints        []string `json:"constraints"`
	RiskLevel          string   `json:"risk_level" enum:"minimal,low,medium,high"`
	MainFeatures       []string `json:"main_features"`
	AdditionalContext  *string  `json:"additional_context,omitempty"`
	RepositoryURL      *string  `json:"repository_url,omitempty"`
	IntentHash         *string  `json:"intent_hash,omitempty"`
	ValidatedBy        *string  `json:"validated_by,omitempty"`
	ValidatedAt        *string  `json:"validated_at,omitempty" format:"date-time"`
	FrozenAt           *string  `json:"frozen_at,omitempty" format:"date-time"`
	CompletedAt        *string  `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
}

type ViolationResponse struct {
	ID                 int64  `json:"id"`
	IntentID           string `json:"intent_id"`
	AttemptedAction    string `json:"attempted_action"`
	ViolatedConstraint string `json:"violated_constraint"`
	ViolationDetails   string `json:"violation_details,omitempty"`
	AttemptedBy        string `json:"attempted_by"`
	Disposition        string `json:"disposition" enum:"blocked,warned,escalated"`
	OccurredAt         string `json:"occurred_at" format:"date-time"`
}

type ActionCheckResponse struct {
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason,omitempty"`
	ViolationID int64  `json:"violation_id,omitempty"`
}

type IntentVerificationResponse struct {
	Valid        bool   `json:"valid"`
	StoredHash   string `json:"stored_hash"`
	ComputedHash string `json:"computed_hash"`
}

type LoopResponse struct {
	ID                       string         `json:"id"`
	ProjectID                string         `json:"project_id"`
	IntentID                 string         `json:"intent_id"`
	Status                   string         `json:"status" enum:"pending,running,paused,completed,cancelled,failed,limit_reached"`
	MaxTimeMinutes           int            `json:"max_time_minutes"`
	MaxActions               int            `json:"max_actions"`
	MaxCostUSD               float64        `json:"max_cost_usd"`
	MaxIterationsBeforePause int            `json:"max_iterations_before_pause"`
	ElapsedSeconds           int            `json:"elapsed_seconds"`
	ActionsExecuted          int            `json:"actions_executed"`
	CostAccumulatedUSD       float64        `json:"cost_accumulated_usd"`
	IterationsExecuted       int            `json:"iterations_executed"`
	PauseCount               int            `json:"pause_count"`
	LastPauseReason          *string        `json:"last_pause_reason,omitempty"`
	LastPauseMessage         *string        `json:"last_pause_message,omitempty"`
	LastPauseAt              *string        `json:"last_pause_at,omitempty" format:"date-time"`
	ProgressPercentage       float64        `json:"progress_percentage"`
	CurrentPhase             *string        `json:"current_phase,omitempty"`
	LastAction               *string        `json:"last_action,omitempty"`
	LastActionAt             *string        `json:"last_action_at,omitempty" format:"date-time"`
	NextAction               *string        `json:"next_action,omitempty"`
	Result                   *string        `json:"result,omitempty"`
	Artifacts                map[string]any `json:"artifacts,omitempty"`
	CreatedAt                string         `json:"created_at" format:"date-time"`
	StartedAt                *string        `json:"started_at,omitempty" format:"date-time"`
	Deadline                 *string        `json:"deadline,omitempty" format:"date-time"`
	CompletedAt              *string        `json:"completed_at,omitempty" format:"date-time"`
	CancelledAt              *string        `json:"cancelled_at,omitempty" format:"date-time"`
}

type LoopActionResponse struct {
	ID              int64   `json:"id"`
	LoopID          string  `json:"loop_id"`
	ActionType      string  `json:"action_type"`
	Description     string  `json:"description,omitempty"`
	AgentID         *string `json:"agent_id,omitempty"`
	Success         bool    `json:"success"`
	Result          *string `json:"result,omitempty"`
	Error           *string `json:"error,omitempty"`
	CostUSD         float64 `json:"cost_usd"`
	DurationSeconds int     `json:"duration_seconds"`
	OccurredAt      string  `json:"occurred_at" format:"date-time"`
}

type LoopPauseResponse struct {
	ID             int64   `json:"id"`
	LoopID         string  `json:"loop_id"`
	Reason         string  `json:"reason"`
	Message        string  `json:"message,omitempty"`
	PausedBy       string  `json:"paused_by"`
	ActionRequired *string `json:"action_required,omitempty"`
	PausedAt       string  `json:"paused_at" format:"date-time"`
	ResumedAt      *string `json:"resumed_at,omitempty" format:"date-time"`
	UserResponse   *string `json:"user_response,omitempty"`
}

type LimitStatusResponse struct {
	WithinLimits bool   `json:"within_limits"`
	Reason       string `json:"reason,omitempty"`
	Message      string `json:"message,omitempty"`
}

type WorkflowResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Name        string  `json:"name"`
	Status      string  `json:"status" enum:"pending,in_progress,completed,failed,rolled_back"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type WorkflowStepResponse struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	StepKind    string         `json:"step_kind"`
	Status      string         `json:"status" enum:"pending,running,completed,failed"`
	StepOrder   int            `json:"step_order"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       *string        `json:"error,omitempty"`
	StartedAt   *string        `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *string        `json:"completed_at,omitempty" format:"date-time"`
}

type WorkflowAdvanceResponse struct {
	Workflow WorkflowResponse      `json:"workflow"`
	Step     *WorkflowStepResponse `json:"step,omitempty"`
	Failed   bool                  `json:"failed"`
	Done     bool                  `json:"done"`
}

type WorkflowStatusResponse struct {
	Workflow           WorkflowResponse      `json:"workflow"`
	StepCounts         map[string]int        `json:"step_counts"`
	TotalSteps         int                   `json:"total_steps"`
	CompletedSteps     int                   `json:"completed_steps"`
	ProgressPercentage float64               `json:"progress_percentage"`
	CurrentStep        *WorkflowStepResponse `json:"current_step,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type ProjectConfigResponse struct {
	Project  projectConfigSection  `json:"project"`
	Limits   limitsConfigSection   `json:"limits"`
	Policy   policyConfigSection   `json:"policy"`
	Workflow workflowConfigSection `json:"workflow"`
}

type projectConfigSection struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type limitsConfigSection struct {
	MaxTimeMinutes           int     `json:"max_time_minutes"`
	MaxActions               int     `json:"max_actions"`
	MaxCostUSD               float64 `json:"max_cost_usd"`
	MaxIterationsBeforePause int     `json:"max_iterations_before_pause"`
}

type policyConfigSection struct {
	NoModificationSignals []string `json:"no_modification_signals"`
	AlterationVerbs       []string `json:"alteration_verbs"`
	NoRemovalSignals      []string `json:"no_removal_signals"`
	DeletionVerbs         []string `json:"deletion_verbs"`
	HighRiskTerms         []string `json:"high_risk_terms"`
}

type workflowConfigSection struct {
	Steps []string `json:"steps"`
}

type paginatedIntents struct {
	Items      []IntentResponse `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type paginatedViolations struct {
	Items      []ViolationResponse `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type paginatedLoops struct {
	Items      []LoopResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedLoopActions struct {
	Items      []LoopActionResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type paginatedLoopPauses struct {
	Items      []LoopPauseResponse `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type paginatedWorkflows struct {
	Items      []WorkflowResponse `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func intentResponse(in domain.IntentContract) IntentResponse {
	return IntentResponse{
		ID:                 in.ID,
		ProjectID:          in.ProjectID,
		IntentType:         in.IntentType,
		Status:             in.Status,
		ProductName:        in.ProductName,
		ProductDescription: in.ProductDescription,
		BusinessGoal:       in.BusinessGoal,
		TargetAudience:     in.TargetAudience,
		SuccessCriteria:    in.SuccessCriteria,
		Constraints:        nonNilSlice(in.Constraints),
		RiskLevel:          in.RiskLevel,
		MainFeatures:       nonNilSlice(in.MainFeatures),
		AdditionalContext:  in.AdditionalContext,
		RepositoryURL:      in.RepositoryURL,
		IntentHash:         in.IntentHash,
		ValidatedBy:        in.ValidatedBy,
		ValidatedAt:        in.ValidatedAt,
		FrozenAt:           in.FrozenAt,
		CompletedAt:        in.CompletedAt,
		CreatedAt:          in.CreatedAt,
		UpdatedAt:          in.UpdatedAt,
	}
}

func violationResponse(v domain.Violation) ViolationResponse {
	return ViolationResponse(v)
}

func actionCheckResponse(c engine.ActionCheck) ActionCheckResponse {
	return ActionCheckResponse{
		Allowed:     c.Allowed,
		Reason:      c.Reason,
		ViolationID: c.ViolationID,
	}
}

func loopResponse(l domain.ExecutionLoop) LoopResponse {
	return LoopResponse{
		ID:                       l.ID,
		ProjectID:                l.ProjectID,
		IntentID:                 l.IntentID,
		Status:                   l.Status,
		MaxTimeMinutes:           l.MaxTimeMinutes,
		MaxActions:               l.MaxActions,
		MaxCostUSD:               l.MaxCostUSD,
		MaxIterationsBeforePause: l.MaxIterationsBeforePause,
		ElapsedSeconds:           l.ElapsedSeconds,
		ActionsExecuted:          l.ActionsExecuted,
		CostAccumulatedUSD:       l.CostAccumulatedUSD,
		IterationsExecuted:       l.IterationsExecuted,
		PauseCount:               l.PauseCount,
		LastPauseReason:          l.LastPauseReason,
		LastPauseMessage:         l.LastPauseMessage,
		LastPauseAt:              l.LastPauseAt,
		ProgressPercentage:       l.ProgressPercentage,
		CurrentPhase:             l.CurrentPhase,
		LastAction:               l.LastAction,
		LastActionAt:             l.LastActionAt,
		NextAction:               l.NextAction,
		Result:                   l.Result,
		Artifacts:                decodeJSONMap(l.ArtifactsJSON),
		CreatedAt:                l.CreatedAt,
		StartedAt:                l.StartedAt,
		Deadline:                 l.Deadline,
		CompletedAt:              l.CompletedAt,
		CancelledAt:              l.CancelledAt,
	}
}

func loopActionResponse(a domain.LoopAction) LoopActionResponse {
	return LoopActionResponse(a)
}

func loopPauseResponse(p domain.LoopPause) LoopPauseResponse {
	return LoopPauseResponse(p)
}

func workflowResponse(w domain.Workflow) WorkflowResponse {
	return WorkflowResponse(w)
}

func workflowStepResponse(s domain.WorkflowStep) WorkflowStepResponse {
	return WorkflowStepResponse{
		ID:          s.ID,
		WorkflowID:  s.WorkflowID,
		StepKind:    s.StepKind,
		Status:      s.Status,
		StepOrder:   s.StepOrder,
		Input:       decodeJSONMap(s.InputJSON),
		Output:      decodeJSONMap(s.OutputJSON),
		Error:       s.Error,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
	}
}

func workflowStatusResponse(st engine.WorkflowStatus) WorkflowStatusResponse {
	resp := WorkflowStatusResponse{
		Workflow:           workflowResponse(st.Workflow),
		StepCounts:         st.StepCounts,
		TotalSteps:         st.TotalSteps,
		CompletedSteps:     st.CompletedSteps,
		ProgressPercentage: st.ProgressPercentage,
	}
	if st.CurrentStep != nil {
		s := workflowStepResponse(*st.CurrentStep)
		resp.CurrentStep = &s
	}
	return resp
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

func configResponse(cfg *config.Config) ProjectConfigResponse {
	return ProjectConfigResponse{
		Project: projectConfigSection{
			ID:   cfg.Project.ID,
			Name: cfg.Project.Name,
		},
		Limits: limitsConfigSection{
			MaxTimeMinutes:           cfg.Limits.MaxTimeMinutes,
			MaxActions:               cfg.Limits.MaxActions,
			MaxCostUSD:               cfg.Limits.MaxCostUSD,
			MaxIterationsBeforePause: cfg.Limits.MaxIterationsBeforePause,
		},
		Policy: policyConfigSection{
			NoModificationSignals: nonNilSlice(cfg.Policy.NoModificationSignals),
			AlterationVerbs:       nonNilSlice(cfg.Policy.AlterationVerbs),
			NoRemovalSignals:      nonNilSlice(cfg.Policy.NoRemovalSignals),
			DeletionVerbs:         nonNilSlice(cfg.Policy.DeletionVerbs),
			HighRiskTerms:         nonNilSlice(cfg.Policy.HighRiskTerms),
		},
		Workflow: workflowConfigSection{
			Steps: nonNilSlice(cfg.Workflow.Steps),
		},
	}
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strPtr(in string) *string {
	return &in
}
