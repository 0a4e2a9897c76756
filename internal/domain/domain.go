package domain

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status" enum:"active,archived"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type IntentContract struct {
	ID                 string   `json:"id"`
	ProjectID          string   `json:"project_id"`
	IntentType         string   `json:"intent_type" enum:"create,improve,understand"`
	Status             string   `json:"status" enum:"draft,validated,frozen,completed,cancelled"`
	ProductName        string   `json:"product_name"`
	ProductDescription string   `json:"product_description"`
	BusinessGoal       string   `json:"business_goal"`
	TargetAudience     string   `json:"target_audience"`
	SuccessCriteria    string   `json:"success_criteria"`
	Constraints        []string `json:"constraints"`
	RiskLevel          string   `json:"risk_level" enum:"minimal,low,medium,high"`
	MainFeatures       []string `json:"main_features,omitempty"`
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

type Violation struct {
	ID                 int64  `json:"id"`
	IntentID           string `json:"intent_id"`
	AttemptedAction    string `json:"attempted_action"`
	ViolatedConstraint string `json:"violated_constraint"`
	ViolationDetails   string `json:"violation_details,omitempty"`
	AttemptedBy        string `json:"attempted_by"`
	Disposition        string `json:"disposition" enum:"blocked,warned,escalated"`
	OccurredAt         string `json:"occurred_at" format:"date-time"`
}

type Workflow struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Name        string  `json:"name"`
	Status      string  `json:"status" enum:"pending,in_progress,completed,failed,rolled_back"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type WorkflowStep struct {
	ID          string  `json:"id"`
	WorkflowID  string  `json:"workflow_id"`
	StepKind    string  `json:"step_kind"`
	Status      string  `json:"status" enum:"pending,running,completed,failed"`
	StepOrder   int     `json:"step_order"`
	InputJSON   *string `json:"input_json,omitempty"`
	OutputJSON  *string `json:"output_json,omitempty"`
	Error       *string `json:"error,omitempty"`
	StartedAt   *string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type ExecutionLoop struct {
	ID                       string  `json:"id"`
	ProjectID                string  `json:"project_id"`
	IntentID                 string  `json:"intent_id"`
	Status                   string  `json:"status" enum:"pending,running,paused,completed,cancelled,failed,limit_reached"`
	MaxTimeMinutes           int     `json:"max_time_minutes"`
	MaxActions               int     `json:"max_actions"`
	MaxCostUSD               float64 `json:"max_cost_usd"`
	MaxIterationsBeforePause int     `json:"max_iterations_before_pause"`
	ElapsedSeconds           int     `json:"elapsed_seconds"`
	ActionsExecuted          int     `json:"actions_executed"`
	CostAccumulatedUSD       float64 `json:"cost_accumulated_usd"`
	IterationsExecuted       int     `json:"iterations_executed"`
	PauseCount               int     `json:"pause_count"`
	LastPauseReason          *string `json:"last_pause_reason,omitempty"`
	LastPauseMessage         *string `json:"last_pause_message,omitempty"`
	LastPauseAt              *string `json:"last_pause_at,omitempty" format:"date-time"`
	ProgressPercentage       float64 `json:"progress_percentage"`
	CurrentPhase             *string `json:"current_phase,omitempty"`
	LastAction               *string `json:"last_action,omitempty"`
	LastActionAt             *string `json:"last_action_at,omitempty" format:"date-time"`
	NextAction               *string `json:"next_action,omitempty"`
	Result                   *string `json:"result,omitempty"`
	ArtifactsJSON            *string `json:"artifacts_json,omitempty"`
	CreatedAt                string  `json:"created_at" format:"date-time"`
	StartedAt                *string `json:"started_at,omitempty" format:"date-time"`
	Deadline                 *string `json:"deadline,omitempty" format:"date-time"`
	CompletedAt              *string `json:"completed_at,omitempty" format:"date-time"`
	CancelledAt              *string `json:"cancelled_at,omitempty" format:"date-time"`
}

type LoopAction struct {
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

type LoopPause struct {
	ID             int64   `json:"id"`
	LoopID         string  `json:"loop_id"`
	Reason         string  `json:"reason" enum:"iteration_limit,time_limit,cost_limit,action_limit,user_request,quality_gate_failed,intent_violation,manual_review_required"`
	Message        string  `json:"message,omitempty"`
	PausedBy       string  `json:"paused_by"`
	ActionRequired *string `json:"action_required,omitempty"`
	PausedAt       string  `json:"paused_at" format:"date-time"`
	ResumedAt      *string `json:"resumed_at,omitempty" format:"date-time"`
	UserResponse   *string `json:"user_response,omitempty"`
}

// LimitStatus is the answer to a ceiling probe: whether the loop may keep
// going, and when not, which ceiling tripped first.
type LimitStatus struct {
	WithinLimits bool   `json:"within_limits"`
	Reason       string `json:"reason,omitempty"`
	Message      string `json:"message,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
