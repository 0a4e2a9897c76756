package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"intentgate/internal/config"
	"intentgate/internal/db"
	"intentgate/internal/domain"
	"intentgate/internal/engine"
	"intentgate/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &now
	eng.Now = func() time.Time { return *clock }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "proj-1", "Test", "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: clock}
}

// createCompleteIntent fills every required field so validation passes.
func (env testEnv) createCompleteIntent(t *testing.T, constraints ...string) domain.IntentContract {
	t.Helper()
	if len(constraints) == 0 {
		constraints = []string{"do not remove the payments endpoint"}
	}
	in, err := env.Engine.CreateIntent(env.Ctx, engine.IntentCreateOptions{
		ProjectID:          "proj-1",
		ProductName:        "Billing service",
		ProductDescription: "Invoicing backend",
		BusinessGoal:       "Bill customers monthly",
		TargetAudience:     "Finance team",
		SuccessCriteria:    "Invoices go out on the 1st",
		Constraints:        constraints,
		ActorID:            "tester",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	return in
}

func (env testEnv) freezeIntent(t *testing.T, constraints ...string) domain.IntentContract {
	t.Helper()
	in := env.createCompleteIntent(t, constraints...)
	if _, err := env.Engine.ValidateIntent(env.Ctx, in.ID, "validator"); err != nil {
		t.Fatalf("validate intent: %v", err)
	}
	in, err := env.Engine.FreezeIntent(env.Ctx, in.ID, "tester")
	if err != nil {
		t.Fatalf("freeze intent: %v", err)
	}
	return in
}

func TestIntentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	in, err := env.Engine.CreateIntent(env.Ctx, engine.IntentCreateOptions{
		ProjectID:   "proj-1",
		ProductName: "Billing service",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if in.Status != "draft" || in.IntentType != "create" || in.RiskLevel != "medium" {
		t.Fatalf("unexpected defaults: %+v", in)
	}

	// Validation rejects incomplete drafts and names what is missing.
	_, err = env.Engine.ValidateIntent(env.Ctx, in.ID, "validator")
	var incomplete engine.IncompleteContractError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteContractError, got %v", err)
	}
	if len(incomplete.Missing) != 5 {
		t.Fatalf("missing fields = %v", incomplete.Missing)
	}

	desc := "Invoicing backend"
	goal := "Bill customers monthly"
	audience := "Finance team"
	criteria := "Invoices go out on the 1st"
	in, err = env.Engine.UpdateIntent(env.Ctx, engine.IntentUpdateOptions{
		ID:                 in.ID,
		ProductDescription: &desc,
		BusinessGoal:       &goal,
		TargetAudience:     &audience,
		SuccessCriteria:    &criteria,
		Constraints:        []string{"do not remove the payments endpoint"},
		ActorID:            "tester",
	})
	if err != nil {
		t.Fatalf("update intent: %v", err)
	}

	in, err = env.Engine.ValidateIntent(env.Ctx, in.ID, "validator")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if in.Status != "validated" || in.ValidatedBy == nil || *in.ValidatedBy != "validator" {
		t.Fatalf("validated state: %+v", in)
	}

	in, err = env.Engine.FreezeIntent(env.Ctx, in.ID, "tester")
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if in.Status != "frozen" || in.IntentHash == nil || *in.IntentHash == "" {
		t.Fatalf("frozen state: %+v", in)
	}

	// Frozen contracts reject edits.
	_, err = env.Engine.UpdateIntent(env.Ctx, engine.IntentUpdateOptions{ID: in.ID, ProductName: &desc, ActorID: "tester"})
	if !errors.Is(err, engine.ErrContractImmutable) {
		t.Fatalf("expected ErrContractImmutable, got %v", err)
	}

	v, err := env.Engine.VerifyIntent(env.Ctx, in.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !v.Valid || v.StoredHash != v.ComputedHash {
		t.Fatalf("verification: %+v", v)
	}

	in, err = env.Engine.CompleteIntent(env.Ctx, in.ID, "tester")
	if err != nil || in.Status != "completed" {
		t.Fatalf("complete: %v %+v", err, in)
	}
	_, err = env.Engine.CancelIntent(env.Ctx, in.ID, "tester")
	var invalid engine.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestFreezeRequiresValidation(t *testing.T) {
	env := newTestEnv(t)
	in := env.createCompleteIntent(t)
	if _, err := env.Engine.FreezeIntent(env.Ctx, in.ID, "tester"); !errors.Is(err, engine.ErrNotValidated) {
		t.Fatalf("expected ErrNotValidated, got %v", err)
	}
}

func TestIntentHashStable(t *testing.T) {
	in := domain.IntentContract{
		ProductName:        "Billing service",
		ProductDescription: "Invoicing backend",
		BusinessGoal:       "Bill customers monthly",
		TargetAudience:     "Finance team",
		SuccessCriteria:    "Invoices go out on the 1st",
		Constraints:        []string{"keep API stable"},
		RiskLevel:          "medium",
	}
	first := engine.IntentHash(in)
	if first != engine.IntentHash(in) {
		t.Fatal("hash not deterministic")
	}
	// Mutable metadata never feeds the hash.
	in.Status = "completed"
	in.UpdatedAt = "2030-01-01T00:00:00Z"
	if engine.IntentHash(in) != first {
		t.Fatal("hash covers mutable fields")
	}
	in.BusinessGoal = "Different goal"
	if engine.IntentHash(in) == first {
		t.Fatal("hash misses business_goal")
	}
}

func TestCheckActionGating(t *testing.T) {
	env := newTestEnv(t)
	in := env.freezeIntent(t, "do not remove the payments endpoint")

	check, err := env.Engine.CheckIntentAction(env.Ctx, in.ID, "remove payments endpoint", "agent-1")
	if err != nil {
		t.Fatalf("check action: %v", err)
	}
	if check.Allowed || check.ViolationID == 0 {
		t.Fatalf("expected denial with recorded violation: %+v", check)
	}
	violations, err := env.Engine.Repo.ListViolations(env.Ctx, in.ID, 10, 0)
	if err != nil {
		t.Fatalf("list violations: %v", err)
	}
	if len(violations) != 1 || violations[0].Disposition != "blocked" || violations[0].AttemptedBy != "agent-1" {
		t.Fatalf("violations = %+v", violations)
	}

	check, err = env.Engine.CheckIntentAction(env.Ctx, in.ID, "add a reporting page", "agent-1")
	if err != nil || !check.Allowed {
		t.Fatalf("benign action denied: %v %+v", err, check)
	}
	// An allow writes nothing.
	violations, _ = env.Engine.Repo.ListViolations(env.Ctx, in.ID, 10, 0)
	if len(violations) != 1 {
		t.Fatalf("allow recorded a violation: %d", len(violations))
	}
}

func TestCheckActionIgnoresUnfrozen(t *testing.T) {
	env := newTestEnv(t)
	in := env.createCompleteIntent(t, "do not remove the payments endpoint")
	check, err := env.Engine.CheckIntentAction(env.Ctx, in.ID, "remove payments endpoint", "agent-1")
	if err != nil || !check.Allowed {
		t.Fatalf("draft contracts are not gated: %v %+v", err, check)
	}
}

func TestCreateLoopRequiresFrozenIntent(t *testing.T) {
	env := newTestEnv(t)
	in := env.createCompleteIntent(t)
	_, err := env.Engine.CreateLoop(env.Ctx, engine.LoopCreateOptions{ProjectID: "proj-1", IntentID: in.ID, ActorID: "tester"})
	if !errors.Is(err, engine.ErrIntentNotFrozen) {
		t.Fatalf("expected ErrIntentNotFrozen, got %v", err)
	}
}

func (env testEnv) runningLoop(t *testing.T, opts engine.LoopCreateOptions) domain.ExecutionLoop {
	t.Helper()
	in := env.freezeIntent(t)
	opts.ProjectID = "proj-1"
	opts.IntentID = in.ID
	opts.ActorID = "tester"
	l, err := env.Engine.CreateLoop(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create loop: %v", err)
	}
	l, err = env.Engine.StartLoop(env.Ctx, l.ID, "tester")
	if err != nil {
		t.Fatalf("start loop: %v", err)
	}
	return l
}

func TestLoopLifecycle(t *testing.T) {
	env := newTestEnv(t)
	l := env.runningLoop(t, engine.LoopCreateOptions{})
	if l.Status != "running" || l.Deadline == nil {
		t.Fatalf("running state: %+v", l)
	}

	a, err := env.Engine.RecordAction(env.Ctx, engine.LoopActionOptions{
		LoopID:          l.ID,
		ActionType:      "code_generation",
		Description:     "generate invoice model",
		Success:         true,
		CostUSD:         0.25,
		DurationSeconds: 30,
		ActorID:         "agent-1",
	})
	if err != nil {
		t.Fatalf("record action: %v", err)
	}
	if a.ID == 0 {
		t.Fatalf("action id not assigned: %+v", a)
	}
	l, err = env.Engine.Repo.GetLoop(env.Ctx, l.ID)
	if err != nil {
		t.Fatalf("get loop: %v", err)
	}
	if l.ActionsExecuted != 1 || l.CostAccumulatedUSD != 0.25 || l.ElapsedSeconds != 30 {
		t.Fatalf("counters: %+v", l)
	}
	if l.LastAction == nil || *l.LastAction != "generate invoice model" {
		t.Fatalf("last action: %+v", l.LastAction)
	}

	l, err = env.Engine.PauseLoop(env.Ctx, l.ID, "user_request", "operator asked", "", "", "tester")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if l.Status != "paused" || l.PauseCount != 1 || l.LastPauseReason == nil || *l.LastPauseReason != "user_request" {
		t.Fatalf("paused state: %+v", l)
	}

	// Recording mid-pause still consumes budget.
	if _, err := env.Engine.RecordAction(env.Ctx, engine.LoopActionOptions{LoopID: l.ID, ActionType: "test_run", Success: false, ActorID: "agent-1"}); err != nil {
		t.Fatalf("record while paused: %v", err)
	}

	l, err = env.Engine.ResumeLoop(env.Ctx, l.ID, "carry on", "tester")
	if err != nil || l.Status != "running" {
		t.Fatalf("resume: %v %+v", err, l)
	}
	pauses, err := env.Engine.Repo.ListLoopPauses(env.Ctx, l.ID, 10, 0)
	if err != nil {
		t.Fatalf("list pauses: %v", err)
	}
	if len(pauses) != 1 {
		t.Fatalf("pauses = %d", len(pauses))
	}
	p := pauses[0]
	if p.PausedBy != "system" || p.ResumedAt == nil || p.UserResponse == nil || *p.UserResponse != "carry on" {
		t.Fatalf("pause ledger: %+v", p)
	}

	l, err = env.Engine.CompleteLoop(env.Ctx, l.ID, "shipped", `{"pr":42}`, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if l.Status != "completed" || l.ProgressPercentage != 100 {
		t.Fatalf("completed state: %+v", l)
	}
	if _, err := env.Engine.RecordAction(env.Ctx, engine.LoopActionOptions{LoopID: l.ID, ActionType: "noop", ActorID: "agent-1"}); !errors.Is(err, engine.ErrLoopTerminated) {
		t.Fatalf("expected ErrLoopTerminated, got %v", err)
	}
}

func TestPausePendingLoopRejected(t *testing.T) {
	env := newTestEnv(t)
	in := env.freezeIntent(t)
	l, err := env.Engine.CreateLoop(env.Ctx, engine.LoopCreateOptions{ProjectID: "proj-1", IntentID: in.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("create loop: %v", err)
	}
	_, err = env.Engine.PauseLoop(env.Ctx, l.ID, "user_request", "", "", "", "tester")
	var invalid engine.InvalidTransitionError
	if !errors.As(err, &invalid) || invalid.From != "pending" {
		t.Fatalf("expected pending transition error, got %v", err)
	}
}

func TestCheckLimitsOrder(t *testing.T) {
	env := newTestEnv(t)
	l := env.runningLoop(t, engine.LoopCreateOptions{MaxTimeMinutes: 10, MaxActions: 2, MaxCostUSD: 1})

	st, err := env.Engine.CheckLimits(env.Ctx, l.ID)
	if err != nil || !st.WithinLimits {
		t.Fatalf("fresh loop over limits: %v %+v", err, st)
	}

	for i := 0; i < 2; i++ {
		if _, err := env.Engine.RecordAction(env.Ctx, engine.LoopActionOptions{LoopID: l.ID, ActionType: "test_run", Success: true, CostUSD: 2, ActorID: "agent-1"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	st, err = env.Engine.CheckLimits(env.Ctx, l.ID)
	if err != nil || st.WithinLimits {
		t.Fatalf("exhausted loop within limits: %v %+v", err, st)
	}
	// Both the action and cost ceilings are tripped; actions report first.
	if st.Reason != "action_limit" {
		t.Fatalf("reason = %s", st.Reason)
	}

	// Past the deadline, time takes priority over everything else.
	*env.Clock = env.Clock.Add(11 * time.Minute)
	st, err = env.Engine.CheckLimits(env.Ctx, l.ID)
	if err != nil || st.Reason != "time_limit" {
		t.Fatalf("expected time_limit, got %v %+v", err, st)
	}
}

func TestIterationCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	l := env.runningLoop(t, engine.LoopCreateOptions{MaxIterationsBeforePause: 2})

	for i := 0; i < 2; i++ {
		var err error
		l, err = env.Engine.AdvanceIteration(env.Ctx, l.ID, "agent-1")
		if err != nil {
			t.Fatalf("iterate: %v", err)
		}
	}
	st, err := env.Engine.CheckLimits(env.Ctx, l.ID)
	if err != nil || st.Reason != "iteration_limit" {
		t.Fatalf("expected iteration_limit at checkpoint, got %v %+v", err, st)
	}

	// The checkpoint is modulo-based; one more iteration passes again.
	if _, err := env.Engine.AdvanceIteration(env.Ctx, l.ID, "agent-1"); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	st, err = env.Engine.CheckLimits(env.Ctx, l.ID)
	if err != nil || !st.WithinLimits {
		t.Fatalf("expected within limits past checkpoint, got %v %+v", err, st)
	}
}

func TestCancelLoopKeepsReason(t *testing.T) {
	env := newTestEnv(t)
	l := env.runningLoop(t, engine.LoopCreateOptions{})
	l, err := env.Engine.CancelLoop(env.Ctx, l.ID, "scope changed", "tester")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if l.Status != "cancelled" || l.Result == nil || *l.Result != "scope changed" {
		t.Fatalf("cancelled state: %+v", l)
	}
	if _, err := env.Engine.CancelLoop(env.Ctx, l.ID, "again", "tester"); err == nil {
		t.Fatal("double cancel allowed")
	}
}

func TestWorkflowAdvance(t *testing.T) {
	env := newTestEnv(t)
	w, steps, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{
		ProjectID: "proj-1",
		Name:      "pipeline",
		StepKinds: []string{"create_plan", "generate_code", "run_tests"},
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	if len(steps) != 3 || steps[1].StepOrder != 1 {
		t.Fatalf("steps = %+v", steps)
	}

	w, err = env.Engine.StartWorkflow(env.Ctx, w.ID, "tester")
	if err != nil || w.Status != "in_progress" {
		t.Fatalf("start: %v %+v", err, w)
	}
	cur, err := env.Engine.NextStep(env.Ctx, w.ID)
	if err != nil || cur.StepKind != "create_plan" || cur.Status != "running" {
		t.Fatalf("next step: %v %+v", err, cur)
	}

	res, err := env.Engine.AdvanceWorkflow(env.Ctx, w.ID, true, "", `{"plan":"ok"}`, "tester")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Done || res.Failed || res.Step == nil || res.Step.StepKind != "generate_code" {
		t.Fatalf("advance result: %+v", res)
	}

	res, err = env.Engine.AdvanceWorkflow(env.Ctx, w.ID, true, "", "", "tester")
	if err != nil || res.Step == nil || res.Step.StepKind != "run_tests" {
		t.Fatalf("advance result: %v %+v", err, res)
	}
	res, err = env.Engine.AdvanceWorkflow(env.Ctx, w.ID, true, "", "", "tester")
	if err != nil || !res.Done || res.Workflow.Status != "completed" {
		t.Fatalf("final advance: %v %+v", err, res)
	}

	st, err := env.Engine.GetWorkflowStatus(env.Ctx, w.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.CompletedSteps != 3 || st.ProgressPercentage != 100 || st.CurrentStep != nil {
		t.Fatalf("status = %+v", st)
	}
}

func TestWorkflowFailureStopsLine(t *testing.T) {
	env := newTestEnv(t)
	w, _, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{
		ProjectID: "proj-1",
		StepKinds: []string{"generate_code", "run_tests"},
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.StartWorkflow(env.Ctx, w.ID, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := env.Engine.AdvanceWorkflow(env.Ctx, w.ID, false, "compile error", "", "tester")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !res.Failed || res.Workflow.Status != "failed" || res.Step.Error == nil || *res.Step.Error != "compile error" {
		t.Fatalf("failure result: %+v", res)
	}
	// The line is stopped; no further advancing.
	if _, err := env.Engine.AdvanceWorkflow(env.Ctx, w.ID, true, "", "", "tester"); err == nil {
		t.Fatal("advance after failure allowed")
	}

	w, err = env.Engine.RollbackWorkflow(env.Ctx, w.ID, "tester")
	if err != nil || w.Status != "rolled_back" {
		t.Fatalf("rollback: %v %+v", err, w)
	}
	if _, err := env.Engine.RollbackWorkflow(env.Ctx, w.ID, "tester"); err == nil {
		t.Fatal("double rollback allowed")
	}
}

func TestWorkflowDefaultsToConfiguredSteps(t *testing.T) {
	env := newTestEnv(t)
	_, steps, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{ProjectID: "proj-1", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(steps) != len(env.Engine.Config.Workflow.Steps) {
		t.Fatalf("steps = %d, config = %d", len(steps), len(env.Engine.Config.Workflow.Steps))
	}
	if steps[0].StepKind != "interpret_requirement" {
		t.Fatalf("first step = %s", steps[0].StepKind)
	}
}
