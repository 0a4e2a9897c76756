package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"intentgate/internal/domain"
	"intentgate/internal/events"
)

// IntentCreateOptions are parameters for creating an intent contract.
type IntentCreateOptions struct {
	ID                 string
	ProjectID          string
	IntentType         string
	ProductName        string
	ProductDescription string
	BusinessGoal       string
	TargetAudience     string
	SuccessCriteria    string
	Constraints        []string
	RiskLevel          string
	MainFeatures       []string
	AdditionalContext  string
	RepositoryURL      string
	ActorID            string
}

func (e Engine) CreateIntent(ctx context.Context, opts IntentCreateOptions) (domain.IntentContract, error) {
	if e.Config == nil {
		return domain.IntentContract{}, errors.New("config not loaded")
	}
	if opts.ProjectID == "" {
		return domain.IntentContract{}, errors.New("project is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.IntentContract{}, err
	}
	if opts.IntentType == "" {
		opts.IntentType = "create"
	}
	if opts.RiskLevel == "" {
		opts.RiskLevel = "medium"
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	in := domain.IntentContract{
		ID:                 id,
		ProjectID:          opts.ProjectID,
		IntentType:         opts.IntentType,
		Status:             "draft",
		ProductName:        opts.ProductName,
		ProductDescription: opts.ProductDescription,
		BusinessGoal:       opts.BusinessGoal,
		TargetAudience:     opts.TargetAudience,
		SuccessCriteria:    opts.SuccessCriteria,
		Constraints:        opts.Constraints,
		RiskLevel:          opts.RiskLevel,
		MainFeatures:       opts.MainFeatures,
		AdditionalContext:  optionalString(opts.AdditionalContext),
		RepositoryURL:      optionalString(opts.RepositoryURL),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return in, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertIntentTx(ctx, tx, in); err != nil {
		return in, err
	}
	if err := e.Events.Append(ctx, tx, "intent.created", in.ProjectID, "intent", in.ID, opts.ActorID, events.EventPayload{
		"intent_type": in.IntentType,
		"risk_level":  in.RiskLevel,
	}); err != nil {
		return in, err
	}
	if err := tx.Commit(); err != nil {
		return in, err
	}
	return in, nil
}

// IntentUpdateOptions carries field changes for a draft contract.
// Nil fields are untouched.
type IntentUpdateOptions struct {
	ID                 string
	IntentType         *string
	ProductName        *string
	ProductDescription *string
	BusinessGoal       *string
	TargetAudience     *string
	SuccessCriteria    *string
	Constraints        []string
	RiskLevel          *string
	MainFeatures       []string
	AdditionalContext  *string
	RepositoryURL      *string
	ActorID            string
}

func (e Engine) UpdateIntent(ctx context.Context, opts IntentUpdateOptions) (domain.IntentContract, error) {
	in, err := e.Repo.GetIntent(ctx, opts.ID)
	if err != nil {
		return in, err
	}
	// Only drafts are mutable. There is no setter past draft, by contract.
	if in.Status != "draft" {
		return in, ErrContractImmutable
	}
	if opts.IntentType != nil {
		in.IntentType = *opts.IntentType
	}
	if opts.ProductName != nil {
		in.ProductName = *opts.ProductName
	}
	if opts.ProductDescription != nil {
		in.ProductDescription = *opts.ProductDescription
	}
	if opts.BusinessGoal != nil {
		in.BusinessGoal = *opts.BusinessGoal
	}
	if opts.TargetAudience != nil {
		in.TargetAudience = *opts.TargetAudience
	}
	if opts.SuccessCriteria != nil {
		in.SuccessCriteria = *opts.SuccessCriteria
	}
	if opts.Constraints != nil {
		in.Constraints = opts.Constraints
	}
	if opts.RiskLevel != nil {
		in.RiskLevel = *opts.RiskLevel
	}
	if opts.MainFeatures != nil {
		in.MainFeatures = opts.MainFeatures
	}
	if opts.AdditionalContext != nil {
		in.AdditionalContext = opts.AdditionalContext
	}
	if opts.RepositoryURL != nil {
		in.RepositoryURL = opts.RepositoryURL
	}
	in.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return in, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateIntentTx(ctx, tx, in); err != nil {
		return in, err
	}
	if err := e.Events.Append(ctx, tx, "intent.updated", in.ProjectID, "intent", in.ID, opts.ActorID, events.EventPayload{}); err != nil {
		return in, err
	}
	if err := tx.Commit(); err != nil {
		return in, err
	}
	return in, nil
}

// missingIntentFields returns the required fields still empty.
func missingIntentFields(in domain.IntentContract) []string {
	var missing []string
	if in.ProductName == "" {
		missing = append(missing, "product_name")
	}
	if in.ProductDescription == "" {
		missing = append(missing, "product_description")
	}
	if in.BusinessGoal == "" {
		missing = append(missing, "business_goal")
	}
	if in.TargetAudience == "" {
		missing = append(missing, "target_audience")
	}
	if in.SuccessCriteria == "" {
		missing = append(missing, "success_criteria")
	}
	if len(in.Constraints) == 0 {
		missing = append(missing, "constraints")
	}
	return missing
}

// ValidateIntent transitions a complete draft to validated, stamping the validator.
func (e Engine) ValidateIntent(ctx context.Context, id, validatorID string) (domain.IntentContract, error) {
	in, err := e.Repo.GetIntent(ctx, id)
	if err != nil {
		return in, err
	}
	if in.Status != "draft" {
		return in, InvalidTransitionError{Entity: "intent", From: in.Status, To: "validated"}
	}
	if missing := missingIntentFields(in); len(missing) > 0 {
		return in, IncompleteContractError{Missing: missing}
	}
	now := e.now().UTC().Format(time.RFC3339)
	in.Status = "validated"
	in.ValidatedBy = &validatorID
	in.ValidatedAt = &now
	in.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return in, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateIntentTx(ctx, tx, in); err != nil {
		return in, err
	}
	if err := e.Events.Append(ctx, tx, "intent.validated", in.ProjectID, "intent", in.ID, validatorID, events.EventPayload{"validated_by": validatorID}); err != nil {
		return in, err
	}
	if err := tx.Commit(); err != nil {
		return in, err
	}
	return in, nil
}

// hashedIntent is the immutable-field set a freeze covers, in a fixed
// serialization order. Changing this type changes every stored hash.
type hashedIntent struct {
	BusinessGoal       string   `json:"business_goal"`
	Constraints        []string `json:"constraints"`
	MainFeatures       []string `json:"main_features"`
	ProductDescription string   `json:"product_description"`
	ProductName        string   `json:"product_name"`
	RiskLevel          string   `json:"risk_level"`
	SuccessCriteria    string   `json:"success_criteria"`
	TargetAudience     string   `json:"target_audience"`
}

// IntentHash derives the content hash over the contract's immutable fields.
func IntentHash(in domain.IntentContract) string {
	h := hashedIntent{
		BusinessGoal:       in.BusinessGoal,
		Constraints:        in.Constraints,
		MainFeatures:       in.MainFeatures,
		ProductDescription: in.ProductDescription,
		ProductName:        in.ProductName,
		RiskLevel:          in.RiskLevel,
		SuccessCriteria:    in.SuccessCriteria,
		TargetAudience:     in.TargetAudience,
	}
	if h.Constraints == nil {
		h.Constraints = []string{}
	}
	if h.MainFeatures == nil {
		h.MainFeatures = []string{}
	}
	data, _ := json.Marshal(h)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FreezeIntent makes a validated contract immutable and stores its content hash.
func (e Engine) FreezeIntent(ctx context.Context, id, actorID string) (domain.IntentContract, error) {
	in, err := e.Repo.GetIntent(ctx, id)
	if err != nil {
		return in, err
	}
	if in.Status != "validated" {
		return in, ErrNotValidated
	}
	now := e.now().UTC().Format(time.RFC3339)
	hash := IntentHash(in)
	in.Status = "frozen"
	in.IntentHash = &hash
	in.FrozenAt = &now
	in.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return in, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateIntentTx(ctx, tx, in); err != nil {
		return in, err
	}
	if err := e.Events.Append(ctx, tx, "intent.frozen", in.ProjectID, "intent", in.ID, actorID, events.EventPayload{"intent_hash": hash}); err != nil {
		return in, err
	}
	if err := tx.Commit(); err != nil {
		return in, err
	}
	return in, nil
}

// CompleteIntent closes a frozen contract.
func (e Engine) CompleteIntent(ctx context.Context, id, actorID string) (domain.IntentContract, error) {
	in, err := e.Repo.GetIntent(ctx, id)
	if err != nil {
		return in, err
	}
	if in.Status != "frozen" {
		return in, InvalidTransitionError{Entity: "intent", From: in.Status, To: "completed"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	in.Status = "completed"
	in.CompletedAt = &now
	in.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return in, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateIntentTx(ctx, tx, in); err != nil {
		return in, err
	}
	if err := e.Events.Append(ctx, tx, "intent.completed", in.ProjectID, "intent", in.ID, actorID, events.EventPayload{}); err != nil {
		return in, err
	}
	if err := tx.Commit(); err != nil {
		return in, err
	}
	return in, nil
}

// CancelIntent cancels a contract from any non-terminal state.
func (e Engine) CancelIntent(ctx context.Context, id, actorID string) (domain.IntentContract, error) {
	in, err := e.Repo.GetIntent(ctx, id)
	if err != nil {
		return in, err
	}
	if in.Status == "completed" || in.Status == "cancelled" {
		return in, InvalidTransitionError{Entity: "intent", From: in.Status, To: "cancelled"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	in.Status = "cancelled"
	in.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return in, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateIntentTx(ctx, tx, in); err != nil {
		return in, err
	}
	if err := e.Events.Append(ctx, tx, "intent.cancelled", in.ProjectID, "intent", in.ID, actorID, events.EventPayload{}); err != nil {
		return in, err
	}
	if err := tx.Commit(); err != nil {
		return in, err
	}
	return in, nil
}

// IntentVerification compares a frozen contract's stored hash against one
// re-derived from its current field values.
type IntentVerification struct {
	Valid        bool   `json:"valid"`
	StoredHash   string `json:"stored_hash,omitempty"`
	ComputedHash string `json:"computed_hash"`
}

// VerifyIntent re-derives the content hash for tamper evidence.
func (e Engine) VerifyIntent(ctx context.Context, id string) (IntentVerification, error) {
	in, err := e.Repo.GetIntent(ctx, id)
	if err != nil {
		return IntentVerification{}, err
	}
	if in.IntentHash == nil {
		return IntentVerification{}, ErrIntentNotFrozen
	}
	computed := IntentHash(in)
	return IntentVerification{
		Valid:        computed == *in.IntentHash,
		StoredHash:   *in.IntentHash,
		ComputedHash: computed,
	}, nil
}

// ActionCheck is the outcome of gating one attempted action.
type ActionCheck struct {
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason,omitempty"`
	ViolationID int64  `json:"violation_id,omitempty"`
}

// CheckIntentAction gates an attempted action against a contract. A denial
// persists exactly one violation record before returning; an allow writes
// nothing.
func (e Engine) CheckIntentAction(ctx context.Context, intentID, actionDescription, attemptedBy string) (ActionCheck, error) {
	in, err := e.Repo.GetIntent(ctx, intentID)
	if err != nil {
		return ActionCheck{}, err
	}
	d := e.Checker.CheckAction(in, actionDescription)
	if d.Allowed {
		return ActionCheck{Allowed: true}, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	v := domain.Violation{
		IntentID:           in.ID,
		AttemptedAction:    actionDescription,
		ViolatedConstraint: d.Constraint,
		ViolationDetails:   d.Reason,
		AttemptedBy:        attemptedBy,
		Disposition:        "blocked",
		OccurredAt:         now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ActionCheck{}, err
	}
	defer tx.Rollback()
	violationID, err := e.Repo.InsertViolationTx(ctx, tx, v)
	if err != nil {
		return ActionCheck{}, err
	}
	if err := e.Events.Append(ctx, tx, "intent.violation", in.ProjectID, "intent", in.ID, attemptedBy, events.EventPayload{
		"attempted_action": actionDescription,
		"reason":           d.Reason,
		"constraint":       d.Constraint,
	}); err != nil {
		return ActionCheck{}, err
	}
	if err := tx.Commit(); err != nil {
		return ActionCheck{}, err
	}
	return ActionCheck{Allowed: false, Reason: d.Reason, ViolationID: violationID}, nil
}
