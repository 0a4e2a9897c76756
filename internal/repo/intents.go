package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"intentgate/internal/domain"
)

const intentColumns = `id,project_id,intent_type,status,product_name,product_description,business_goal,target_audience,success_criteria,constraints_json,risk_level,main_features_json,additional_context,repository_url,intent_hash,validated_by,validated_at,frozen_at,completed_at,created_at,updated_at`

func (r Repo) InsertIntentTx(ctx context.Context, tx *sql.Tx, in domain.IntentContract) error {
	constraints, err := encodeStrings(in.Constraints)
	if err != nil {
		return err
	}
	features, err := encodeStrings(in.MainFeatures)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO intents(`+intentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		in.ID, in.ProjectID, in.IntentType, in.Status, in.ProductName, in.ProductDescription, in.BusinessGoal,
		in.TargetAudience, in.SuccessCriteria, constraints, in.RiskLevel, features,
		nullableStringPtr(in.AdditionalContext), nullableStringPtr(in.RepositoryURL), nullableStringPtr(in.IntentHash),
		nullableStringPtr(in.ValidatedBy), nullableStringPtr(in.ValidatedAt), nullableStringPtr(in.FrozenAt),
		nullableStringPtr(in.CompletedAt), in.CreatedAt, in.UpdatedAt)
	return err
}

func (r Repo) UpdateIntentTx(ctx context.Context, tx *sql.Tx, in domain.IntentContract) error {
	constraints, err := encodeStrings(in.Constraints)
	if err != nil {
		return err
	}
	features, err := encodeStrings(in.MainFeatures)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE intents SET intent_type=?, status=?, product_name=?, product_description=?, business_goal=?, target_audience=?, success_criteria=?, constraints_json=?, risk_level=?, main_features_json=?, additional_context=?, repository_url=?, intent_hash=?, validated_by=?, validated_at=?, frozen_at=?, completed_at=?, updated_at=? WHERE id=?`,
		in.IntentType, in.Status, in.ProductName, in.ProductDescription, in.BusinessGoal, in.TargetAudience,
		in.SuccessCriteria, constraints, in.RiskLevel, features,
		nullableStringPtr(in.AdditionalContext), nullableStringPtr(in.RepositoryURL), nullableStringPtr(in.IntentHash),
		nullableStringPtr(in.ValidatedBy), nullableStringPtr(in.ValidatedAt), nullableStringPtr(in.FrozenAt),
		nullableStringPtr(in.CompletedAt), in.UpdatedAt, in.ID)
	return err
}

func (r Repo) GetIntent(ctx context.Context, id string) (domain.IntentContract, error) {
	return scanIntent(r.DB.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM intents WHERE id=?`, id))
}

func (r Repo) GetIntentTx(ctx context.Context, tx *sql.Tx, id string) (domain.IntentContract, error) {
	return scanIntent(tx.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM intents WHERE id=?`, id))
}

// LatestProjectIntent returns the most recently created intent for a project.
func (r Repo) LatestProjectIntent(ctx context.Context, projectID string) (domain.IntentContract, error) {
	return scanIntent(r.DB.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM intents WHERE project_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, projectID))
}

type IntentFilters struct {
	ProjectID       string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListIntents(ctx context.Context, f IntentFilters) ([]domain.IntentContract, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + intentColumns + ` FROM intents ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IntentContract
	for rows.Next() {
		in, err := scanIntentRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row *sql.Row) (domain.IntentContract, error) {
	in, err := scanIntentFrom(row)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	return in, err
}

func scanIntentRows(rows *sql.Rows) (domain.IntentContract, error) {
	return scanIntentFrom(rows)
}

func scanIntentFrom(s rowScanner) (domain.IntentContract, error) {
	var in domain.IntentContract
	var constraints, features string
	var additionalContext, repositoryURL, intentHash, validatedBy, validatedAt, frozenAt, completedAt sql.NullString
	err := s.Scan(&in.ID, &in.ProjectID, &in.IntentType, &in.Status, &in.ProductName, &in.ProductDescription,
		&in.BusinessGoal, &in.TargetAudience, &in.SuccessCriteria, &constraints, &in.RiskLevel, &features,
		&additionalContext, &repositoryURL, &intentHash, &validatedBy, &validatedAt, &frozenAt, &completedAt,
		&in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return in, err
	}
	if in.Constraints, err = decodeStrings(constraints); err != nil {
		return in, err
	}
	if in.MainFeatures, err = decodeStrings(features); err != nil {
		return in, err
	}
	if additionalContext.Valid {
		in.AdditionalContext = &additionalContext.String
	}
	if repositoryURL.Valid {
		in.RepositoryURL = &repositoryURL.String
	}
	if intentHash.Valid {
		in.IntentHash = &intentHash.String
	}
	if validatedBy.Valid {
		in.ValidatedBy = &validatedBy.String
	}
	if validatedAt.Valid {
		in.ValidatedAt = &validatedAt.String
	}
	if frozenAt.Valid {
		in.FrozenAt = &frozenAt.String
	}
	if completedAt.Valid {
		in.CompletedAt = &completedAt.String
	}
	return in, nil
}

func encodeStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeStrings(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var v []string
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (r Repo) InsertViolationTx(ctx context.Context, tx *sql.Tx, v domain.Violation) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO violations(intent_id,attempted_action,violated_constraint,violation_details,attempted_by,disposition,occurred_at) VALUES (?,?,?,?,?,?,?)`,
		v.IntentID, v.AttemptedAction, v.ViolatedConstraint, nullable(v.ViolationDetails), v.AttemptedBy, v.Disposition, v.OccurredAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListViolations returns violations for an intent in the order they occurred.
func (r Repo) ListViolations(ctx context.Context, intentID string, limit int, cursor int64) ([]domain.Violation, error) {
	clauses := []string{"intent_id=?"}
	args := []any{intentID}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := `SELECT id,intent_id,attempted_action,violated_constraint,COALESCE(violation_details,''),attempted_by,disposition,occurred_at FROM violations WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Violation
	for rows.Next() {
		var v domain.Violation
		if err := rows.Scan(&v.ID, &v.IntentID, &v.AttemptedAction, &v.ViolatedConstraint, &v.ViolationDetails, &v.AttemptedBy, &v.Disposition, &v.OccurredAt); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
