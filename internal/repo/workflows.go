package repo

import (
	"context"
	"database/sql"
	"strings"

	"intentgate/internal/domain"
)

func (r Repo) InsertWorkflowTx(ctx context.Context, tx *sql.Tx, w domain.Workflow) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflows(id,project_id,name,status,created_at,updated_at,completed_at) VALUES (?,?,?,?,?,?,?)`,
		w.ID, w.ProjectID, w.Name, w.Status, w.CreatedAt, w.UpdatedAt, nullableStringPtr(w.CompletedAt))
	return err
}

func (r Repo) UpdateWorkflowTx(ctx context.Context, tx *sql.Tx, w domain.Workflow) error {
	_, err := tx.ExecContext(ctx, `UPDATE workflows SET status=?, updated_at=?, completed_at=? WHERE id=?`,
		w.Status, w.UpdatedAt, nullableStringPtr(w.CompletedAt), w.ID)
	return err
}

func scanWorkflow(row *sql.Row) (domain.Workflow, error) {
	var w domain.Workflow
	var completedAt sql.NullString
	err := row.Scan(&w.ID, &w.ProjectID, &w.Name, &w.Status, &w.CreatedAt, &w.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if completedAt.Valid {
		w.CompletedAt = &completedAt.String
	}
	return w, nil
}

func (r Repo) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	return scanWorkflow(r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,status,created_at,updated_at,completed_at FROM workflows WHERE id=?`, id))
}

func (r Repo) GetWorkflowTx(ctx context.Context, tx *sql.Tx, id string) (domain.Workflow, error) {
	return scanWorkflow(tx.QueryRowContext(ctx, `SELECT id,project_id,name,status,created_at,updated_at,completed_at FROM workflows WHERE id=?`, id))
}

type WorkflowFilters struct {
	ProjectID       string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListWorkflows(ctx context.Context, f WorkflowFilters) ([]domain.Workflow, error) {
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
	query := `SELECT id,project_id,name,status,created_at,updated_at,completed_at FROM workflows ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workflow
	for rows.Next() {
		var w domain.Workflow
		var completedAt sql.NullString
		if err := rows.Scan(&w.ID, &w.ProjectID, &w.Name, &w.Status, &w.CreatedAt, &w.UpdatedAt, &completedAt); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			w.CompletedAt = &completedAt.String
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) InsertWorkflowStepTx(ctx context.Context, tx *sql.Tx, s domain.WorkflowStep) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflow_steps(id,workflow_id,step_kind,status,step_order,input_json,output_json,error,started_at,completed_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.WorkflowID, s.StepKind, s.Status, s.StepOrder,
		nullableStringPtr(s.InputJSON), nullableStringPtr(s.OutputJSON), nullableStringPtr(s.Error),
		nullableStringPtr(s.StartedAt), nullableStringPtr(s.CompletedAt))
	return err
}

func (r Repo) UpdateWorkflowStepTx(ctx context.Context, tx *sql.Tx, s domain.WorkflowStep) error {
	_, err := tx.ExecContext(ctx, `UPDATE workflow_steps SET status=?, input_json=?, output_json=?, error=?, started_at=?, completed_at=? WHERE id=?`,
		s.Status, nullableStringPtr(s.InputJSON), nullableStringPtr(s.OutputJSON), nullableStringPtr(s.Error),
		nullableStringPtr(s.StartedAt), nullableStringPtr(s.CompletedAt), s.ID)
	return err
}

func scanStep(s rowScanner) (domain.WorkflowStep, error) {
	var st domain.WorkflowStep
	var input, output, stepErr, startedAt, completedAt sql.NullString
	err := s.Scan(&st.ID, &st.WorkflowID, &st.StepKind, &st.Status, &st.StepOrder, &input, &output, &stepErr, &startedAt, &completedAt)
	if err != nil {
		return st, err
	}
	if input.Valid {
		st.InputJSON = &input.String
	}
	if output.Valid {
		st.OutputJSON = &output.String
	}
	if stepErr.Valid {
		st.Error = &stepErr.String
	}
	if startedAt.Valid {
		st.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		st.CompletedAt = &completedAt.String
	}
	return st, nil
}

const stepColumns = `id,workflow_id,step_kind,status,step_order,input_json,output_json,error,started_at,completed_at`

func (r Repo) ListWorkflowSteps(ctx context.Context, workflowID string) ([]domain.WorkflowStep, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE workflow_id=? ORDER BY step_order ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSteps(rows)
}

func (r Repo) ListWorkflowStepsTx(ctx context.Context, tx *sql.Tx, workflowID string) ([]domain.WorkflowStep, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE workflow_id=? ORDER BY step_order ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSteps(rows)
}

func collectSteps(rows *sql.Rows) ([]domain.WorkflowStep, error) {
	var res []domain.WorkflowStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// NextWorkflowStepTx returns the first step in order still Pending or Running.
// A Running step takes priority so a crashed run can be re-driven.
func (r Repo) NextWorkflowStepTx(ctx context.Context, tx *sql.Tx, workflowID string) (domain.WorkflowStep, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE workflow_id=? AND status IN ('pending','running')
ORDER BY CASE status WHEN 'running' THEN 0 ELSE 1 END, step_order ASC LIMIT 1`, workflowID)
	st, err := scanStep(row)
	if err == sql.ErrNoRows {
		return st, ErrNotFound
	}
	return st, err
}

func (r Repo) NextWorkflowStep(ctx context.Context, workflowID string) (domain.WorkflowStep, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE workflow_id=? AND status IN ('pending','running')
ORDER BY CASE status WHEN 'running' THEN 0 ELSE 1 END, step_order ASC LIMIT 1`, workflowID)
	st, err := scanStep(row)
	if err == sql.ErrNoRows {
		return st, ErrNotFound
	}
	return st, err
}

func (r Repo) CountStepsByStatus(ctx context.Context, workflowID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM workflow_steps WHERE workflow_id=? GROUP BY status`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
