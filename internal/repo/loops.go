package repo

import (
	"context"
	"database/sql"
	"strings"

	"intentgate/internal/domain"
)

const loopColumns = `id,project_id,intent_id,status,max_time_minutes,max_actions,max_cost_usd,max_iterations_before_pause,elapsed_seconds,actions_executed,cost_accumulated_usd,iterations_executed,pause_count,last_pause_reason,last_pause_message,last_pause_at,progress_percentage,current_phase,last_action,last_action_at,next_action,result,artifacts_json,created_at,started_at,deadline,completed_at,cancelled_at`

func (r Repo) InsertLoopTx(ctx context.Context, tx *sql.Tx, l domain.ExecutionLoop) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO loops(`+loopColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.ProjectID, l.IntentID, l.Status,
		l.MaxTimeMinutes, l.MaxActions, l.MaxCostUSD, l.MaxIterationsBeforePause,
		l.ElapsedSeconds, l.ActionsExecuted, l.CostAccumulatedUSD, l.IterationsExecuted,
		l.PauseCount, nullableStringPtr(l.LastPauseReason), nullableStringPtr(l.LastPauseMessage), nullableStringPtr(l.LastPauseAt),
		l.ProgressPercentage, nullableStringPtr(l.CurrentPhase), nullableStringPtr(l.LastAction), nullableStringPtr(l.LastActionAt),
		nullableStringPtr(l.NextAction), nullableStringPtr(l.Result), nullableStringPtr(l.ArtifactsJSON),
		l.CreatedAt, nullableStringPtr(l.StartedAt), nullableStringPtr(l.Deadline),
		nullableStringPtr(l.CompletedAt), nullableStringPtr(l.CancelledAt))
	return err
}

func (r Repo) UpdateLoopTx(ctx context.Context, tx *sql.Tx, l domain.ExecutionLoop) error {
	_, err := tx.ExecContext(ctx, `UPDATE loops SET status=?, elapsed_seconds=?, actions_executed=?, cost_accumulated_usd=?, iterations_executed=?, pause_count=?, last_pause_reason=?, last_pause_message=?, last_pause_at=?, progress_percentage=?, current_phase=?, last_action=?, last_action_at=?, next_action=?, result=?, artifacts_json=?, started_at=?, deadline=?, completed_at=?, cancelled_at=? WHERE id=?`,
		l.Status, l.ElapsedSeconds, l.ActionsExecuted, l.CostAccumulatedUSD, l.IterationsExecuted,
		l.PauseCount, nullableStringPtr(l.LastPauseReason), nullableStringPtr(l.LastPauseMessage), nullableStringPtr(l.LastPauseAt),
		l.ProgressPercentage, nullableStringPtr(l.CurrentPhase), nullableStringPtr(l.LastAction), nullableStringPtr(l.LastActionAt),
		nullableStringPtr(l.NextAction), nullableStringPtr(l.Result), nullableStringPtr(l.ArtifactsJSON),
		nullableStringPtr(l.StartedAt), nullableStringPtr(l.Deadline),
		nullableStringPtr(l.CompletedAt), nullableStringPtr(l.CancelledAt), l.ID)
	return err
}

func scanLoop(s rowScanner) (domain.ExecutionLoop, error) {
	var l domain.ExecutionLoop
	var lastPauseReason, lastPauseMessage, lastPauseAt, currentPhase, lastAction, lastActionAt, nextAction, result, artifacts, startedAt, deadline, completedAt, cancelledAt sql.NullString
	err := s.Scan(&l.ID, &l.ProjectID, &l.IntentID, &l.Status,
		&l.MaxTimeMinutes, &l.MaxActions, &l.MaxCostUSD, &l.MaxIterationsBeforePause,
		&l.ElapsedSeconds, &l.ActionsExecuted, &l.CostAccumulatedUSD, &l.IterationsExecuted,
		&l.PauseCount, &lastPauseReason, &lastPauseMessage, &lastPauseAt,
		&l.ProgressPercentage, &currentPhase, &lastAction, &lastActionAt,
		&nextAction, &result, &artifacts,
		&l.CreatedAt, &startedAt, &deadline, &completedAt, &cancelledAt)
	if err != nil {
		return l, err
	}
	if lastPauseReason.Valid {
		l.LastPauseReason = &lastPauseReason.String
	}
	if lastPauseMessage.Valid {
		l.LastPauseMessage = &lastPauseMessage.String
	}
	if lastPauseAt.Valid {
		l.LastPauseAt = &lastPauseAt.String
	}
	if currentPhase.Valid {
		l.CurrentPhase = &currentPhase.String
	}
	if lastAction.Valid {
		l.LastAction = &lastAction.String
	}
	if lastActionAt.Valid {
		l.LastActionAt = &lastActionAt.String
	}
	if nextAction.Valid {
		l.NextAction = &nextAction.String
	}
	if result.Valid {
		l.Result = &result.String
	}
	if artifacts.Valid {
		l.ArtifactsJSON = &artifacts.String
	}
	if startedAt.Valid {
		l.StartedAt = &startedAt.String
	}
	if deadline.Valid {
		l.Deadline = &deadline.String
	}
	if completedAt.Valid {
		l.CompletedAt = &completedAt.String
	}
	if cancelledAt.Valid {
		l.CancelledAt = &cancelledAt.String
	}
	return l, nil
}

func (r Repo) GetLoop(ctx context.Context, id string) (domain.ExecutionLoop, error) {
	l, err := scanLoop(r.DB.QueryRowContext(ctx, `SELECT `+loopColumns+` FROM loops WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) GetLoopTx(ctx context.Context, tx *sql.Tx, id string) (domain.ExecutionLoop, error) {
	l, err := scanLoop(tx.QueryRowContext(ctx, `SELECT `+loopColumns+` FROM loops WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

type LoopFilters struct {
	ProjectID       string
	IntentID        string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListLoops(ctx context.Context, f LoopFilters) ([]domain.ExecutionLoop, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.IntentID != "" {
		clauses = append(clauses, "intent_id=?")
		args = append(args, f.IntentID)
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
	query := `SELECT ` + loopColumns + ` FROM loops ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExecutionLoop
	for rows.Next() {
		l, err := scanLoop(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) InsertLoopActionTx(ctx context.Context, tx *sql.Tx, a domain.LoopAction) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO loop_actions(loop_id,action_type,description,agent_id,success,result,error,cost_usd,duration_seconds,occurred_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.LoopID, a.ActionType, nullable(a.Description), nullableStringPtr(a.AgentID), a.Success,
		nullableStringPtr(a.Result), nullableStringPtr(a.Error), a.CostUSD, a.DurationSeconds, a.OccurredAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListLoopActions returns a loop's actions in append order.
func (r Repo) ListLoopActions(ctx context.Context, loopID string, limit int, cursor int64) ([]domain.LoopAction, error) {
	clauses := []string{"loop_id=?"}
	args := []any{loopID}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := `SELECT id,loop_id,action_type,COALESCE(description,''),agent_id,success,result,error,cost_usd,duration_seconds,occurred_at FROM loop_actions WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LoopAction
	for rows.Next() {
		var a domain.LoopAction
		var agentID, result, actErr sql.NullString
		if err := rows.Scan(&a.ID, &a.LoopID, &a.ActionType, &a.Description, &agentID, &a.Success, &result, &actErr, &a.CostUSD, &a.DurationSeconds, &a.OccurredAt); err != nil {
			return nil, err
		}
		if agentID.Valid {
			a.AgentID = &agentID.String
		}
		if result.Valid {
			a.Result = &result.String
		}
		if actErr.Valid {
			a.Error = &actErr.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertLoopPauseTx(ctx context.Context, tx *sql.Tx, p domain.LoopPause) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO loop_pauses(loop_id,reason,message,paused_by,action_required,paused_at,resumed_at,user_response) VALUES (?,?,?,?,?,?,?,?)`,
		p.LoopID, p.Reason, nullable(p.Message), p.PausedBy, nullableStringPtr(p.ActionRequired),
		p.PausedAt, nullableStringPtr(p.ResumedAt), nullableStringPtr(p.UserResponse))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestOpenPauseTx returns the most recently opened pause without a resumed_at.
func (r Repo) LatestOpenPauseTx(ctx context.Context, tx *sql.Tx, loopID string) (domain.LoopPause, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,loop_id,reason,COALESCE(message,''),paused_by,action_required,paused_at,resumed_at,user_response FROM loop_pauses WHERE loop_id=? AND resumed_at IS NULL ORDER BY id DESC LIMIT 1`, loopID)
	p, err := scanPause(row)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ResolvePauseTx(ctx context.Context, tx *sql.Tx, pauseID int64, resumedAt string, userResponse *string) error {
	_, err := tx.ExecContext(ctx, `UPDATE loop_pauses SET resumed_at=?, user_response=? WHERE id=?`,
		resumedAt, nullableStringPtr(userResponse), pauseID)
	return err
}

func scanPause(s rowScanner) (domain.LoopPause, error) {
	var p domain.LoopPause
	var actionRequired, resumedAt, userResponse sql.NullString
	err := s.Scan(&p.ID, &p.LoopID, &p.Reason, &p.Message, &p.PausedBy, &actionRequired, &p.PausedAt, &resumedAt, &userResponse)
	if err != nil {
		return p, err
	}
	if actionRequired.Valid {
		p.ActionRequired = &actionRequired.String
	}
	if resumedAt.Valid {
		p.ResumedAt = &resumedAt.String
	}
	if userResponse.Valid {
		p.UserResponse = &userResponse.String
	}
	return p, nil
}

// ListLoopPauses returns a loop's pauses in append order.
func (r Repo) ListLoopPauses(ctx context.Context, loopID string, limit int, cursor int64) ([]domain.LoopPause, error) {
	clauses := []string{"loop_id=?"}
	args := []any{loopID}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := `SELECT id,loop_id,reason,COALESCE(message,''),paused_by,action_required,paused_at,resumed_at,user_response FROM loop_pauses WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LoopPause
	for rows.Next() {
		p, err := scanPause(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
