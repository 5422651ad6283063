package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/pagepilot/pkg/schema"
)

// --- Executions ---

const executionColumns = `id, workflow_id, owner_id, trigger_kind, status, definition, credits_consumed,
	failure_reason, created_at, started_at, completed_at`

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *Execution) error {
	def, err := json.Marshal(exec.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, exec.OwnerID, string(exec.Trigger), string(exec.Status), string(def),
		exec.CreditsConsumed, nullStr(exec.FailureReason), timeOrNow(exec.CreatedAt),
		nullTime(exec.StartedAt), nullTime(exec.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id, ownerID string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ? AND owner_id = ?`, id, ownerID)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return exec, err
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CreditsConsumed != nil {
		sets = append(sets, "credits_consumed = ?")
		args = append(args, *update.CreditsConsumed)
	}
	if update.FailureReason != nil {
		sets = append(sets, "failure_reason = ?")
		args = append(args, nullStr(*update.FailureReason))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := "SELECT " + executionColumns + " FROM executions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(r rowScanner) (*Execution, error) {
	exec := &Execution{}
	var (
		trigger, status, defJSON string
		failure                  sql.NullString
		startedAt, completedAt   sql.NullTime
	)
	if err := r.Scan(&exec.ID, &exec.WorkflowID, &exec.OwnerID, &trigger, &status, &defJSON,
		&exec.CreditsConsumed, &failure, &exec.CreatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	exec.Trigger = schema.TriggerKind(trigger)
	exec.Status = schema.ExecutionStatus(status)
	exec.FailureReason = failure.String
	exec.StartedAt = timePtr(startedAt)
	exec.CompletedAt = timePtr(completedAt)
	if err := json.Unmarshal([]byte(defJSON), &exec.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return exec, nil
}

// --- Phases ---

const phaseColumns = `id, execution_id, sequence, node_id, kind, label, status, inputs, outputs,
	credits_consumed, started_at, completed_at`

// CreatePhase inserts a phase. A second phase with the same sequence number
// in one execution fails with CONFLICT.
func (s *LibSQLStore) CreatePhase(ctx context.Context, phase *Phase) error {
	inputs, err := marshalStringMap(phase.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	outputs, err := marshalStringMap(phase.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO execution_phases (`+phaseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		phase.ID, phase.ExecutionID, phase.Sequence, phase.NodeID, string(phase.Kind), nullStr(phase.Label),
		string(phase.Status), inputs, outputs, phase.CreditsConsumed,
		nullTime(phase.StartedAt), nullTime(phase.CompletedAt),
	)
	if isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "phase %d already exists in execution %q",
			phase.Sequence, phase.ExecutionID).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) UpdatePhase(ctx context.Context, id string, update PhaseUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Inputs != nil {
		v, err := marshalStringMap(update.Inputs)
		if err != nil {
			return fmt.Errorf("marshal inputs: %w", err)
		}
		sets = append(sets, "inputs = ?")
		args = append(args, v)
	}
	if update.Outputs != nil {
		v, err := marshalStringMap(update.Outputs)
		if err != nil {
			return fmt.Errorf("marshal outputs: %w", err)
		}
		sets = append(sets, "outputs = ?")
		args = append(args, v)
	}
	if update.CreditsConsumed != nil {
		sets = append(sets, "credits_consumed = ?")
		args = append(args, *update.CreditsConsumed)
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE execution_phases SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "phase", id)
}

// ListPhases returns the phases of an execution ordered by sequence.
func (s *LibSQLStore) ListPhases(ctx context.Context, executionID string) ([]*Phase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+phaseColumns+` FROM execution_phases WHERE execution_id = ? ORDER BY sequence`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var phases []*Phase
	for rows.Next() {
		p := &Phase{}
		var (
			kind, status           string
			label, inputs, outputs sql.NullString
			startedAt, completedAt sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.ExecutionID, &p.Sequence, &p.NodeID, &kind, &label, &status,
			&inputs, &outputs, &p.CreditsConsumed, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		p.Kind = schema.TaskKind(kind)
		p.Label = label.String
		p.Status = schema.PhaseStatus(status)
		p.StartedAt = timePtr(startedAt)
		p.CompletedAt = timePtr(completedAt)
		if p.Inputs, err = unmarshalStringMap(inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
		if p.Outputs, err = unmarshalStringMap(outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

// --- Logs ---

// AppendLogs inserts entries for a phase in one transaction, preserving order.
func (s *LibSQLStore) AppendLogs(ctx context.Context, phaseID string, entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO execution_logs (phase_id, timestamp, level, message) VALUES (?, ?, ?, ?)`,
			phaseID, timeOrNow(e.Timestamp), string(e.Level), e.Message,
		)
		if err != nil {
			return fmt.Errorf("insert log: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			e.ID = id
		}
		e.PhaseID = phaseID
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit logs: %w", err)
	}
	return nil
}

// ListLogs returns the logs of a phase in append order, which is also
// timestamp order since collectors never go backwards.
func (s *LibSQLStore) ListLogs(ctx context.Context, phaseID string) ([]*LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, phase_id, timestamp, level, message FROM execution_logs WHERE phase_id = ? ORDER BY id`,
		phaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*LogEntry
	for rows.Next() {
		e := &LogEntry{}
		var level string
		if err := rows.Scan(&e.ID, &e.PhaseID, &e.Timestamp, &level, &e.Message); err != nil {
			return nil, err
		}
		e.Level = schema.LogLevel(level)
		logs = append(logs, e)
	}
	return logs, rows.Err()
}
