package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Task is one proving task row. Tasks are keyed by (app_id, task_id):
// two apps may use the same task id without colliding.
type Task struct {
	AppID        string
	TaskID       string
	Inputs       []byte
	InputsDigest string
	BackendHint  string
	State        TaskState
	ChunksDone   int
	ChunksTotal  int
	Cycles       uint64
	PVDigest     string
	Envelope     []byte
	ErrCode      string
	ErrMessage   string
	CreatedAt    string
	UpdatedAt    string
}

// CreateTask inserts a task in the queued state. Uses
// ON CONFLICT(app_id, task_id) DO NOTHING: resubmission of the same
// task under the same app is a no-op. Returns whether a new row was
// written.
func (l *Ledger) CreateTask(ctx context.Context, task Task) (inserted bool, err error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO tasks
		(app_id, task_id, inputs, inputs_digest, backend_hint, state)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id, task_id) DO NOTHING
	`,
		task.AppID,
		task.TaskID,
		task.Inputs,
		task.InputsDigest,
		task.BackendHint,
		string(StateQueued),
	)
	if err != nil {
		return false, fmt.Errorf("create task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create task: rows affected: %w", err)
	}
	return n > 0, nil
}

// GetTask fetches one task by its (app_id, task_id) pair. Returns
// ErrNotFound for unknown pairs.
func (l *Ledger) GetTask(ctx context.Context, appID, taskID string) (Task, error) {
	var t Task
	var state string
	err := l.db.QueryRowContext(ctx, `
		SELECT app_id, task_id, inputs, inputs_digest, backend_hint, state,
		       chunks_done, chunks_total, cycles, pv_digest, envelope,
		       err_code, err_message, created_at, updated_at
		FROM tasks WHERE app_id = ? AND task_id = ?
	`, appID, taskID).Scan(
		&t.AppID,
		&t.TaskID,
		&t.Inputs,
		&t.InputsDigest,
		&t.BackendHint,
		&state,
		&t.ChunksDone,
		&t.ChunksTotal,
		&t.Cycles,
		&t.PVDigest,
		&t.Envelope,
		&t.ErrCode,
		&t.ErrMessage,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("get task %s/%s: %w", appID, taskID, ErrNotFound)
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task %s/%s: %w", appID, taskID, err)
	}
	t.State = TaskState(state)
	return t, nil
}

// Advance moves a task from one state to another inside a transaction,
// appending the transition record. The UPDATE is guarded by the
// current state, so 0 affected rows means the task was not where the
// caller believed; that surfaces as ErrTransitionConflict and the
// caller must re-read.
func (l *Ledger) Advance(ctx context.Context, appID, taskID string, from, to TaskState, detail string) error {
	if !CanAdvance(from, to) {
		return fmt.Errorf("advance task %s/%s: %s -> %s: %w", appID, taskID, from, to, ErrTransitionConflict)
	}
	return l.transition(ctx, appID, taskID, from, to, detail, "")
}

// Complete marks a wrapping task completed and stores the final
// envelope alongside the transition.
func (l *Ledger) Complete(ctx context.Context, appID, taskID string, envelope []byte) error {
	return l.transition(ctx, appID, taskID, StateWrapping, StateCompleted, "", `
		envelope = ?
	`, envelope)
}

// Fail moves a task from any non-terminal state to failed, recording
// the error classification. Failing an already-terminal task returns
// ErrTransitionConflict.
func (l *Ledger) Fail(ctx context.Context, appID, taskID string, from TaskState, code, message string) error {
	if from.Terminal() {
		return fmt.Errorf("fail task %s/%s: %s is terminal: %w", appID, taskID, from, ErrTransitionConflict)
	}
	return l.transition(ctx, appID, taskID, from, StateFailed, code, `
		err_code = ?, err_message = ?
	`, code, message)
}

// transition runs the guarded UPDATE plus transition append. extraSet,
// when non-empty, is appended to the SET clause with its args bound
// before the task key and state guard.
func (l *Ledger) transition(ctx context.Context, appID, taskID string, from, to TaskState, detail, extraSet string, extraArgs ...any) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("advance task %s/%s: begin tx: %w", appID, taskID, err)
	}
	defer tx.Rollback() // No-op if committed

	set := `state = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`
	if extraSet != "" {
		set += ", " + extraSet
	}
	args := append([]any{string(to)}, extraArgs...)
	args = append(args, appID, taskID, string(from))

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET `+set+` WHERE app_id = ? AND task_id = ? AND state = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("advance task %s/%s: %w", appID, taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance task %s/%s: rows affected: %w", appID, taskID, err)
	}
	if n == 0 {
		// Either the task does not exist or it moved under us.
		var cur string
		err := tx.QueryRowContext(ctx,
			`SELECT state FROM tasks WHERE app_id = ? AND task_id = ?`,
			appID, taskID,
		).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("advance task %s/%s: %w", appID, taskID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("advance task %s/%s: %w", appID, taskID, err)
		}
		return fmt.Errorf("advance task %s/%s: at %s, want %s: %w", appID, taskID, cur, from, ErrTransitionConflict)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_transitions (app_id, task_id, from_state, to_state, detail)
		VALUES (?, ?, ?, ?, ?)
	`, appID, taskID, string(from), string(to), detail); err != nil {
		return fmt.Errorf("advance task %s/%s: record transition: %w", appID, taskID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("advance task %s/%s: commit: %w", appID, taskID, err)
	}
	return nil
}

// SetEmulation records the emulation outcome (cycle count and public
// values digest) on the task row. Called while the task is Emulating,
// before the advance to Partitioning.
func (l *Ledger) SetEmulation(ctx context.Context, appID, taskID string, cycles uint64, pvDigest string) error {
	return l.setColumns(ctx, appID, taskID, `cycles = ?, pv_digest = ?`, cycles, pvDigest)
}

// SetProgress updates the chunk completion counters shown to clients
// polling a proving task.
func (l *Ledger) SetProgress(ctx context.Context, appID, taskID string, done, total int) error {
	return l.setColumns(ctx, appID, taskID, `chunks_done = ?, chunks_total = ?`, done, total)
}

func (l *Ledger) setColumns(ctx context.Context, appID, taskID, set string, args ...any) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE tasks SET `+set+`, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now') WHERE app_id = ? AND task_id = ?`,
		append(args, appID, taskID)...,
	)
	if err != nil {
		return fmt.Errorf("update task %s/%s: %w", appID, taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task %s/%s: rows affected: %w", appID, taskID, err)
	}
	if n == 0 {
		return fmt.Errorf("update task %s/%s: %w", appID, taskID, ErrNotFound)
	}
	return nil
}

// Transition is one audit-trail row.
type Transition struct {
	AppID  string
	TaskID string
	From   TaskState
	To     TaskState
	Detail string
	At     string
}

// Transitions returns a task's state history in order.
func (l *Ledger) Transitions(ctx context.Context, appID, taskID string) ([]Transition, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT app_id, task_id, from_state, to_state, detail, at
		FROM task_transitions WHERE app_id = ? AND task_id = ? ORDER BY id
	`, appID, taskID)
	if err != nil {
		return nil, fmt.Errorf("transitions for %s/%s: %w", appID, taskID, err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		var from, to string
		if err := rows.Scan(&tr.AppID, &tr.TaskID, &from, &to, &tr.Detail, &tr.At); err != nil {
			return nil, fmt.Errorf("transitions for %s/%s: scan: %w", appID, taskID, err)
		}
		tr.From, tr.To = TaskState(from), TaskState(to)
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transitions for %s/%s: %w", appID, taskID, err)
	}
	return out, nil
}

// TaskRef identifies one task.
type TaskRef struct {
	AppID  string
	TaskID string
}

// RecoverInterrupted fails every task stranded in a non-terminal state
// by a process restart. Emulation and proving do not survive the
// process, so stranded tasks cannot be resumed; clients resubmit and
// idempotent task IDs make that safe. Returns the recovered tasks.
func (l *Ledger) RecoverInterrupted(ctx context.Context, code, message string) ([]TaskRef, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT app_id, task_id, state FROM tasks
		WHERE state NOT IN (?, ?)
	`, string(StateCompleted), string(StateFailed))
	if err != nil {
		return nil, fmt.Errorf("recover interrupted: %w", err)
	}

	type stranded struct {
		ref   TaskRef
		state TaskState
	}
	var found []stranded
	for rows.Next() {
		var s stranded
		var state string
		if err := rows.Scan(&s.ref.AppID, &s.ref.TaskID, &state); err != nil {
			rows.Close()
			return nil, fmt.Errorf("recover interrupted: scan: %w", err)
		}
		s.state = TaskState(state)
		found = append(found, s)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("recover interrupted: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recover interrupted: %w", err)
	}

	recovered := make([]TaskRef, 0, len(found))
	for _, s := range found {
		if err := l.Fail(ctx, s.ref.AppID, s.ref.TaskID, s.state, code, message); err != nil {
			return recovered, err
		}
		recovered = append(recovered, s.ref)
	}
	return recovered, nil
}
