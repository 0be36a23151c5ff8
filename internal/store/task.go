package store

import (
	"database/sql"
	"time"
)

// UpsertTask inserts or updates a task record.
func (q queries) UpsertTask(t *Task) error {
	now := time.Now().UnixMilli()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := q.ext.Exec(`
		INSERT INTO tasks (id, owner_id, title, due_at, done, sync_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			due_at = excluded.due_at,
			done = excluded.done,
			sync_state = excluded.sync_state,
			updated_at = excluded.updated_at`,
		t.ID, t.OwnerID, t.Title, t.DueAt, t.Done, t.SyncState, t.CreatedAt, t.UpdatedAt)
	return err
}

// GetTask returns a single task by id, or nil if absent.
func (q queries) GetTask(id string) (*Task, error) {
	var t Task
	err := q.ext.QueryRow(`
		SELECT id, owner_id, title, due_at, done, sync_state, created_at, updated_at
		FROM tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.OwnerID, &t.Title, &t.DueAt, &t.Done, &t.SyncState, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks returns all tasks for an owner, soonest due first.
func (q queries) ListTasks(ownerID string) ([]Task, error) {
	rows, err := q.ext.Query(`
		SELECT id, owner_id, title, due_at, done, sync_state, created_at, updated_at
		FROM tasks WHERE owner_id = ?
		ORDER BY due_at ASC, created_at ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &t.DueAt, &t.Done, &t.SyncState, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// DeleteTask removes a task row.
func (q queries) DeleteTask(id string) error {
	_, err := q.ext.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	return err
}

// SetTaskSyncState updates only the sync flag.
func (q queries) SetTaskSyncState(id string, state SyncState) error {
	_, err := q.ext.Exec(`UPDATE tasks SET sync_state = ? WHERE id = ?`, state, id)
	return err
}
