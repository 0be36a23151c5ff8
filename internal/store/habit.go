package store

import (
	"database/sql"
	"time"
)

// UpsertHabit inserts or updates a habit record.
func (q queries) UpsertHabit(h *Habit) error {
	now := time.Now().UnixMilli()
	if h.CreatedAt == 0 {
		h.CreatedAt = now
	}
	h.UpdatedAt = now
	_, err := q.ext.Exec(`
		INSERT INTO habits (id, owner_id, title, notes, schedule, streak, sync_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			notes = excluded.notes,
			schedule = excluded.schedule,
			streak = excluded.streak,
			sync_state = excluded.sync_state,
			updated_at = excluded.updated_at`,
		h.ID, h.OwnerID, h.Title, h.Notes, h.Schedule, h.Streak, h.SyncState, h.CreatedAt, h.UpdatedAt)
	return err
}

// GetHabit returns a single habit by id, or nil if absent.
func (q queries) GetHabit(id string) (*Habit, error) {
	var h Habit
	err := q.ext.QueryRow(`
		SELECT id, owner_id, title, notes, schedule, streak, sync_state, created_at, updated_at
		FROM habits WHERE id = ?`, id).
		Scan(&h.ID, &h.OwnerID, &h.Title, &h.Notes, &h.Schedule, &h.Streak, &h.SyncState, &h.CreatedAt, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListHabits returns all habits for an owner, most recently updated first.
func (q queries) ListHabits(ownerID string) ([]Habit, error) {
	rows, err := q.ext.Query(`
		SELECT id, owner_id, title, notes, schedule, streak, sync_state, created_at, updated_at
		FROM habits WHERE owner_id = ?
		ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var habits []Habit
	for rows.Next() {
		var h Habit
		if err := rows.Scan(&h.ID, &h.OwnerID, &h.Title, &h.Notes, &h.Schedule, &h.Streak, &h.SyncState, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, err
		}
		habits = append(habits, h)
	}
	return habits, rows.Err()
}

// DeleteHabit removes a habit row.
func (q queries) DeleteHabit(id string) error {
	_, err := q.ext.Exec(`DELETE FROM habits WHERE id = ?`, id)
	return err
}

// SetHabitSyncState updates only the sync flag.
func (q queries) SetHabitSyncState(id string, state SyncState) error {
	_, err := q.ext.Exec(`UPDATE habits SET sync_state = ? WHERE id = ?`, state, id)
	return err
}
