package store

import (
	"database/sql"
	"time"
)

// UpsertUser inserts or updates a user profile. Social counters are left
// alone on update; they only move through AdjustFollowCounts.
func (q queries) UpsertUser(u *User) error {
	now := time.Now().UnixMilli()
	_, err := q.ext.Exec(`
		INSERT INTO users (id, username, follower_count, following_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			updated_at = excluded.updated_at`,
		u.ID, u.Username, u.FollowerCount, u.FollowingCount, now)
	return err
}

// GetUser returns a single user by id, or nil if absent.
func (q queries) GetUser(id string) (*User, error) {
	var u User
	err := q.ext.QueryRow(`
		SELECT id, username, follower_count, following_count
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.FollowerCount, &u.FollowingCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
