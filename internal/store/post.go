package store

import (
	"database/sql"
	"time"
)

// UpsertPost inserts or updates a post record. Counters are not touched:
// like_count and comment_count only move through their existence tables.
func (q queries) UpsertPost(p *Post) error {
	now := time.Now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := q.ext.Exec(`
		INSERT INTO posts (id, author_id, body, habit_id, like_count, comment_count, sync_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			habit_id = excluded.habit_id,
			sync_state = excluded.sync_state,
			updated_at = excluded.updated_at`,
		p.ID, p.AuthorID, p.Body, p.HabitID, p.LikeCount, p.CommentCount, p.SyncState, p.CreatedAt, p.UpdatedAt)
	return err
}

// GetPost returns a single post by id, or nil if absent.
func (q queries) GetPost(id string) (*Post, error) {
	var p Post
	err := q.ext.QueryRow(`
		SELECT id, author_id, body, habit_id, like_count, comment_count, sync_state, created_at, updated_at
		FROM posts WHERE id = ?`, id).
		Scan(&p.ID, &p.AuthorID, &p.Body, &p.HabitID, &p.LikeCount, &p.CommentCount, &p.SyncState, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePost removes a post row.
func (q queries) DeletePost(id string) error {
	_, err := q.ext.Exec(`DELETE FROM posts WHERE id = ?`, id)
	return err
}

// SetPostSyncState updates only the sync flag.
func (q queries) SetPostSyncState(id string, state SyncState) error {
	_, err := q.ext.Exec(`UPDATE posts SET sync_state = ? WHERE id = ?`, state, id)
	return err
}

// AdjustPostLikeCount moves the denormalized like counter by delta, floored
// at zero. Must run in the same transaction as the likes-table mutation
// that justifies it.
func (q queries) AdjustPostLikeCount(id string, delta int) error {
	_, err := q.ext.Exec(`UPDATE posts SET like_count = MAX(0, like_count + ?) WHERE id = ?`, delta, id)
	return err
}

// AdjustPostCommentCount moves the denormalized comment counter by delta,
// floored at zero.
func (q queries) AdjustPostCommentCount(id string, delta int) error {
	_, err := q.ext.Exec(`UPDATE posts SET comment_count = MAX(0, comment_count + ?) WHERE id = ?`, delta, id)
	return err
}
