package store

import (
	"database/sql"
	"time"
)

// UpsertComment inserts or updates a comment record.
func (q queries) UpsertComment(c *Comment) error {
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().UnixMilli()
	}
	_, err := q.ext.Exec(`
		INSERT INTO comments (id, post_id, author_id, body, sync_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			sync_state = excluded.sync_state`,
		c.ID, c.PostID, c.AuthorID, c.Body, c.SyncState, c.CreatedAt)
	return err
}

// GetComment returns a single comment by id, or nil if absent.
func (q queries) GetComment(id string) (*Comment, error) {
	var c Comment
	err := q.ext.QueryRow(`
		SELECT id, post_id, author_id, body, sync_state, created_at
		FROM comments WHERE id = ?`, id).
		Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Body, &c.SyncState, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListComments returns comments on a post in posting order.
func (q queries) ListComments(postID string) ([]Comment, error) {
	rows, err := q.ext.Query(`
		SELECT id, post_id, author_id, body, sync_state, created_at
		FROM comments WHERE post_id = ?
		ORDER BY created_at ASC`, postID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var comments []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Body, &c.SyncState, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// DeleteComment removes a comment row.
func (q queries) DeleteComment(id string) error {
	_, err := q.ext.Exec(`DELETE FROM comments WHERE id = ?`, id)
	return err
}

// SetCommentSyncState updates only the sync flag.
func (q queries) SetCommentSyncState(id string, state SyncState) error {
	_, err := q.ext.Exec(`UPDATE comments SET sync_state = ? WHERE id = ?`, state, id)
	return err
}
