package store

import "time"

// ToggleLike flips the like row for (userID, postID) and reports whether a
// row was created (true) or removed (false). The existence row, not the
// counter, is the source of truth: callers adjust posts.like_count by the
// returned direction inside the same transaction, which keeps the counter
// commutative with re-delivery of the same toggle.
func (q queries) ToggleLike(userID, postID string) (created bool, err error) {
	now := time.Now().UnixMilli()
	res, err := q.ext.Exec(`
		INSERT INTO likes (user_id, post_id, sync_state, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, post_id) DO NOTHING`,
		userID, postID, SyncPending, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	_, err = q.ext.Exec(`DELETE FROM likes WHERE user_id = ? AND post_id = ?`, userID, postID)
	return false, err
}

// HasLike reports whether a like row exists for (userID, postID).
func (q queries) HasLike(userID, postID string) (bool, error) {
	var n int
	err := q.ext.QueryRow(`SELECT COUNT(*) FROM likes WHERE user_id = ? AND post_id = ?`, userID, postID).Scan(&n)
	return n > 0, err
}

// SetLikeSyncState updates the sync flag on a like row.
func (q queries) SetLikeSyncState(userID, postID string, state SyncState) error {
	_, err := q.ext.Exec(`UPDATE likes SET sync_state = ? WHERE user_id = ? AND post_id = ?`, state, userID, postID)
	return err
}

// InsertFollow adds a follow row if absent and reports whether it was
// created. An existing row means the relationship is already recorded and
// counters must not move again.
func (q queries) InsertFollow(followerID, followingID string) (created bool, err error) {
	now := time.Now().UnixMilli()
	res, err := q.ext.Exec(`
		INSERT INTO follows (follower_id, following_id, sync_state, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(follower_id, following_id) DO NOTHING`,
		followerID, followingID, SyncPending, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteFollow removes a follow row and reports whether one existed.
func (q queries) DeleteFollow(followerID, followingID string) (deleted bool, err error) {
	res, err := q.ext.Exec(`DELETE FROM follows WHERE follower_id = ? AND following_id = ?`, followerID, followingID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasFollow reports whether followerID follows followingID locally.
func (q queries) HasFollow(followerID, followingID string) (bool, error) {
	var n int
	err := q.ext.QueryRow(`SELECT COUNT(*) FROM follows WHERE follower_id = ? AND following_id = ?`, followerID, followingID).Scan(&n)
	return n > 0, err
}

// SetFollowSyncState updates the sync flag on a follow row.
func (q queries) SetFollowSyncState(followerID, followingID string, state SyncState) error {
	_, err := q.ext.Exec(`UPDATE follows SET sync_state = ? WHERE follower_id = ? AND following_id = ?`,
		state, followerID, followingID)
	return err
}

// AdjustFollowCounts moves the denormalized counters on both sides of a
// follow edge by delta (+1 on follow, -1 on unfollow), floored at zero.
// Must run in the same transaction as the follows-table mutation.
func (q queries) AdjustFollowCounts(followerID, followingID string, delta int) error {
	if _, err := q.ext.Exec(`UPDATE users SET following_count = MAX(0, following_count + ?) WHERE id = ?`,
		delta, followerID); err != nil {
		return err
	}
	_, err := q.ext.Exec(`UPDATE users SET follower_count = MAX(0, follower_count + ?) WHERE id = ?`,
		delta, followingID)
	return err
}
