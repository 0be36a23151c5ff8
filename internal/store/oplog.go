package store

import (
	"database/sql"
	"time"
)

// AppendOp durably inserts a pending operation. Call inside WithTx together
// with the entity write it mirrors.
func (q queries) AppendOp(op *Operation) error {
	if op.CreatedAt == 0 {
		op.CreatedAt = time.Now().UnixMilli()
	}
	if op.Status == "" {
		op.Status = OpPending
	}
	res, err := q.ext.Exec(`
		INSERT INTO sync_queue (entity_type, entity_id, verb, payload, status, created_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		op.EntityType, op.EntityID, op.Verb, op.Payload, op.Status, op.CreatedAt)
	if err != nil {
		return err
	}
	op.ID, _ = res.LastInsertId()
	return nil
}

// ReplacePendingOp enqueues op, overwriting any still-pending record for the
// same (entity_type, entity_id) instead of accumulating a second one. Used
// by relationship entities keyed with RelKey, where a follow immediately
// undone by an unfollow must collapse to the latest verb. The replaced
// record keeps its queue position but restarts its retry budget.
//
// Two cases never overwrite. A DELETE arriving for a CREATE that was never
// attempted cancels the record outright: the server has not heard of the
// relationship, so sending the DELETE would only earn a 404. And a record
// claimed IN_PROGRESS by the dispatcher is left alone; the new verb lands
// as a fresh record behind it.
func (q queries) ReplacePendingOp(op *Operation) error {
	now := time.Now().UnixMilli()
	if op.Verb == VerbDelete {
		res, err := q.ext.Exec(`
			DELETE FROM sync_queue
			WHERE entity_type = ? AND entity_id = ? AND verb = 'CREATE'
			  AND status = 'PENDING' AND last_attempt_at IS NULL`,
			op.EntityType, op.EntityID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n > 0 {
			return nil
		}
	}
	res, err := q.ext.Exec(`
		UPDATE sync_queue
		SET verb = ?, payload = ?, retry_count = 0, last_attempt_at = NULL
		WHERE entity_type = ? AND entity_id = ? AND status = 'PENDING'`,
		op.Verb, op.Payload, op.EntityType, op.EntityID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if op.CreatedAt == 0 {
		op.CreatedAt = now
	}
	op.Status = OpPending
	return q.AppendOp(op)
}

// ListPendingOps returns all pending operations in enqueue order.
func (q queries) ListPendingOps() ([]Operation, error) {
	rows, err := q.ext.Query(`
		SELECT id, entity_type, entity_id, verb, payload, status, created_at, last_attempt_at, retry_count
		FROM sync_queue WHERE status = 'PENDING'
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanOps(rows)
}

// ListOpsByEntity returns every operation recorded for one entity, in
// enqueue order.
func (q queries) ListOpsByEntity(entityType, entityID string) ([]Operation, error) {
	rows, err := q.ext.Query(`
		SELECT id, entity_type, entity_id, verb, payload, status, created_at, last_attempt_at, retry_count
		FROM sync_queue WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at ASC, id ASC`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanOps(rows)
}

func scanOps(rows *sql.Rows) ([]Operation, error) {
	var ops []Operation
	for rows.Next() {
		var op Operation
		var lastAttempt sql.NullInt64
		if err := rows.Scan(&op.ID, &op.EntityType, &op.EntityID, &op.Verb, &op.Payload,
			&op.Status, &op.CreatedAt, &lastAttempt, &op.RetryCount); err != nil {
			return nil, err
		}
		op.LastAttemptAt = lastAttempt.Int64
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// ClaimOp moves a pending record to IN_PROGRESS before its remote attempt
// and stamps the attempt time. The verb guard makes the claim fail when a
// concurrent ReplacePendingOp redirected the record after it was listed;
// false means the record must not be dispatched with the stale snapshot.
func (q queries) ClaimOp(id int64, verb Verb) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := q.ext.Exec(`
		UPDATE sync_queue SET status = 'IN_PROGRESS', last_attempt_at = ?
		WHERE id = ? AND verb = ? AND status = 'PENDING'`,
		now, id, verb)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseOp returns a claimed record to PENDING without consuming a retry,
// used when a local fault aborts the attempt before the remote call.
func (q queries) ReleaseOp(id int64) error {
	_, err := q.ext.Exec(`
		UPDATE sync_queue SET status = 'PENDING'
		WHERE id = ? AND status = 'IN_PROGRESS'`, id)
	return err
}

// ResetStaleInProgressOps requeues IN_PROGRESS records whose claim predates
// the cutoff. They belong to a dispatcher that died mid-attempt and would
// otherwise be stranded forever. Returns how many were reset.
func (q queries) ResetStaleInProgressOps(olderThan time.Time) (int64, error) {
	res, err := q.ext.Exec(`
		UPDATE sync_queue SET status = 'PENDING'
		WHERE status = 'IN_PROGRESS' AND last_attempt_at < ?`,
		olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkOpCompleted marks an operation as applied remotely. Terminal.
func (q queries) MarkOpCompleted(id int64) error {
	now := time.Now().UnixMilli()
	_, err := q.ext.Exec(`UPDATE sync_queue SET status = 'COMPLETED', last_attempt_at = ? WHERE id = ?`, now, id)
	return err
}

// MarkOpRetry records a failed attempt, leaving the operation eligible for
// a future pass when nextStatus is OpPending.
func (q queries) MarkOpRetry(id int64, retryCount int, nextStatus OpStatus) error {
	now := time.Now().UnixMilli()
	_, err := q.ext.Exec(`UPDATE sync_queue SET retry_count = ?, status = ?, last_attempt_at = ? WHERE id = ?`,
		retryCount, nextStatus, now, id)
	return err
}

// MarkOpFailed quarantines an operation after its retry budget is spent.
// Failed operations only re-enter the queue via RequeueFailedOps.
func (q queries) MarkOpFailed(id int64) error {
	now := time.Now().UnixMilli()
	_, err := q.ext.Exec(`UPDATE sync_queue SET status = 'FAILED', last_attempt_at = ? WHERE id = ?`, now, id)
	return err
}

// DeleteOpByEntity cancels a still-pending record, used when an
// immediate-sync fast path already applied the change remotely.
func (q queries) DeleteOpByEntity(entityType, entityID string, verb Verb) error {
	_, err := q.ext.Exec(`
		DELETE FROM sync_queue
		WHERE entity_type = ? AND entity_id = ? AND verb = ? AND status = 'PENDING'`,
		entityType, entityID, verb)
	return err
}

// RequeueFailedOps resets quarantined operations back to pending with a
// fresh retry budget. Returns how many were requeued.
func (q queries) RequeueFailedOps() (int64, error) {
	res, err := q.ext.Exec(`
		UPDATE sync_queue SET status = 'PENDING', retry_count = 0, last_attempt_at = NULL
		WHERE status = 'FAILED'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListQuarantinedCreates returns the FAILED CREATE records. The dispatcher
// uses them to hold back dependent UPDATE/DELETE operations whose entity
// never made it to the server.
func (q queries) ListQuarantinedCreates() ([]Operation, error) {
	rows, err := q.ext.Query(`
		SELECT id, entity_type, entity_id, verb, payload, status, created_at, last_attempt_at, retry_count
		FROM sync_queue WHERE status = 'FAILED' AND verb = 'CREATE'`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanOps(rows)
}

// CountUnsynced returns the number of operations not yet confirmed by the
// server (pending or failed). This is the aggregate "you have unsynced
// changes" signal surfaced to the UI.
func (q queries) CountUnsynced() (int, error) {
	var n int
	err := q.ext.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE status != 'COMPLETED'`).Scan(&n)
	return n, err
}

// PurgeCompletedOps deletes completed records older than the cutoff,
// keeping the queue table from growing without bound.
func (q queries) PurgeCompletedOps(olderThan time.Time) (int64, error) {
	res, err := q.ext.Exec(`DELETE FROM sync_queue WHERE status = 'COMPLETED' AND created_at < ?`,
		olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
