package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/ninety5/habitate/internal/bus"
	"github.com/ninety5/habitate/internal/remote"
	"github.com/ninety5/habitate/internal/status"
	"github.com/ninety5/habitate/internal/store"
)

// Dispatcher drains the durable operation queue against the server. One
// pass walks the pending records in enqueue order, replays each through
// its registered binding and settles the record: completed, rescheduled
// with backoff, or quarantined as FAILED once the retry budget is spent.
type Dispatcher struct {
	db       *store.DB
	registry *Registry
	policy   Policy
	interval time.Duration
	bus      *bus.Bus
	machine  *status.Machine
	logger   *zap.Logger

	cancel context.CancelFunc
	kick   chan struct{}

	// passMu serializes passes so the timer loop and explicit SyncNow
	// calls never drain the queue concurrently.
	passMu stdsync.Mutex
}

// PassResult summarizes one dispatch pass.
type PassResult struct {
	// Completed counts records applied remotely (or confirmed already
	// applied via a conflict response).
	Completed int
	// Rescheduled counts records that failed retryably and stay PENDING.
	Rescheduled int
	// Quarantined counts records marked FAILED this pass.
	Quarantined int
	// Deferred counts records skipped because their backoff delay has
	// not elapsed yet.
	Deferred int
	// Blocked counts records held back because an earlier CREATE for
	// the same entity has not completed.
	Blocked int
	// Offline is true if at least one attempt failed with a network or
	// timeout error.
	Offline bool
}

func NewDispatcher(db *store.DB, reg *Registry, policy Policy, interval time.Duration, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		db:       db,
		registry: reg,
		policy:   policy,
		interval: interval,
		bus:      b,
		machine:  machine,
		logger:   logger.Named("dispatcher"),
		kick:     make(chan struct{}, 1),
	}
}

// Start begins the periodic drain loop. A first pass runs immediately so
// operations queued while the daemon was down go out at launch.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	go d.loop(ctx)
}

// Stop stops the drain loop. A pass already in flight finishes its
// current record and exits between records.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// SyncNow asks the loop for an immediate pass. It never blocks; if a
// kick is already queued the call is a no-op.
func (d *Dispatcher) SyncNow() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// RequeueFailed moves quarantined operations back to PENDING with a
// fresh retry budget and schedules a pass to pick them up.
func (d *Dispatcher) RequeueFailed() (int64, error) {
	n, err := d.db.RequeueFailedOps()
	if err != nil {
		return 0, fmt.Errorf("requeueing failed operations: %w", err)
	}
	if n > 0 {
		d.logger.Info("requeued failed operations", zap.Int64("count", n))
		d.SyncNow()
	}
	return n, nil
}

func (d *Dispatcher) loop(ctx context.Context) {
	d.RunOnePass(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.RunOnePass(ctx)
		case <-d.kick:
			d.RunOnePass(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnePass drains the queue once. Failures are isolated per record: a
// record that errors is settled and the pass moves on to the next one.
func (d *Dispatcher) RunOnePass(ctx context.Context) PassResult {
	d.passMu.Lock()
	defer d.passMu.Unlock()

	if d.machine.Current() == status.Error {
		_ = d.machine.Transition(status.Idle)
	}
	_ = d.machine.Transition(status.Syncing)

	var res PassResult

	// Claims left behind by a dispatcher that died mid-attempt would
	// otherwise never drain.
	if n, err := d.db.ResetStaleInProgressOps(time.Now().Add(-inProgressTimeout)); err != nil {
		d.logger.Error("failed to reset stale in-progress operations", zap.Error(err))
	} else if n > 0 {
		d.logger.Warn("reset stale in-progress operations", zap.Int64("count", n))
	}

	pending, err := d.db.ListPendingOps()
	if err != nil {
		d.logger.Error("failed to read sync queue", zap.Error(err))
		_ = d.machine.Transition(status.Error)
		return res
	}

	blocked := d.blockedEntities(pending)

	now := time.Now().UnixMilli()
	for _, op := range pending {
		select {
		case <-ctx.Done():
			d.settlePassState(res)
			return res
		default:
		}

		key := op.EntityType + "/" + op.EntityID
		if op.Verb != store.VerbCreate && blocked[key] {
			res.Blocked++
			continue
		}
		if op.LastAttemptAt > 0 && now < op.LastAttemptAt+d.policy.NextDelay(op.RetryCount).Milliseconds() {
			res.Deferred++
			continue
		}

		d.dispatchOne(ctx, op, blocked, &res)
	}

	d.settlePassState(res)
	d.publishPassFinished(res)

	if n, err := d.db.PurgeCompletedOps(time.Now().Add(-completedRetention)); err != nil {
		d.logger.Error("failed to purge completed operations", zap.Error(err))
	} else if n > 0 {
		d.logger.Debug("purged completed operations", zap.Int64("count", n))
	}
	return res
}

// completedRetention is how long completed queue records are kept for
// inspection before a pass sweeps them.
const completedRetention = 7 * 24 * time.Hour

// inProgressTimeout is how long a record may sit claimed before a pass
// assumes the claiming dispatcher is gone and requeues it.
const inProgressTimeout = 5 * time.Minute

// blockedEntities builds the set of entities whose CREATE has not gone
// through, from quarantined CREATEs plus the pending list itself. Later
// UPDATE/DELETE records for those entities are held back so the server
// never sees a mutation for an entity it does not have.
func (d *Dispatcher) blockedEntities(pending []store.Operation) map[string]bool {
	blocked := make(map[string]bool)

	failed, err := d.db.ListQuarantinedCreates()
	if err != nil {
		d.logger.Error("failed to read quarantined creates", zap.Error(err))
	}
	for _, op := range failed {
		blocked[op.EntityType+"/"+op.EntityID] = true
	}
	for _, op := range pending {
		if op.Verb == store.VerbCreate {
			blocked[op.EntityType+"/"+op.EntityID] = true
		}
	}
	return blocked
}

func (d *Dispatcher) dispatchOne(ctx context.Context, op store.Operation, blocked map[string]bool, res *PassResult) {
	key := op.EntityType + "/" + op.EntityID
	fields := []zap.Field{
		zap.Int64("op_id", op.ID),
		zap.String("entity_type", op.EntityType),
		zap.String("entity_id", op.EntityID),
		zap.String("verb", string(op.Verb)),
	}

	binding, ok := d.registry.Lookup(op.EntityType)
	if !ok {
		// No way to ever replay this record.
		d.logger.Error("no binding for entity type, quarantining", fields...)
		if err := d.db.MarkOpFailed(op.ID); err != nil {
			d.logger.Error("failed to mark operation failed", append(fields, zap.Error(err))...)
		}
		res.Quarantined++
		return
	}

	// Claim the record before touching the network. While IN_PROGRESS a
	// concurrent writer cannot overwrite it; a new toggle lands as a
	// separate record behind this one. A failed claim means the record
	// was redirected or settled since it was listed, so this snapshot is
	// stale and the next pass picks up whatever is there now.
	claimed, err := d.db.ClaimOp(op.ID, op.Verb)
	if err != nil {
		d.logger.Error("failed to claim operation", append(fields, zap.Error(err))...)
		return
	}
	if !claimed {
		d.logger.Debug("operation changed since listing, skipping", fields...)
		return
	}

	payload := op.Payload
	if op.Verb != store.VerbDelete && binding.Refresh != nil {
		current, exists, err := binding.Refresh(op.EntityID)
		switch {
		case err != nil:
			// Local storage fault, not a remote failure. Release the
			// claim so no retry budget is consumed.
			d.logger.Error("failed to refresh entity", append(fields, zap.Error(err))...)
			if relErr := d.db.ReleaseOp(op.ID); relErr != nil {
				d.logger.Error("failed to release claim", append(fields, zap.Error(relErr))...)
			}
			return
		case exists:
			payload = current
		case op.Verb == store.VerbUpdate:
			// Entity deleted locally; the queued DELETE covers it.
			d.logger.Debug("entity gone locally, completing stale update", fields...)
			d.complete(op, binding, res, fields)
			return
		}
	}

	err = d.apply(ctx, binding.Applier, op, payload)
	if err == nil || remote.IsConflict(err) {
		if remote.IsConflict(err) {
			d.logger.Info("server already has this operation", fields...)
		}
		if op.Verb == store.VerbCreate {
			delete(blocked, key)
		}
		d.complete(op, binding, res, fields)
		return
	}

	var apiErr *remote.Error
	if errors.As(err, &apiErr) && (apiErr.Kind == remote.KindNetwork || apiErr.Kind == remote.KindTimeout) {
		res.Offline = true
	}

	retryCount := op.RetryCount + 1
	if d.policy.Exhausted(retryCount) {
		d.logger.Error("operation exhausted retries, quarantining",
			append(fields, zap.Int("retry_count", retryCount), zap.Error(err))...)
		if dbErr := d.db.MarkOpFailed(op.ID); dbErr != nil {
			d.logger.Error("failed to mark operation failed", append(fields, zap.Error(dbErr))...)
			return
		}
		if binding.SetSyncState != nil {
			if stateErr := binding.SetSyncState(op.EntityID, store.SyncFailed); stateErr != nil {
				d.logger.Error("failed to flag entity sync state", append(fields, zap.Error(stateErr))...)
			}
		}
		res.Quarantined++
		d.bus.Publish(bus.Event{
			Kind:      "sync.op_failed",
			Timestamp: time.Now(),
			Payload: map[string]string{
				"op_id":       strconv.FormatInt(op.ID, 10),
				"entity_type": op.EntityType,
				"entity_id":   op.EntityID,
				"error":       err.Error(),
			},
		})
		return
	}

	d.logger.Warn("operation failed, will retry",
		append(fields, zap.Int("retry_count", retryCount),
			zap.Duration("next_delay", d.policy.NextDelay(retryCount)), zap.Error(err))...)
	if dbErr := d.db.MarkOpRetry(op.ID, retryCount, store.OpPending); dbErr != nil {
		d.logger.Error("failed to record retry", append(fields, zap.Error(dbErr))...)
		return
	}
	res.Rescheduled++
}

func (d *Dispatcher) apply(ctx context.Context, applier Applier, op store.Operation, payload string) error {
	switch op.Verb {
	case store.VerbCreate:
		return applier.Create(ctx, op.EntityID, []byte(payload))
	case store.VerbUpdate:
		return applier.Update(ctx, op.EntityID, []byte(payload))
	case store.VerbDelete:
		return applier.Delete(ctx, op.EntityID)
	default:
		return fmt.Errorf("unknown verb %q", op.Verb)
	}
}

func (d *Dispatcher) complete(op store.Operation, binding Binding, res *PassResult, fields []zap.Field) {
	if err := d.db.MarkOpCompleted(op.ID); err != nil {
		d.logger.Error("failed to mark operation completed", append(fields, zap.Error(err))...)
		return
	}
	if op.Verb != store.VerbDelete && binding.SetSyncState != nil {
		if err := binding.SetSyncState(op.EntityID, store.SyncSynced); err != nil {
			d.logger.Error("failed to flag entity sync state", append(fields, zap.Error(err))...)
		}
	}
	res.Completed++
	d.logger.Info("operation synced", fields...)
	d.bus.Publish(bus.Event{
		Kind:      "sync.op_completed",
		Timestamp: time.Now(),
		Payload: map[string]string{
			"op_id":       strconv.FormatInt(op.ID, 10),
			"entity_type": op.EntityType,
			"entity_id":   op.EntityID,
			"verb":        string(op.Verb),
		},
	})
}

func (d *Dispatcher) settlePassState(res PassResult) {
	switch {
	case res.Offline:
		_ = d.machine.Transition(status.Offline)
	case res.Quarantined > 0:
		_ = d.machine.Transition(status.Degraded)
	default:
		_ = d.machine.Transition(status.Idle)
	}
}

func (d *Dispatcher) publishPassFinished(res PassResult) {
	unsynced, err := d.db.CountUnsynced()
	if err != nil {
		d.logger.Error("failed to count unsynced operations", zap.Error(err))
	}
	d.bus.Publish(bus.Event{
		Kind:      "sync.pass_finished",
		Timestamp: time.Now(),
		Payload: map[string]string{
			"completed":   strconv.Itoa(res.Completed),
			"rescheduled": strconv.Itoa(res.Rescheduled),
			"quarantined": strconv.Itoa(res.Quarantined),
			"unsynced":    strconv.Itoa(unsynced),
		},
	})
}
