package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ninety5/habitate/internal/bus"
	"github.com/ninety5/habitate/internal/remote"
	"github.com/ninety5/habitate/internal/store"
	"github.com/ninety5/habitate/internal/sync"
)

// Tasks is the task repository. On top of the usual queue-backed writes
// it tries the remote call immediately after each commit: when the
// device is online a task syncs right away instead of waiting for the
// next dispatch pass, and the queue record only survives as the fallback
// for when that attempt fails.
type Tasks struct {
	db      *store.DB
	bus     *bus.Bus
	logger  *zap.Logger
	applier sync.Applier
}

func NewTasks(db *store.DB, b *bus.Bus, logger *zap.Logger, reg *sync.Registry, client sync.RemoteClient) *Tasks {
	r := &Tasks{
		db:      db,
		bus:     b,
		logger:  logger.Named("tasks"),
		applier: sync.NewRESTApplier(client, "tasks"),
	}
	reg.Register(store.EntityTask, sync.Binding{
		Applier:      r.applier,
		Refresh:      r.refresh,
		SetSyncState: db.SetTaskSyncState,
	})
	return r
}

func (r *Tasks) refresh(id string) (string, bool, error) {
	t, err := r.db.GetTask(id)
	if err != nil || t == nil {
		return "", false, err
	}
	payload, err := remote.MarshalPayload(t)
	if err != nil {
		return "", false, err
	}
	return payload, true, nil
}

func (r *Tasks) Create(ctx context.Context, ownerID, title string, dueAt int64) (*store.Task, error) {
	now := time.Now().UnixMilli()
	t := &store.Task{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		DueAt:     dueAt,
		SyncState: store.SyncPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.save(ctx, t, store.VerbCreate); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Tasks) Update(ctx context.Context, t *store.Task) error {
	t.SyncState = store.SyncPending
	t.UpdatedAt = time.Now().UnixMilli()
	return r.save(ctx, t, store.VerbUpdate)
}

func (r *Tasks) SetDone(ctx context.Context, id string, done bool) error {
	t, err := r.db.GetTask(id)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("task %s not found", id)
	}
	t.Done = done
	return r.Update(ctx, t)
}

func (r *Tasks) save(ctx context.Context, t *store.Task, verb store.Verb) error {
	payload, err := remote.MarshalPayload(t)
	if err != nil {
		return err
	}
	err = r.db.WithTx(func(tx *store.Tx) error {
		if err := tx.UpsertTask(t); err != nil {
			return err
		}
		return tx.AppendOp(&store.Operation{
			EntityType: store.EntityTask,
			EntityID:   t.ID,
			Verb:       verb,
			Payload:    payload,
		})
	})
	if err != nil {
		return fmt.Errorf("saving task %s: %w", t.ID, err)
	}
	r.publish(t.ID)
	r.trySyncNow(ctx, t.ID, verb, payload)
	return nil
}

func (r *Tasks) Delete(ctx context.Context, id string) error {
	neverSynced := false
	err := r.db.WithTx(func(tx *store.Tx) error {
		var err error
		neverSynced, err = hasPendingCreate(tx, store.EntityTask, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteOpByEntity(store.EntityTask, id, store.VerbCreate); err != nil {
			return err
		}
		if err := tx.DeleteOpByEntity(store.EntityTask, id, store.VerbUpdate); err != nil {
			return err
		}
		if err := tx.DeleteTask(id); err != nil {
			return err
		}
		if neverSynced {
			return nil
		}
		return tx.AppendOp(&store.Operation{
			EntityType: store.EntityTask,
			EntityID:   id,
			Verb:       store.VerbDelete,
			Payload:    "{}",
		})
	})
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	r.publish(id)
	if !neverSynced {
		r.trySyncNow(ctx, id, store.VerbDelete, "{}")
	}
	return nil
}

// trySyncNow attempts the remote call right away. On success the queue
// record is cancelled and the task flagged SYNCED; on failure the record
// stays PENDING for the dispatcher and the error is only logged.
func (r *Tasks) trySyncNow(ctx context.Context, id string, verb store.Verb, payload string) {
	var err error
	switch verb {
	case store.VerbCreate:
		err = r.applier.Create(ctx, id, []byte(payload))
	case store.VerbUpdate:
		err = r.applier.Update(ctx, id, []byte(payload))
	case store.VerbDelete:
		err = r.applier.Delete(ctx, id)
	}
	if err != nil && !remote.IsConflict(err) {
		r.logger.Debug("immediate sync failed, queued for later",
			zap.String("task_id", id), zap.String("verb", string(verb)), zap.Error(err))
		return
	}

	if err := r.db.DeleteOpByEntity(store.EntityTask, id, verb); err != nil {
		r.logger.Error("failed to cancel queued operation", zap.String("task_id", id), zap.Error(err))
		return
	}
	if verb != store.VerbDelete {
		if err := r.db.SetTaskSyncState(id, store.SyncSynced); err != nil {
			r.logger.Error("failed to flag task synced", zap.String("task_id", id), zap.Error(err))
			return
		}
	}
	r.publish(id)
}

func (r *Tasks) Get(id string) (*store.Task, error) {
	return r.db.GetTask(id)
}

func (r *Tasks) List(ownerID string) ([]store.Task, error) {
	return r.db.ListTasks(ownerID)
}

func (r *Tasks) publish(id string) {
	r.bus.Publish(bus.Event{
		Kind:      "entity.task.updated",
		Timestamp: time.Now(),
		Payload:   map[string]string{"task_id": id},
	})
}
