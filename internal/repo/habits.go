// Package repo implements the local-first feature repositories. Every
// mutation writes the entity and its queue record inside one sqlite
// transaction; readers only ever see local state, and the dispatcher
// replays the queue against the server in the background.
package repo

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ninety5/habitate/internal/bus"
	"github.com/ninety5/habitate/internal/remote"
	"github.com/ninety5/habitate/internal/store"
	"github.com/ninety5/habitate/internal/sync"
)

// Habits is the habit repository.
type Habits struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

func NewHabits(db *store.DB, b *bus.Bus, logger *zap.Logger, reg *sync.Registry, client sync.RemoteClient) *Habits {
	r := &Habits{db: db, bus: b, logger: logger.Named("habits")}
	reg.Register(store.EntityHabit, sync.Binding{
		Applier:      sync.NewRESTApplier(client, "habits"),
		Refresh:      r.refresh,
		SetSyncState: db.SetHabitSyncState,
	})
	return r
}

func (r *Habits) refresh(id string) (string, bool, error) {
	h, err := r.db.GetHabit(id)
	if err != nil || h == nil {
		return "", false, err
	}
	payload, err := remote.MarshalPayload(h)
	if err != nil {
		return "", false, err
	}
	return payload, true, nil
}

func (r *Habits) Create(ownerID, title, notes, schedule string) (*store.Habit, error) {
	now := time.Now().UnixMilli()
	h := &store.Habit{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		Notes:     notes,
		Schedule:  schedule,
		SyncState: store.SyncPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.save(h, store.VerbCreate); err != nil {
		return nil, err
	}
	return h, nil
}

func (r *Habits) Update(h *store.Habit) error {
	h.SyncState = store.SyncPending
	h.UpdatedAt = time.Now().UnixMilli()
	return r.save(h, store.VerbUpdate)
}

// save writes the habit and its queue record atomically.
func (r *Habits) save(h *store.Habit, verb store.Verb) error {
	payload, err := remote.MarshalPayload(h)
	if err != nil {
		return err
	}
	err = r.db.WithTx(func(tx *store.Tx) error {
		if err := tx.UpsertHabit(h); err != nil {
			return err
		}
		return tx.AppendOp(&store.Operation{
			EntityType: store.EntityHabit,
			EntityID:   h.ID,
			Verb:       verb,
			Payload:    payload,
		})
	})
	if err != nil {
		return fmt.Errorf("saving habit %s: %w", h.ID, err)
	}
	r.publish(h.ID)
	return nil
}

// Delete removes the habit locally and queues the remote delete. If the
// habit's CREATE never left the queue the server has never heard of it,
// so the pending records are dropped and nothing is enqueued.
func (r *Habits) Delete(id string) error {
	err := r.db.WithTx(func(tx *store.Tx) error {
		neverSynced, err := hasPendingCreate(tx, store.EntityHabit, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteOpByEntity(store.EntityHabit, id, store.VerbCreate); err != nil {
			return err
		}
		if err := tx.DeleteOpByEntity(store.EntityHabit, id, store.VerbUpdate); err != nil {
			return err
		}
		if err := tx.DeleteHabit(id); err != nil {
			return err
		}
		if neverSynced {
			return nil
		}
		return tx.AppendOp(&store.Operation{
			EntityType: store.EntityHabit,
			EntityID:   id,
			Verb:       store.VerbDelete,
			Payload:    "{}",
		})
	})
	if err != nil {
		return fmt.Errorf("deleting habit %s: %w", id, err)
	}
	r.publish(id)
	return nil
}

func (r *Habits) Get(id string) (*store.Habit, error) {
	return r.db.GetHabit(id)
}

func (r *Habits) List(ownerID string) ([]store.Habit, error) {
	return r.db.ListHabits(ownerID)
}

func (r *Habits) publish(id string) {
	r.bus.Publish(bus.Event{
		Kind:      "entity.habit.updated",
		Timestamp: time.Now(),
		Payload:   map[string]string{"habit_id": id},
	})
}

// hasPendingCreate reports whether the entity still has an unsent CREATE
// in the queue.
func hasPendingCreate(tx *store.Tx, entityType, entityID string) (bool, error) {
	ops, err := tx.ListOpsByEntity(entityType, entityID)
	if err != nil {
		return false, err
	}
	for _, op := range ops {
		if op.Verb == store.VerbCreate && op.Status == store.OpPending {
			return true, nil
		}
	}
	return false, nil
}
