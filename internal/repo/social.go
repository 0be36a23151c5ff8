package repo

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ninety5/habitate/internal/bus"
	"github.com/ninety5/habitate/internal/remote"
	"github.com/ninety5/habitate/internal/store"
	"github.com/ninety5/habitate/internal/sync"
)

type followPayload struct {
	FollowerID  string `json:"follower_id"`
	FollowingID string `json:"following_id"`
}

// Social is the follow-graph repository. Relationship rows are the
// source of truth; the denormalized follower/following counters on users
// move with them in the same transaction.
type Social struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

func NewSocial(db *store.DB, b *bus.Bus, logger *zap.Logger, reg *sync.Registry, client sync.RemoteClient) *Social {
	r := &Social{db: db, bus: b, logger: logger.Named("social")}
	reg.Register(store.EntityFollow, sync.Binding{
		Applier: sync.NewRESTApplier(client, "follows"),
		SetSyncState: func(entityID string, state store.SyncState) error {
			followerID, followingID, ok := store.SplitRelKey(entityID)
			if !ok {
				return fmt.Errorf("malformed follow key %q", entityID)
			}
			return db.SetFollowSyncState(followerID, followingID, state)
		},
	})
	return r
}

// Follow makes follower follow following. A second call while the
// relationship exists is a no-op, so counters never double-count.
func (r *Social) Follow(followerID, followingID string) error {
	if followerID == followingID {
		return fmt.Errorf("cannot follow yourself")
	}
	payload, err := remote.MarshalPayload(followPayload{FollowerID: followerID, FollowingID: followingID})
	if err != nil {
		return err
	}
	changed := false
	err = r.db.WithTx(func(tx *store.Tx) error {
		created, err := tx.InsertFollow(followerID, followingID)
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		changed = true
		if err := tx.AdjustFollowCounts(followerID, followingID, 1); err != nil {
			return err
		}
		return tx.ReplacePendingOp(&store.Operation{
			EntityType: store.EntityFollow,
			EntityID:   store.RelKey(followerID, followingID),
			Verb:       store.VerbCreate,
			Payload:    payload,
		})
	})
	if err != nil {
		return fmt.Errorf("following %s: %w", followingID, err)
	}
	if changed {
		r.publish(followerID, followingID)
	}
	return nil
}

// Unfollow removes the relationship. A no-op if it does not exist.
func (r *Social) Unfollow(followerID, followingID string) error {
	changed := false
	err := r.db.WithTx(func(tx *store.Tx) error {
		deleted, err := tx.DeleteFollow(followerID, followingID)
		if err != nil {
			return err
		}
		if !deleted {
			return nil
		}
		changed = true
		if err := tx.AdjustFollowCounts(followerID, followingID, -1); err != nil {
			return err
		}
		return tx.ReplacePendingOp(&store.Operation{
			EntityType: store.EntityFollow,
			EntityID:   store.RelKey(followerID, followingID),
			Verb:       store.VerbDelete,
			Payload:    "{}",
		})
	})
	if err != nil {
		return fmt.Errorf("unfollowing %s: %w", followingID, err)
	}
	if changed {
		r.publish(followerID, followingID)
	}
	return nil
}

func (r *Social) IsFollowing(followerID, followingID string) (bool, error) {
	return r.db.HasFollow(followerID, followingID)
}

func (r *Social) publish(followerID, followingID string) {
	r.bus.Publish(bus.Event{
		Kind:      "social.follow.updated",
		Timestamp: time.Now(),
		Payload:   map[string]string{"follower_id": followerID, "following_id": followingID},
	})
}
