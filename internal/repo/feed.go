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

// likePayload is the body shipped for a like CREATE. Likes have no
// mutable content, so the enqueue-time snapshot is always current and
// the binding needs no Refresh.
type likePayload struct {
	UserID string `json:"user_id"`
	PostID string `json:"post_id"`
}

// Feed is the repository for posts, comments and likes.
type Feed struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

func NewFeed(db *store.DB, b *bus.Bus, logger *zap.Logger, reg *sync.Registry, client sync.RemoteClient) *Feed {
	r := &Feed{db: db, bus: b, logger: logger.Named("feed")}
	reg.Register(store.EntityPost, sync.Binding{
		Applier:      sync.NewRESTApplier(client, "posts"),
		Refresh:      r.refreshPost,
		SetSyncState: db.SetPostSyncState,
	})
	reg.Register(store.EntityComment, sync.Binding{
		Applier:      sync.NewRESTApplier(client, "comments"),
		Refresh:      r.refreshComment,
		SetSyncState: db.SetCommentSyncState,
	})
	reg.Register(store.EntityLike, sync.Binding{
		Applier: sync.NewRESTApplier(client, "likes"),
		SetSyncState: func(entityID string, state store.SyncState) error {
			userID, postID, ok := store.SplitRelKey(entityID)
			if !ok {
				return fmt.Errorf("malformed like key %q", entityID)
			}
			return db.SetLikeSyncState(userID, postID, state)
		},
	})
	return r
}

func (r *Feed) refreshPost(id string) (string, bool, error) {
	p, err := r.db.GetPost(id)
	if err != nil || p == nil {
		return "", false, err
	}
	payload, err := remote.MarshalPayload(p)
	if err != nil {
		return "", false, err
	}
	return payload, true, nil
}

func (r *Feed) refreshComment(id string) (string, bool, error) {
	c, err := r.db.GetComment(id)
	if err != nil || c == nil {
		return "", false, err
	}
	payload, err := remote.MarshalPayload(c)
	if err != nil {
		return "", false, err
	}
	return payload, true, nil
}

func (r *Feed) CreatePost(authorID, body, habitID string) (*store.Post, error) {
	now := time.Now().UnixMilli()
	p := &store.Post{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Body:      body,
		HabitID:   habitID,
		SyncState: store.SyncPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	payload, err := remote.MarshalPayload(p)
	if err != nil {
		return nil, err
	}
	err = r.db.WithTx(func(tx *store.Tx) error {
		if err := tx.UpsertPost(p); err != nil {
			return err
		}
		return tx.AppendOp(&store.Operation{
			EntityType: store.EntityPost,
			EntityID:   p.ID,
			Verb:       store.VerbCreate,
			Payload:    payload,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("creating post: %w", err)
	}
	r.publishPost(p.ID)
	return p, nil
}

func (r *Feed) DeletePost(id string) error {
	err := r.db.WithTx(func(tx *store.Tx) error {
		neverSynced, err := hasPendingCreate(tx, store.EntityPost, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteOpByEntity(store.EntityPost, id, store.VerbCreate); err != nil {
			return err
		}
		if err := tx.DeleteOpByEntity(store.EntityPost, id, store.VerbUpdate); err != nil {
			return err
		}
		if err := tx.DeletePost(id); err != nil {
			return err
		}
		if neverSynced {
			return nil
		}
		return tx.AppendOp(&store.Operation{
			EntityType: store.EntityPost,
			EntityID:   id,
			Verb:       store.VerbDelete,
			Payload:    "{}",
		})
	})
	if err != nil {
		return fmt.Errorf("deleting post %s: %w", id, err)
	}
	r.publishPost(id)
	return nil
}

// AddComment writes the comment and bumps the post's comment counter in
// the same transaction as the queue record.
func (r *Feed) AddComment(postID, authorID, body string) (*store.Comment, error) {
	c := &store.Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		AuthorID:  authorID,
		Body:      body,
		SyncState: store.SyncPending,
		CreatedAt: time.Now().UnixMilli(),
	}
	payload, err := remote.MarshalPayload(c)
	if err != nil {
		return nil, err
	}
	err = r.db.WithTx(func(tx *store.Tx) error {
		if err := tx.UpsertComment(c); err != nil {
			return err
		}
		if err := tx.AdjustPostCommentCount(postID, 1); err != nil {
			return err
		}
		return tx.AppendOp(&store.Operation{
			EntityType: store.EntityComment,
			EntityID:   c.ID,
			Verb:       store.VerbCreate,
			Payload:    payload,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("adding comment: %w", err)
	}
	r.publishPost(postID)
	return c, nil
}

func (r *Feed) DeleteComment(id string) error {
	err := r.db.WithTx(func(tx *store.Tx) error {
		c, err := tx.GetComment(id)
		if err != nil {
			return err
		}
		if c == nil {
			return nil
		}
		neverSynced, err := hasPendingCreate(tx, store.EntityComment, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteOpByEntity(store.EntityComment, id, store.VerbCreate); err != nil {
			return err
		}
		if err := tx.DeleteComment(id); err != nil {
			return err
		}
		if err := tx.AdjustPostCommentCount(c.PostID, -1); err != nil {
			return err
		}
		if neverSynced {
			return nil
		}
		return tx.AppendOp(&store.Operation{
			EntityType: store.EntityComment,
			EntityID:   id,
			Verb:       store.VerbDelete,
			Payload:    "{}",
		})
	})
	if err != nil {
		return fmt.Errorf("deleting comment %s: %w", id, err)
	}
	return nil
}

// ToggleLike flips the user's like on a post. The likes row is the
// source of truth; whether it was created or removed decides the counter
// delta and the queued verb, all in one transaction. Repeated toggles
// while offline collapse into a single queue record per (user, post).
func (r *Feed) ToggleLike(userID, postID string) (liked bool, err error) {
	key := store.RelKey(userID, postID)
	err = r.db.WithTx(func(tx *store.Tx) error {
		created, err := tx.ToggleLike(userID, postID)
		if err != nil {
			return err
		}
		liked = created
		delta := -1
		verb := store.VerbDelete
		payload := "{}"
		if created {
			delta = 1
			verb = store.VerbCreate
			payload, err = remote.MarshalPayload(likePayload{UserID: userID, PostID: postID})
			if err != nil {
				return err
			}
		}
		if err := tx.AdjustPostLikeCount(postID, delta); err != nil {
			return err
		}
		return tx.ReplacePendingOp(&store.Operation{
			EntityType: store.EntityLike,
			EntityID:   key,
			Verb:       verb,
			Payload:    payload,
		})
	})
	if err != nil {
		return false, fmt.Errorf("toggling like on %s: %w", postID, err)
	}
	r.publishPost(postID)
	return liked, nil
}

func (r *Feed) GetPost(id string) (*store.Post, error) {
	return r.db.GetPost(id)
}

func (r *Feed) Comments(postID string) ([]store.Comment, error) {
	return r.db.ListComments(postID)
}

func (r *Feed) HasLiked(userID, postID string) (bool, error) {
	return r.db.HasLike(userID, postID)
}

func (r *Feed) publishPost(id string) {
	r.bus.Publish(bus.Event{
		Kind:      "entity.post.updated",
		Timestamp: time.Now(),
		Payload:   map[string]string{"post_id": id},
	})
}
