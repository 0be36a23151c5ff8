package sync

import (
	"context"

	"github.com/ninety5/habitate/internal/store"
)

// Applier replays one queued operation against the server. Implementations
// must be idempotent: the dispatcher can call them again for an operation
// that already went through on an earlier, interrupted pass.
type Applier interface {
	Create(ctx context.Context, entityID string, payload []byte) error
	Update(ctx context.Context, entityID string, payload []byte) error
	Delete(ctx context.Context, entityID string) error
}

// Binding wires one entity type into the dispatcher.
type Binding struct {
	Applier Applier

	// Refresh re-reads the entity's current local state and returns it
	// as the payload to send, so a CREATE or UPDATE ships the newest
	// version instead of the snapshot taken at enqueue time. ok is false
	// when the entity no longer exists locally. Nil means the stored
	// snapshot is always used.
	Refresh func(entityID string) (payload string, ok bool, err error)

	// SetSyncState flips the entity's local sync flag after the
	// dispatcher settles the operation. Nil for entity types without a
	// local sync flag.
	SetSyncState func(entityID string, state store.SyncState) error
}

// Registry maps entity types to their bindings. Repositories register
// themselves at construction; the set is fixed before the dispatcher
// starts, so lookups need no locking.
type Registry struct {
	bindings map[string]Binding
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

func (r *Registry) Register(entityType string, b Binding) {
	r.bindings[entityType] = b
}

func (r *Registry) Lookup(entityType string) (Binding, bool) {
	b, ok := r.bindings[entityType]
	return b, ok
}

// RemoteClient is the verb-shaped slice of the REST client used by
// resource appliers.
type RemoteClient interface {
	Create(ctx context.Context, path string, payload []byte) error
	Update(ctx context.Context, path, id string, payload []byte) error
	Delete(ctx context.Context, path, id string) error
}

// restApplier maps the three verbs onto one REST resource path.
type restApplier struct {
	client RemoteClient
	path   string
}

// NewRESTApplier returns an Applier that replays operations against the
// REST collection at path, e.g. "habits".
func NewRESTApplier(client RemoteClient, path string) Applier {
	return &restApplier{client: client, path: path}
}

func (a *restApplier) Create(ctx context.Context, _ string, payload []byte) error {
	return a.client.Create(ctx, a.path, payload)
}

func (a *restApplier) Update(ctx context.Context, entityID string, payload []byte) error {
	return a.client.Update(ctx, a.path, entityID, payload)
}

func (a *restApplier) Delete(ctx context.Context, entityID string) error {
	return a.client.Delete(ctx, a.path, entityID)
}
