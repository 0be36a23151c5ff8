package repo

import (
	"context"
	"path/filepath"
	stdsync "sync"
	"testing"

	"go.uber.org/zap"

	"github.com/ninety5/habitate/internal/bus"
	"github.com/ninety5/habitate/internal/store"
	"github.com/ninety5/habitate/internal/sync"
)

type remoteCall struct {
	verb    string
	path    string
	id      string
	payload string
}

// fakeRemote implements sync.RemoteClient, recording calls and returning
// a scripted error.
type fakeRemote struct {
	mu    stdsync.Mutex
	err   error
	calls []remoteCall
}

func (f *fakeRemote) record(verb, path, id string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, remoteCall{verb: verb, path: path, id: id, payload: string(payload)})
	return f.err
}

func (f *fakeRemote) Create(_ context.Context, path string, payload []byte) error {
	return f.record("CREATE", path, "", payload)
}

func (f *fakeRemote) Update(_ context.Context, path, id string, payload []byte) error {
	return f.record("UPDATE", path, id, payload)
}

func (f *fakeRemote) Delete(_ context.Context, path, id string) error {
	return f.record("DELETE", path, id, nil)
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRemote) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type env struct {
	db     *store.DB
	bus    *bus.Bus
	reg    *sync.Registry
	remote *fakeRemote
	logger *zap.Logger
}

func testEnv(t *testing.T) *env {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &env{
		db:     db,
		bus:    bus.New(),
		reg:    sync.NewRegistry(),
		remote: &fakeRemote{},
		logger: zap.NewNop(),
	}
}

// pendingOps is a convenience around ListPendingOps with a fatal on error.
func pendingOps(t *testing.T, db *store.DB) []store.Operation {
	t.Helper()
	ops, err := db.ListPendingOps()
	if err != nil {
		t.Fatal(err)
	}
	return ops
}
