package store

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestHabitUpsertAndGet(t *testing.T) {
	db := testDB(t)

	h := &Habit{ID: "h1", OwnerID: "u1", Title: "Run", SyncState: SyncPending}
	if err := db.UpsertHabit(h); err != nil {
		t.Fatal(err)
	}

	// Update title.
	h.Title = "Run 5k"
	if err := db.UpsertHabit(h); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetHabit("h1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Title != "Run 5k" {
		t.Errorf("got %+v, want title Run 5k", got)
	}

	habits, err := db.ListHabits("u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(habits) != 1 {
		t.Fatalf("got %d habits, want 1 (idempotent upsert failed)", len(habits))
	}

	// Non-existent.
	got, err = db.GetHabit("missing")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expected nil for missing habit")
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := testDB(t)

	wantErr := errors.New("boom")
	err := db.WithTx(func(tx *Tx) error {
		if err := tx.UpsertHabit(&Habit{ID: "h1", OwnerID: "u1", Title: "Run", SyncState: SyncPending}); err != nil {
			t.Fatal(err)
		}
		if err := tx.AppendOp(&Operation{EntityType: "habit", EntityID: "h1", Verb: VerbCreate, Payload: "{}"}); err != nil {
			t.Fatal(err)
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithTx error = %v, want boom", err)
	}

	// Neither the entity nor the operation survived.
	h, err := db.GetHabit("h1")
	if err != nil {
		t.Fatal(err)
	}
	if h != nil {
		t.Error("habit exists after rollback")
	}
	ops, err := db.ListPendingOps()
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 0 {
		t.Errorf("got %d pending ops after rollback, want 0 (orphan record)", len(ops))
	}
}

func TestWithTxCommitsBothWrites(t *testing.T) {
	db := testDB(t)

	err := db.WithTx(func(tx *Tx) error {
		if err := tx.UpsertHabit(&Habit{ID: "h1", OwnerID: "u1", Title: "Run", SyncState: SyncPending}); err != nil {
			return err
		}
		return tx.AppendOp(&Operation{EntityType: "habit", EntityID: "h1", Verb: VerbCreate, Payload: `{"title":"Run"}`})
	})
	if err != nil {
		t.Fatal(err)
	}

	h, err := db.GetHabit("h1")
	if err != nil {
		t.Fatal(err)
	}
	if h == nil {
		t.Fatal("habit missing after commit")
	}
	ops, err := db.ListPendingOps()
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 {
		t.Fatalf("got %d pending ops, want 1", len(ops))
	}
	if ops[0].EntityID != "h1" || ops[0].Verb != VerbCreate {
		t.Errorf("op = %+v, want CREATE habit h1", ops[0])
	}
}

func TestToggleLikeFlipsExistenceRow(t *testing.T) {
	db := testDB(t)

	created, err := db.ToggleLike("u1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first toggle should create the like")
	}

	has, err := db.HasLike("u1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("like row missing after create toggle")
	}

	created, err = db.ToggleLike("u1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second toggle should remove the like")
	}

	has, err = db.HasLike("u1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("like row still present after remove toggle")
	}
}

// TestToggleLikeCounterNeverDrifts runs many concurrent toggles and checks
// the counter stays consistent with the existence table: the final count
// differs from zero by exactly 0 or 1 and matches whether the row exists.
func TestToggleLikeCounterNeverDrifts(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertPost(&Post{ID: "p1", AuthorID: "u2", Body: "hi", SyncState: SyncSynced}); err != nil {
		t.Fatal(err)
	}

	const toggles = 20
	var wg sync.WaitGroup
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = db.WithTx(func(tx *Tx) error {
				created, err := tx.ToggleLike("u1", "p1")
				if err != nil {
					return err
				}
				delta := -1
				if created {
					delta = 1
				}
				return tx.AdjustPostLikeCount("p1", delta)
			})
		}()
	}
	wg.Wait()

	post, err := db.GetPost("p1")
	if err != nil {
		t.Fatal(err)
	}
	has, err := db.HasLike("u1", "p1")
	if err != nil {
		t.Fatal(err)
	}
	want := 0
	if has {
		want = 1
	}
	if post.LikeCount != want {
		t.Errorf("like_count = %d, want %d (existence row present: %v)", post.LikeCount, want, has)
	}
}

func TestFollowExistenceChecks(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertUser(&User{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertUser(&User{ID: "b"}); err != nil {
		t.Fatal(err)
	}

	created, err := db.InsertFollow("a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first InsertFollow should create")
	}

	// Duplicate insert must not report created.
	created, err = db.InsertFollow("a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("duplicate InsertFollow reported created")
	}

	deleted, err := db.DeleteFollow("a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Error("DeleteFollow should report deleted")
	}
	deleted, err = db.DeleteFollow("a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if deleted {
		t.Error("second DeleteFollow reported deleted")
	}
}

func TestAdjustFollowCountsFloorsAtZero(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertUser(&User{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertUser(&User{ID: "b"}); err != nil {
		t.Fatal(err)
	}

	if err := db.AdjustFollowCounts("a", "b", -1); err != nil {
		t.Fatal(err)
	}
	ua, err := db.GetUser("a")
	if err != nil {
		t.Fatal(err)
	}
	ub, err := db.GetUser("b")
	if err != nil {
		t.Fatal(err)
	}
	if ua.FollowingCount != 0 || ub.FollowerCount != 0 {
		t.Errorf("counts went negative: following=%d follower=%d", ua.FollowingCount, ub.FollowerCount)
	}
}

func TestCommentsListOrder(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertComment(&Comment{ID: "c1", PostID: "p1", AuthorID: "u1", Body: "first", SyncState: SyncPending, CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertComment(&Comment{ID: "c2", PostID: "p1", AuthorID: "u2", Body: "second", SyncState: SyncPending, CreatedAt: 2000}); err != nil {
		t.Fatal(err)
	}

	comments, err := db.ListComments("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 2 {
		t.Fatalf("got %d comments, want 2", len(comments))
	}
	if comments[0].ID != "c1" || comments[1].ID != "c2" {
		t.Errorf("order = %s,%s, want c1,c2", comments[0].ID, comments[1].ID)
	}
}

func TestRelKey(t *testing.T) {
	key := RelKey("u1", "p1")
	if key != "u1_p1" {
		t.Errorf("RelKey = %q, want u1_p1", key)
	}
	s, o, ok := SplitRelKey(key)
	if !ok || s != "u1" || o != "p1" {
		t.Errorf("SplitRelKey(%q) = %q,%q,%v", key, s, o, ok)
	}
	if _, _, ok := SplitRelKey("nokey"); ok {
		t.Error("SplitRelKey accepted key without separator")
	}
}
