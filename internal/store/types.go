package store

import "strings"

// SyncState flags whether an entity's latest local version has been
// confirmed by the server.
type SyncState string

const (
	SyncPending SyncState = "PENDING"
	SyncSynced  SyncState = "SYNCED"
	SyncFailed  SyncState = "FAILED"
)

// Verb is the kind of mutation a queued operation replays remotely.
type Verb string

const (
	VerbCreate Verb = "CREATE"
	VerbUpdate Verb = "UPDATE"
	VerbDelete Verb = "DELETE"
)

// Entity type tags stored in sync_queue.entity_type. They double as the
// keys the dispatcher uses to look up how to replay an operation.
const (
	EntityHabit   = "HABIT"
	EntityPost    = "POST"
	EntityComment = "COMMENT"
	EntityLike    = "LIKE"
	EntityFollow  = "FOLLOW"
	EntityTask    = "TASK"
)

// OpStatus is the lifecycle state of a queued operation.
type OpStatus string

const (
	OpPending    OpStatus = "PENDING"
	OpInProgress OpStatus = "IN_PROGRESS"
	OpCompleted  OpStatus = "COMPLETED"
	OpFailed     OpStatus = "FAILED"
)

// Operation is one durable pending mutation awaiting remote application.
// Only Status, LastAttemptAt and RetryCount change after insert; Payload
// is a snapshot fixed at enqueue time.
type Operation struct {
	ID         int64
	EntityType string
	EntityID   string
	Verb       Verb
	Payload    string
	Status     OpStatus
	CreatedAt  int64
	// LastAttemptAt is 0 until the first dispatch attempt.
	LastAttemptAt int64
	RetryCount    int
}

// RelKey builds the composite entity id used by relationship entities
// (follows, likes) so identical relationship operations dedup naturally.
func RelKey(subjectID, objectID string) string {
	return subjectID + "_" + objectID
}

// SplitRelKey is the inverse of RelKey. ok is false if key has no separator.
func SplitRelKey(key string) (subjectID, objectID string, ok bool) {
	subjectID, objectID, ok = strings.Cut(key, "_")
	if !ok || subjectID == "" || objectID == "" {
		return "", "", false
	}
	return subjectID, objectID, true
}

// User is a profile row with denormalized social counters. The counters
// are derived from the follows table, never mutated independently of it.
type User struct {
	ID             string
	Username       string
	FollowerCount  int
	FollowingCount int
}

// Habit is a tracked habit.
type Habit struct {
	ID        string
	OwnerID   string
	Title     string
	Notes     string
	Schedule  string
	Streak    int
	SyncState SyncState
	CreatedAt int64
	UpdatedAt int64
}

// Post is a feed post, optionally linked to a habit.
type Post struct {
	ID           string
	AuthorID     string
	Body         string
	HabitID      string
	LikeCount    int
	CommentCount int
	SyncState    SyncState
	CreatedAt    int64
	UpdatedAt    int64
}

// Comment is a comment on a post.
type Comment struct {
	ID        string
	PostID    string
	AuthorID  string
	Body      string
	SyncState SyncState
	CreatedAt int64
}

// Like is the source-of-truth existence row behind posts.like_count,
// keyed (user_id, post_id).
type Like struct {
	UserID    string
	PostID    string
	SyncState SyncState
	CreatedAt int64
}

// Follow is a follower→following relationship row, keyed
// (follower_id, following_id).
type Follow struct {
	FollowerID  string
	FollowingID string
	SyncState   SyncState
	CreatedAt   int64
}

// Task is a to-do item.
type Task struct {
	ID        string
	OwnerID   string
	Title     string
	DueAt     int64
	Done      bool
	SyncState SyncState
	CreatedAt int64
	UpdatedAt int64
}
