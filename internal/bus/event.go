package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-separated namespaces: "entity.habit.updated",
// "sync.op_completed", "sync.pass_finished", "status.changed".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
