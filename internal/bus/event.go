package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	// ID is a ULID, sortable by publish time.
	ID string
	// Seq increases by one for every event published on a bus.
	Seq       uint64
	Kind      string
	Timestamp time.Time
	Payload   any
}
