package fetchq

import (
	"encoding/json"
	"time"
)

// Doc is a single unit of work picked from a queue. The worker passes it to the
// handler untouched; bookkeeping fields are filled in by the Store.
type Doc struct {
	// Subject identifies the document within its queue.
	Subject string `json:"subject"`
	// Payload is the raw JSON payload.
	Payload json.RawMessage `json:"payload"`
	// Version is the payload schema version the document was pushed with.
	Version int `json:"version"`
	// Priority is informational; stores may use it to order picks.
	Priority int `json:"priority"`
	// Status is the document status at the time it was read.
	Status Status `json:"status"`
	// Attempts counts picks since the last reschedule.
	Attempts int `json:"attempts"`
	// Iterations counts successful reschedules.
	Iterations int `json:"iterations"`
	CreatedAt     time.Time `json:"created_at"`
	LastIteration time.Time `json:"last_iteration,omitempty"`
	NextIteration time.Time `json:"next_iteration"`
}

// Decode unmarshals the payload into v.
func (d *Doc) Decode(v any) error {
	return defaultEncoder.Decode(d.Payload, v)
}
