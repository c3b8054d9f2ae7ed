package fetchq

import "strconv"

// Status represents the lifecycle position of a document in its queue.
// Use the exported constants instead of raw integers.
type Status int

const (
	// StatusKilled marks documents that failed permanently.
	StatusKilled Status = -1
	// StatusPlanned marks documents scheduled for a future iteration.
	StatusPlanned Status = 0
	// StatusPending marks documents ready to be picked.
	StatusPending Status = 1
	// StatusActive marks documents currently leased by a worker.
	StatusActive Status = 2
	// StatusCompleted marks documents that were processed successfully.
	StatusCompleted Status = 3
)

// AllStatuses lists every valid status in a stable order.
var AllStatuses = []Status{StatusPlanned, StatusPending, StatusActive, StatusCompleted, StatusKilled}

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusKilled:
		return "killed"
	case StatusPlanned:
		return "planned"
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseStatus converts a status name into a Status, returning an error for unknown values.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, ErrUnknownStatus
}
