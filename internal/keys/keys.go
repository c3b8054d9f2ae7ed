package keys

// Package keys centralizes Redis key and channel construction.
// It is kept in internal to avoid leaking key formats to public API.

func Pending(q string) string   { return "fetchq:{" + q + "}:pending" }
func Active(q string) string    { return "fetchq:{" + q + "}:active" }
func Completed(q string) string { return "fetchq:{" + q + "}:completed" }
func Killed(q string) string    { return "fetchq:{" + q + "}:killed" }
func Errors(q string) string    { return "fetchq:{" + q + "}:errors" }

// DocPrefix is the prefix of every per-document hash in the queue.
// Lua scripts append the subject to it.
func DocPrefix(q string) string { return "fetchq:{" + q + "}:doc:" }

// PendingChannel is the notification channel published whenever new or
// re-eligible documents may exist in the queue.
func PendingChannel(q string) string { return "fetchq__" + q + "__pnd" }

// Queue holds all precomputed keys for a queue name to avoid repeated concatenations.
type Queue struct {
	Name      string
	Pending   string
	Active    string
	Completed string
	Killed    string
	Errors    string
	DocPrefix string
	Channel   string
}

// For returns a set of precomputed keys for the provided queue.
func For(q string) Queue {
	return Queue{
		Name:      q,
		Pending:   Pending(q),
		Active:    Active(q),
		Completed: Completed(q),
		Killed:    Killed(q),
		Errors:    Errors(q),
		DocPrefix: DocPrefix(q),
		Channel:   PendingChannel(q),
	}
}

// Doc returns the hash key for subject within the queue.
func (k Queue) Doc(subject string) string { return k.DocPrefix + subject }
