package redisq

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/UniQw/fetchq-go/internal/keys"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when a transition targets a document that does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrNotActive is returned when a resolution targets a document that is not
	// currently leased by a pick.
	ErrNotActive = errors.New("document not active")
)

// Document status codes stored in the "status" hash field.
const (
	StatusKilled    = -1
	StatusPlanned   = 0
	StatusPending   = 1
	StatusActive    = 2
	StatusCompleted = 3
)

// pickScanWindow is the page size a pick walks the due range with while
// filtering by version.
const pickScanWindow = 256

// Record is the raw hash representation of a document.
type Record struct {
	Subject       string
	Version       int
	Priority      int
	Payload       []byte
	Attempts      int
	Iterations    int
	Status        int
	CreatedAt     int64
	LastIteration int64
	NextIteration int64
}

// Atomic pick: pages through due members in score order, moves those with a
// matching version from pending to active with a lease score and bumps their
// attempt counter. Picked members leave the range, so the next page starts
// after the members skipped so far.
var pickScript = redis.NewScript(
	// language=Lua
	`
	local limit = tonumber(ARGV[2])
	local window = tonumber(ARGV[6])
	local out = {}
	local offset = 0
	while #out < limit do
	  local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', offset, window)
	  for _, s in ipairs(due) do
	    if #out >= limit then break end
	    local dk = ARGV[5] .. s
	    if redis.call('HGET', dk, 'version') == ARGV[3] then
	      redis.call('ZREM', KEYS[1], s)
	      redis.call('ZADD', KEYS[2], ARGV[4], s)
	      redis.call('HINCRBY', dk, 'attempts', 1)
	      redis.call('HSET', dk, 'status', '2', 'last_iteration', ARGV[1])
	      out[#out + 1] = s
	    else
	      offset = offset + 1
	    end
	  end
	  if #due < window then break end
	end
	return out
	`,
)

var pushScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
local st = '1'
if tonumber(ARGV[5]) > tonumber(ARGV[6]) then st = '0' end
redis.call('HSET', KEYS[1],
  'subject', ARGV[1], 'version', ARGV[2], 'priority', ARGV[3], 'payload', ARGV[4],
  'attempts', '0', 'iterations', '0', 'status', st,
  'created_at', ARGV[6], 'last_iteration', '0', 'next_iteration', ARGV[5])
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
return 1
`)

var rescheduleScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 0 then return 0 end
if redis.call('HGET', KEYS[3], 'status') ~= '2' then return -1 end
local st = '1'
if tonumber(ARGV[2]) > tonumber(ARGV[4]) then st = '0' end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('HINCRBY', KEYS[3], 'iterations', 1)
redis.call('HSET', KEYS[3], 'status', st, 'payload', ARGV[3], 'next_iteration', ARGV[2], 'attempts', '0')
return 1
`)

// Resolution scripts return 0 for a missing document and -1 for one that is
// not active, leaving it untouched.

// rejectScript logs the error record, then either returns the document to
// pending or kills it once the attempt budget is spent. Returns 2 when killed.
var rejectScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 0 then return 0 end
if redis.call('HGET', KEYS[3], 'status') ~= '2' then return -1 end
redis.call('LPUSH', KEYS[5], ARGV[4])
redis.call('ZREM', KEYS[2], ARGV[1])
local attempts = tonumber(redis.call('HGET', KEYS[3], 'attempts') or '0')
local max = tonumber(ARGV[3])
if max > 0 and attempts >= max then
  redis.call('ZREM', KEYS[1], ARGV[1])
  redis.call('SADD', KEYS[4], ARGV[1])
  redis.call('HSET', KEYS[3], 'status', '-1')
  return 2
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[3], 'status', '1', 'next_iteration', ARGV[2])
return 1
`)

// finishScript moves a document into a terminal set (completed or killed).
var finishScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 0 then return 0 end
if redis.call('HGET', KEYS[3], 'status') ~= '2' then return -1 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[1])
redis.call('HSET', KEYS[3], 'status', ARGV[3], 'payload', ARGV[2])
return 1
`)

var dropScript = redis.NewScript(`
local n = redis.call('DEL', KEYS[3])
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[4], ARGV[1])
redis.call('SREM', KEYS[5], ARGV[1])
return n
`)

// reclaimScript returns expired active leases to pending.
var reclaimScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, s in ipairs(items) do
  redis.call('ZREM', KEYS[1], s)
  redis.call('ZADD', KEYS[2], ARGV[1], s)
  redis.call('HSET', ARGV[2] .. s, 'status', '1', 'next_iteration', ARGV[1])
end
return #items
`)

func ms(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// Push inserts a new document. It returns false when the subject already exists.
func Push(ctx context.Context, rdb redis.UniversalClient, k keys.Queue, r Record, now time.Time) (bool, error) {
	n, err := pushScript.Run(ctx, rdb, []string{k.Doc(r.Subject), k.Pending},
		r.Subject, r.Version, r.Priority, r.Payload, r.NextIteration, now.UnixMilli()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Pick leases up to limit due documents of the given version and returns them.
func Pick(ctx context.Context, rdb redis.UniversalClient, k keys.Queue, version, limit int, lease time.Duration, now time.Time) ([]Record, error) {
	subjects, err := pickScript.Run(ctx, rdb, []string{k.Pending, k.Active},
		ms(now), limit, version, ms(now.Add(lease)), k.DocPrefix, pickScanWindow).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(subjects) == 0 {
		return nil, nil
	}
	return Load(ctx, rdb, k, subjects)
}

// Load fetches the hashes of the given subjects in order, skipping missing ones.
func Load(ctx context.Context, rdb redis.UniversalClient, k keys.Queue, subjects []string) ([]Record, error) {
	cmds := make([]*redis.MapStringStringCmd, len(subjects))
	_, err := rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, s := range subjects {
			cmds[i] = p.HGetAll(ctx, k.Doc(s))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(subjects))
	for _, c := range cmds {
		if r, ok := parseRecord(c.Val()); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Get loads a single document.
func Get(ctx context.Context, rdb redis.UniversalClient, k keys.Queue, subject string) (Record, error) {
	m, err := rdb.HGetAll(ctx, k.Doc(subject)).Result()
	if err != nil {
		return Record{}, err
	}
	r, ok := parseRecord(m)
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

// Reschedule plans the document again at next with a new payload.
func Reschedule(ctx context.Context, rdb redis.UniversalClient, k keys.Queue, subject string, next time.Time, payload []byte, now time.Time) error {
	n, err := rescheduleScript.Run(ctx, rdb, []string{k.Pending, k.Active, k.Doc(subject)},
		subject, ms(next), payload, ms(now)).Int()
	return affected(n, err)
}

// Reject records a failure. The document is retried at retryAt or killed once
// its attempts reach maxAttempts (when maxAttempts > 0). It reports whether the
// document was killed.
func Reject(ctx context.Context, rdb redis.UniversalClient, k keys.Queue, subject string, record []byte, retryAt time.Time, maxAttempts int) (bool, error) {
	n, err := rejectScript.Run(ctx, rdb, []string{k.Pending, k.Active, k.Doc(subject), k.Killed, k.Errors},
		subject, ms(retryAt), maxAttempts, record).Int()
	if err := affected(n, err); err != nil {
		return false, err
	}
	return n == 2, nil
}

// Complete marks the document as successfully processed.
func Complete(ctx context.Context, rdb redis.UniversalClient, k keys.Queue, subject string, payload []byte) error {
	return finish(ctx, rdb, k, k.Completed, subject, payload, StatusCompleted)
}

// Kill marks the document as permanently failed.
func Kill(ctx context.Context, rdb redis.UniversalClient, k keys.Queue, subject string, payload []byte) error {
	return finish(ctx, rdb, k, k.Killed, subject, payload, StatusKilled)
}

func finish(ctx context.Context, rdb redis.UniversalClient, k keys.Queue, set, subject string, payload []byte, status int) error {
	n, err := finishScript.Run(ctx, rdb, []string{k.Pending, k.Active, k.Doc(subject), set},
		subject, payload, status).Int()
	return affected(n, err)
}

// Drop removes the document from every index.
func Drop(ctx context.Context, rdb redis.UniversalClient, k keys.Queue, subject string) error {
	n, err := dropScript.Run(ctx, rdb, []string{k.Pending, k.Active, k.Doc(subject), k.Completed, k.Killed},
		subject).Int()
	return affected(n, err)
}

// Reclaim moves up to limit expired active leases back to pending and returns how many moved.
func Reclaim(ctx context.Context, rdb redis.UniversalClient, k keys.Queue, now time.Time, limit int) (int, error) {
	return reclaimScript.Run(ctx, rdb, []string{k.Active, k.Pending}, ms(now), k.DocPrefix, limit).Int()
}

func affected(n int, err error) error {
	if err != nil {
		return err
	}
	switch n {
	case 0:
		return ErrNotFound
	case -1:
		return ErrNotActive
	}
	return nil
}

func parseRecord(m map[string]string) (Record, bool) {
	s, ok := m["subject"]
	if !ok {
		return Record{}, false
	}
	return Record{
		Subject:       s,
		Version:       atoi(m["version"]),
		Priority:      atoi(m["priority"]),
		Payload:       []byte(m["payload"]),
		Attempts:      atoi(m["attempts"]),
		Iterations:    atoi(m["iterations"]),
		Status:        atoi(m["status"]),
		CreatedAt:     atoi64(m["created_at"]),
		LastIteration: atoi64(m["last_iteration"]),
		NextIteration: atoi64(m["next_iteration"]),
	}, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
