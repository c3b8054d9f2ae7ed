package fetchq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	ikeys "github.com/UniQw/fetchq-go/internal/keys"
	"github.com/UniQw/fetchq-go/internal/redisq"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStoreConfig tunes the Redis queue engine.
type RedisStoreConfig struct {
	// MaxAttempts kills a document on reject once it has been picked this many
	// times since its last reschedule. Defaults to 5; negative disables the limit.
	MaxAttempts int
	// RetryDelay plans rejected documents this far in the future. Zero retries immediately.
	RetryDelay time.Duration
	// ReclaimBatch bounds how many expired leases one Maintain call returns to pending.
	// Defaults to 256.
	ReclaimBatch int
	// Encoder serializes payloads and reject details. Defaults to JSONEncoder.
	Encoder Encoder
}

// RedisStore is a Store, Notifier and Maintainer backed by Redis. Documents
// live in one hash each; pending, active, completed and killed indexes are kept
// per queue and every transition runs as a Lua script.
type RedisStore struct {
	rdb redis.UniversalClient
	cfg RedisStoreConfig
	enc Encoder
	now func() time.Time
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(rdb redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ReclaimBatch <= 0 {
		cfg.ReclaimBatch = 256
	}
	enc := cfg.Encoder
	if enc == nil {
		enc = &JSONEncoder{}
	}
	return &RedisStore{rdb: rdb, cfg: cfg, enc: enc, now: time.Now}
}

// ErrorRecord is one entry of a queue's error log, written on every reject.
type ErrorRecord struct {
	ID        string          `json:"id"`
	Subject   string          `json:"subject"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details"`
	RefID     string          `json:"ref_id"`
	CreatedAt int64           `json:"created_at"`
}

// Push adds a new document to queue and returns its subject.
// It returns ErrDuplicateDoc if the subject (explicit or generated) already exists in the queue.
// Documents due immediately are announced on the pending channel.
func (s *RedisStore) Push(ctx context.Context, queue string, payload any, opts ...Option) (string, error) {
	data, err := s.enc.Encode(payload)
	if err != nil {
		return "", err
	}
	cfg := &options{}
	for _, opt := range opts {
		opt(cfg)
	}
	subject := cfg.subject
	if subject == "" {
		subject = uuid.NewString()
	}
	now := s.now()
	next := cfg.nextIteration(now)

	k := ikeys.For(queue)
	ok, err := redisq.Push(ctx, s.rdb, k, redisq.Record{
		Subject:       subject,
		Version:       cfg.version,
		Priority:      cfg.priority,
		Payload:       data,
		NextIteration: next.UnixMilli(),
	}, now)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrDuplicateDoc
	}
	if !next.After(now) {
		if err := s.rdb.Publish(ctx, k.Channel, "").Err(); err != nil {
			return subject, fmt.Errorf("notify %s: %w", k.Channel, err)
		}
	}
	return subject, nil
}

// WakeUp publishes on the queue's pending channel.
func (s *RedisStore) WakeUp(ctx context.Context, queue string) error {
	return s.rdb.Publish(ctx, ikeys.PendingChannel(queue), "").Err()
}

// Get returns a single document.
func (s *RedisStore) Get(ctx context.Context, queue, subject string) (*Doc, error) {
	r, err := redisq.Get(ctx, s.rdb, ikeys.For(queue), subject)
	if err != nil {
		return nil, mapErr(err)
	}
	return s.toDoc(r), nil
}

// DocFilter is a function used to filter documents during ListDocs.
type DocFilter func(*Doc) bool

// ListDocs returns the documents of queue currently in status.
func (s *RedisStore) ListDocs(ctx context.Context, queue string, status Status, filter DocFilter) ([]*Doc, error) {
	k := ikeys.For(queue)
	var subjects []string
	var err error
	switch status {
	case StatusPlanned, StatusPending:
		subjects, err = s.rdb.ZRange(ctx, k.Pending, 0, -1).Result()
	case StatusActive:
		subjects, err = s.rdb.ZRange(ctx, k.Active, 0, -1).Result()
	case StatusCompleted:
		subjects, err = s.rdb.SMembers(ctx, k.Completed).Result()
		sort.Strings(subjects)
	case StatusKilled:
		subjects, err = s.rdb.SMembers(ctx, k.Killed).Result()
		sort.Strings(subjects)
	default:
		return nil, ErrUnknownStatus
	}
	if err != nil {
		return nil, err
	}
	if len(subjects) == 0 {
		return nil, nil
	}
	recs, err := redisq.Load(ctx, s.rdb, k, subjects)
	if err != nil {
		return nil, err
	}
	out := make([]*Doc, 0, len(recs))
	for _, r := range recs {
		d := s.toDoc(r)
		if d.Status != status {
			continue
		}
		if filter == nil || filter(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Errors returns up to limit error records of queue, newest first. A limit of
// zero or less returns all of them.
func (s *RedisStore) Errors(ctx context.Context, queue string, limit int) ([]ErrorRecord, error) {
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	raws, err := s.rdb.LRange(ctx, ikeys.Errors(queue), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ErrorRecord, 0, len(raws))
	for _, raw := range raws {
		var rec ErrorRecord
		if err := s.enc.Decode([]byte(raw), &rec); err == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Pick implements Store.
func (s *RedisStore) Pick(ctx context.Context, queue string, version, limit int, lock time.Duration) ([]*Doc, error) {
	if limit <= 0 {
		limit = 1
	}
	if lock <= 0 {
		lock = DefaultLock
	}
	recs, err := redisq.Pick(ctx, s.rdb, ikeys.For(queue), version, limit, lock, s.now())
	if err != nil {
		return nil, err
	}
	docs := make([]*Doc, len(recs))
	for i, r := range recs {
		docs[i] = s.toDoc(r)
	}
	return docs, nil
}

// Reschedule implements Store.
func (s *RedisStore) Reschedule(ctx context.Context, queue, subject string, next time.Time, payload any) error {
	data, err := s.enc.Encode(payload)
	if err != nil {
		return err
	}
	return mapErr(redisq.Reschedule(ctx, s.rdb, ikeys.For(queue), subject, next, data, s.now()))
}

// Reject implements Store. Every call appends an ErrorRecord to the queue's error log.
func (s *RedisStore) Reject(ctx context.Context, queue, subject, message string, details any, refID string) error {
	data, err := s.enc.Encode(details)
	if err != nil {
		return err
	}
	now := s.now()
	rec, err := s.enc.Encode(ErrorRecord{
		ID:        uuid.NewString(),
		Subject:   subject,
		Message:   message,
		Details:   data,
		RefID:     refID,
		CreatedAt: now.UnixMilli(),
	})
	if err != nil {
		return err
	}
	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	_, err = redisq.Reject(ctx, s.rdb, ikeys.For(queue), subject, rec, now.Add(s.cfg.RetryDelay), maxAttempts)
	return mapErr(err)
}

// Kill implements Store.
func (s *RedisStore) Kill(ctx context.Context, queue, subject string, payload any) error {
	data, err := s.enc.Encode(payload)
	if err != nil {
		return err
	}
	return mapErr(redisq.Kill(ctx, s.rdb, ikeys.For(queue), subject, data))
}

// Complete implements Store.
func (s *RedisStore) Complete(ctx context.Context, queue, subject string, payload any) error {
	data, err := s.enc.Encode(payload)
	if err != nil {
		return err
	}
	return mapErr(redisq.Complete(ctx, s.rdb, ikeys.For(queue), subject, data))
}

// Drop implements Store.
func (s *RedisStore) Drop(ctx context.Context, queue, subject string) error {
	return mapErr(redisq.Drop(ctx, s.rdb, ikeys.For(queue), subject))
}

// Maintain returns expired leases of queue to pending and wakes its workers
// when anything moved.
func (s *RedisStore) Maintain(ctx context.Context, queue string) error {
	k := ikeys.For(queue)
	n, err := redisq.Reclaim(ctx, s.rdb, k, s.now(), s.cfg.ReclaimBatch)
	if err != nil {
		return err
	}
	if n > 0 {
		return s.rdb.Publish(ctx, k.Channel, "").Err()
	}
	return nil
}

// Subscribe implements Notifier with Redis SUBSCRIBE. fn runs on a dedicated
// goroutine, once per published message.
func (s *RedisStore) Subscribe(ctx context.Context, channel string, fn func()) (Subscription, error) {
	ps := s.rdb.Subscribe(ctx, channel)
	// wait for the subscription confirmation so no publish is missed afterwards
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	ch := ps.Channel()
	go func() {
		for range ch {
			fn()
		}
	}()
	return ps, nil
}

func (s *RedisStore) toDoc(r redisq.Record) *Doc {
	d := &Doc{
		Subject:       r.Subject,
		Payload:       json.RawMessage(r.Payload),
		Version:       r.Version,
		Priority:      r.Priority,
		Status:        Status(r.Status),
		Attempts:      r.Attempts,
		Iterations:    r.Iterations,
		CreatedAt:     fromMillis(r.CreatedAt),
		LastIteration: fromMillis(r.LastIteration),
		NextIteration: fromMillis(r.NextIteration),
	}
	if d.Status == StatusPlanned && !d.NextIteration.After(s.now()) {
		d.Status = StatusPending
	}
	return d
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, redisq.ErrNotFound):
		return ErrDocNotFound
	case errors.Is(err, redisq.ErrNotActive):
		return ErrDocNotActive
	}
	return err
}

var (
	_ Store      = (*RedisStore)(nil)
	_ Notifier   = (*RedisStore)(nil)
	_ Maintainer = (*RedisStore)(nil)
)
