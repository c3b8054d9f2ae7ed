// Package pgstore implements the fetchq queue engine contract on top of the
// fetchq PostgreSQL schema. Every operation is a call to one of the schema's
// fetchq_* functions; notifications use LISTEN on the channels the schema
// publishes when a queue has notifications enabled.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	fetchq "github.com/UniQw/fetchq-go"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config tunes a Store.
type Config struct {
	// MaintenanceLimit bounds the rows touched by one fetchq_mnt_run call. Defaults to 100.
	MaintenanceLimit int
	// Encoder serializes payloads and reject details. Defaults to fetchq.JSONEncoder.
	Encoder fetchq.Encoder
	// ReconnectDelay is the first wait before re-issuing LISTEN after a lost
	// connection; later attempts back off exponentially up to maxReconnectDelay.
	// Defaults to 100ms.
	ReconnectDelay time.Duration
	// Logger defaults to fetchq.FmtLogger.
	Logger fetchq.Logger
}

const maxReconnectDelay = 30 * time.Second

// Store is a fetchq.Store, fetchq.Notifier and fetchq.Maintainer backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	cfg  Config
	enc  fetchq.Encoder
}

var (
	_ fetchq.Store      = (*Store)(nil)
	_ fetchq.Notifier   = (*Store)(nil)
	_ fetchq.Maintainer = (*Store)(nil)
)

// New creates a Store over pool.
func New(pool *pgxpool.Pool, cfg Config) *Store {
	if cfg.MaintenanceLimit <= 0 {
		cfg.MaintenanceLimit = 100
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = fetchq.NewFmtLogger()
	}
	enc := cfg.Encoder
	if enc == nil {
		enc = &fetchq.JSONEncoder{}
	}
	return &Store{pool: pool, cfg: cfg, enc: enc}
}

const pickSQL = `SELECT subject, payload, version, priority, attempts, iterations,
       created_at, last_iteration, next_iteration
  FROM fetchq_doc_pick($1, $2, $3, $4::interval)`

// Pick implements fetchq.Store.
func (s *Store) Pick(ctx context.Context, queue string, version, limit int, lock time.Duration) ([]*fetchq.Doc, error) {
	if limit <= 0 {
		limit = 1
	}
	if lock <= 0 {
		lock = fetchq.DefaultLock
	}
	rows, err := s.pool.Query(ctx, pickSQL, queue, version, limit, interval(lock))
	if err != nil {
		return nil, fmt.Errorf("fetchq_doc_pick: %w", err)
	}
	return pgx.CollectRows(rows, scanDoc)
}

func scanDoc(row pgx.CollectableRow) (*fetchq.Doc, error) {
	var (
		d       fetchq.Doc
		payload []byte
		last    *time.Time
	)
	if err := row.Scan(&d.Subject, &payload, &d.Version, &d.Priority, &d.Attempts, &d.Iterations,
		&d.CreatedAt, &last, &d.NextIteration); err != nil {
		return nil, err
	}
	d.Payload = json.RawMessage(payload)
	if last != nil {
		d.LastIteration = *last
	}
	d.Status = fetchq.StatusActive
	return &d, nil
}

// Push inserts a document through fetchq_doc_push and returns its subject.
func (s *Store) Push(ctx context.Context, queue, subject string, version, priority int, next time.Time, payload any) (string, error) {
	data, err := s.enc.Encode(payload)
	if err != nil {
		return "", err
	}
	if subject == "" {
		subject = uuid.NewString()
	}
	if next.IsZero() {
		next = time.Now()
	}
	var queued int
	err = s.pool.QueryRow(ctx, `SELECT * FROM fetchq_doc_push($1, $2, $3, $4, $5, $6::jsonb)`,
		queue, subject, version, priority, next, string(data)).Scan(&queued)
	if err != nil {
		return "", fmt.Errorf("fetchq_doc_push: %w", err)
	}
	if queued == 0 {
		return "", fetchq.ErrDuplicateDoc
	}
	return subject, nil
}

// Reschedule implements fetchq.Store.
func (s *Store) Reschedule(ctx context.Context, queue, subject string, next time.Time, payload any) error {
	data, err := s.enc.Encode(payload)
	if err != nil {
		return err
	}
	return s.exec(ctx, "fetchq_doc_reschedule", `SELECT * FROM fetchq_doc_reschedule($1, $2, $3, $4::jsonb)`,
		queue, subject, next, string(data))
}

// Reject implements fetchq.Store.
func (s *Store) Reject(ctx context.Context, queue, subject, message string, details any, refID string) error {
	data, err := s.enc.Encode(details)
	if err != nil {
		return err
	}
	return s.exec(ctx, "fetchq_doc_reject", `SELECT * FROM fetchq_doc_reject($1, $2, $3, $4::jsonb, $5)`,
		queue, subject, message, string(data), refID)
}

// Kill implements fetchq.Store.
func (s *Store) Kill(ctx context.Context, queue, subject string, payload any) error {
	data, err := s.enc.Encode(payload)
	if err != nil {
		return err
	}
	return s.exec(ctx, "fetchq_doc_kill", `SELECT * FROM fetchq_doc_kill($1, $2, $3::jsonb)`,
		queue, subject, string(data))
}

// Complete implements fetchq.Store.
func (s *Store) Complete(ctx context.Context, queue, subject string, payload any) error {
	data, err := s.enc.Encode(payload)
	if err != nil {
		return err
	}
	return s.exec(ctx, "fetchq_doc_complete", `SELECT * FROM fetchq_doc_complete($1, $2, $3::jsonb)`,
		queue, subject, string(data))
}

// Drop implements fetchq.Store.
func (s *Store) Drop(ctx context.Context, queue, subject string) error {
	return s.exec(ctx, "fetchq_doc_drop", `SELECT * FROM fetchq_doc_drop($1, $2)`, queue, subject)
}

// Maintain implements fetchq.Maintainer with fetchq_mnt_run.
func (s *Store) Maintain(ctx context.Context, queue string) error {
	return s.exec(ctx, "fetchq_mnt_run", `SELECT * FROM fetchq_mnt_run($1, $2)`, queue, s.cfg.MaintenanceLimit)
}

func (s *Store) exec(ctx context.Context, fn, sql string, args ...any) error {
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: %w", fn, err)
	}
	return nil
}

// Subscribe implements fetchq.Notifier. Each subscription holds one pooled
// connection in LISTEN mode until closed. A lost connection is replaced with
// backoff, and fn runs once after every reconnect since notifications may
// have been missed meanwhile.
func (s *Store) Subscribe(ctx context.Context, channel string, fn func()) (fetchq.Subscription, error) {
	dial := func(ctx context.Context) (waiter, error) { return s.listen(ctx, channel) }
	w, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	return newListener(w, dial, channel, fn, s.cfg.ReconnectDelay, s.cfg.Logger), nil
}

func (s *Store) listen(ctx context.Context, channel string) (waiter, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	ident := pgx.Identifier{channel}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+ident); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return &pgWaiter{conn: conn, ident: ident}, nil
}

// waiter is one connection in LISTEN mode.
type waiter interface {
	wait(ctx context.Context) error
	release()
}

type pgWaiter struct {
	conn  *pgxpool.Conn
	ident string
}

func (w *pgWaiter) wait(ctx context.Context) error {
	_, err := w.conn.Conn().WaitForNotification(ctx)
	return err
}

// release hands the connection back to the pool. A connection broken by a
// cancelled wait is discarded by the pool.
func (w *pgWaiter) release() {
	if !w.conn.Conn().IsClosed() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _ = w.conn.Exec(ctx, "UNLISTEN "+w.ident)
		cancel()
	}
	w.conn.Release()
}

type listener struct {
	w          waiter
	dial       func(context.Context) (waiter, error)
	channel    string
	retryDelay time.Duration
	log        fetchq.Logger
	cancel     context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

func newListener(w waiter, dial func(context.Context) (waiter, error), channel string, fn func(), retryDelay time.Duration, log fetchq.Logger) *listener {
	ctx, cancel := context.WithCancel(context.Background())
	l := &listener{w: w, dial: dial, channel: channel, retryDelay: retryDelay, log: log, cancel: cancel, done: make(chan struct{})}
	go l.run(ctx, fn)
	return l
}

func (l *listener) run(ctx context.Context, fn func()) {
	defer close(l.done)
	for {
		err := l.w.wait(ctx)
		if err == nil {
			fn()
			continue
		}
		if ctx.Err() != nil {
			return
		}
		l.log.Warnf("pgstore: listen %s lost: %v; reconnecting", l.channel, err)
		l.w.release()
		l.w = nil
		if !l.reconnect(ctx) {
			return
		}
		l.log.Infof("pgstore: listen %s restored", l.channel)
		fn()
	}
}

func (l *listener) reconnect(ctx context.Context) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.retryDelay
	b.MaxInterval = maxReconnectDelay
	b.Reset()
	for {
		t := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		w, err := l.dial(ctx)
		if err == nil {
			l.w = w
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		l.log.Warnf("pgstore: relisten %s failed: %v", l.channel, err)
	}
}

// Close stops listening and hands the connection back to the pool.
func (l *listener) Close() error {
	l.once.Do(func() {
		l.cancel()
		<-l.done
		if l.w != nil {
			l.w.release()
			l.w = nil
		}
	})
	return nil
}

func interval(d time.Duration) string {
	return fmt.Sprintf("%d milliseconds", d.Milliseconds())
}
