package pgstore

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	fetchq "github.com/UniQw/fetchq-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestInterval(t *testing.T) {
	require.Equal(t, "300000 milliseconds", interval(fetchq.DefaultLock))
	require.Equal(t, "1500 milliseconds", interval(1500*time.Millisecond))
	require.Equal(t, "0 milliseconds", interval(0))
}

func TestNew_Defaults(t *testing.T) {
	s := New(nil, Config{})
	require.Equal(t, 100, s.cfg.MaintenanceLimit)
	require.Equal(t, 100*time.Millisecond, s.cfg.ReconnectDelay)
	require.NotNil(t, s.cfg.Logger)
	require.NotNil(t, s.enc)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// fakeWaiter delivers notifications sent on notify and fails once broken is closed.
type fakeWaiter struct {
	notify   chan struct{}
	broken   chan struct{}
	released atomic.Int32
}

func newFakeWaiter() *fakeWaiter {
	return &fakeWaiter{notify: make(chan struct{}), broken: make(chan struct{})}
}

func (f *fakeWaiter) wait(ctx context.Context) error {
	select {
	case <-f.notify:
		return nil
	case <-f.broken:
		return errors.New("connection reset by peer")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeWaiter) release() { f.released.Add(1) }

func TestListener_DeliversNotifications(t *testing.T) {
	w := newFakeWaiter()
	var woke atomic.Int32
	l := newListener(w, nil, "fetchq__q__pnd", func() { woke.Add(1) }, time.Millisecond, nopLogger{})

	w.notify <- struct{}{}
	w.notify <- struct{}{}
	require.Eventually(t, func() bool { return woke.Load() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	require.Equal(t, int32(1), w.released.Load())
}

func TestListener_ReconnectsAfterLostConnection(t *testing.T) {
	first, second := newFakeWaiter(), newFakeWaiter()
	var (
		mu    sync.Mutex
		dials int
	)
	dial := func(context.Context) (waiter, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return nil, errors.New("connection refused")
		}
		return second, nil
	}
	var woke atomic.Int32
	l := newListener(first, dial, "fetchq__q__pnd", func() { woke.Add(1) }, time.Millisecond, nopLogger{})

	close(first.broken)
	// the consumer is woken once the subscription is back, to re-poll what was missed
	require.Eventually(t, func() bool { return woke.Load() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, int32(1), first.released.Load())
	mu.Lock()
	require.Equal(t, 2, dials, "failed relisten is retried")
	mu.Unlock()

	second.notify <- struct{}{}
	require.Eventually(t, func() bool { return woke.Load() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, l.Close())
	require.Equal(t, int32(1), second.released.Load())
}

func TestListener_CloseDuringReconnect(t *testing.T) {
	w := newFakeWaiter()
	dial := func(context.Context) (waiter, error) { return nil, errors.New("connection refused") }
	l := newListener(w, dial, "fetchq__q__pnd", func() {}, time.Millisecond, nopLogger{})
	close(w.broken)
	require.Eventually(t, func() bool { return w.released.Load() == 1 }, time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = l.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close blocked while reconnecting")
	}
	require.Equal(t, int32(1), w.released.Load())
}

// newTestPool connects to FETCHQ_PG_DSN, a database with the fetchq schema installed.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("FETCHQ_PG_DSN")
	if dsn == "" {
		t.Skip("FETCHQ_PG_DSN not set; skipping postgres integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("postgres ping failed: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestStore_Integration(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	queue := "it_" + uuid.NewString()[:8]
	_, err := pool.Exec(ctx, `SELECT * FROM fetchq_queue_create($1)`, queue)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = pool.Exec(context.Background(), `SELECT * FROM fetchq_queue_drop($1)`, queue) })

	s := New(pool, Config{})
	subject, err := s.Push(ctx, queue, "a", 0, 0, time.Now().Add(-time.Second), map[string]string{"to": "a@b.c"})
	require.NoError(t, err)
	require.Equal(t, "a", subject)

	docs, err := s.Pick(ctx, queue, 0, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "a", docs[0].Subject)
	require.JSONEq(t, `{"to":"a@b.c"}`, string(docs[0].Payload))

	require.NoError(t, s.Complete(ctx, queue, "a", map[string]bool{"sent": true}))
	require.NoError(t, s.Maintain(ctx, queue))
}
