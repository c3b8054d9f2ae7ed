package fetchq

import (
	"context"
	"errors"
	"sync"
	"time"
)

// call records one store invocation.
type call struct {
	Op      string
	Queue   string
	Subject string
	Next    time.Time
	Payload any
	Message string
	Details any
	RefID   string
	At      time.Time
}

// memStore is an in-memory Store that records every call. Pick returns the
// queued batches in order and then nothing.
type memStore struct {
	mu      sync.Mutex
	batches [][]*Doc
	picks   []call
	calls   []call
	pickErr error
	fail    map[string]error // op -> error
	subs    map[string][]func()
}

func newMemStore(batches ...[]*Doc) *memStore {
	return &memStore{batches: batches, fail: map[string]error{}, subs: map[string][]func(){}}
}

func (m *memStore) Pick(_ context.Context, queue string, version, limit int, _ time.Duration) ([]*Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.picks = append(m.picks, call{Op: "pick", Queue: queue, At: time.Now()})
	if m.pickErr != nil {
		return nil, m.pickErr
	}
	if len(m.batches) == 0 {
		return nil, nil
	}
	b := m.batches[0]
	m.batches = m.batches[1:]
	if len(b) > limit {
		b = b[:limit]
	}
	return b, nil
}

func (m *memStore) record(c call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.At = time.Now()
	m.calls = append(m.calls, c)
	return m.fail[c.Op]
}

func (m *memStore) Reschedule(_ context.Context, queue, subject string, next time.Time, payload any) error {
	return m.record(call{Op: "reschedule", Queue: queue, Subject: subject, Next: next, Payload: payload})
}

func (m *memStore) Reject(_ context.Context, queue, subject, message string, details any, refID string) error {
	return m.record(call{Op: "reject", Queue: queue, Subject: subject, Message: message, Details: details, RefID: refID})
}

func (m *memStore) Kill(_ context.Context, queue, subject string, payload any) error {
	return m.record(call{Op: "kill", Queue: queue, Subject: subject, Payload: payload})
}

func (m *memStore) Complete(_ context.Context, queue, subject string, payload any) error {
	return m.record(call{Op: "complete", Queue: queue, Subject: subject, Payload: payload})
}

func (m *memStore) Drop(_ context.Context, queue, subject string) error {
	return m.record(call{Op: "drop", Queue: queue, Subject: subject})
}

func (m *memStore) Calls() []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]call(nil), m.calls...)
}

func (m *memStore) Picks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.picks)
}

func (m *memStore) Push(docs ...*Doc) {
	m.mu.Lock()
	m.batches = append(m.batches, docs)
	subs := append([]func(){}, m.subs[PendingChannel("q")]...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// Subscribe makes memStore a Notifier.
func (m *memStore) Subscribe(_ context.Context, channel string, fn func()) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[channel] = append(m.subs[channel], fn)
	return &memSub{m: m, channel: channel}, nil
}

type memSub struct {
	m       *memStore
	channel string
}

func (s *memSub) Close() error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.subs[s.channel]; !ok {
		return errors.New("not subscribed")
	}
	delete(s.m.subs, s.channel)
	return nil
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
