package fetchq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ServerConfig defines the workers a Server runs.
type ServerConfig struct {
	// Workers lists worker definitions. Each one is expanded into
	// Concurrency instances with indexes 0..Concurrency-1.
	Workers []WorkerConfig
	// MaintenanceInterval is how often Maintain runs per queue when the store
	// implements Maintainer. Defaults to 1s; negative disables maintenance.
	MaintenanceInterval time.Duration
	// Logger is the logger used for server events and for workers without their own.
	Logger Logger
}

// Server runs a fleet of planned workers over one store and, when the store
// supports it, the per-queue maintenance routines.
type Server struct {
	store   Store
	workers []*Worker
	queues  []string
	cfg     ServerConfig
	log     Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new Server. notifier may be nil; real-time workers then only poll.
func NewServer(store Store, notifier Notifier, cfg ServerConfig) (*Server, error) {
	l := cfg.Logger
	if l == nil {
		l = NewFmtLogger()
	}
	if cfg.MaintenanceInterval == 0 {
		cfg.MaintenanceInterval = time.Second
	}
	s := &Server{store: store, cfg: cfg, log: l}
	seen := make(map[string]bool)
	for i, wc := range cfg.Workers {
		if wc.Logger == nil {
			wc.Logger = l
		}
		n := wc.Concurrency
		if n == 0 {
			n = 1
		}
		for idx := 0; idx < n; idx++ {
			c := wc
			c.Index = wc.Index + idx
			w, err := NewWorker(store, notifier, c)
			if err != nil {
				return nil, fmt.Errorf("worker %d: %w", i, err)
			}
			s.workers = append(s.workers, w)
		}
		if !seen[wc.Queue] {
			seen[wc.Queue] = true
			s.queues = append(s.queues, wc.Queue)
		}
	}
	return s, nil
}

// Workers returns the worker instances managed by the server.
func (s *Server) Workers() []*Worker { return s.workers }

// Start launches every worker and the maintenance routines.
// It is idempotent and non-blocking.
func (s *Server) Start() {
	s.mu.Lock()
	if s.started {
		s.log.Warnf("server already started; ignoring Start()")
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.log.Infof("starting server: workers=%d queues=%d", len(s.workers), len(s.queues))
	if m, ok := s.store.(Maintainer); ok && s.cfg.MaintenanceInterval > 0 {
		for _, q := range s.queues {
			s.wg.Add(1)
			go func(queue string) {
				defer s.wg.Done()
				s.maintain(ctx, m, queue)
			}(q)
		}
	}
	for _, w := range s.workers {
		w.Start()
	}
}

// Stop gracefully shuts down the server, waiting for every worker to finish its current batch.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started {
		s.log.Warnf("server not started; ignoring Stop()")
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()
	s.log.Infof("stopping server")

	var g errgroup.Group
	for _, w := range s.workers {
		g.Go(func() error { return w.Stop(context.Background()) })
	}
	if err := g.Wait(); err != nil {
		s.log.Errorf("stop workers: %v", err)
	}
	cancel()
	s.wg.Wait()
}

func (s *Server) maintain(ctx context.Context, m Maintainer, queue string) {
	ticker := time.NewTicker(s.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Maintain(ctx, queue); err != nil && ctx.Err() == nil {
				s.log.Warnf("maintenance failed queue=%s err=%v", queue, err)
			}
		}
	}
}
