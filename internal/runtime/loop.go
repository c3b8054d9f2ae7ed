package runtime

import (
	"context"
	"io"
	"sync"
	"time"
)

// Logger is a minimal logging interface used internally by the runtime.
// It mirrors the public logger in the root package to avoid an import cycle.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

// Job executes one pick-and-run cycle and reports whether any documents were found.
type Job func(ctx context.Context) (bool, error)

// Subscribe registers wake on a notification channel. Closing the returned
// value removes the subscription.
type Subscribe func(ctx context.Context, channel string, wake func()) (io.Closer, error)

type Config struct {
	// ID identifies the loop in log lines.
	ID string
	// Channel is the pending-channel name used when RealTime is set.
	Channel string
	// LoopDelay is the delay armed after a cycle that found work or failed.
	LoopDelay time.Duration
	// Sleep is the delay armed after a cycle that found nothing.
	Sleep time.Duration
	// RealTime enables the channel subscription.
	RealTime bool
	// RealTimeDelay caps the idle delay while subscribed. Planned documents
	// become due without a notification, so Sleep still applies when shorter.
	// Zero keeps Sleep.
	RealTimeDelay time.Duration
	Subscribe     Subscribe
	Logger        Logger
}

// State is the lifecycle state of a Loop.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Loop drives a Job on an adaptive timer. The job never runs concurrently
// with itself: a single goroutine owns the timer and every cycle.
type Loop struct {
	cfg Config
	job Job
	ctx context.Context
	log Logger

	mu    sync.Mutex
	state State
	sub   io.Closer
	quit  chan struct{}
	done  chan struct{}
}

// New creates a loop in the idle state.
func New(cfg Config, job Job) *Loop {
	lg := cfg.Logger
	if lg == nil {
		lg = noopLogger{}
	}
	return &Loop{cfg: cfg, job: job, ctx: context.Background(), log: lg}
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start subscribes to the pending channel when configured and fires the
// first cycle immediately. It is a no-op while the loop is running or stopping.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateRunning || l.state == StateStopping {
		l.log.Warnf("worker %s: already %s; ignoring Start()", l.cfg.ID, l.state)
		return
	}
	l.state = StateRunning
	l.quit = make(chan struct{})
	l.done = make(chan struct{})
	wake := make(chan struct{}, 1)

	idle := l.cfg.Sleep
	if l.cfg.RealTime && l.cfg.Subscribe != nil {
		sub, err := l.cfg.Subscribe(l.ctx, l.cfg.Channel, func() {
			select {
			case wake <- struct{}{}:
			default:
			}
		})
		if err != nil {
			l.log.Warnf("worker %s: subscribe %s failed, polling only: %v", l.cfg.ID, l.cfg.Channel, err)
		} else {
			l.sub = sub
			if l.cfg.RealTimeDelay > 0 && l.cfg.RealTimeDelay < idle {
				idle = l.cfg.RealTimeDelay
			}
		}
	}
	l.log.Infof("worker %s: started (realtime=%t)", l.cfg.ID, l.sub != nil)
	go l.run(wake, l.quit, l.done, idle)
}

// Stop requests the loop to exit and waits until the in-flight cycle, if any,
// has finished. It returns immediately when the loop is not running. Concurrent
// callers all wait on the same exit. The loop keeps exiting on its own when ctx
// ends first; Stop then returns ctx.Err().
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case StateIdle, StateStopped:
		l.mu.Unlock()
		return nil
	case StateRunning:
		l.state = StateStopping
		close(l.quit)
		if l.sub != nil {
			if err := l.sub.Close(); err != nil {
				l.log.Warnf("worker %s: unsubscribe %s failed: %v", l.cfg.ID, l.cfg.Channel, err)
			}
			l.sub = nil
		}
		l.log.Infof("worker %s: stopping", l.cfg.ID)
	}
	done := l.done
	l.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) run(wake <-chan struct{}, quit, done chan struct{}, idle time.Duration) {
	defer func() {
		l.mu.Lock()
		if l.done == done {
			l.state = StateStopped
		}
		l.mu.Unlock()
		l.log.Infof("worker %s: stopped", l.cfg.ID)
		close(done)
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-quit:
			return
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
		// quit wins over a wake or timer that became ready at the same time
		select {
		case <-quit:
			return
		default:
		}
		timer.Reset(l.cycle(idle))
	}
}

// cycle runs the job once and returns the delay to arm next.
func (l *Loop) cycle(idle time.Duration) (delay time.Duration) {
	delay = l.cfg.LoopDelay
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorf("worker %s: cycle panic: %v", l.cfg.ID, r)
			delay = l.cfg.LoopDelay
		}
	}()

	found, err := l.job(l.ctx)
	if err != nil {
		l.log.Errorf("worker %s: %v", l.cfg.ID, err)
		return delay
	}
	if !found {
		l.log.Debugf("worker %s: no docs, wait %s", l.cfg.ID, idle)
		return idle
	}
	return delay
}
