package fetchq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	rtm "github.com/UniQw/fetchq-go/internal/runtime"
	"github.com/hashicorp/go-multierror"
)

const (
	// DefaultDelay is the base delay used when WorkerConfig.Delay is zero.
	DefaultDelay = 250 * time.Millisecond
	// DefaultRealTimeDelay is the default cap on the idle delay while subscribed.
	DefaultRealTimeDelay = time.Hour
)

// WorkerConfig defines a planned worker. Zero values select the documented defaults.
type WorkerConfig struct {
	// Queue is the queue to pick from. Required.
	Queue string
	// Name defaults to "<queue>-default".
	Name string
	// Index distinguishes instances sharing a Name; the worker ID is "<name>-<index>".
	Index int
	// Version is the payload schema version passed to Pick.
	Version int
	// Batch is the maximum number of documents per pick. Defaults to 1.
	Batch int
	// Lock is the lease requested on pick. Zero selects the store default.
	Lock time.Duration
	// Delay is the base delay. Defaults to DefaultDelay.
	Delay time.Duration
	// LoopDelay is armed after a cycle that found work. Defaults to Delay.
	LoopDelay time.Duration
	// BatchDelay is the pause between two documents of a batch. Defaults to Delay.
	BatchDelay time.Duration
	// Sleep is armed after a cycle that found nothing. Defaults to 10*Delay.
	Sleep time.Duration
	// RealTime subscribes to the queue's pending channel so that pushes wake
	// the worker immediately.
	RealTime bool
	// RealTimeDelay caps Sleep while subscribed; the shorter of the two is
	// armed after an empty pick. Defaults to DefaultRealTimeDelay.
	RealTimeDelay time.Duration
	// Concurrency is the number of instances Server runs for this config. Defaults to 1.
	Concurrency int
	// Handler processes each document. Required.
	Handler Handler
	// Middleware wraps Handler, outermost first.
	Middleware []Middleware
	// Logger defaults to FmtLogger.
	Logger Logger
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Name == "" {
		c.Name = c.Queue + "-default"
	}
	if c.Batch == 0 {
		c.Batch = 1
	}
	if c.Delay == 0 {
		c.Delay = DefaultDelay
	}
	if c.LoopDelay == 0 {
		c.LoopDelay = c.Delay
	}
	if c.BatchDelay == 0 {
		c.BatchDelay = c.Delay
	}
	if c.Sleep == 0 {
		c.Sleep = 10 * c.Delay
	}
	if c.RealTimeDelay == 0 {
		c.RealTimeDelay = DefaultRealTimeDelay
	}
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	if c.Logger == nil {
		c.Logger = NewFmtLogger()
	}
	return c
}

func (c WorkerConfig) validate() error {
	var errs *multierror.Error
	if c.Queue == "" {
		errs = multierror.Append(errs, errors.New("queue is required"))
	}
	if c.Handler == nil {
		errs = multierror.Append(errs, errors.New("handler is required"))
	}
	if c.Batch < 0 {
		errs = multierror.Append(errs, fmt.Errorf("batch must be positive, got %d", c.Batch))
	}
	if c.Concurrency < 0 {
		errs = multierror.Append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	for name, d := range map[string]time.Duration{
		"lock": c.Lock, "delay": c.Delay, "loop delay": c.LoopDelay,
		"batch delay": c.BatchDelay, "sleep": c.Sleep, "realtime delay": c.RealTimeDelay,
	} {
		if d < 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Worker repeatedly picks batches from one queue and resolves every document
// through its Handler. Cycles are driven by an adaptive timer and, in real-time
// mode, by the queue's pending channel.
type Worker struct {
	cfg     WorkerConfig
	id      string
	store   Store
	handler Handler
	log     Logger
	hc      *HandlerContext
	loop    *rtm.Loop
}

// NewWorker creates a stopped worker. notifier may be nil, in which case the
// worker only polls.
func NewWorker(store Store, notifier Notifier, cfg WorkerConfig) (*Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()

	w := &Worker{
		cfg:     cfg,
		id:      cfg.Name + "-" + strconv.Itoa(cfg.Index),
		store:   store,
		handler: Chain(cfg.Handler, cfg.Middleware...),
		log:     cfg.Logger,
	}
	w.hc = &HandlerContext{
		WorkerID: w.id,
		Name:     cfg.Name,
		Index:    cfg.Index,
		Queue:    cfg.Queue,
		Version:  cfg.Version,
		Store:    store,
		Logger:   cfg.Logger,
	}

	rc := rtm.Config{
		ID:            w.id,
		Channel:       PendingChannel(cfg.Queue),
		LoopDelay:     cfg.LoopDelay,
		Sleep:         cfg.Sleep,
		RealTime:      cfg.RealTime,
		RealTimeDelay: cfg.RealTimeDelay,
		Logger:        rtLogger{Logger: cfg.Logger},
	}
	if cfg.RealTime {
		if notifier == nil {
			w.log.Warnf("worker %s: realtime requested without a notifier; polling only", w.id)
		} else {
			rc.Subscribe = func(ctx context.Context, channel string, wake func()) (io.Closer, error) {
				return notifier.Subscribe(ctx, channel, wake)
			}
		}
	}
	w.loop = rtm.New(rc, w.job)
	return w, nil
}

// ID returns "<name>-<index>".
func (w *Worker) ID() string { return w.id }

// Config returns the effective configuration, defaults applied.
func (w *Worker) Config() WorkerConfig { return w.cfg }

// Start launches the worker loop. It is idempotent and non-blocking.
func (w *Worker) Start() { w.loop.Start() }

// Stop asks the loop to exit and waits for the in-flight batch to finish.
// It returns ctx.Err() if ctx ends first; the worker still stops on its own.
func (w *Worker) Stop(ctx context.Context) error { return w.loop.Stop(ctx) }

// job picks one batch and runs it. It reports false when nothing was picked.
func (w *Worker) job(ctx context.Context) (bool, error) {
	w.log.Debugf("worker %s: pick %d docs", w.id, w.cfg.Batch)
	docs, err := w.store.Pick(ctx, w.cfg.Queue, w.cfg.Version, w.cfg.Batch, w.cfg.Lock)
	if err != nil {
		return false, fmt.Errorf("pick %s: %w", w.cfg.Queue, err)
	}
	if len(docs) == 0 {
		return false, nil
	}
	w.runBatch(ctx, docs)
	return true, nil
}

// runBatch resolves docs in order, pausing BatchDelay between two documents.
// A failing document never aborts the rest of the batch.
func (w *Worker) runBatch(ctx context.Context, docs []*Doc) {
	hctx := withHandlerContext(ctx, w.hc)
	for i, doc := range docs {
		w.process(hctx, doc)
		if i < len(docs)-1 {
			pause(ctx, w.cfg.BatchDelay)
		}
	}
}

// process is the error boundary for one document: a handler error or panic,
// an unrecognized resolution and a failing resolution call all end in the
// implicit reject.
func (w *Worker) process(ctx context.Context, doc *Doc) {
	res, err := w.invoke(ctx, doc)
	if err == nil {
		if err = resolve(ctx, w.store, w.cfg.Queue, doc, res); err == nil {
			return
		}
	}
	w.log.Warnf("worker %s: doc %s/%s failed: %v", w.id, w.cfg.Queue, doc.Subject, err)
	if rerr := resolve(ctx, w.store, w.cfg.Queue, doc, faultReject(err)); rerr != nil {
		w.log.Errorf("worker %s: %v", w.id, rerr)
	}
}

func (w *Worker) invoke(ctx context.Context, doc *Doc) (res Resolution, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, doc)
}

func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
