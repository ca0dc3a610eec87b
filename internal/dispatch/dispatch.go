// Package dispatch decouples webhook acknowledgement from thread processing:
// accepted mentions go onto a bounded queue and a fixed pool of workers
// drains it.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quailyquaily/threadvault/internal/event"
)

// Handler processes one mention. Errors are logged, never retried here;
// redelivery suppression upstream assumes a delivered mention runs at
// most once.
type Handler func(ctx context.Context, m event.Mention) error

type Options struct {
	Handler Handler
	// Workers is the pool size. Defaults to 4.
	Workers int
	// QueueSize bounds the pending queue. Defaults to 64.
	QueueSize int
	// JobTimeout bounds one handler invocation. Defaults to 5 minutes.
	JobTimeout time.Duration
	Logger     *slog.Logger
}

type Dispatcher struct {
	handler    Handler
	jobs       chan event.Mention
	jobTimeout time.Duration
	logger     *slog.Logger

	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func New(opts Options) (*Dispatcher, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("dispatch handler is required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	jobTimeout := opts.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		handler:    opts.Handler,
		jobs:       make(chan event.Mention, queueSize),
		jobTimeout: jobTimeout,
		logger:     logger,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d, nil
}

// Enqueue hands a mention to the pool without blocking. A full queue is an
// error so the webhook can still acknowledge quickly under load.
func (d *Dispatcher) Enqueue(m event.Mention) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("dispatcher is closed")
	}
	select {
	case d.jobs <- m:
		return nil
	default:
		return fmt.Errorf("dispatch queue is full")
	}
}

// Close stops intake and waits for queued mentions to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for m := range d.jobs {
		d.runOne(m)
	}
}

func (d *Dispatcher) runOne(m event.Mention) {
	logger := d.logger.With("event_id", m.EventID, "channel_id", m.ChannelID, "thread_key", m.ThreadKey)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dispatch_handler_panic", "panic", fmt.Sprintf("%v", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
	defer cancel()
	started := time.Now()
	if err := d.handler(ctx, m); err != nil {
		logger.Warn("dispatch_handler_error", "error", err.Error(), "elapsed", time.Since(started).String())
		return
	}
	logger.Info("dispatch_handler_done", "elapsed", time.Since(started).String())
}
