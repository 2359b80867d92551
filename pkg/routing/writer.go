package routing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/skyhaul/linkmgr/pkg/logx"
)

// ErrSuperseded is returned to a caller whose pending mutation was
// replaced by a newer one before the writer picked it up.
var ErrSuperseded = errors.New("route mutation superseded")

// ErrWriterStopped is returned when the writer is shut down before a
// mutation could run.
var ErrWriterStopped = errors.New("route writer stopped")

type mutation struct {
	name   string
	apply  func(context.Context) error
	result chan error
}

// Writer serializes route mutations onto one goroutine. Only the newest
// queued mutation survives: if decisions arrive faster than ip can apply
// them, the intermediate states are skipped, not replayed.
type Writer struct {
	timeout time.Duration
	logger  *logx.Logger
	timer   *logx.OpTimer

	mu      sync.Mutex
	pending *mutation
	notify  chan struct{}

	stop chan struct{}
	done chan struct{}
}

func NewWriter(timeout time.Duration, logger *logx.Logger) *Writer {
	return &Writer{
		timeout: timeout,
		logger:  logger,
		timer:   logx.NewOpTimer(logger, timeout/2),
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Stats returns the accumulated per-mutation timing stats.
func (w *Writer) Stats() map[string]logx.OpStats {
	return w.timer.Snapshot()
}

// Start launches the writer goroutine.
func (w *Writer) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop shuts the writer down after the in-flight mutation, if any,
// completes. A pending mutation that never ran fails with
// ErrWriterStopped.
func (w *Writer) Stop() {
	close(w.stop)
	<-w.done

	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()
	if pending != nil {
		pending.result <- ErrWriterStopped
	}
}

// Do queues a mutation and blocks until it runs or is superseded. The
// mutation itself runs under the writer's bounded timeout, never under
// the caller's context.
func (w *Writer) Do(name string, apply func(context.Context) error) error {
	m := &mutation{name: name, apply: apply, result: make(chan error, 1)}

	w.mu.Lock()
	superseded := w.pending
	w.pending = m
	w.mu.Unlock()
	if superseded != nil {
		superseded.result <- ErrSuperseded
		w.logger.Warn("route mutation superseded", "superseded", superseded.name, "by", m.name)
	}

	select {
	case w.notify <- struct{}{}:
	default:
	}

	return <-m.result
}

func (w *Writer) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-w.notify:
		}

		w.mu.Lock()
		m := w.pending
		w.pending = nil
		w.mu.Unlock()
		if m == nil {
			continue
		}

		opCtx, cancel := context.WithTimeout(context.Background(), w.timeout)
		elapsed, err := w.timer.Track(m.name, func() error { return m.apply(opCtx) })
		cancel()
		if err != nil {
			w.logger.Error("route mutation failed",
				"mutation", m.name,
				"elapsed", elapsed.String(),
				"error", err.Error())
		} else {
			w.logger.Debug("route mutation applied",
				"mutation", m.name,
				"elapsed", elapsed.String())
		}
		m.result <- err
	}
}
