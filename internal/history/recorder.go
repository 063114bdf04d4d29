package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/framecast/internal/observe"
	"github.com/MrWong99/framecast/internal/playback"
	"github.com/MrWong99/framecast/internal/resilience"
)

// DefaultBuffer is the number of runs a [Recorder] queues before dropping.
const DefaultBuffer = 256

// ErrClosed is returned by [Recorder.Record] after Close.
var ErrClosed = errors.New("history: recorder closed")

// Writer is the write side of [Store].
type Writer interface {
	Insert(ctx context.Context, run Run) error
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithBuffer sets the queue capacity.
func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.buffer = n
		}
	}
}

// WithBreaker guards writes with b.
func WithBreaker(b *resilience.Breaker) RecorderOption {
	return func(r *Recorder) { r.breaker = b }
}

// WithMetrics counts writes by status.
func WithMetrics(m *observe.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// WithWriteTimeout bounds each insert. Default: 5s.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// Recorder turns finish events into stored runs without blocking playback.
type Recorder struct {
	w       Writer
	breaker *resilience.Breaker
	metrics *observe.Metrics
	buffer  int
	timeout time.Duration
	newID   func() string

	queue chan Run
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts a recorder writing to w. Call Close to flush and stop.
func NewRecorder(w Writer, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		w:       w,
		buffer:  DefaultBuffer,
		timeout: 5 * time.Second,
		newID:   uuid.NewString,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.breaker == nil {
		r.breaker = resilience.New(resilience.Config{Name: "history"})
	}
	r.queue = make(chan Run, r.buffer)
	go r.loop()
	return r
}

// OnFinish is a [playback.FinishListener].
func (r *Recorder) OnFinish(ev playback.FinishEvent) {
	if err := r.Record(ev); err != nil {
		slog.Warn("history: run not recorded", "session", ev.Handle.String(), "animation", ev.Animation, "err", err)
	}
}

// Record queues ev. It never blocks; a full queue drops the run.
func (r *Recorder) Record(ev playback.FinishEvent) error {
	run := Run{
		ID:         r.newID(),
		Session:    ev.Handle.String(),
		Animation:  ev.Animation,
		Kind:       ev.Kind,
		Channel:    ev.Channel,
		Outcome:    string(ev.Outcome),
		Witnesses:  ev.Recipients,
		StartedAt:  ev.StartedAt,
		FinishedAt: ev.FinishedAt,
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.queue <- run:
		return nil
	default:
		r.count("dropped")
		return errors.New("history: queue full")
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for run := range r.queue {
		err := r.breaker.Execute(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			defer cancel()
			return r.w.Insert(ctx, run)
		})
		switch {
		case err == nil:
			r.count("ok")
		case errors.Is(err, resilience.ErrCircuitOpen):
			r.count("rejected")
			slog.Debug("history: write skipped, circuit open", "run", run.ID)
		default:
			r.count("error")
			slog.Warn("history: write failed", "run", run.ID, "animation", run.Animation, "err", err)
		}
	}
}

func (r *Recorder) count(status string) {
	if r.metrics != nil {
		r.metrics.RecordHistoryWrite(context.Background(), status)
	}
}

// Check reports the breaker state for readiness.
func (r *Recorder) Check(ctx context.Context) error { return r.breaker.Check(ctx) }

// Close stops accepting runs and waits for queued ones to be written, or
// for ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
