package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/framecast/internal/observe"
)

// ErrRunnerStopped is returned by [Runner.Do] once the control loop has exited.
var ErrRunnerStopped = errors.New("playback: runner stopped")

// ErrRunnerBusy is returned by [Runner.Go] when its backlog is full.
var ErrRunnerBusy = errors.New("playback: runner backlog full")

// RunnerConfig tunes the control loop.
type RunnerConfig struct {
	// TickRate is the number of ticks per second. Defaults to the scheduler's.
	TickRate int

	// CatchupMaxTicks caps the delta handed to one Tick after a stall. Ticks
	// beyond the cap are dropped. Default: 5.
	CatchupMaxTicks int

	// AsyncBacklog bounds the closures queued by [Runner.Go]. Default: 64.
	AsyncBacklog int
}

// Runner owns a [Scheduler] on a single control goroutine. It drives the
// fixed tick from a [time.Ticker] and executes closures submitted via Do
// between ticks, so every scheduler call happens on the same goroutine.
type Runner struct {
	sched   *Scheduler
	cfg     RunnerConfig
	metrics *observe.Metrics
	now     func() time.Time

	requests chan request
	async    chan func(*Scheduler)
	stopped  chan struct{}
	lastTick atomic.Int64
	ticks    atomic.Uint64
}

type request struct {
	fn   func(*Scheduler)
	done chan struct{}
}

// NewRunner returns a runner for s. Call [Runner.Run] to start it.
func NewRunner(s *Scheduler, cfg RunnerConfig, m *observe.Metrics) *Runner {
	if cfg.TickRate <= 0 {
		cfg.TickRate = s.TickRate()
	}
	if cfg.CatchupMaxTicks <= 0 {
		cfg.CatchupMaxTicks = 5
	}
	if cfg.AsyncBacklog <= 0 {
		cfg.AsyncBacklog = 64
	}
	return &Runner{
		sched:    s,
		cfg:      cfg,
		metrics:  m,
		now:      time.Now,
		requests: make(chan request),
		async:    make(chan func(*Scheduler), cfg.AsyncBacklog),
		stopped:  make(chan struct{}),
	}
}

// Run drives the loop until ctx is cancelled. It returns nil on a clean stop.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.stopped)

	interval := time.Second / time.Duration(r.cfg.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	base := r.now()
	var delivered int64
	r.lastTick.Store(base.UnixNano())

	slog.Info("playback: control loop started", "tick_rate", r.cfg.TickRate, "catchup_max_ticks", r.cfg.CatchupMaxTicks)
	for {
		select {
		case <-ctx.Done():
			slog.Info("playback: control loop stopped", "ticks", r.ticks.Load(), "sessions", r.sched.Len())
			return nil
		case req := <-r.requests:
			req.fn(r.sched)
			close(req.done)
		case fn := <-r.async:
			fn(r.sched)
		case <-ticker.C:
			now := r.now()
			delta := int64(now.Sub(base)/interval) - delivered
			if delta <= 0 {
				continue
			}
			if limit := int64(r.cfg.CatchupMaxTicks); delta > limit {
				dropped := delta - limit
				delivered += dropped
				delta = limit
				slog.Warn("playback: control loop stalled, dropping ticks", "dropped", dropped)
				if r.metrics != nil {
					r.metrics.TicksDropped.Add(ctx, dropped)
				}
			}
			delivered += delta
			r.sched.Tick(int(delta))
			r.ticks.Add(uint64(delta))
			r.lastTick.Store(now.UnixNano())
		}
	}
}

// Do runs fn on the control goroutine and waits for it to return. If ctx
// ends first, Do returns ctx.Err() and fn may still run later; callers must
// not read results fn writes in that case.
func (r *Runner) Do(ctx context.Context, fn func(*Scheduler)) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case r.requests <- req:
	case <-r.stopped:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go queues fn for the control goroutine without waiting. It is for callers
// that must not block, such as MQTT message handlers. It returns
// [ErrRunnerBusy] when the backlog is full and [ErrRunnerStopped] once the
// loop has exited. Closures still queued when the loop stops never run.
func (r *Runner) Go(fn func(*Scheduler)) error {
	select {
	case <-r.stopped:
		return ErrRunnerStopped
	default:
	}
	select {
	case r.async <- fn:
		return nil
	default:
		return ErrRunnerBusy
	}
}

// Disconnects exposes the scheduler's disconnect queue, which is safe to use
// from any goroutine.
func (r *Runner) Disconnects() *DisconnectQueue { return r.sched.Disconnects() }

// LastTick returns the wall time of the most recent tick.
func (r *Runner) LastTick() time.Time { return time.Unix(0, r.lastTick.Load()) }

// Ticks returns the number of ticks delivered so far.
func (r *Runner) Ticks() uint64 { return r.ticks.Load() }

// Check reports an error when the loop has not ticked within ten tick
// intervals. It is shaped for the readiness endpoint.
func (r *Runner) Check(context.Context) error {
	select {
	case <-r.stopped:
		return ErrRunnerStopped
	default:
	}
	last := r.lastTick.Load()
	if last == 0 {
		return errors.New("playback: control loop not started")
	}
	limit := 10 * time.Second / time.Duration(r.cfg.TickRate)
	if age := r.now().Sub(time.Unix(0, last)); age > limit {
		return errors.New("playback: control loop stalled for " + age.Round(time.Millisecond).String())
	}
	return nil
}
