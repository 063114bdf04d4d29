// Package playback is the animation scheduling engine. A [Scheduler] turns
// animation definitions into running sessions, advances them on a fixed
// tick, dispatches each frame's text, sounds and commands to the live
// recipients, and reports who witnessed completion.
//
// Everything in this package except [DisconnectQueue] and [Runner.Do] must
// be used from a single control goroutine; [Runner] provides one.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MrWong99/framecast/internal/observe"
	"github.com/MrWong99/framecast/pkg/anim"
)

// Defaults used when the corresponding option is not given.
const (
	DefaultTickRate          = 20
	DefaultDisconnectBacklog = 1024
)

// ErrInvalidRequest wraps every structural problem with a show request: a bad
// inline definition, target, channel or condition.
var ErrInvalidRequest = errors.New("playback: invalid show request")

// Request asks the scheduler to show an animation. Exactly one of Name and
// Definition must be set.
type Request struct {
	Name       string
	Definition *anim.Definition
	Target     anim.Target
	Channel    anim.Channel

	// Condition filters recipients at start. Nil admits everyone.
	Condition *anim.Condition
}

// Result describes the outcome of a show request. Single-recipient callers
// read Shown; the rest read Recipients.
type Result struct {
	Handle     Handle
	Recipients []anim.Recipient
	Shown      bool
}

// Scheduler owns the active sessions and advances them once per tick.
type Scheduler struct {
	catalog    anim.Catalog
	tickRate   int
	dispatcher *Dispatcher
	resolver   *Resolver
	reporter   ErrorReporter
	metrics    *observe.Metrics
	now        func() time.Time

	disconnects *DisconnectQueue
	backlog     int

	sessions map[Handle]*Session
	order    []Handle
	last     Handle

	startHooks []StartHook
	started    []func(StartedEvent)
	finished   []func(FinishEvent)
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithTickRate sets the host tick rate in ticks per second.
func WithTickRate(tps int) Option {
	return func(s *Scheduler) {
		if tps > 0 {
			s.tickRate = tps
		}
	}
}

// WithMetrics records scheduler activity to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock overrides the wall clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithDisconnectQueue replaces the scheduler's disconnect queue.
func WithDisconnectQueue(q *DisconnectQueue) Option {
	return func(s *Scheduler) { s.disconnects = q }
}

// WithDisconnectBacklog sizes the default disconnect queue. Default: 1024.
func WithDisconnectBacklog(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.backlog = n
		}
	}
}

// WithStartHook registers a pre-commit hook. See [Scheduler.OnStart].
func WithStartHook(h StartHook) Option {
	return func(s *Scheduler) { s.startHooks = append(s.startHooks, h) }
}

// WithFinishListener registers a finish listener. See [Scheduler.OnFinish].
func WithFinishListener(l FinishListener) Option {
	return func(s *Scheduler) { s.finished = append(s.finished, l) }
}

// NewScheduler returns a scheduler reading animations from catalog and
// driving the collaborators in c.
func NewScheduler(catalog anim.Catalog, c Collaborators, opts ...Option) *Scheduler {
	s := &Scheduler{
		catalog:  catalog,
		tickRate: DefaultTickRate,
		backlog:  DefaultDisconnectBacklog,
		now:      time.Now,
		sessions: make(map[Handle]*Session),
	}
	for _, o := range opts {
		o(s)
	}
	if s.disconnects == nil {
		s.disconnects = NewDisconnectQueue(s.backlog, s.onDisconnectOverflow)
	}

	next := c.Reporter
	if next == nil {
		next = LogReporter{}
	}
	s.reporter = ReporterFunc(func(err *DirectiveError) {
		if s.metrics != nil {
			s.metrics.RecordDirectiveFailure(context.Background(), err.Directive)
		}
		next.Report(err)
	})
	c.Reporter = s.reporter

	s.dispatcher = NewDispatcher(c)
	s.resolver = NewResolver(c.Directory, c.Liveness, NewConditionEvaluator(c.Capabilities, c.Expressions))
	s.resolver.onConditionError = func(cond *anim.Condition, r anim.Recipient, err error) {
		s.reporter.Report(&DirectiveError{
			Frame:     -1,
			Recipient: r,
			Directive: DirectiveCondition,
			Detail:    cond.ID,
			Err:       err,
		})
	}
	return s
}

// OnStart registers a hook consulted before every session is committed.
// Hooks run in registration order; any of them may veto or shrink the set.
func (s *Scheduler) OnStart(h StartHook) { s.startHooks = append(s.startHooks, h) }

// OnStarted registers a listener for committed sessions.
func (s *Scheduler) OnStarted(l StartedListener) { s.started = append(s.started, l) }

// OnFinish registers a listener for finished sessions.
func (s *Scheduler) OnFinish(l FinishListener) { s.finished = append(s.finished, l) }

// Disconnects returns the queue network goroutines push recipient IDs onto
// when a connection drops. It is safe for concurrent use.
func (s *Scheduler) Disconnects() *DisconnectQueue { return s.disconnects }

// TickRate returns the configured ticks per second.
func (s *Scheduler) TickRate() int { return s.tickRate }

// Names returns the catalog's animation names, sorted and deduplicated.
func (s *Scheduler) Names() []string {
	names := slices.Clone(s.catalog.Names())
	slices.Sort(names)
	return slices.Compact(names)
}

// Lookup returns the named definition or a [*anim.NotFoundError].
func (s *Scheduler) Lookup(name string) (*anim.Definition, error) {
	if def, ok := s.catalog.Lookup(name); ok {
		return def, nil
	}
	nf := &anim.NotFoundError{Name: name}
	if sg, ok := s.catalog.(anim.Suggester); ok {
		nf.Suggestions = sg.Suggest(name)
	}
	return nil, nf
}

// ShowName shows the catalog animation name. See [Scheduler.Show].
func (s *Scheduler) ShowName(name string, t anim.Target, ch anim.Channel, cond *anim.Condition) (Result, error) {
	return s.Show(Request{Name: name, Target: t, Channel: ch, Condition: cond})
}

// ShowDefinition shows def directly, bypassing the catalog. The session is
// reported with [anim.KindAPI].
func (s *Scheduler) ShowDefinition(def *anim.Definition, t anim.Target, ch anim.Channel, cond *anim.Condition) (Result, error) {
	return s.Show(Request{Definition: def, Target: t, Channel: ch, Condition: cond})
}

// Show resolves the request's recipients, runs the start hooks and, unless
// nothing survives, registers a session and dispatches its first frame.
//
// The only errors are a missing animation ([anim.ErrAnimationNotFound]) and
// a malformed request ([ErrInvalidRequest]). An empty recipient set or a
// veto yields a zero Result with a nil error.
func (s *Scheduler) Show(req Request) (Result, error) {
	return s.ShowContext(context.Background(), req)
}

// ShowContext is [Scheduler.Show] for a caller with a trace. The session
// span links to the span in ctx. ctx is not used for cancellation.
func (s *Scheduler) ShowContext(ctx context.Context, req Request) (Result, error) {

	def, kind, err := s.definition(req)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, anim.ErrAnimationNotFound) {
			reason = "not_found"
		}
		s.rejected(ctx, reason)
		return Result{}, err
	}

	ch := req.Channel
	if ch == "" {
		ch = anim.ChannelTitle
	}
	if !ch.IsValid() {
		s.rejected(ctx, "invalid")
		return Result{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidRequest, ch)
	}

	var cond *anim.Condition
	if req.Condition != nil {
		c := req.Condition.Normalized()
		if err := c.Validate(); err != nil {
			s.rejected(ctx, "invalid")
			return Result{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		cond = &c
	}

	recipients, err := s.resolver.Resolve(req.Target, cond)
	if err != nil {
		s.rejected(ctx, "invalid")
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if len(recipients) == 0 {
		s.rejected(ctx, "empty")
		return Result{}, nil
	}

	recipients, vetoed := runStartHooks(s.startHooks, StartEvent{
		Animation:  def.Name,
		Kind:       kind,
		Channel:    ch,
		Condition:  cond,
		Recipients: recipients,
	})
	if vetoed {
		s.rejected(ctx, "veto")
		slog.Debug("playback: start vetoed", "animation", def.Name)
		return Result{}, nil
	}
	if len(recipients) == 0 {
		s.rejected(ctx, "empty")
		return Result{}, nil
	}

	s.last++
	sess := newSession(s.last, def, kind, ch, cond, recipients, s.tickRate, s.now())
	sess.span = observe.StartSessionSpan(ctx, observe.SessionInfo{
		Handle:     sess.handle.String(),
		Animation:  def.Name,
		Kind:       string(kind),
		Channel:    string(ch),
		Recipients: len(recipients),
	})
	s.sessions[sess.handle] = sess
	s.order = append(s.order, sess.handle)
	if s.metrics != nil {
		s.metrics.RecordSessionStarted(ctx, def.Name, string(kind))
	}
	slog.Debug("playback: session started",
		"session", sess.handle.String(), "animation", def.Name, "recipients", len(recipients))

	notify("started", s.started, StartedEvent{
		Handle:     sess.handle,
		Animation:  def.Name,
		Kind:       kind,
		Channel:    ch,
		Recipients: slices.Clone(recipients),
		StartedAt:  sess.startedAt,
	})

	sess.start(s.dispatcher)
	s.settle(ctx, sess)

	return Result{Handle: sess.handle, Recipients: recipients, Shown: true}, nil
}

func (s *Scheduler) definition(req Request) (*anim.Definition, anim.Kind, error) {
	switch {
	case req.Definition != nil && req.Name != "":
		return nil, "", fmt.Errorf("%w: name and definition are mutually exclusive", ErrInvalidRequest)
	case req.Definition != nil:
		if err := req.Definition.Validate(); err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return req.Definition, anim.KindAPI, nil
	case req.Name != "":
		def, err := s.Lookup(req.Name)
		if err != nil {
			return nil, "", err
		}
		kind := def.Kind
		if kind == "" {
			kind = anim.KindPlainText
		}
		return def, kind, nil
	default:
		return nil, "", fmt.Errorf("%w: animation name or definition required", ErrInvalidRequest)
	}
}

// Cancel stops the session h. No further frames are dispatched and the
// session cannot resume. Cancel is idempotent and reports whether it stopped
// a running session.
func (s *Scheduler) Cancel(h Handle) bool {
	sess, ok := s.sessions[h]
	if !ok || sess.state == StateTerminated {
		return false
	}
	sess.terminate(OutcomeCancelled)
	s.settle(context.Background(), sess)
	return true
}

// Tick advances every session by deltaTicks. Pending disconnects are applied
// first, then sessions advance in registration order, and finished sessions
// are removed.
func (s *Scheduler) Tick(deltaTicks int) {
	start := time.Now()
	ctx := context.Background()

	if ids := s.disconnects.Drain(); len(ids) > 0 {
		for _, id := range ids {
			for _, h := range s.order {
				if sess, ok := s.sessions[h]; ok && sess.remove(id) {
					slog.Debug("playback: recipient left", "session", h.String(), "recipient", id)
				}
			}
		}
		for _, h := range slices.Clone(s.order) {
			if sess, ok := s.sessions[h]; ok {
				s.settle(ctx, sess)
			}
		}
	}

	for _, h := range slices.Clone(s.order) {
		sess, ok := s.sessions[h]
		if !ok {
			continue
		}
		sess.advance(deltaTicks, s.dispatcher)
		s.settle(ctx, sess)
	}

	s.compact()
	if s.metrics != nil {
		s.metrics.TickDuration.Record(ctx, time.Since(start).Seconds())
	}
}

// settle records lost recipients and finalises sessions that have reached
// the end of their life.
func (s *Scheduler) settle(ctx context.Context, sess *Session) {
	if lost := sess.drainLost(); len(lost) > 0 && s.metrics != nil {
		s.metrics.RecipientsLost.Add(ctx, int64(len(lost)))
	}
	switch sess.state {
	case StateDraining:
		sess.terminate(OutcomeCompleted)
	case StateTerminated:
	default:
		return
	}
	if _, live := s.sessions[sess.handle]; !live {
		return
	}
	delete(s.sessions, sess.handle)

	ev := FinishEvent{
		Handle:     sess.handle,
		Animation:  sess.def.Name,
		Kind:       sess.kind,
		Channel:    sess.channel,
		Recipients: sess.witnesses(),
		Outcome:    sess.outcome,
		StartedAt:  sess.startedAt,
		FinishedAt: s.now(),
	}
	sess.span.End(string(ev.Outcome), len(ev.Recipients))
	if s.metrics != nil {
		s.metrics.RecordSessionFinished(ctx, ev.Animation, string(ev.Outcome))
	}
	slog.Debug("playback: session finished",
		"session", ev.Handle.String(),
		"animation", ev.Animation,
		"outcome", ev.Outcome,
		"witnesses", len(ev.Recipients),
	)
	notify("finish", s.finished, ev)
}

// compact drops handles of removed sessions from the registration order.
func (s *Scheduler) compact() {
	s.order = slices.DeleteFunc(s.order, func(h Handle) bool {
		_, ok := s.sessions[h]
		return !ok
	})
}

// Len returns the number of registered sessions.
func (s *Scheduler) Len() int { return len(s.sessions) }

// Sessions returns snapshots of the registered sessions in registration order.
func (s *Scheduler) Sessions() []Info {
	out := make([]Info, 0, len(s.sessions))
	for _, h := range s.order {
		if sess, ok := s.sessions[h]; ok {
			out = append(out, sess.Info())
		}
	}
	return out
}

// Session returns a snapshot of session h.
func (s *Scheduler) Session(h Handle) (Info, bool) {
	sess, ok := s.sessions[h]
	if !ok {
		return Info{}, false
	}
	return sess.Info(), true
}

func (s *Scheduler) rejected(ctx context.Context, reason string) {
	if s.metrics != nil {
		s.metrics.RecordShowRejected(ctx, reason)
	}
}

func (s *Scheduler) onDisconnectOverflow(id string) {
	slog.Warn("playback: disconnect queue full, relying on liveness checks", "recipient", id)
	if s.metrics != nil {
		s.metrics.DisconnectOverflow.Add(context.Background(), 1)
	}
}
