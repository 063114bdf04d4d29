package playback

import (
	"log/slog"
	"slices"
	"time"

	"github.com/MrWong99/framecast/pkg/anim"
)

// StartEvent describes a show request that has resolved its recipients but
// has not been committed yet.
type StartEvent struct {
	Animation  string
	Kind       anim.Kind
	Channel    anim.Channel
	Condition  *anim.Condition
	Recipients []anim.Recipient
}

// Decision is a start hook's verdict. The zero Decision continues with the
// recipient list unchanged.
type Decision struct {
	veto       bool
	filtered   bool
	recipients []anim.Recipient
}

// Continue lets the session start with recipients. Recipients the event did
// not already contain are ignored: hooks can shrink the set, never grow it.
func Continue(recipients []anim.Recipient) Decision {
	return Decision{filtered: true, recipients: recipients}
}

// Veto stops the session from being created.
func Veto() Decision { return Decision{veto: true} }

// Vetoed reports whether d vetoes the start.
func (d Decision) Vetoed() bool { return d.veto }

// StartHook runs before a session is committed.
type StartHook func(StartEvent) Decision

// StartedEvent is emitted once a session is registered, before its first
// frame is dispatched.
type StartedEvent struct {
	Handle     Handle
	Animation  string
	Kind       anim.Kind
	Channel    anim.Channel
	Recipients []anim.Recipient
	StartedAt  time.Time
}

// FinishEvent is emitted exactly once per committed session.
type FinishEvent struct {
	Handle    Handle
	Animation string
	Kind      anim.Kind
	Channel   anim.Channel

	// Recipients witnessed the last frame. Empty unless Outcome is completed.
	Recipients []anim.Recipient

	Outcome    Outcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// StartedListener observes committed sessions.
type StartedListener func(StartedEvent)

// FinishListener observes finished sessions.
type FinishListener func(FinishEvent)

// runStartHooks applies hooks in order. It returns the surviving recipients,
// or vetoed=true. Each hook sees the list left by the previous one.
func runStartHooks(hooks []StartHook, ev StartEvent) (recipients []anim.Recipient, vetoed bool) {
	current := slices.Clone(ev.Recipients)
	for i, hook := range hooks {
		ev.Recipients = slices.Clone(current)
		d, ok := callStartHook(hook, ev)
		if !ok {
			slog.Error("playback: start hook panicked, vetoing", "animation", ev.Animation, "hook", i)
			return nil, true
		}
		if d.veto {
			return nil, true
		}
		if d.filtered {
			current = intersect(current, d.recipients)
		}
		if len(current) == 0 {
			return current, false
		}
	}
	return current, false
}

func callStartHook(hook StartHook, ev StartEvent) (d Decision, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("playback: start hook panic", "panic", r)
			ok = false
		}
	}()
	return hook(ev), true
}

// intersect keeps the members of base whose IDs appear in keep, in base order.
func intersect(base, keep []anim.Recipient) []anim.Recipient {
	ids := make(map[string]struct{}, len(keep))
	for _, r := range keep {
		ids[r.ID] = struct{}{}
	}
	out := base[:0:0]
	for _, r := range base {
		if _, ok := ids[r.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

func notify[E any](kind string, listeners []func(E), ev E) {
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("playback: listener panic", "event", kind, "panic", r)
				}
			}()
			l(ev)
		}()
	}
}
