package playback

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/framecast/internal/observe"
	"github.com/MrWong99/framecast/pkg/anim"
)

// Handle identifies a session within one scheduler. Handles are never reused.
type Handle uint64

const handlePrefix = "anim-"

func (h Handle) String() string { return handlePrefix + strconv.FormatUint(uint64(h), 10) }

// ParseHandle parses the form produced by [Handle.String].
func ParseHandle(s string) (Handle, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, handlePrefix), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("playback: invalid session handle %q", s)
	}
	return Handle(n), nil
}

// State is a session's position in its lifecycle.
type State uint8

const (
	// StatePending is held only while a session is being registered.
	StatePending State = iota

	// StateActive sessions have live recipients and frames left to play.
	StateActive

	// StateDraining sessions have dispatched their last frame and await the
	// finish notification.
	StateDraining

	// StateTerminated sessions are done and eligible for removal.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Outcome says how a session ended.
type Outcome string

const (
	// OutcomeCompleted sessions dispatched their last frame.
	OutcomeCompleted Outcome = "completed"

	// OutcomeAbandoned sessions lost every recipient before the last frame.
	OutcomeAbandoned Outcome = "abandoned"

	// OutcomeCancelled sessions were stopped by an external cancel.
	OutcomeCancelled Outcome = "cancelled"
)

// Session is one running instance of an animation for a resolved recipient
// set. It is owned by the [Scheduler] and only touched on the control
// goroutine.
type Session struct {
	handle    Handle
	def       *anim.Definition
	kind      anim.Kind
	channel   anim.Channel
	condition *anim.Condition

	recipients []anim.Recipient
	lost       []anim.Recipient
	clock      *FrameClock

	state     State
	outcome   Outcome
	frame     int
	startedAt time.Time

	span *observe.SessionSpan
}

func newSession(h Handle, def *anim.Definition, kind anim.Kind, ch anim.Channel,
	cond *anim.Condition, recipients []anim.Recipient, tickRate int, now time.Time) *Session {
	return &Session{
		handle:     h,
		def:        def,
		kind:       kind,
		channel:    ch,
		condition:  cond,
		recipients: slices.Clone(recipients),
		clock:      NewFrameClock(def.FPS, tickRate, len(def.Frames)),
		state:      StatePending,
		frame:      -1,
		startedAt:  now,
	}
}

// start moves a pending session to active and dispatches frame 0.
func (s *Session) start(d *Dispatcher) {
	if s.state != StatePending {
		return
	}
	s.state = StateActive
	s.dispatch(0, d)
}

// advance steps the clock by delta ticks and dispatches every frame stepped
// over, in order.
func (s *Session) advance(delta int, d *Dispatcher) {
	if s.state != StateActive {
		return
	}
	for range s.clock.Advance(delta) {
		s.dispatch(s.frame+1, d)
		if s.state != StateActive {
			return
		}
	}
}

func (s *Session) dispatch(idx int, d *Dispatcher) {
	f := Frame{Handle: s.handle, Def: s.def, Channel: s.channel, Index: idx}
	kept := s.recipients[:0:0]
	for _, r := range s.recipients {
		if d.Dispatch(f, r) {
			kept = append(kept, r)
		} else {
			s.lost = append(s.lost, r)
		}
	}
	s.recipients = kept
	s.frame = idx
	s.span.Frame(idx, len(kept))

	switch {
	case len(s.recipients) == 0:
		s.terminate(OutcomeAbandoned)
	case idx >= s.def.LastFrame():
		s.state = StateDraining
	}
}

// remove drops the recipient with the given ID. It reports whether the
// recipient was present. Once the last frame has been dispatched the witness
// list is fixed and remove is a no-op.
func (s *Session) remove(id string) bool {
	if s.state != StateActive {
		return false
	}
	i := slices.IndexFunc(s.recipients, func(r anim.Recipient) bool { return r.ID == id })
	if i < 0 {
		return false
	}
	s.lost = append(s.lost, s.recipients[i])
	s.recipients = slices.Delete(s.recipients, i, i+1)
	if len(s.recipients) == 0 {
		s.terminate(OutcomeAbandoned)
	}
	return true
}

func (s *Session) terminate(o Outcome) {
	s.state = StateTerminated
	s.outcome = o
}

// witnesses returns the recipients that saw the last frame. It is empty for
// abandoned and cancelled sessions.
func (s *Session) witnesses() []anim.Recipient {
	if s.outcome != OutcomeCompleted {
		return []anim.Recipient{}
	}
	return slices.Clone(s.recipients)
}

// drainLost returns and clears the recipients lost since the last call.
func (s *Session) drainLost() []anim.Recipient {
	lost := s.lost
	s.lost = nil
	return lost
}

// Handle returns the session's identifier.
func (s *Session) Handle() Handle { return s.handle }

// State returns the session's lifecycle state.
func (s *Session) State() State { return s.state }

// Frame returns the most recently dispatched frame index, or -1.
func (s *Session) Frame() int { return s.frame }

// Info is a read-only snapshot of a session.
type Info struct {
	Handle     Handle           `json:"-"`
	ID         string           `json:"id"`
	Animation  string           `json:"animation"`
	Kind       anim.Kind        `json:"kind"`
	Channel    anim.Channel     `json:"channel"`
	Frame      int              `json:"frame"`
	Frames     int              `json:"frames"`
	State      string           `json:"state"`
	Condition  string           `json:"condition,omitempty"`
	Recipients []anim.Recipient `json:"recipients"`
	StartedAt  time.Time        `json:"started_at"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	info := Info{
		Handle:     s.handle,
		ID:         s.handle.String(),
		Animation:  s.def.Name,
		Kind:       s.kind,
		Channel:    s.channel,
		Frame:      s.frame,
		Frames:     len(s.def.Frames),
		State:      s.state.String(),
		Recipients: slices.Clone(s.recipients),
		StartedAt:  s.startedAt,
	}
	if s.condition != nil {
		info.Condition = s.condition.ID
	}
	return info
}
