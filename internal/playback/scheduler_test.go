package playback

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/MrWong99/framecast/pkg/anim"
	"github.com/MrWong99/framecast/pkg/anim/mock"
)

var (
	alice = anim.Recipient{ID: "alice", Name: "Alice"}
	bob   = anim.Recipient{ID: "bob", Name: "Bob"}
	carol = anim.Recipient{ID: "carol", Name: "Carol"}
)

func welcome() *anim.Definition {
	return &anim.Definition{
		Name:   "welcome",
		Kind:   anim.KindPlainText,
		Frames: []string{"W", "We", "Welcome"},
		FPS:    2,
		Commands: map[int][]anim.Command{
			1: {{Kind: anim.CommandMessage, Value: "hi"}},
		},
	}
}

// harness bundles a scheduler with a mock world and captured finish events.
type harness struct {
	sched    *Scheduler
	world    *mock.World
	finished []FinishEvent
	reported []*DirectiveError
}

func newHarness(t *testing.T, defs ...*anim.Definition) *harness {
	t.Helper()
	h := &harness{world: mock.NewWorld(alice, bob, carol)}
	h.sched = NewScheduler(mock.NewCatalog(defs...), Collaborators{
		Display:      h.world,
		Sounds:       h.world,
		Messenger:    h.world,
		Commands:     h.world,
		Liveness:     h.world,
		Directory:    h.world,
		Capabilities: h.world,
		Reporter:     ReporterFunc(func(err *DirectiveError) { h.reported = append(h.reported, err) }),
	}, WithTickRate(20))
	h.sched.OnFinish(func(ev FinishEvent) { h.finished = append(h.finished, ev) })
	return h
}

func (h *harness) ticks(n int) {
	for range n {
		h.sched.Tick(1)
	}
}

func ids(rs []anim.Recipient) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestWelcomeScenario(t *testing.T) {
	h := newHarness(t, welcome())

	res, err := h.sched.ShowName("welcome", anim.ToRecipient(alice), anim.ChannelTitle, nil)
	if err != nil {
		t.Fatalf("ShowName: %v", err)
	}
	if !res.Shown {
		t.Fatal("Shown = false, want true")
	}

	calls := h.world.Calls()
	if len(calls) != 1 || calls[0].Text != "W" || calls[0].Channel != anim.ChannelTitle {
		t.Fatalf("after show: calls = %v, want frame 0 delivered immediately", calls)
	}

	h.ticks(9)
	if got := len(h.world.Calls()); got != 1 {
		t.Fatalf("after 9 ticks: %d calls, want 1\n%s", got, h.world.Transcript())
	}

	h.ticks(1)
	calls = h.world.Calls()
	if len(calls) != 3 {
		t.Fatalf("after 10 ticks: %d calls, want 3\n%s", len(calls), h.world.Transcript())
	}
	if calls[1].Method != "deliver" || calls[1].Text != "We" {
		t.Errorf("calls[1] = %v, want deliver of frame 1", calls[1])
	}
	if calls[2].Method != "message" || calls[2].Text != "hi" {
		t.Errorf("calls[2] = %v, want message \"hi\"", calls[2])
	}

	h.ticks(9)
	if got := len(h.world.Calls()); got != 3 {
		t.Fatalf("after 19 ticks: %d calls, want 3", got)
	}
	if len(h.finished) != 0 {
		t.Fatal("finish emitted before last frame")
	}

	h.ticks(1)
	calls = h.world.Calls()
	if len(calls) != 4 || calls[3].Text != "Welcome" {
		t.Fatalf("after 20 ticks: calls =\n%s", h.world.Transcript())
	}
	if len(h.finished) != 1 {
		t.Fatalf("finish events = %d, want 1", len(h.finished))
	}
	ev := h.finished[0]
	if ev.Animation != "welcome" || ev.Kind != anim.KindPlainText || ev.Outcome != OutcomeCompleted {
		t.Errorf("finish = %+v", ev)
	}
	if got := ids(ev.Recipients); !slices.Equal(got, []string{"alice"}) {
		t.Errorf("witnesses = %v, want [alice]", got)
	}
	if h.sched.Len() != 0 {
		t.Errorf("Len() = %d after finish, want 0", h.sched.Len())
	}
}

func TestDisconnectBetweenFrames(t *testing.T) {
	tests := []struct {
		name     string
		viaQueue bool
	}{
		{name: "queued disconnect", viaQueue: true},
		{name: "liveness at dispatch", viaQueue: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, welcome())
			if _, err := h.sched.ShowName("welcome", anim.ToRecipient(alice), "", nil); err != nil {
				t.Fatalf("ShowName: %v", err)
			}
			h.ticks(10)
			before := len(h.world.Calls())

			h.world.Disconnect(alice.ID)
			if tt.viaQueue {
				h.sched.Disconnects().Push(alice.ID)
			}
			h.ticks(15)

			if got := len(h.world.Calls()); got != before {
				t.Errorf("dispatch after disconnect:\n%s", h.world.Transcript())
			}
			if len(h.finished) != 1 {
				t.Fatalf("finish events = %d, want 1", len(h.finished))
			}
			ev := h.finished[0]
			if len(ev.Recipients) != 0 {
				t.Errorf("witnesses = %v, want empty", ids(ev.Recipients))
			}
			if ev.Outcome != OutcomeAbandoned {
				t.Errorf("outcome = %q, want abandoned", ev.Outcome)
			}
			if h.sched.Len() != 0 {
				t.Errorf("Len() = %d, want 0", h.sched.Len())
			}
		})
	}
}

func TestShowMissingAnimation(t *testing.T) {
	h := newHarness(t, welcome())

	res, err := h.sched.ShowName("missing", anim.ToRecipient(alice), anim.ChannelTitle, nil)
	if !errors.Is(err, anim.ErrAnimationNotFound) {
		t.Fatalf("err = %v, want ErrAnimationNotFound", err)
	}
	var nf *anim.NotFoundError
	if !errors.As(err, &nf) || nf.Name != "missing" {
		t.Errorf("err = %#v, want *anim.NotFoundError for \"missing\"", err)
	}
	if res.Shown || res.Handle != 0 {
		t.Errorf("result = %+v, want zero", res)
	}
	if h.sched.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.sched.Len())
	}
	if calls := h.world.Calls(); len(calls) != 0 {
		t.Errorf("transport calls = %v, want none", calls)
	}
}

func TestOverlappingSessionsAreIndependent(t *testing.T) {
	h := newHarness(t, welcome())

	first, err := h.sched.ShowName("welcome", anim.ToRecipient(alice), anim.ChannelTitle, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.ticks(5)
	second, err := h.sched.ShowName("welcome", anim.ToRecipient(alice), anim.ChannelTitle, nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.Handle == second.Handle {
		t.Fatalf("handles collide: %v", first.Handle)
	}
	if h.sched.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", h.sched.Len())
	}

	h.ticks(15) // first at tick 20, second at tick 15
	if len(h.finished) != 1 || h.finished[0].Handle != first.Handle {
		t.Fatalf("after 20 ticks finished = %+v, want only the first session", h.finished)
	}
	info, ok := h.sched.Session(second.Handle)
	if !ok || info.Frame != 1 {
		t.Fatalf("second session = %+v, %v; want frame 1", info, ok)
	}

	h.ticks(5)
	if len(h.finished) != 2 || h.finished[1].Handle != second.Handle {
		t.Fatalf("finished = %+v, want second session last", h.finished)
	}
	for _, ev := range h.finished {
		if got := ids(ev.Recipients); !slices.Equal(got, []string{"alice"}) {
			t.Errorf("%s witnesses = %v", ev.Handle, got)
		}
	}

	var frames []string
	for _, c := range h.world.Calls() {
		if c.Method == "deliver" {
			frames = append(frames, c.Text)
		}
	}
	want := []string{"W", "W", "We", "We", "Welcome", "Welcome"}
	if !slices.Equal(frames, want) {
		t.Errorf("delivered frames = %v, want %v", frames, want)
	}
}

func TestStallDispatchesEveryIntermediateFrame(t *testing.T) {
	h := newHarness(t, welcome())
	if _, err := h.sched.ShowName("welcome", anim.ToRecipient(alice), "", nil); err != nil {
		t.Fatal(err)
	}
	h.sched.Tick(25)

	var got []string
	for _, c := range h.world.Calls() {
		got = append(got, c.Method+":"+c.Text)
	}
	want := []string{"deliver:W", "deliver:We", "message:hi", "deliver:Welcome"}
	if !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if len(h.finished) != 1 || h.finished[0].Outcome != OutcomeCompleted {
		t.Errorf("finished = %+v", h.finished)
	}
}

func TestFrameIndexIsMonotonic(t *testing.T) {
	def := &anim.Definition{Name: "long", Frames: make([]string, 40), FPS: 7.3}
	for i := range def.Frames {
		def.Frames[i] = string(rune('a' + i%26))
	}
	h := newHarness(t, def)
	res, err := h.sched.ShowName("long", anim.ToServer(), "", nil)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewPCG(1, 2))
	prev := 0
	for h.sched.Len() > 0 {
		h.sched.Tick(rng.IntN(4))
		info, ok := h.sched.Session(res.Handle)
		if !ok {
			break
		}
		if info.Frame < prev {
			t.Fatalf("frame went backwards: %d -> %d", prev, info.Frame)
		}
		if info.Frame > def.LastFrame() {
			t.Fatalf("frame %d beyond last %d", info.Frame, def.LastFrame())
		}
		prev = info.Frame
	}

	for _, r := range []anim.Recipient{alice, bob, carol} {
		if got := len(h.world.CallsFor(r.ID)); got != len(def.Frames) {
			t.Errorf("%s got %d frames, want %d", r.ID, got, len(def.Frames))
		}
	}
}

func TestRemovedRecipientIsExcluded(t *testing.T) {
	def := &anim.Definition{Name: "five", Frames: []string{"1", "2", "3", "4", "5"}, FPS: 20}
	h := newHarness(t, def)
	res, err := h.sched.ShowName("five", anim.ToRecipients(alice, bob, carol), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(res.Recipients); !slices.Equal(got, []string{"alice", "bob", "carol"}) {
		t.Fatalf("recipients = %v", got)
	}

	h.ticks(1)
	h.sched.Disconnects().Push(bob.ID)
	bobCalls := len(h.world.CallsFor(bob.ID))
	h.ticks(10)

	if got := len(h.world.CallsFor(bob.ID)); got != bobCalls {
		t.Errorf("bob received %d calls after removal", got-bobCalls)
	}
	if len(h.finished) != 1 {
		t.Fatalf("finished = %d, want 1", len(h.finished))
	}
	if got := ids(h.finished[0].Recipients); !slices.Equal(got, []string{"alice", "carol"}) {
		t.Errorf("witnesses = %v, want [alice carol]", got)
	}
}

func TestCancelBeforeDispatch(t *testing.T) {
	h := newHarness(t, welcome())
	h.sched.OnStarted(func(ev StartedEvent) {
		if !h.sched.Cancel(ev.Handle) {
			t.Error("Cancel in started listener = false")
		}
	})

	res, err := h.sched.ShowName("welcome", anim.ToRecipient(alice), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	h.ticks(40)

	if calls := h.world.Calls(); len(calls) != 0 {
		t.Errorf("transport calls = %v, want none", calls)
	}
	if h.sched.Cancel(res.Handle) {
		t.Error("second Cancel = true, want idempotent false")
	}
	if len(h.finished) != 1 || h.finished[0].Outcome != OutcomeCancelled || len(h.finished[0].Recipients) != 0 {
		t.Errorf("finished = %+v, want one cancelled event without witnesses", h.finished)
	}
	if h.sched.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.sched.Len())
	}
}

func TestCancelMidPlayback(t *testing.T) {
	h := newHarness(t, welcome())
	res, err := h.sched.ShowName("welcome", anim.ToRecipient(alice), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	h.ticks(10)
	before := len(h.world.Calls())

	if !h.sched.Cancel(res.Handle) {
		t.Fatal("Cancel = false, want true")
	}
	h.ticks(20)
	if got := len(h.world.Calls()); got != before {
		t.Errorf("calls after cancel:\n%s", h.world.Transcript())
	}
	if _, ok := h.sched.Session(res.Handle); ok {
		t.Error("cancelled session still registered")
	}
	if h.sched.Cancel(res.Handle) {
		t.Error("Cancel after termination = true")
	}
	if h.sched.Cancel(Handle(999)) {
		t.Error("Cancel of unknown handle = true")
	}
}

func TestVetoCreatesNoSession(t *testing.T) {
	h := newHarness(t, welcome())
	var seen StartEvent
	h.sched.OnStart(func(ev StartEvent) Decision {
		seen = ev
		return Veto()
	})
	started := 0
	h.sched.OnStarted(func(StartedEvent) { started++ })

	res, err := h.sched.ShowName("welcome", anim.ToServer(), anim.ChannelSubtitle, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Shown || len(res.Recipients) != 0 {
		t.Errorf("result = %+v, want not shown", res)
	}
	if seen.Animation != "welcome" || seen.Kind != anim.KindPlainText || len(seen.Recipients) != 3 {
		t.Errorf("start event = %+v", seen)
	}
	h.ticks(30)
	if h.sched.Len() != 0 || started != 0 || len(h.finished) != 0 {
		t.Errorf("Len=%d started=%d finished=%d, want all zero", h.sched.Len(), started, len(h.finished))
	}
	if calls := h.world.Calls(); len(calls) != 0 {
		t.Errorf("transport calls = %v, want none", calls)
	}
}

func TestStartHookCanOnlyShrink(t *testing.T) {
	h := newHarness(t, welcome())
	intruder := anim.Recipient{ID: "mallory"}
	h.world.Join(intruder, "lobby")

	h.sched.OnStart(func(ev StartEvent) Decision {
		return Continue([]anim.Recipient{bob, intruder, carol})
	})
	h.sched.OnStart(func(ev StartEvent) Decision {
		if got := ids(ev.Recipients); !slices.Equal(got, []string{"bob", "carol"}) {
			t.Errorf("second hook saw %v", got)
		}
		return Decision{}
	})

	res, err := h.sched.ShowName("welcome", anim.ToRecipients(alice, bob, carol), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(res.Recipients); !slices.Equal(got, []string{"bob", "carol"}) {
		t.Errorf("recipients = %v, want [bob carol]", got)
	}
	if len(h.world.CallsFor("mallory")) != 0 || len(h.world.CallsFor("alice")) != 0 {
		t.Errorf("dispatch outside the filtered set:\n%s", h.world.Transcript())
	}
}

func TestStartHookEmptyingSetMeansNotShown(t *testing.T) {
	h := newHarness(t, welcome())
	h.sched.OnStart(func(StartEvent) Decision { return Continue(nil) })

	res, err := h.sched.ShowName("welcome", anim.ToRecipient(alice), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Shown || h.sched.Len() != 0 {
		t.Errorf("result = %+v, Len = %d; want not shown", res, h.sched.Len())
	}
}

func TestPanickingStartHookVetoes(t *testing.T) {
	h := newHarness(t, welcome())
	h.sched.OnStart(func(StartEvent) Decision { panic("boom") })

	res, err := h.sched.ShowName("welcome", anim.ToRecipient(alice), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Shown {
		t.Error("Shown = true after panicking hook")
	}
}

func TestEmptyTargetIsNotShown(t *testing.T) {
	h := newHarness(t, welcome())

	res, err := h.sched.ShowName("welcome", anim.ToWorld("nether"), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Shown || res.Handle != 0 || len(res.Recipients) != 0 {
		t.Errorf("result = %+v, want zero", res)
	}
	if h.sched.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.sched.Len())
	}

	h.world.Disconnect(alice.ID)
	res, err = h.sched.ShowName("welcome", anim.ToRecipient(alice), "", nil)
	if err != nil || res.Shown {
		t.Errorf("offline recipient: result = %+v, err = %v; want not shown", res, err)
	}
}

func TestConditionFiltersAtStart(t *testing.T) {
	h := newHarness(t, welcome())
	h.world.Grant(bob.ID, "vip")

	cond := &anim.Condition{Kind: anim.ConditionHasCapability, Value: "vip"}
	res, err := h.sched.ShowName("welcome", anim.ToServer(), "", cond)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(res.Recipients); !slices.Equal(got, []string{"bob"}) {
		t.Errorf("has vip = %v, want [bob]", got)
	}

	cond = &anim.Condition{Kind: anim.ConditionLacksCapability, Value: "vip"}
	res, err = h.sched.ShowName("welcome", anim.ToServer(), "", cond)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(res.Recipients); !slices.Equal(got, []string{"alice", "carol"}) {
		t.Errorf("lacks vip = %v, want [alice carol]", got)
	}

	infos := h.sched.Sessions()
	if len(infos) != 2 || infos[1].Condition != anim.DefaultConditionID {
		t.Errorf("sessions = %+v, want condition id %q", infos, anim.DefaultConditionID)
	}
}

func TestShowDefinitionUsesAPIKind(t *testing.T) {
	h := newHarness(t)
	def := &anim.Definition{Name: "adhoc", Frames: []string{"only"}, FPS: 1}

	res, err := h.sched.ShowDefinition(def, anim.ToRecipient(alice), anim.ChannelActionBar, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Shown {
		t.Fatal("Shown = false")
	}
	// A single frame finishes inside Show.
	if len(h.finished) != 1 || h.finished[0].Kind != anim.KindAPI || h.finished[0].Outcome != OutcomeCompleted {
		t.Errorf("finished = %+v", h.finished)
	}
	if h.sched.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.sched.Len())
	}
}

func TestShowRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t, welcome())
	tests := []struct {
		name string
		req  Request
	}{
		{"no animation", Request{Target: anim.ToServer()}},
		{"both name and definition", Request{Name: "welcome", Definition: welcome(), Target: anim.ToServer()}},
		{"bad definition", Request{Definition: &anim.Definition{Name: "x", FPS: 0, Frames: []string{"a"}}, Target: anim.ToServer()}},
		{"bad channel", Request{Name: "welcome", Target: anim.ToServer(), Channel: "tooltip"}},
		{"bad target", Request{Name: "welcome", Target: anim.Target{Kind: "galaxy"}}},
		{"bad condition", Request{Name: "welcome", Target: anim.ToServer(), Condition: &anim.Condition{Kind: "maybe", Value: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.sched.Show(tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
	if calls := h.world.Calls(); len(calls) != 0 {
		t.Errorf("transport calls = %v, want none", calls)
	}
}

func TestNamesSorted(t *testing.T) {
	h := newHarness(t,
		&anim.Definition{Name: "zeta", Frames: []string{"z"}, FPS: 1},
		welcome(),
		&anim.Definition{Name: "alpha", Frames: []string{"a"}, FPS: 1},
	)
	if got := h.sched.Names(); !slices.Equal(got, []string{"alpha", "welcome", "zeta"}) {
		t.Errorf("Names() = %v", got)
	}
}

func TestListenerPanicDoesNotBreakScheduler(t *testing.T) {
	h := newHarness(t, &anim.Definition{Name: "one", Frames: []string{"x"}, FPS: 1})
	h.sched.OnFinish(func(FinishEvent) { panic("listener bug") })

	for range 2 {
		if _, err := h.sched.ShowName("one", anim.ToRecipient(alice), "", nil); err != nil {
			t.Fatal(err)
		}
	}
	if len(h.finished) != 2 {
		t.Errorf("finished = %d, want 2", len(h.finished))
	}
}

func TestFinishListenerMayStartAnotherShow(t *testing.T) {
	def := &anim.Definition{Name: "two", Frames: []string{"a", "b"}, FPS: 20}
	h := newHarness(t, def)
	chained := false
	h.sched.OnFinish(func(ev FinishEvent) {
		if chained {
			return
		}
		chained = true
		if _, err := h.sched.ShowName("two", anim.ToRecipient(alice), "", nil); err != nil {
			t.Errorf("chained show: %v", err)
		}
	})

	if _, err := h.sched.ShowName("two", anim.ToRecipient(alice), "", nil); err != nil {
		t.Fatal(err)
	}
	h.ticks(1)
	if h.sched.Len() != 1 {
		t.Fatalf("Len() = %d after chaining, want 1", h.sched.Len())
	}
	h.ticks(1)
	if len(h.finished) != 2 {
		t.Errorf("finished = %d, want 2", len(h.finished))
	}
}

func TestDisconnectBacklogSizesDefaultQueue(t *testing.T) {
	t.Parallel()
	s := NewScheduler(mock.NewCatalog(), Collaborators{}, WithDisconnectBacklog(2))
	q := s.Disconnects()
	if !q.Push("a") || !q.Push("b") {
		t.Fatal("pushes within the backlog were rejected")
	}
	if q.Push("c") {
		t.Error("push beyond the backlog was accepted")
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", q.Dropped())
	}
}

func TestHugeFPSSessionCompletes(t *testing.T) {
	fast := welcome()
	fast.Name, fast.FPS = "fast", 1e25
	h := newHarness(t, fast)

	res, err := h.sched.ShowName("fast", anim.ToRecipient(alice), anim.ChannelTitle, nil)
	if err != nil || !res.Shown {
		t.Fatalf("ShowName = %+v, %v", res, err)
	}
	h.ticks(1)
	if h.sched.Len() != 0 {
		t.Fatalf("sessions after one tick = %d, want 0", h.sched.Len())
	}
	if len(h.finished) != 1 || h.finished[0].Outcome != OutcomeCompleted {
		t.Errorf("finished = %+v, want one completed session", h.finished)
	}
}
