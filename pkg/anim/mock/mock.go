// Package mock provides in-memory implementations of the [anim] collaborator
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on ordering and counts, and they expose exported fields that control
// return values.
//
// Typical usage:
//
//	world := mock.NewWorld(alice, bob)
//	world.Disconnect(bob.ID)
//	sched := playback.NewScheduler(catalog, playback.Collaborators{
//	    Display:   world,
//	    Liveness:  world,
//	    Directory: world,
//	})
package mock

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/MrWong99/framecast/pkg/anim"
)

// ─── Catalog ──────────────────────────────────────────────────────────────────

// Catalog is a mock [anim.Catalog] backed by a map.
type Catalog struct {
	mu   sync.Mutex
	defs map[string]*anim.Definition

	// CallCountLookup records how many times Lookup was called.
	CallCountLookup int

	// SuggestResult is returned by Suggest.
	SuggestResult []string
}

var (
	_ anim.Catalog   = (*Catalog)(nil)
	_ anim.Suggester = (*Catalog)(nil)
)

// NewCatalog returns a catalog pre-populated with defs.
func NewCatalog(defs ...*anim.Definition) *Catalog {
	c := &Catalog{defs: make(map[string]*anim.Definition, len(defs))}
	for _, d := range defs {
		c.defs[d.Name] = d
	}
	return c
}

// Lookup implements [anim.Catalog].
func (c *Catalog) Lookup(name string) (*anim.Definition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountLookup++
	d, ok := c.defs[name]
	return d, ok
}

// Names implements [anim.Catalog].
func (c *Catalog) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.defs))
	for n := range c.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Suggest implements [anim.Suggester]. Returns SuggestResult.
func (c *Catalog) Suggest(string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.SuggestResult)
}

// ─── World ────────────────────────────────────────────────────────────────────

// Call is one recorded transport call.
type Call struct {
	// Method is one of "deliver", "play", "message", "console", "as_recipient".
	Method    string
	Recipient string
	Channel   anim.Channel
	Text      string
	Sound     anim.Sound
}

func (c Call) String() string {
	switch c.Method {
	case "deliver":
		return fmt.Sprintf("deliver(%s,%s,%q)", c.Recipient, c.Channel, c.Text)
	case "play":
		return fmt.Sprintf("play(%s,%s)", c.Recipient, c.Sound.Key())
	case "console":
		return fmt.Sprintf("console(%q)", c.Text)
	default:
		return fmt.Sprintf("%s(%s,%q)", c.Method, c.Recipient, c.Text)
	}
}

type member struct {
	r     anim.Recipient
	world string
	caps  map[string]bool
	up    bool
}

// World is a mock recipient population. It implements every transport facing
// collaborator: [anim.DisplayTransport], [anim.SoundTransport],
// [anim.Messenger], [anim.CommandExecutor], [anim.LivenessProvider],
// [anim.Directory] and [anim.CapabilityProvider].
type World struct {
	mu      sync.Mutex
	members []*member
	calls   []Call

	// DeliverError, when non-nil, is returned by Deliver for connected recipients.
	DeliverError error

	// PlayError, when non-nil, is returned by Play.
	PlayError error

	// CommandError, when non-nil, is returned by RunAsConsole and RunAsRecipient.
	CommandError error

	// OnDeliver, when set, runs after each recorded Deliver with the lock released.
	OnDeliver func(Call)
}

var (
	_ anim.DisplayTransport   = (*World)(nil)
	_ anim.SoundTransport     = (*World)(nil)
	_ anim.Messenger          = (*World)(nil)
	_ anim.CommandExecutor    = (*World)(nil)
	_ anim.LivenessProvider   = (*World)(nil)
	_ anim.Directory          = (*World)(nil)
	_ anim.CapabilityProvider = (*World)(nil)
)

// NewWorld returns a world where every given recipient is connected in the
// world "lobby".
func NewWorld(rs ...anim.Recipient) *World {
	w := &World{}
	for _, r := range rs {
		w.Join(r, "lobby")
	}
	return w
}

// Join connects r in world. Re-joining a known recipient reconnects it.
func (w *World) Join(r anim.Recipient, world string, caps ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	m := w.find(r.ID)
	if m == nil {
		m = &member{r: r}
		w.members = append(w.members, m)
	}
	m.world = world
	m.up = true
	m.caps = make(map[string]bool, len(caps))
	for _, c := range caps {
		m.caps[c] = true
	}
}

// Grant adds a capability to a known recipient.
func (w *World) Grant(id, capability string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if m := w.find(id); m != nil {
		if m.caps == nil {
			m.caps = map[string]bool{}
		}
		m.caps[capability] = true
	}
}

// Disconnect marks a recipient as gone.
func (w *World) Disconnect(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if m := w.find(id); m != nil {
		m.up = false
	}
}

func (w *World) find(id string) *member {
	for _, m := range w.members {
		if m.r.ID == id {
			return m
		}
	}
	return nil
}

func (w *World) record(c Call) {
	w.mu.Lock()
	w.calls = append(w.calls, c)
	w.mu.Unlock()
}

// Calls returns a copy of every recorded transport call in order.
func (w *World) Calls() []Call {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.calls)
}

// CallsFor returns the recorded calls addressed to one recipient.
func (w *World) CallsFor(id string) []Call {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Call
	for _, c := range w.calls {
		if c.Recipient == id {
			out = append(out, c)
		}
	}
	return out
}

// Transcript renders all calls as one string per line, handy in failure output.
func (w *World) Transcript() string {
	var b strings.Builder
	for _, c := range w.Calls() {
		b.WriteString(c.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Reset discards the recorded calls.
func (w *World) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = nil
}

// Deliver implements [anim.DisplayTransport].
func (w *World) Deliver(r anim.Recipient, ch anim.Channel, text string) error {
	c := Call{Method: "deliver", Recipient: r.ID, Channel: ch, Text: text}
	w.record(c)
	w.mu.Lock()
	err := w.DeliverError
	hook := w.OnDeliver
	w.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	return err
}

// Play implements [anim.SoundTransport].
func (w *World) Play(r anim.Recipient, s anim.Sound) error {
	w.record(Call{Method: "play", Recipient: r.ID, Sound: s})
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.PlayError
}

// Message implements [anim.Messenger].
func (w *World) Message(r anim.Recipient, text string) error {
	w.record(Call{Method: "message", Recipient: r.ID, Text: text})
	return nil
}

// RunAsConsole implements [anim.CommandExecutor].
func (w *World) RunAsConsole(command string) error {
	w.record(Call{Method: "console", Text: command})
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.CommandError
}

// RunAsRecipient implements [anim.CommandExecutor].
func (w *World) RunAsRecipient(r anim.Recipient, command string) error {
	w.record(Call{Method: "as_recipient", Recipient: r.ID, Text: command})
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.CommandError
}

// IsConnected implements [anim.LivenessProvider].
func (w *World) IsConnected(r anim.Recipient) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	m := w.find(r.ID)
	return m != nil && m.up
}

// Online implements [anim.Directory].
func (w *World) Online() []anim.Recipient {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []anim.Recipient
	for _, m := range w.members {
		if m.up {
			out = append(out, m.r)
		}
	}
	return out
}

// InWorld implements [anim.Directory].
func (w *World) InWorld(world string) []anim.Recipient {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []anim.Recipient
	for _, m := range w.members {
		if m.up && m.world == world {
			out = append(out, m.r)
		}
	}
	return out
}

// WorldOf returns the world a connected recipient is in.
func (w *World) WorldOf(r anim.Recipient) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	m := w.find(r.ID)
	if m == nil || !m.up {
		return "", false
	}
	return m.world, true
}

// Has implements [anim.CapabilityProvider].
func (w *World) Has(r anim.Recipient, capability string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	m := w.find(r.ID)
	return m != nil && m.caps[capability]
}

// ─── Text passes ──────────────────────────────────────────────────────────────

// Renderer is a mock [anim.Renderer] that wraps text in "<m>…</m>".
type Renderer struct {
	mu sync.Mutex

	// CallCountRender records how many times Render was called.
	CallCountRender int
}

// Render implements [anim.Renderer].
func (m *Renderer) Render(template string, _ anim.Recipient) string {
	m.mu.Lock()
	m.CallCountRender++
	m.mu.Unlock()
	return "<m>" + template + "</m>"
}

// Placeholders is a mock [anim.PlaceholderResolver] that replaces
// "%recipient_name%" with the recipient's name.
type Placeholders struct {
	mu sync.Mutex

	// CallCountResolve records how many times Resolve was called.
	CallCountResolve int
}

// Resolve implements [anim.PlaceholderResolver].
func (p *Placeholders) Resolve(template string, r anim.Recipient) string {
	p.mu.Lock()
	p.CallCountResolve++
	p.mu.Unlock()
	return strings.ReplaceAll(template, "%recipient_name%", r.Name)
}

// Expressions is a mock [anim.ExpressionEvaluator] returning preset results
// keyed by expression and recipient ID ("expr|id"), or by expression alone.
type Expressions struct {
	mu sync.Mutex

	// Results maps "expr|recipientID" or "expr" to the evaluation result.
	Results map[string]bool

	// Errors maps an expression to the error it returns.
	Errors map[string]error

	// CallCountEvaluate records how many times Evaluate was called.
	CallCountEvaluate int
}

// Evaluate implements [anim.ExpressionEvaluator].
func (e *Expressions) Evaluate(expression string, r anim.Recipient) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountEvaluate++
	if err := e.Errors[expression]; err != nil {
		return false, err
	}
	if v, ok := e.Results[expression+"|"+r.ID]; ok {
		return v, nil
	}
	return e.Results[expression], nil
}
