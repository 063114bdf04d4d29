// Package viewer is the WebSocket endpoint recipients connect to.
//
// A [Hub] tracks connected viewers and implements the playback transports
// on top of them: display, sound, messages, liveness, the directory and
// capabilities. Every connection has a bounded outbound queue drained by
// its own writer goroutine, so transport calls never block the caller.
// When a viewer goes away the hub reports its ID through the disconnect
// callback, which the server wires to the scheduler's disconnect queue.
package viewer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/framecast/internal/observe"
	"github.com/MrWong99/framecast/pkg/anim"
)

// Compile-time interface assertions.
var (
	_ anim.DisplayTransport   = (*Hub)(nil)
	_ anim.SoundTransport     = (*Hub)(nil)
	_ anim.Messenger          = (*Hub)(nil)
	_ anim.LivenessProvider   = (*Hub)(nil)
	_ anim.Directory          = (*Hub)(nil)
	_ anim.CapabilityProvider = (*Hub)(nil)
)

// ErrUnknownViewer is returned by [Hub.Kick] for IDs that are not connected.
var ErrUnknownViewer = errors.New("viewer: not connected")

// Config tunes a [Hub].
type Config struct {
	// SendBuffer is the per-connection outbound queue length. Default: 64.
	SendBuffer int

	// DefaultWorld is assigned to viewers that do not name one. Default: "lobby".
	DefaultWorld string

	// TrustClientCapabilities honours the caps query parameter.
	TrustClientCapabilities bool

	// DefaultCapabilities are held by every viewer.
	DefaultCapabilities []string

	// Grants maps viewer IDs to extra capabilities.
	Grants map[string][]string

	// WriteTimeout bounds one socket write. Default: 5s.
	WriteTimeout time.Duration

	// OriginPatterns are passed to [websocket.AcceptOptions]. Empty means
	// same-origin only, unless InsecureSkipVerify is set.
	OriginPatterns     []string
	InsecureSkipVerify bool
}

func (c *Config) defaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.DefaultWorld == "" {
		c.DefaultWorld = "lobby"
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// Info describes one connected viewer.
type Info struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	World    string    `json:"world"`
	JoinedAt time.Time `json:"joined_at"`
}

// Hub tracks connected viewers. All methods are safe for concurrent use.
type Hub struct {
	cfg     Config
	metrics *observe.Metrics

	mu       sync.RWMutex
	conns    map[string]*conn
	defaults map[string]bool
	grants   map[string]map[string]bool

	seq          atomic.Uint64
	onDisconnect atomic.Pointer[func(id string)]
}

// NewHub returns a hub. m may be nil.
func NewHub(cfg Config, m *observe.Metrics) *Hub {
	cfg.defaults()
	h := &Hub{
		cfg:     cfg,
		metrics: m,
		conns:   make(map[string]*conn),
	}
	h.SetCapabilities(cfg.DefaultCapabilities, cfg.Grants)
	return h
}

// OnDisconnect sets the callback receiving the IDs of viewers that left. It
// is called from connection goroutines.
func (h *Hub) OnDisconnect(fn func(id string)) {
	h.onDisconnect.Store(&fn)
}

// SetCapabilities replaces the default capabilities and per-viewer grants.
// Conditions evaluated afterwards see the new values.
func (h *Hub) SetCapabilities(defaults []string, grants map[string][]string) {
	d := make(map[string]bool, len(defaults))
	for _, c := range defaults {
		d[c] = true
	}
	g := make(map[string]map[string]bool, len(grants))
	for id, caps := range grants {
		set := make(map[string]bool, len(caps))
		for _, c := range caps {
			set[c] = true
		}
		g[id] = set
	}
	h.mu.Lock()
	h.defaults = d
	h.grants = g
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and serves one viewer until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := strings.TrimSpace(q.Get("id"))
	if id == "" {
		id = uuid.NewString()
	}
	name := strings.TrimSpace(q.Get("name"))
	if name == "" {
		name = id
		if len(name) > 8 {
			name = name[:8]
		}
	}
	world := strings.TrimSpace(q.Get("world"))
	if world == "" {
		world = h.cfg.DefaultWorld
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.cfg.OriginPatterns,
		InsecureSkipVerify: h.cfg.InsecureSkipVerify,
	})
	if err != nil {
		slog.Warn("viewer: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(4096)

	c := &conn{
		recipient: anim.Recipient{ID: id, Name: name},
		ws:        ws,
		send:      make(chan outbound, h.cfg.SendBuffer),
		joinedAt:  time.Now(),
		seq:       h.seq.Add(1),
		world:     world,
	}
	if h.cfg.TrustClientCapabilities {
		c.clientCaps = make(map[string]bool)
		for _, capability := range strings.Split(q.Get("caps"), ",") {
			if capability = strings.TrimSpace(capability); capability != "" {
				c.clientCaps[capability] = true
			}
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.register(c)
	defer h.unregister(c)

	_ = c.enqueue(Event{Type: EventWelcome, ID: id, Name: name, World: world})
	go func() {
		c.writeLoop(ctx, h.cfg.WriteTimeout)
		cancel()
	}()
	h.readLoop(ctx, c)
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	prev := h.conns[c.recipient.ID]
	h.conns[c.recipient.ID] = c
	h.mu.Unlock()

	if prev != nil {
		prev.mu.Lock()
		prev.replaced = true
		prev.mu.Unlock()
		prev.shutdown(&Event{Type: EventKick, Reason: "replaced by a new connection"}, websocket.StatusPolicyViolation, "replaced")
	}
	if h.metrics != nil {
		h.metrics.ViewersConnected.Add(context.Background(), 1)
	}
	slog.Info("viewer: connected", "viewer", c.recipient.ID, "name", c.recipient.Name, "world", c.World())
}

func (h *Hub) unregister(c *conn) {
	c.mu.Lock()
	c.closing = true
	replaced := c.replaced
	c.mu.Unlock()
	_ = c.ws.CloseNow()

	h.mu.Lock()
	if h.conns[c.recipient.ID] == c {
		delete(h.conns, c.recipient.ID)
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ViewersConnected.Add(context.Background(), -1)
	}
	slog.Info("viewer: disconnected", "viewer", c.recipient.ID, "replaced", replaced)
	if replaced {
		return
	}
	if fn := h.onDisconnect.Load(); fn != nil {
		(*fn)(c.recipient.ID)
	}
}

func (h *Hub) readLoop(ctx context.Context, c *conn) {
	for {
		var ev ClientEvent
		if err := readJSON(ctx, c.ws, &ev); err != nil {
			if errors.Is(err, errBadFrame) {
				slog.Debug("viewer: ignoring malformed frame", "viewer", c.recipient.ID, "err", err)
				continue
			}
			return
		}
		switch ev.Type {
		case ClientPing:
			_ = c.enqueue(Event{Type: EventPong})
		case ClientWorld:
			world := strings.TrimSpace(ev.World)
			if world == "" {
				continue
			}
			c.setWorld(world)
			slog.Debug("viewer: changed world", "viewer", c.recipient.ID, "world", world)
		default:
			slog.Debug("viewer: unknown client event", "viewer", c.recipient.ID, "type", ev.Type)
		}
	}
}

// Close disconnects every viewer with a going-away status.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.shutdown(nil, websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) lookup(id string) *conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[id]
}

func (h *Hub) send(r anim.Recipient, ev Event) error {
	c := h.lookup(r.ID)
	if c == nil {
		return anim.ErrDisconnected
	}
	err := c.enqueue(ev)
	if errors.Is(err, ErrSendBufferFull) && h.metrics != nil {
		h.metrics.RecordViewerEventDropped(context.Background(), ev.Type)
	}
	return err
}

// ── Transports ────────────────────────────────────────────────────────────────

// Deliver implements [anim.DisplayTransport].
func (h *Hub) Deliver(r anim.Recipient, ch anim.Channel, text string) error {
	return h.send(r, Event{Type: EventDisplay, Channel: ch, Text: text})
}

// Play implements [anim.SoundTransport].
func (h *Hub) Play(r anim.Recipient, s anim.Sound) error {
	return h.send(r, Event{Type: EventSound, Sound: &s})
}

// Message implements [anim.Messenger].
func (h *Hub) Message(r anim.Recipient, text string) error {
	return h.send(r, Event{Type: EventMessage, Text: text})
}

// SendCommand forwards a recipient command to the viewer's client.
func (h *Hub) SendCommand(r anim.Recipient, command string) error {
	return h.send(r, Event{Type: EventCommand, Command: command})
}

// Broadcast sends a chat message to every viewer and returns how many
// accepted it.
func (h *Hub) Broadcast(text string) int {
	n := 0
	for _, r := range h.Online() {
		if h.Message(r, text) == nil {
			n++
		}
	}
	return n
}

// Kick disconnects viewer id with reason.
func (h *Hub) Kick(id, reason string) error {
	c := h.lookup(id)
	if c == nil {
		return ErrUnknownViewer
	}
	c.shutdown(&Event{Type: EventKick, Reason: reason}, websocket.StatusPolicyViolation, reason)
	return nil
}

// ── Directory ─────────────────────────────────────────────────────────────────

// IsConnected implements [anim.LivenessProvider].
func (h *Hub) IsConnected(r anim.Recipient) bool {
	c := h.lookup(r.ID)
	return c != nil && c.live()
}

// Online implements [anim.Directory]. Viewers are listed in join order.
func (h *Hub) Online() []anim.Recipient {
	return h.collect(func(*conn) bool { return true })
}

// InWorld implements [anim.Directory].
func (h *Hub) InWorld(world string) []anim.Recipient {
	return h.collect(func(c *conn) bool { return c.World() == world })
}

// WorldOf returns the world r is in.
func (h *Hub) WorldOf(r anim.Recipient) (string, bool) {
	c := h.lookup(r.ID)
	if c == nil || !c.live() {
		return "", false
	}
	return c.World(), true
}

func (h *Hub) collect(keep func(*conn) bool) []anim.Recipient {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].seq < conns[j].seq })
	out := make([]anim.Recipient, 0, len(conns))
	for _, c := range conns {
		if c.live() && keep(c) {
			out = append(out, c.recipient)
		}
	}
	return out
}

// Viewers returns a snapshot of every connected viewer in join order.
func (h *Hub) Viewers() []Info {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	sort.Slice(conns, func(i, j int) bool { return conns[i].seq < conns[j].seq })

	out := make([]Info, 0, len(conns))
	for _, c := range conns {
		if !c.live() {
			continue
		}
		out = append(out, Info{ID: c.recipient.ID, Name: c.recipient.Name, World: c.World(), JoinedAt: c.joinedAt})
	}
	return out
}

// Len returns the number of connected viewers.
func (h *Hub) Len() int { return len(h.Online()) }

// Has implements [anim.CapabilityProvider].
func (h *Hub) Has(r anim.Recipient, capability string) bool {
	h.mu.RLock()
	granted := h.defaults[capability] || h.grants[r.ID][capability]
	c := h.conns[r.ID]
	h.mu.RUnlock()
	if granted {
		return true
	}
	return c != nil && c.hasClientCap(capability)
}

// Capabilities returns every capability r holds, sorted.
func (h *Hub) Capabilities(r anim.Recipient) []string {
	set := make(map[string]bool)
	h.mu.RLock()
	for c := range h.defaults {
		set[c] = true
	}
	for c := range h.grants[r.ID] {
		set[c] = true
	}
	conn := h.conns[r.ID]
	h.mu.RUnlock()
	if conn != nil {
		conn.mu.Lock()
		for c := range conn.clientCaps {
			set[c] = true
		}
		conn.mu.Unlock()
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
