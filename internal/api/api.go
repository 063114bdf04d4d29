// Package api is framecast's HTTP control surface: catalog browsing, show
// and cancel, session and viewer listings, run history, the viewer join QR
// code, Prometheus metrics and the health probes.
//
// Handlers never touch the scheduler directly. Every playback call is
// marshalled onto the control goroutine through [Runner.Do].
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"

	"github.com/MrWong99/framecast/internal/health"
	"github.com/MrWong99/framecast/internal/history"
	"github.com/MrWong99/framecast/internal/observe"
	"github.com/MrWong99/framecast/internal/playback"
	"github.com/MrWong99/framecast/internal/viewer"
	"github.com/MrWong99/framecast/pkg/anim"
)

// maxBody caps request bodies. Inline definitions are the largest payload.
const maxBody = 1 << 20

// Runner executes closures on the playback control goroutine.
type Runner interface {
	Do(ctx context.Context, fn func(*playback.Scheduler)) error
}

// Viewers lists connected viewers.
type Viewers interface {
	Viewers() []viewer.Info
}

// History reads recent runs.
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Run, error)
}

// Server routes the API.
type Server struct {
	runner    Runner
	viewers   Viewers
	history   History
	health    *health.Handler
	metrics   *observe.Metrics
	promH     http.Handler
	wsPath    string
	wsHandler http.Handler
	publicURL string
}

// Option configures a [Server].
type Option func(*Server)

// WithViewers enables GET /v1/viewers.
func WithViewers(v Viewers) Option { return func(s *Server) { s.viewers = v } }

// WithViewerSocket mounts the viewer WebSocket handler at path.
func WithViewerSocket(path string, h http.Handler) Option {
	return func(s *Server) { s.wsPath, s.wsHandler = path, h }
}

// WithHistory enables GET /v1/history.
func WithHistory(h History) Option { return func(s *Server) { s.history = h } }

// WithHealth mounts the health probes.
func WithHealth(h *health.Handler) Option { return func(s *Server) { s.health = h } }

// WithMetrics wraps every route in [observe.Middleware].
func WithMetrics(m *observe.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithMetricsHandler replaces the default Prometheus handler on /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.promH = h } }

// WithPublicURL sets the viewer URL encoded by GET /v1/join.png.
func WithPublicURL(u string) Option { return func(s *Server) { s.publicURL = u } }

// New returns a server driving runner.
func New(runner Runner, opts ...Option) *Server {
	s := &Server{runner: runner, promH: promhttp.Handler()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/animations", s.listAnimations)
	mux.HandleFunc("GET /v1/animations/{name}", s.getAnimation)
	mux.HandleFunc("POST /v1/animations/{name}/show", s.showNamed)
	mux.HandleFunc("POST /v1/show", s.showInline)
	mux.HandleFunc("GET /v1/sessions", s.listSessions)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.cancelSession)
	mux.HandleFunc("GET /v1/viewers", s.listViewers)
	mux.HandleFunc("GET /v1/join.png", s.joinQR)
	mux.HandleFunc("GET /v1/history", s.listHistory)
	mux.Handle("GET /metrics", s.promH)
	if s.wsHandler != nil {
		mux.Handle("GET "+s.wsPath, s.wsHandler)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metrics == nil {
		return mux
	}
	return observe.Middleware(s.metrics)(mux)
}

// ── catalog ─────────────────────────────────────────────────────────────────

func (s *Server) listAnimations(w http.ResponseWriter, r *http.Request) {
	var names []string
	if !s.do(w, r, func(sc *playback.Scheduler) { names = sc.Names() }) {
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) getAnimation(w http.ResponseWriter, r *http.Request) {
	var (
		def *anim.Definition
		err error
	)
	if !s.do(w, r, func(sc *playback.Scheduler) { def, err = sc.Lookup(r.PathValue("name")) }) {
		return
	}
	if err != nil {
		writeShowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// ── show / cancel ───────────────────────────────────────────────────────────

type showBody struct {
	Definition *anim.Definition `json:"definition,omitempty"`
	Target     anim.Target      `json:"target"`
	Channel    anim.Channel     `json:"channel,omitempty"`
	Condition  *anim.Condition  `json:"condition,omitempty"`
}

type showResponse struct {
	Shown      bool             `json:"shown"`
	Session    string           `json:"session,omitempty"`
	Recipients []anim.Recipient `json:"recipients"`
}

func (s *Server) showNamed(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeShow(w, r)
	if !ok {
		return
	}
	if body.Definition != nil {
		writeError(w, http.StatusBadRequest, "definition is only accepted by POST /v1/show")
		return
	}
	s.show(w, r, playback.Request{
		Name:      r.PathValue("name"),
		Target:    body.Target,
		Channel:   body.Channel,
		Condition: body.Condition,
	})
}

func (s *Server) showInline(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeShow(w, r)
	if !ok {
		return
	}
	if body.Definition == nil {
		writeError(w, http.StatusBadRequest, "definition is required")
		return
	}
	s.show(w, r, playback.Request{
		Definition: body.Definition,
		Target:     body.Target,
		Channel:    body.Channel,
		Condition:  body.Condition,
	})
}

func decodeShow(w http.ResponseWriter, r *http.Request) (showBody, bool) {
	body := showBody{Target: anim.ToServer()}
	if r.ContentLength == 0 {
		return body, true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return body, false
	}
	return body, true
}

func (s *Server) show(w http.ResponseWriter, r *http.Request, req playback.Request) {
	var (
		res playback.Result
		err error
	)
	if !s.do(w, r, func(sc *playback.Scheduler) { res, err = sc.ShowContext(r.Context(), req) }) {
		return
	}
	if err != nil {
		writeShowError(w, r, err)
		return
	}
	resp := showResponse{Shown: res.Shown, Recipients: res.Recipients}
	if resp.Recipients == nil {
		resp.Recipients = []anim.Recipient{}
	}
	if res.Shown {
		resp.Session = res.Handle.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	h, err := playback.ParseHandle(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var stopped bool
	if !s.do(w, r, func(sc *playback.Scheduler) { stopped = sc.Cancel(h) }) {
		return
	}
	observe.Logger(r.Context()).Debug("api: cancel", "session", h.String(), "stopped", stopped)
	w.WriteHeader(http.StatusNoContent)
}

// ── listings ────────────────────────────────────────────────────────────────

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	var sessions []playback.Info
	if !s.do(w, r, func(sc *playback.Scheduler) { sessions = sc.Sessions() }) {
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) listViewers(w http.ResponseWriter, _ *http.Request) {
	if s.viewers == nil {
		writeError(w, http.StatusNotFound, "viewers are not enabled")
		return
	}
	viewers := s.viewers.Viewers()
	if viewers == nil {
		viewers = []viewer.Info{}
	}
	writeJSON(w, http.StatusOK, viewers)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	runs, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("api: history query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) joinQR(w http.ResponseWriter, r *http.Request) {
	if s.publicURL == "" {
		writeError(w, http.StatusNotFound, "viewer.public_url is not configured")
		return
	}
	size := 256
	if v := r.URL.Query().Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 64 && n <= 1024 {
			size = n
		}
	}
	png, err := qrcode.Encode(s.publicURL, qrcode.Medium, size)
	if err != nil {
		observe.Logger(r.Context()).Error("api: qr encode failed", "err", err)
		writeError(w, http.StatusInternalServerError, "qr encoding failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(png)
}

// ── helpers ─────────────────────────────────────────────────────────────────

// do runs fn on the control goroutine. It writes a 503 and returns false
// when the runner is unavailable.
func (s *Server) do(w http.ResponseWriter, r *http.Request, fn func(*playback.Scheduler)) bool {
	if err := s.runner.Do(r.Context(), fn); err != nil {
		observe.Logger(r.Context()).Warn("api: playback unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "playback unavailable")
		return false
	}
	return true
}

type errorBody struct {
	Error       string   `json:"error"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func writeShowError(w http.ResponseWriter, r *http.Request, err error) {
	var nf *anim.NotFoundError
	switch {
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, errorBody{Error: nf.Error(), Suggestions: nf.Suggestions})
	case errors.Is(err, playback.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		observe.Logger(r.Context()).Error("api: show failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: write response", "err", err)
	}
}
