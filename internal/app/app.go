// Package app wires all framecast subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run drives the control loop and the HTTP server, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithHistoryStore, WithMQTTClient). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/framecast/internal/api"
	"github.com/MrWong99/framecast/internal/catalog"
	"github.com/MrWong99/framecast/internal/command"
	"github.com/MrWong99/framecast/internal/config"
	"github.com/MrWong99/framecast/internal/discord"
	"github.com/MrWong99/framecast/internal/discord/commands"
	"github.com/MrWong99/framecast/internal/expr"
	"github.com/MrWong99/framecast/internal/health"
	"github.com/MrWong99/framecast/internal/history"
	"github.com/MrWong99/framecast/internal/markup"
	"github.com/MrWong99/framecast/internal/mqttbridge"
	"github.com/MrWong99/framecast/internal/observe"
	"github.com/MrWong99/framecast/internal/placeholder"
	"github.com/MrWong99/framecast/internal/playback"
	"github.com/MrWong99/framecast/internal/viewer"
)

// HistoryStore persists finished runs and serves them back to the API.
type HistoryStore interface {
	history.Writer
	Recent(ctx context.Context, limit int) ([]history.Run, error)
	Check(ctx context.Context) error
	Close()
}

var _ HistoryStore = (*history.Store)(nil)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	logLevel *slog.LevelVar
	metrics  *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	catalog   *catalog.Catalog
	hub       *viewer.Hub
	console   *command.Registry
	scheduler *playback.Scheduler
	runner    *playback.Runner
	store     HistoryStore
	recorder  *history.Recorder
	bridge    *mqttbridge.Bridge
	mqttConn  mqttbridge.Client
	bot       *discord.Bot
	announcer *discord.Announcer
	health    *health.Handler
	handler   http.Handler

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	addrMu sync.Mutex
	addr   net.Addr
	ready  chan struct{}

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the level of the running logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithHistoryStore injects a history store instead of connecting to
// history.postgres_dsn.
func WithHistoryStore(s HistoryStore) Option {
	return func(a *App) { a.store = s }
}

// WithMQTTClient injects the MQTT client used when mqtt.broker is set.
func WithMQTTClient(c mqttbridge.Client) Option {
	return func(a *App) { a.mqttConn = c }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
//
// New performs all initialisation synchronously: catalog load, history store
// connection and migration, Discord login, and scheduler assembly. Network
// listeners and the control loop start in Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:   cfg,
		ready: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Catalog ───────────────────────────────────────────────────────
	a.catalog = catalog.New(catalogSources(cfg), catalog.WithSuggestThreshold(cfg.Catalog.SuggestThreshold))
	if err := a.catalog.Reload(); err != nil {
		return nil, fmt.Errorf("app: load catalog: %w", err)
	}

	// ── 2. Viewers, rendering and commands ───────────────────────────────
	if err := a.initPlayback(); err != nil {
		return nil, fmt.Errorf("app: init playback: %w", err)
	}

	// ── 3. History ───────────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 4. MQTT ──────────────────────────────────────────────────────────
	a.initMQTT()
	builtins := command.Builtins{Broadcaster: a.hub, Kicker: a.hub}
	if a.bridge != nil {
		builtins.Publisher = a.bridge
	}
	command.RegisterBuiltins(a.console, builtins)

	// ── 5. Discord ───────────────────────────────────────────────────────
	if err := a.initDiscord(ctx); err != nil {
		return nil, fmt.Errorf("app: init discord: %w", err)
	}

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func catalogSources(cfg *config.Config) catalog.Sources {
	return catalog.Sources{Files: cfg.Catalog.Files, Dirs: cfg.Catalog.Dirs}
}

// initPlayback builds the viewer hub, the text passes and the scheduler.
func (a *App) initPlayback() error {
	profile, err := markup.ParseProfile(a.cfg.Markup.ColorProfile)
	if err != nil {
		return err
	}

	vc := a.cfg.Viewer
	a.hub = viewer.NewHub(viewer.Config{
		SendBuffer:              vc.SendBuffer,
		DefaultWorld:            vc.DefaultWorld,
		TrustClientCapabilities: vc.TrustClientCapabilities,
		DefaultCapabilities:     vc.DefaultCapabilities,
		Grants:                  vc.GrantSets(),
		OriginPatterns:          vc.AllowedOrigins,
	}, a.metrics)
	a.closers = append(a.closers, func(context.Context) error {
		a.hub.Close()
		return nil
	})

	placeholders := placeholder.New(a.hub)
	a.console = command.NewRegistry()

	a.scheduler = playback.NewScheduler(a.catalog, playback.Collaborators{
		Display:      a.hub,
		Sounds:       a.hub,
		Messenger:    a.hub,
		Commands:     command.NewExecutor(a.console, a.hub, a.hub),
		Liveness:     a.hub,
		Directory:    a.hub,
		Capabilities: a.hub,
		Expressions:  expr.NewEvaluator(a.hub, placeholders),
		Renderer:     markup.NewRenderer(profile),
		Placeholders: placeholders,
	},
		playback.WithTickRate(a.cfg.Playback.TickRate),
		playback.WithMetrics(a.metrics),
		playback.WithDisconnectBacklog(a.cfg.Playback.DisconnectQueue),
	)
	a.runner = playback.NewRunner(a.scheduler, playback.RunnerConfig{
		TickRate:        a.cfg.Playback.TickRate,
		CatchupMaxTicks: a.cfg.Playback.CatchupMaxTicks,
		AsyncBacklog:    a.cfg.Playback.AsyncBacklog,
	}, a.metrics)

	disconnects := a.runner.Disconnects()
	a.hub.OnDisconnect(func(id string) { disconnects.Push(id) })
	return nil
}

// initHistory connects the run history store, if configured, and records
// every finished session to it.
func (a *App) initHistory(ctx context.Context) error {
	if a.store == nil {
		dsn := a.cfg.History.PostgresDSN
		if dsn == "" {
			slog.Info("history disabled", "reason", "history.postgres_dsn not set")
			return nil
		}
		store, err := history.Open(ctx, dsn)
		if err != nil {
			return err
		}
		a.store = store
	}

	a.recorder = history.NewRecorder(a.store,
		history.WithBuffer(a.cfg.History.Buffer),
		history.WithMetrics(a.metrics),
	)
	a.scheduler.OnFinish(a.recorder.OnFinish)

	store := a.store
	a.closers = append(a.closers, a.recorder.Close, func(context.Context) error {
		store.Close()
		return nil
	})
	return nil
}

// initMQTT creates the event bridge when a broker is configured. The
// connection itself is made in Run.
func (a *App) initMQTT() {
	mc := a.cfg.MQTT
	if mc.Broker == "" {
		return
	}
	opts := []mqttbridge.Option{mqttbridge.WithMetrics(a.metrics)}
	if a.mqttConn != nil {
		opts = append(opts, mqttbridge.WithClient(a.mqttConn))
	}
	a.bridge = mqttbridge.New(mqttbridge.Config{
		Broker:      mc.Broker,
		ClientID:    mc.ClientID,
		Username:    mc.Username,
		Password:    mc.Password,
		TopicPrefix: mc.TopicPrefix,
		QoS:         byte(mc.QoS),
	}, a.runner, opts...)
	a.scheduler.OnStarted(a.bridge.OnStarted)
	a.scheduler.OnFinish(a.bridge.OnFinish)
	a.closers = append(a.closers, a.bridge.Close)
}

// initDiscord logs the bot in and registers the /animation commands.
func (a *App) initDiscord(ctx context.Context) error {
	dc := a.cfg.Discord
	if dc.Token == "" {
		return nil
	}
	bot, err := discord.New(ctx, discord.Config{
		Token:          dc.Token,
		GuildID:        dc.GuildID,
		OperatorRoleID: dc.OperatorRoleID,
	})
	if err != nil {
		return err
	}
	a.bot = bot
	commands.NewAnimationCommands(a.runner, a.catalog).Register(bot.Router())

	if dc.AnnounceChannelID != "" {
		a.announcer = discord.NewAnnouncer(bot.Sender(), dc.AnnounceChannelID)
		a.scheduler.OnFinish(a.announcer.OnFinish)
		a.closers = append(a.closers, a.announcer.Close)
	}
	a.closers = append(a.closers, func(context.Context) error { return bot.Close() })
	slog.Info("discord bot connected", "guild_id", dc.GuildID)
	return nil
}

// initHTTP assembles readiness checks and the API handler.
func (a *App) initHTTP() {
	a.health = health.New([]health.Checker{
		{Name: "playback", Check: a.runner.Check},
		{Name: "catalog", Check: a.catalog.Check},
	})

	apiOpts := []api.Option{
		api.WithViewers(a.hub),
		api.WithViewerSocket(a.cfg.Viewer.Path, a.hub),
		api.WithHealth(a.health),
		api.WithMetrics(a.metrics),
		api.WithPublicURL(a.cfg.Viewer.PublicURL),
	}
	if a.store != nil {
		apiOpts = append(apiOpts, api.WithHistory(a.store))
		a.health.Add(
			health.Checker{Name: "history", Check: a.store.Check},
			health.Checker{Name: "history_writer", Check: a.recorder.Check},
		)
	}
	if a.bridge != nil {
		a.health.Add(health.Checker{Name: "mqtt", Check: a.bridge.Check})
	}
	if a.bot != nil {
		a.health.Add(health.Checker{Name: "discord", Check: a.bot.Check})
	}
	a.handler = api.New(a.runner, apiOpts...).Handler()
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the API, the viewer socket,
// health and metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Runner returns the playback control loop.
func (a *App) Runner() *playback.Runner { return a.runner }

// Hub returns the viewer hub.
func (a *App) Hub() *viewer.Hub { return a.hub }

// Catalog returns the animation catalog.
func (a *App) Catalog() *catalog.Catalog { return a.catalog }

// Ready is closed once Run is listening.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the listen address, or nil before Run is listening.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── Reconfiguration ─────────────────────────────────────────────────────────

// Reconfigure applies the hot-reloadable parts of a config change.
// Settings listed in d.RestartRequired are ignored until the next start.
func (a *App) Reconfigure(next *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CapabilitiesChanged {
		a.hub.SetCapabilities(next.Viewer.DefaultCapabilities, next.Viewer.GrantSets())
		slog.Info("viewer capabilities updated", "grants", len(next.Viewer.Grants))
	}
	if d.CatalogChanged {
		a.catalog.SetSources(catalogSources(next))
		a.ReloadCatalog()
	}
}

// ReloadCatalog re-reads every catalog source. On failure the previous
// animations stay loaded and the error is logged.
func (a *App) ReloadCatalog() bool {
	if err := a.catalog.Reload(); err != nil {
		slog.Error("catalog reload failed, keeping previous animations", "err", err)
		return false
	}
	return true
}

// SlogLevel maps a config level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run connects MQTT, starts the control loop, the HTTP server and the
// Discord bot, and blocks until ctx is cancelled or one of them fails. It
// returns nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	if a.bridge != nil {
		if err := a.bridge.Start(ctx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runner.Run(gctx)
	})
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve http: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		// Viewer sockets are hijacked and not tracked by Shutdown.
		a.hub.Close()
		return srv.Shutdown(shutdownCtx)
	})
	if a.bot != nil {
		g.Go(func() error {
			return a.bot.Run(gctx)
		})
	}

	slog.Info("app running",
		"addr", ln.Addr().String(),
		"animations", a.catalog.Len(),
		"tick_rate", a.cfg.Playback.TickRate,
	)
	close(a.ready)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order after Run has returned.
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
