// Package discord provides the Discord bot layer for framecast. It owns the
// gateway connection, routes slash command interactions to registered
// handlers, checks operator permissions and announces finished animations
// to a channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID is the guild commands are registered in.
	GuildID string

	// OperatorRoleID gates show and stop. Empty allows everyone.
	OperatorRoleID string
}

// Gateway is the part of [discordgo.Session] the bot drives.
type Gateway interface {
	Responder
	ChannelSender
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	ApplicationCommandDelete(appID, guildID, cmdID string, options ...discordgo.RequestOption) error
	Close() error
}

var _ Gateway = (*discordgo.Session)(nil)

// Bot registers the router's commands for one guild and feeds it the
// interactions arriving on the gateway.
type Bot struct {
	gw      Gateway
	appID   string
	guildID string
	router  *Router
	online  atomic.Bool

	mu         sync.Mutex
	registered []*discordgo.ApplicationCommand
	closed     bool
}

// New logs in with cfg.Token and opens the gateway. Commands are registered
// by [Bot.Run].
func New(_ context.Context, cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	b := &Bot{
		gw:      session,
		guildID: cfg.GuildID,
		router:  NewRouter(NewPermissionChecker(cfg.OperatorRoleID)),
	}
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) { b.router.Dispatch(s, i) })
	session.AddHandler(func(*discordgo.Session, *discordgo.Connect) { b.online.Store(true) })
	session.AddHandler(func(*discordgo.Session, *discordgo.Disconnect) {
		b.online.Store(false)
		slog.Warn("discord: gateway disconnected")
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	b.appID = session.State.User.ID
	b.online.Store(true)
	return b, nil
}

// newBot wraps an already open gateway.
func newBot(gw Gateway, appID string, cfg Config) *Bot {
	b := &Bot{
		gw:      gw,
		appID:   appID,
		guildID: cfg.GuildID,
		router:  NewRouter(NewPermissionChecker(cfg.OperatorRoleID)),
	}
	b.online.Store(true)
	return b
}

// Router returns the router commands register on. Register before [Bot.Run].
func (b *Bot) Router() *Router { return b.router }

// Sender returns the gateway for posting outside of interactions, as the
// [Announcer] does.
func (b *Bot) Sender() ChannelSender { return b.gw }

// Check fails while the gateway is disconnected. It is shaped for the
// readiness endpoint.
func (b *Bot) Check(context.Context) error {
	if !b.online.Load() {
		return errors.New("discord: gateway not connected")
	}
	return nil
}

// Run overwrites the guild's commands with the router's definitions and
// blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if defs := b.router.Definitions(); len(defs) > 0 {
		registered, err := b.gw.ApplicationCommandBulkOverwrite(b.appID, b.guildID, defs)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.registered = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "guild_id", b.guildID, "count", len(registered))
	}
	<-ctx.Done()
	return nil
}

// Close removes the registered commands and closes the gateway. Later calls
// do nothing.
func (b *Bot) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, cmd := range b.registered {
		if err := b.gw.ApplicationCommandDelete(b.appID, b.guildID, cmd.ID); err != nil {
			slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
		}
	}
	b.registered = nil
	b.online.Store(false)

	if err := b.gw.Close(); err != nil {
		return fmt.Errorf("discord: close session: %w", err)
	}
	slog.Info("discord bot closed")
	return nil
}
