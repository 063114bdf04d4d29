package discord

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/framecast/internal/observe"
)

// Responder is the subset of [discordgo.Session] used to answer interactions.
type Responder interface {
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

var _ Responder = (*discordgo.Session)(nil)

// HandlerFunc answers one interaction. Autocomplete handlers share the type.
type HandlerFunc func(s Responder, i *discordgo.InteractionCreate)

type route struct {
	handler  HandlerFunc
	operator bool
}

// RouteOption configures a registered route.
type RouteOption func(*route)

// OperatorOnly rejects the interaction with [ErrNotOperator] unless the
// author passes the router's [PermissionChecker].
func OperatorOnly() RouteOption {
	return func(r *route) { r.operator = true }
}

type button struct {
	prefix string
	route
}

// Router dispatches Discord interactions. Commands and subcommands are keyed
// "command" or "command/subcommand"; buttons match on a custom_id prefix so
// the suffix can carry an argument such as a session handle.
type Router struct {
	perms *PermissionChecker

	mu           sync.RWMutex
	definitions  map[string]*discordgo.ApplicationCommand
	commands     map[string]route
	autocomplete map[string]HandlerFunc
	buttons      []button // longest prefix first
}

// NewRouter creates an empty router. A nil perms lets everyone through
// [OperatorOnly] routes.
func NewRouter(perms *PermissionChecker) *Router {
	if perms == nil {
		perms = NewPermissionChecker("")
	}
	return &Router{
		perms:        perms,
		definitions:  make(map[string]*discordgo.ApplicationCommand),
		commands:     make(map[string]route),
		autocomplete: make(map[string]HandlerFunc),
	}
}

// Command registers a top-level command definition and the handler for the
// bare command. Subcommands are added with [Router.Subcommand].
func (r *Router) Command(def *discordgo.ApplicationCommand, h HandlerFunc, opts ...RouteOption) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[def.Name] = def
	r.commands[def.Name] = newRoute(h, opts)
}

// Subcommand registers the handler for key, e.g. "animation/show".
func (r *Router) Subcommand(key string, h HandlerFunc, opts ...RouteOption) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[key] = newRoute(h, opts)
}

// Autocomplete registers the choices handler for key.
func (r *Router) Autocomplete(key string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autocomplete[key] = h
}

// Button registers a handler for every component whose custom_id starts
// with prefix. When prefixes overlap the longest one wins.
func (r *Router) Button(prefix string, h HandlerFunc, opts ...RouteOption) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buttons = slices.DeleteFunc(r.buttons, func(b button) bool { return b.prefix == prefix })
	r.buttons = append(r.buttons, button{prefix: prefix, route: newRoute(h, opts)})
	slices.SortFunc(r.buttons, func(a, b button) int {
		return cmp.Compare(len(b.prefix), len(a.prefix))
	})
}

func newRoute(h HandlerFunc, opts []RouteOption) route {
	rt := route{handler: h}
	for _, o := range opts {
		o(&rt)
	}
	return rt
}

// Definitions returns the top-level command definitions sorted by name, for
// bulk registration with Discord.
func (r *Router) Definitions() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*discordgo.ApplicationCommand, 0, len(r.definitions))
	for _, d := range r.definitions {
		defs = append(defs, d)
	}
	slices.SortFunc(defs, func(a, b *discordgo.ApplicationCommand) int { return cmp.Compare(a.Name, b.Name) })
	return defs
}

// Dispatch answers i with the matching handler. Every interaction gets a
// span; a panicking handler is logged and answered with a generic error.
func (r *Router) Dispatch(s Responder, i *discordgo.InteractionCreate) {
	kind, key := describe(i)
	_, span := observe.StartSpan(context.Background(), "discord."+kind,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("discord.interaction", kind),
			attribute.String("discord.route", key),
		))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			slog.Error("discord: handler panicked", "route", key, "panic", p)
			span.SetStatus(codes.Error, fmt.Sprint(p))
			RespondEphemeral(s, i, "Something went wrong.")
		}
	}()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		r.mu.RLock()
		rt, ok := r.commands[key]
		r.mu.RUnlock()
		if !ok || rt.handler == nil {
			slog.Warn("discord: unknown command", "key", key)
			RespondEphemeral(s, i, "Unknown command.")
			return
		}
		r.serve(s, i, rt)

	case discordgo.InteractionApplicationCommandAutocomplete:
		r.mu.RLock()
		h, ok := r.autocomplete[key]
		r.mu.RUnlock()
		if !ok {
			RespondChoices(s, i, nil)
			return
		}
		h(s, i)

	case discordgo.InteractionMessageComponent:
		rt, ok := r.findButton(key)
		if !ok {
			slog.Warn("discord: unknown component", "custom_id", key)
			RespondEphemeral(s, i, "Unknown component.")
			return
		}
		r.serve(s, i, rt)

	default:
		slog.Warn("discord: unhandled interaction type", "type", i.Type)
	}
}

func (r *Router) serve(s Responder, i *discordgo.InteractionCreate, rt route) {
	if rt.operator && !r.perms.IsOperator(i) {
		RespondError(s, i, ErrNotOperator)
		return
	}
	rt.handler(s, i)
}

func (r *Router) findButton(customID string) (route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.buttons {
		if strings.HasPrefix(customID, b.prefix) {
			return b.route, true
		}
	}
	return route{}, false
}

// describe names the interaction kind and its routing key.
func describe(i *discordgo.InteractionCreate) (kind, key string) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand, discordgo.InteractionApplicationCommandAutocomplete:
		data := i.ApplicationCommandData()
		key = data.Name
		if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
			key += "/" + data.Options[0].Name
		}
		if i.Type == discordgo.InteractionApplicationCommand {
			return "command", key
		}
		return "autocomplete", key
	case discordgo.InteractionMessageComponent:
		return "component", i.MessageComponentData().CustomID
	default:
		return "other", ""
	}
}
