// Package command executes the console and recipient command directives
// fired by animation frames.
//
// Console commands go through a [Registry] of named handlers. Recipient
// commands run as the recipient: "me <text>" is handled locally, and
// everything else is forwarded to the recipient's own client.
package command

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/framecast/pkg/anim"
)

var _ anim.CommandExecutor = (*Executor)(nil)

var (
	// ErrUnknownCommand is returned for console commands with no handler.
	ErrUnknownCommand = errors.New("command: unknown command")

	// ErrUsage is returned when a command's arguments are malformed.
	ErrUsage = errors.New("command: usage")
)

// HandlerFunc runs one console command. args is the text after the name,
// trimmed.
type HandlerFunc func(args string) error

type entry struct {
	usage   string
	handler HandlerFunc
}

// Registry maps console command names to handlers. Names are
// case-insensitive. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]entry)}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name, usage string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(name)] = entry{usage: usage, handler: h}
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.commands))
}

// Usage returns the usage line of name.
func (r *Registry) Usage(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.commands[strings.ToLower(name)]
	return e.usage, ok
}

// Run parses line and calls the matching handler.
func (r *Registry) Run(line string) error {
	name, args := Split(line)
	if name == "" {
		return fmt.Errorf("%w: empty command", ErrUsage)
	}
	r.mu.RLock()
	e, ok := r.commands[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownCommand, name)
	}
	if err := e.handler(args); err != nil {
		if errors.Is(err, ErrUsage) && e.usage != "" {
			return fmt.Errorf("%w (usage: %s)", err, e.usage)
		}
		return err
	}
	return nil
}

// Split separates the command name from its arguments. A leading slash is
// ignored.
func Split(line string) (name, args string) {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	name, args, _ = strings.Cut(line, " ")
	return name, strings.TrimSpace(args)
}

// ── Executor ──────────────────────────────────────────────────────────────────

// Broadcaster sends a chat message to every connected recipient.
type Broadcaster interface {
	Broadcast(text string) int
}

// Forwarder delivers a recipient command to the recipient's client.
type Forwarder interface {
	SendCommand(r anim.Recipient, command string) error
}

// Executor implements [anim.CommandExecutor] over a console [Registry].
type Executor struct {
	console   *Registry
	broadcast Broadcaster
	forward   Forwarder
}

// NewExecutor returns an executor. broadcast and forward may be nil; the
// features needing them then fail with an error.
func NewExecutor(console *Registry, broadcast Broadcaster, forward Forwarder) *Executor {
	if console == nil {
		console = NewRegistry()
	}
	return &Executor{console: console, broadcast: broadcast, forward: forward}
}

// Console returns the console registry.
func (e *Executor) Console() *Registry { return e.console }

// RunAsConsole implements [anim.CommandExecutor].
func (e *Executor) RunAsConsole(cmd string) error {
	return e.console.Run(cmd)
}

// RunAsRecipient implements [anim.CommandExecutor].
func (e *Executor) RunAsRecipient(r anim.Recipient, cmd string) error {
	name, args := Split(cmd)
	if strings.EqualFold(name, "me") {
		if args == "" {
			return fmt.Errorf("%w: me <text>", ErrUsage)
		}
		if e.broadcast == nil {
			return errors.New("command: no broadcaster configured")
		}
		who := r.Name
		if who == "" {
			who = r.ID
		}
		e.broadcast.Broadcast("* " + who + " " + args)
		return nil
	}
	if e.forward == nil {
		return errors.New("command: no forwarder configured")
	}
	return e.forward.SendCommand(r, strings.TrimPrefix(strings.TrimSpace(cmd), "/"))
}

// ── Built-in console commands ─────────────────────────────────────────────────

// Kicker disconnects a recipient by ID.
type Kicker interface {
	Kick(id, reason string) error
}

// Publisher publishes a payload to a message-bus topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Builtins are the collaborators of the built-in console commands. A nil
// field leaves its command unregistered.
type Builtins struct {
	Broadcaster Broadcaster
	Kicker      Kicker
	Publisher   Publisher
}

// RegisterBuiltins adds say, log, kick and publish to r.
func RegisterBuiltins(r *Registry, b Builtins) {
	r.Register("log", "log <text>", func(args string) error {
		slog.Info("command: log", "text", args)
		return nil
	})
	if b.Broadcaster != nil {
		r.Register("say", "say <text>", func(args string) error {
			if args == "" {
				return ErrUsage
			}
			b.Broadcaster.Broadcast(args)
			return nil
		})
	}
	if b.Kicker != nil {
		r.Register("kick", "kick <id> [reason]", func(args string) error {
			id, reason := Split(args)
			if id == "" {
				return ErrUsage
			}
			if reason == "" {
				reason = "kicked"
			}
			return b.Kicker.Kick(id, reason)
		})
	}
	if b.Publisher != nil {
		r.Register("publish", "publish <topic> <payload>", func(args string) error {
			topic, payload := Split(args)
			if topic == "" || payload == "" {
				return ErrUsage
			}
			return b.Publisher.Publish(topic, []byte(payload))
		})
	}
}
