package command_test

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/framecast/internal/command"
	"github.com/MrWong99/framecast/pkg/anim"
)

type fakeHub struct {
	mu        sync.Mutex
	broadcast []string
	commands  []string
	kicked    []string
	published []string

	KickErr error
}

func (h *fakeHub) Broadcast(text string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcast = append(h.broadcast, text)
	return 1
}

func (h *fakeHub) SendCommand(r anim.Recipient, cmd string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, r.ID+":"+cmd)
	return nil
}

func (h *fakeHub) Kick(id, reason string) error {
	h.kicked = append(h.kicked, id+":"+reason)
	return h.KickErr
}

func (h *fakeHub) Publish(topic string, payload []byte) error {
	h.published = append(h.published, topic+"="+string(payload))
	return nil
}

func newExecutor(hub *fakeHub) *command.Executor {
	reg := command.NewRegistry()
	command.RegisterBuiltins(reg, command.Builtins{Broadcaster: hub, Kicker: hub, Publisher: hub})
	return command.NewExecutor(reg, hub, hub)
}

func TestSplit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, name, args string
	}{
		{"say hello world", "say", "hello world"},
		{"/kick bob  rude ", "kick", "bob  rude"},
		{"  log", "log", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		name, args := command.Split(tt.in)
		if name != tt.name || args != tt.args {
			t.Errorf("Split(%q) = %q, %q; want %q, %q", tt.in, name, args, tt.name, tt.args)
		}
	}
}

func TestConsoleBuiltins(t *testing.T) {
	t.Parallel()
	hub := &fakeHub{}
	e := newExecutor(hub)

	for _, cmd := range []string{"say Welcome all", "SAY again", "kick bob", "kick carol spamming chat", "publish lights/scene party", "log hello"} {
		if err := e.RunAsConsole(cmd); err != nil {
			t.Errorf("RunAsConsole(%q): %v", cmd, err)
		}
	}
	if !slices.Equal(hub.broadcast, []string{"Welcome all", "again"}) {
		t.Errorf("broadcast = %v", hub.broadcast)
	}
	if !slices.Equal(hub.kicked, []string{"bob:kicked", "carol:spamming chat"}) {
		t.Errorf("kicked = %v", hub.kicked)
	}
	if !slices.Equal(hub.published, []string{"lights/scene=party"}) {
		t.Errorf("published = %v", hub.published)
	}
}

func TestConsoleErrors(t *testing.T) {
	t.Parallel()
	hub := &fakeHub{KickErr: errors.New("no such viewer")}
	e := newExecutor(hub)

	if err := e.RunAsConsole("teleport bob"); !errors.Is(err, command.ErrUnknownCommand) {
		t.Errorf("unknown = %v", err)
	}
	err := e.RunAsConsole("say")
	if !errors.Is(err, command.ErrUsage) || !strings.Contains(err.Error(), "say <text>") {
		t.Errorf("usage = %v", err)
	}
	if err := e.RunAsConsole("kick ghost"); err == nil || err.Error() != "no such viewer" {
		t.Errorf("kick error = %v", err)
	}
	if err := e.RunAsConsole("   "); !errors.Is(err, command.ErrUsage) {
		t.Errorf("empty = %v", err)
	}
}

func TestBuiltinsWithoutCollaborators(t *testing.T) {
	t.Parallel()
	reg := command.NewRegistry()
	command.RegisterBuiltins(reg, command.Builtins{})
	if got := reg.Names(); !slices.Equal(got, []string{"log"}) {
		t.Errorf("Names = %v, want only log", got)
	}
	if _, ok := reg.Usage("publish"); ok {
		t.Error("publish registered without a publisher")
	}
}

func TestRunAsRecipient(t *testing.T) {
	t.Parallel()
	hub := &fakeHub{}
	e := newExecutor(hub)
	alice := anim.Recipient{ID: "alice", Name: "Alice"}

	if err := e.RunAsRecipient(alice, "me waves"); err != nil {
		t.Fatal(err)
	}
	if err := e.RunAsRecipient(anim.Recipient{ID: "anon"}, "/ME jumps"); err != nil {
		t.Fatal(err)
	}
	if err := e.RunAsRecipient(alice, "/spawn"); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(hub.broadcast, []string{"* Alice waves", "* anon jumps"}) {
		t.Errorf("broadcast = %v", hub.broadcast)
	}
	if !slices.Equal(hub.commands, []string{"alice:spawn"}) {
		t.Errorf("forwarded = %v", hub.commands)
	}
	if err := e.RunAsRecipient(alice, "me"); !errors.Is(err, command.ErrUsage) {
		t.Errorf("bare me = %v", err)
	}
}

func TestRunAsRecipientWithoutHub(t *testing.T) {
	t.Parallel()
	e := command.NewExecutor(nil, nil, nil)
	if err := e.RunAsRecipient(anim.Recipient{ID: "a"}, "me hi"); err == nil {
		t.Error("me without broadcaster: want error")
	}
	if err := e.RunAsRecipient(anim.Recipient{ID: "a"}, "spawn"); err == nil {
		t.Error("forward without forwarder: want error")
	}
}
