package playback

import (
	"errors"

	"github.com/MrWong99/framecast/pkg/anim"
)

// Collaborators bundles the external services the engine calls. Every field
// is optional; a nil collaborator turns its directive family into a no-op
// (or, for conditions, into a reported failure).
type Collaborators struct {
	Display   anim.DisplayTransport
	Sounds    anim.SoundTransport
	Messenger anim.Messenger
	Commands  anim.CommandExecutor

	Liveness  anim.LivenessProvider
	Directory anim.Directory

	Capabilities anim.CapabilityProvider
	Expressions  anim.ExpressionEvaluator

	Renderer     anim.Renderer
	Placeholders anim.PlaceholderResolver

	// Reporter receives directive failures. Defaults to [LogReporter].
	Reporter ErrorReporter
}

// Frame identifies one frame of one session.
type Frame struct {
	Handle  Handle
	Def     *anim.Definition
	Channel anim.Channel
	Index   int
}

// Dispatcher applies a frame's effects to one recipient: the rendered text,
// then the frame's sounds in order, then its commands in order.
type Dispatcher struct {
	c Collaborators
}

// NewDispatcher returns a dispatcher over c.
func NewDispatcher(c Collaborators) *Dispatcher {
	if c.Reporter == nil {
		c.Reporter = LogReporter{}
	}
	return &Dispatcher{c: c}
}

// Dispatch applies frame f to r and reports whether r is still live. A false
// result is a liveness transition: the caller removes r from the session.
// Directive failures are reported and never stop the remaining directives.
func (d *Dispatcher) Dispatch(f Frame, r anim.Recipient) bool {
	if !d.connected(r) {
		return false
	}

	if d.c.Display != nil {
		text := d.render(f.Def, f.Def.Frames[f.Index], r)
		if err := d.c.Display.Deliver(r, f.Channel, text); err != nil {
			if d.lost(r, err) {
				return false
			}
			d.report(f, r, DirectiveRender, string(f.Channel), err)
		}
	}

	for _, s := range f.Def.Sounds[f.Index] {
		if d.c.Sounds == nil {
			break
		}
		s = s.WithDefaults()
		if err := d.c.Sounds.Play(r, s); err != nil {
			if d.lost(r, err) {
				return false
			}
			d.report(f, r, DirectiveSound, s.Key(), err)
		}
	}

	for _, cmd := range f.Def.Commands[f.Index] {
		if err := d.runCommand(f.Def, cmd, r); err != nil {
			if d.lost(r, err) {
				return false
			}
			d.report(f, r, string(cmd.Kind), cmd.Value, err)
		}
	}
	return true
}

func (d *Dispatcher) runCommand(def *anim.Definition, cmd anim.Command, r anim.Recipient) error {
	switch cmd.Kind {
	case anim.CommandMessage:
		if d.c.Messenger == nil {
			return nil
		}
		return d.c.Messenger.Message(r, d.render(def, cmd.Value, r))
	case anim.CommandConsole:
		if d.c.Commands == nil {
			return nil
		}
		return d.c.Commands.RunAsConsole(d.substitute(def, cmd.Value, r))
	case anim.CommandRecipient:
		if d.c.Commands == nil {
			return nil
		}
		return d.c.Commands.RunAsRecipient(r, d.substitute(def, cmd.Value, r))
	default:
		return errors.New("unknown command kind")
	}
}

// render runs the placeholder pass and then the markup pass, each gated by
// the definition's flags.
func (d *Dispatcher) render(def *anim.Definition, template string, r anim.Recipient) string {
	text := d.substitute(def, template, r)
	if def.Markup && d.c.Renderer != nil {
		text = d.c.Renderer.Render(text, r)
	}
	return text
}

func (d *Dispatcher) substitute(def *anim.Definition, template string, r anim.Recipient) string {
	if def.Placeholders && d.c.Placeholders != nil {
		return d.c.Placeholders.Resolve(template, r)
	}
	return template
}

func (d *Dispatcher) connected(r anim.Recipient) bool {
	return d.c.Liveness == nil || d.c.Liveness.IsConnected(r)
}

// lost reports whether err means r has gone away.
func (d *Dispatcher) lost(r anim.Recipient, err error) bool {
	if errors.Is(err, anim.ErrDisconnected) {
		return true
	}
	return d.c.Liveness != nil && !d.c.Liveness.IsConnected(r)
}

func (d *Dispatcher) report(f Frame, r anim.Recipient, directive, detail string, err error) {
	d.c.Reporter.Report(&DirectiveError{
		Handle:    f.Handle,
		Animation: f.Def.Name,
		Frame:     f.Index,
		Recipient: r,
		Directive: directive,
		Detail:    detail,
		Err:       err,
	})
}
