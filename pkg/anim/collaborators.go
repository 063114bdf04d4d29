package anim

import (
	"errors"
	"fmt"
)

var (
	// ErrAnimationNotFound is matched by every [NotFoundError].
	ErrAnimationNotFound = errors.New("animation not found")

	// ErrDisconnected is returned (possibly wrapped) by transports when the
	// recipient is no longer connected.
	ErrDisconnected = errors.New("recipient disconnected")
)

// NotFoundError reports a lookup for a name the catalog does not hold.
type NotFoundError struct {
	Name string

	// Suggestions lists similarly named animations, best match first. May be empty.
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("the animation %q was not found", e.Name)
}

// Is makes errors.Is(err, ErrAnimationNotFound) succeed.
func (e *NotFoundError) Is(target error) bool { return target == ErrAnimationNotFound }

// Catalog is a read-only lookup of named animations.
type Catalog interface {
	// Lookup returns the definition registered under name.
	Lookup(name string) (*Definition, bool)

	// Names returns every registered animation name.
	Names() []string
}

// Suggester is optionally implemented by a [Catalog] that can propose near
// matches for a missing name.
type Suggester interface {
	Suggest(name string) []string
}

// Renderer applies rich-text markup to a template for one recipient.
type Renderer interface {
	Render(template string, r Recipient) string
}

// PlaceholderResolver substitutes external placeholders in a template.
type PlaceholderResolver interface {
	Resolve(template string, r Recipient) string
}

// CapabilityProvider answers permission checks.
type CapabilityProvider interface {
	Has(r Recipient, capability string) bool
}

// ExpressionEvaluator evaluates a boolean expression in the context of a
// recipient. A malformed expression returns an error.
type ExpressionEvaluator interface {
	Evaluate(expression string, r Recipient) (bool, error)
}

// CommandExecutor runs command directives.
type CommandExecutor interface {
	RunAsConsole(command string) error
	RunAsRecipient(r Recipient, command string) error
}

// DisplayTransport paints text onto a recipient's display channel. It must
// not block.
type DisplayTransport interface {
	Deliver(r Recipient, ch Channel, text string) error
}

// SoundTransport plays a sound for a recipient. It must not block.
type SoundTransport interface {
	Play(r Recipient, s Sound) error
}

// Messenger sends a chat message to a recipient. It must not block.
type Messenger interface {
	Message(r Recipient, text string) error
}

// LivenessProvider reports whether a recipient is still connected.
type LivenessProvider interface {
	IsConnected(r Recipient) bool
}

// Directory enumerates the connected population for world-scoped and
// server-wide targets.
type Directory interface {
	Online() []Recipient
	InWorld(world string) []Recipient
}
