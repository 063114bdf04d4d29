package playback

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/framecast/pkg/anim"
)

// Directive names used in [DirectiveError] and metrics.
const (
	DirectiveRender    = "render"
	DirectiveSound     = "sound"
	DirectiveMessage   = "message"
	DirectiveConsole   = "console"
	DirectiveRecipient = "recipient"
	DirectiveCondition = "condition"
)

// DirectiveError describes one failed side effect. It never aborts the frame
// or the session; it is handed to the [ErrorReporter].
type DirectiveError struct {
	Handle    Handle
	Animation string
	Frame     int
	Recipient anim.Recipient

	// Directive is one of the Directive* constants.
	Directive string

	// Detail identifies the directive payload: a sound key, a command, or a
	// condition ID.
	Detail string

	Err error
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("playback: %s %q frame %d recipient %s: %s %q: %v",
		e.Handle, e.Animation, e.Frame, e.Recipient.ID, e.Directive, e.Detail, e.Err)
}

func (e *DirectiveError) Unwrap() error { return e.Err }

// ErrorReporter receives isolated directive failures. Implementations must not
// block; they are called on the control goroutine.
type ErrorReporter interface {
	Report(err *DirectiveError)
}

// ReporterFunc adapts a function to [ErrorReporter].
type ReporterFunc func(err *DirectiveError)

// Report implements [ErrorReporter].
func (f ReporterFunc) Report(err *DirectiveError) { f(err) }

// LogReporter logs directive failures at warn level.
type LogReporter struct{}

// Report implements [ErrorReporter].
func (LogReporter) Report(err *DirectiveError) {
	slog.Warn("playback: directive failed",
		"session", err.Handle.String(),
		"animation", err.Animation,
		"frame", err.Frame,
		"recipient", err.Recipient.ID,
		"directive", err.Directive,
		"detail", err.Detail,
		"err", err.Err,
	)
}
