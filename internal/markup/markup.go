// Package markup renders MiniMessage-style rich text to ANSI.
//
// Supported tags:
//
//	<red> <gold> ... (the 16 classic colour names)   <#ff8800> <color:#ff8800>
//	<bold>/<b> <italic>/<i> <underlined>/<u> <strikethrough>/<st>
//	<gradient:#f00:#00f[:#0f0...][:ease]>  ease is linear, quad, cubic or sine
//	<rainbow>  <reset>  </name>  </>
//
// Unknown tags are kept as literal text, and "\<" escapes a bracket. Unclosed
// tags run to the end of the input.
package markup

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/MrWong99/framecast/pkg/anim"
)

var _ anim.Renderer = (*Renderer)(nil)

// ParseProfile maps a config value to a terminal colour profile. The empty
// string selects true colour.
func ParseProfile(s string) (termenv.Profile, error) {
	switch strings.ToLower(s) {
	case "", "truecolor", "true_color":
		return termenv.TrueColor, nil
	case "ansi256", "256":
		return termenv.ANSI256, nil
	case "ansi", "16":
		return termenv.ANSI, nil
	case "ascii", "none":
		return termenv.Ascii, nil
	default:
		return termenv.Ascii, fmt.Errorf("markup: unknown color profile %q (valid: truecolor, ansi256, ansi, ascii)", s)
	}
}

// Renderer turns markup into styled ANSI strings. It is safe for concurrent use.
type Renderer struct {
	lg *lipgloss.Renderer
}

// NewRenderer returns a renderer producing output for profile.
func NewRenderer(profile termenv.Profile) *Renderer {
	lg := lipgloss.NewRenderer(io.Discard)
	lg.SetColorProfile(profile)
	return &Renderer{lg: lg}
}

// Render implements [anim.Renderer]. Markup does not depend on the recipient.
func (r *Renderer) Render(template string, _ anim.Recipient) string {
	return r.RenderString(template)
}

// RenderString renders template to ANSI.
func (r *Renderer) RenderString(template string) string {
	spans := Parse(template)
	var b strings.Builder
	for _, sp := range spans {
		if sp.Style.IsZero() {
			b.WriteString(sp.Text)
			continue
		}
		b.WriteString(r.style(sp.Style).Render(sp.Text))
	}
	return b.String()
}

func (r *Renderer) style(s Style) lipgloss.Style {
	st := r.lg.NewStyle()
	if s.HasColor {
		st = st.Foreground(lipgloss.Color(s.Color.Clamped().Hex()))
	}
	if s.Bold {
		st = st.Bold(true)
	}
	if s.Italic {
		st = st.Italic(true)
	}
	if s.Underline {
		st = st.Underline(true)
	}
	if s.Strikethrough {
		st = st.Strikethrough(true)
	}
	return st
}

// Plain returns template with every recognised tag removed.
func Plain(template string) string {
	var b strings.Builder
	for _, sp := range Parse(template) {
		b.WriteString(sp.Text)
	}
	return b.String()
}
