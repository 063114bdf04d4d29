package markup

import (
	"strings"
	"unicode/utf8"

	"github.com/lucasb-eyer/go-colorful"
)

// Style is the resolved formatting of a run of text.
type Style struct {
	Color    colorful.Color
	HasColor bool

	Bold          bool
	Italic        bool
	Underline     bool
	Strikethrough bool
}

// IsZero reports whether s applies no formatting.
func (s Style) IsZero() bool { return s == Style{} }

// Span is a run of text sharing one style.
type Span struct {
	Text  string
	Style Style
}

type decoration int

const (
	decoNone decoration = iota
	decoBold
	decoItalic
	decoUnderline
	decoStrikethrough
)

// frame is one open tag.
type frame struct {
	name  string
	deco  decoration
	color *colorful.Color
	fill  *fill
}

type styledRune struct {
	r     rune
	style Style
}

// Parse splits template into styled spans. Adjacent runes with equal styles
// are merged.
func Parse(template string) []Span {
	var (
		stack []frame
		runes []styledRune
		fills []*fill
	)

	emit := func(r rune) {
		var st Style
		var owner *fill
		for i := range stack {
			f := &stack[i]
			switch {
			case f.color != nil:
				st.Color, st.HasColor, owner = *f.color, true, nil
			case f.fill != nil:
				st.HasColor, owner = true, f.fill
			}
			switch f.deco {
			case decoBold:
				st.Bold = true
			case decoItalic:
				st.Italic = true
			case decoUnderline:
				st.Underline = true
			case decoStrikethrough:
				st.Strikethrough = true
			}
		}
		if owner != nil {
			owner.indices = append(owner.indices, len(runes))
		}
		runes = append(runes, styledRune{r: r, style: st})
	}

	for i := 0; i < len(template); {
		c := template[i]
		if c == '\\' && i+1 < len(template) && template[i+1] == '<' {
			emit('<')
			i += 2
			continue
		}
		if c == '<' {
			if end := strings.IndexByte(template[i+1:], '>'); end >= 0 {
				body := template[i+1 : i+1+end]
				if applyTag(body, &stack, &fills) {
					i += end + 2
					continue
				}
			}
		}
		r, size := utf8.DecodeRuneInString(template[i:])
		emit(r)
		i += size
	}

	for _, f := range fills {
		f.paint(runes)
	}
	return merge(runes)
}

// applyTag interprets body (the text between the brackets) and reports
// whether it was a recognised tag.
func applyTag(body string, stack *[]frame, fills *[]*fill) bool {
	if body == "" {
		return false
	}
	if body[0] == '/' {
		name := canonical(strings.ToLower(body[1:]))
		if name == "" {
			if n := len(*stack); n > 0 {
				*stack = (*stack)[:n-1]
			}
			return true
		}
		if !knownTag(name) {
			return false
		}
		for j := len(*stack) - 1; j >= 0; j-- {
			if (*stack)[j].name == name {
				*stack = (*stack)[:j]
				break
			}
		}
		return true
	}

	args := strings.Split(body, ":")
	raw := strings.ToLower(args[0])
	if strings.HasPrefix(raw, "#") {
		c, ok := parseColor(raw)
		if !ok || len(args) != 1 {
			return false
		}
		*stack = append(*stack, frame{name: "color", color: &c})
		return true
	}
	name := canonical(raw)
	switch name {
	case "reset":
		*stack = (*stack)[:0]
		return true
	case "bold":
		*stack = append(*stack, frame{name: name, deco: decoBold})
		return true
	case "italic":
		*stack = append(*stack, frame{name: name, deco: decoItalic})
		return true
	case "underlined":
		*stack = append(*stack, frame{name: name, deco: decoUnderline})
		return true
	case "strikethrough":
		*stack = append(*stack, frame{name: name, deco: decoStrikethrough})
		return true
	case "color":
		if len(args) != 2 {
			return false
		}
		c, ok := parseColor(args[1])
		if !ok {
			return false
		}
		*stack = append(*stack, frame{name: name, color: &c})
		return true
	case "gradient":
		f, ok := newGradient(args[1:])
		if !ok {
			return false
		}
		*fills = append(*fills, f)
		*stack = append(*stack, frame{name: name, fill: f})
		return true
	case "rainbow":
		f := newRainbow()
		*fills = append(*fills, f)
		*stack = append(*stack, frame{name: name, fill: f})
		return true
	}

	if hex, ok := namedColors[name]; ok && len(args) == 1 {
		c, _ := parseColor(hex)
		*stack = append(*stack, frame{name: name, color: &c})
		return true
	}
	return false
}

func canonical(name string) string {
	switch name {
	case "b":
		return "bold"
	case "i", "em":
		return "italic"
	case "u", "underline":
		return "underlined"
	case "st", "strike":
		return "strikethrough"
	case "colour", "c":
		return "color"
	}
	if strings.HasPrefix(name, "#") {
		return "color"
	}
	return name
}

func knownTag(name string) bool {
	switch name {
	case "bold", "italic", "underlined", "strikethrough", "color", "gradient", "rainbow":
		return true
	}
	_, named := namedColors[name]
	return named
}

func merge(runes []styledRune) []Span {
	var spans []Span
	var b strings.Builder
	for i, sr := range runes {
		if i > 0 && sr.style != runes[i-1].style {
			spans = append(spans, Span{Text: b.String(), Style: runes[i-1].style})
			b.Reset()
		}
		b.WriteRune(sr.r)
	}
	if len(runes) > 0 {
		spans = append(spans, Span{Text: b.String(), Style: runes[len(runes)-1].style})
	}
	return spans
}
