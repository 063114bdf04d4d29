package markup

import (
	"strings"

	"github.com/fogleman/ease"
	"github.com/lucasb-eyer/go-colorful"
)

var namedColors = map[string]string{
	"black":        "#000000",
	"dark_blue":    "#0000aa",
	"dark_green":   "#00aa00",
	"dark_aqua":    "#00aaaa",
	"dark_red":     "#aa0000",
	"dark_purple":  "#aa00aa",
	"gold":         "#ffaa00",
	"gray":         "#aaaaaa",
	"grey":         "#aaaaaa",
	"dark_gray":    "#555555",
	"dark_grey":    "#555555",
	"blue":         "#5555ff",
	"green":        "#55ff55",
	"aqua":         "#55ffff",
	"red":          "#ff5555",
	"light_purple": "#ff55ff",
	"yellow":       "#ffff55",
	"white":        "#ffffff",
}

var easings = map[string]func(float64) float64{
	"linear": ease.Linear,
	"quad":   ease.InOutQuad,
	"cubic":  ease.InOutCubic,
	"sine":   ease.InOutSine,
}

// parseColor accepts a colour name, "#rgb" or "#rrggbb".
func parseColor(s string) (colorful.Color, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if hex, ok := namedColors[s]; ok {
		s = hex
	}
	if !strings.HasPrefix(s, "#") {
		return colorful.Color{}, false
	}
	if len(s) == 4 {
		s = "#" + strings.Repeat(s[1:2], 2) + strings.Repeat(s[2:3], 2) + strings.Repeat(s[3:4], 2)
	}
	if len(s) != 7 {
		return colorful.Color{}, false
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return colorful.Color{}, false
	}
	return c, true
}

// fill colours a set of runes by their position within it.
type fill struct {
	indices []int
	colorAt func(t float64) colorful.Color
}

func (f *fill) paint(runes []styledRune) {
	n := len(f.indices)
	for k, idx := range f.indices {
		t := 0.0
		if n > 1 {
			t = float64(k) / float64(n-1)
		}
		runes[idx].style.Color = f.colorAt(t)
	}
}

// newGradient builds a fill from gradient arguments: two or more colour
// stops, optionally followed by an easing name.
func newGradient(args []string) (*fill, bool) {
	curve := ease.Linear
	if n := len(args); n > 0 {
		if fn, ok := easings[strings.ToLower(args[n-1])]; ok {
			curve = fn
			args = args[:n-1]
		}
	}
	if len(args) < 2 {
		return nil, false
	}
	stops := make([]colorful.Color, len(args))
	for i, a := range args {
		c, ok := parseColor(a)
		if !ok {
			return nil, false
		}
		stops[i] = c
	}
	return &fill{colorAt: func(t float64) colorful.Color {
		t = curve(t)
		pos := t * float64(len(stops)-1)
		seg := min(int(pos), len(stops)-2)
		return stops[seg].BlendHcl(stops[seg+1], pos-float64(seg)).Clamped()
	}}, true
}

func newRainbow() *fill {
	return &fill{colorAt: func(t float64) colorful.Color {
		return colorful.Hsv(t*300, 0.85, 1).Clamped()
	}}
}
