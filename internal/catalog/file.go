package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/framecast/pkg/anim"
)

// File is the top-level structure of an animation catalog YAML file.
//
// Example:
//
//	animations:
//	  - name: welcome
//	    fps: 2
//	    markup: true
//	    placeholders: true
//	    frames: ["<gold>W", "<gold>We", "<gradient:#ff5555:#5555ff>Welcome %recipient_name%"]
//	    sounds:
//	      2: [{name: entity.player.levelup, pitch: 1.2}]
//	    commands:
//	      2: [{kind: message, value: "Enjoy your stay!"}]
//	  - name: spinner
//	    fps: 12
//	    texture: {glyph_start: "U+E000", count: 8}
type File struct {
	Animations []Entry `yaml:"animations"`
}

// Entry is one animation as written in YAML.
type Entry struct {
	Name         string                 `yaml:"name"`
	FPS          float64                `yaml:"fps"`
	Markup       bool                   `yaml:"markup"`
	Placeholders bool                   `yaml:"placeholders"`
	Frames       []string               `yaml:"frames"`
	Texture      *Texture               `yaml:"texture"`
	Sounds       map[int][]anim.Sound   `yaml:"sounds"`
	Commands     map[int][]anim.Command `yaml:"commands"`
}

// Texture generates frames from consecutive glyphs of a resource-pack font,
// one glyph per frame.
type Texture struct {
	// GlyphStart is the first code point, written "U+E000" or "0xE000".
	GlyphStart string `yaml:"glyph_start"`

	// Count is the number of frames.
	Count int `yaml:"count"`

	// Prefix and Suffix wrap every glyph, e.g. for font selection markup.
	Prefix string `yaml:"prefix"`
	Suffix string `yaml:"suffix"`
}

// LoadFile reads and parses a catalog YAML file from disk.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %q: %w", path, err)
	}
	defer f.Close()

	cf, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %q: %w", path, err)
	}
	return cf, nil
}

// LoadFromReader parses catalog YAML from r. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*File, error) {
	var cf File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil {
		if errors.Is(err, io.EOF) {
			return &cf, nil
		}
		return nil, fmt.Errorf("catalog: decode yaml: %w", err)
	}
	return &cf, nil
}

// Definition converts e into a validated [anim.Definition].
func (e Entry) Definition() (*anim.Definition, error) {
	def := &anim.Definition{
		Name:         e.Name,
		Kind:         anim.KindPlainText,
		Frames:       e.Frames,
		FPS:          e.FPS,
		Markup:       e.Markup,
		Placeholders: e.Placeholders,
		Sounds:       e.Sounds,
		Commands:     e.Commands,
	}
	if e.Texture != nil {
		if len(e.Frames) > 0 {
			return nil, fmt.Errorf("catalog: animation %q: frames and texture are mutually exclusive", e.Name)
		}
		frames, err := e.Texture.Frames()
		if err != nil {
			return nil, fmt.Errorf("catalog: animation %q: %w", e.Name, err)
		}
		def.Kind = anim.KindTexture
		def.Frames = frames
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Frames expands the texture into one frame per glyph.
func (t Texture) Frames() ([]string, error) {
	start, err := parseCodePoint(t.GlyphStart)
	if err != nil {
		return nil, fmt.Errorf("texture: glyph_start: %w", err)
	}
	if t.Count < 1 {
		return nil, fmt.Errorf("texture: count must be at least 1, got %d", t.Count)
	}
	if start+rune(t.Count-1) > 0x10FFFF {
		return nil, fmt.Errorf("texture: %d glyphs from %U run past U+10FFFF", t.Count, start)
	}
	frames := make([]string, t.Count)
	for i := range frames {
		frames[i] = t.Prefix + string(start+rune(i)) + t.Suffix
	}
	return frames, nil
}

func parseCodePoint(s string) (rune, error) {
	s = strings.TrimSpace(s)
	var digits string
	switch {
	case strings.HasPrefix(s, "U+"), strings.HasPrefix(s, "u+"):
		digits = s[2:]
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		digits = s[2:]
	default:
		return 0, fmt.Errorf("%q: want U+XXXX or 0xXXXX", s)
	}
	v, err := strconv.ParseUint(digits, 16, 32)
	if err != nil || v > 0x10FFFF {
		return 0, fmt.Errorf("%q: not a valid code point", s)
	}
	return rune(v), nil
}
