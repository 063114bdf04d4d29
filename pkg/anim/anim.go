// Package anim defines the animation data model shared by every framecast
// package, together with the collaborator interfaces the playback engine
// consumes.
//
// All value types here are plain data. A [Definition] is treated as immutable
// once it has been validated: the catalog builds it, sessions reference it,
// and nobody mutates it afterwards.
package anim

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind identifies where an animation came from. It is carried in lifecycle
// notifications so subscribers can tell ad-hoc animations from catalog ones.
type Kind string

const (
	// KindAPI marks a definition passed directly to show rather than looked up.
	KindAPI Kind = "api"

	// KindPlainText marks a catalog animation whose frames are literal text.
	KindPlainText Kind = "plain_text"

	// KindTexture marks a catalog animation whose frames are generated glyphs
	// from a resource-pack sprite sheet.
	KindTexture Kind = "texture"
)

// IsValid reports whether k is a known animation kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindAPI, KindPlainText, KindTexture:
		return true
	}
	return false
}

// Channel is the on-screen surface a frame is rendered to.
type Channel string

const (
	ChannelTitle     Channel = "title"
	ChannelSubtitle  Channel = "subtitle"
	ChannelActionBar Channel = "actionbar"
)

// IsValid reports whether c is a known display channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelTitle, ChannelSubtitle, ChannelActionBar:
		return true
	}
	return false
}

// ParseChannel converts s to a [Channel]. An empty string yields
// [ChannelTitle].
func ParseChannel(s string) (Channel, error) {
	if s == "" {
		return ChannelTitle, nil
	}
	c := Channel(s)
	if !c.IsValid() {
		return "", fmt.Errorf("anim: unknown channel %q (valid: title, subtitle, actionbar)", s)
	}
	return c, nil
}

// Default values applied to sounds that leave fields empty.
const (
	DefaultSoundNamespace = "minecraft"
	DefaultSoundSource    = "master"
)

// DefaultSoundPitch is set by the decoders when a sound has no pitch key.
// An explicit pitch of 0 is kept.
const DefaultSoundPitch = 1.0

// Sound is a sound directive fired on a frame.
type Sound struct {
	Namespace string  `json:"namespace" yaml:"namespace"`
	Name      string  `json:"name"      yaml:"name"`
	Source    string  `json:"source"    yaml:"source"`
	Pitch     float64 `json:"pitch"     yaml:"pitch"`
}

// plainSound has Sound's fields without its decoders.
type plainSound Sound

// UnmarshalJSON decodes s strictly, defaulting an absent pitch.
func (s *Sound) UnmarshalJSON(data []byte) error {
	p := plainSound{Pitch: DefaultSoundPitch}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return fmt.Errorf("sound: %w", err)
	}
	*s = Sound(p)
	return nil
}

// UnmarshalYAML decodes s strictly, defaulting an absent pitch.
func (s *Sound) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			switch k := n.Content[i]; k.Value {
			case "namespace", "name", "source", "pitch":
			default:
				return fmt.Errorf("sound: line %d: unknown field %q", k.Line, k.Value)
			}
		}
	}
	p := plainSound{Pitch: DefaultSoundPitch}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*s = Sound(p)
	return nil
}

// WithDefaults returns a copy of s with empty namespace and source filled in.
// Pitch is left alone; see [DefaultSoundPitch].
func (s Sound) WithDefaults() Sound {
	if s.Namespace == "" {
		s.Namespace = DefaultSoundNamespace
	}
	if s.Source == "" {
		s.Source = DefaultSoundSource
	}
	return s
}

// Key returns the namespaced sound identifier, e.g. "minecraft:ui.button.click".
func (s Sound) Key() string {
	ns := s.Namespace
	if ns == "" {
		ns = DefaultSoundNamespace
	}
	return ns + ":" + s.Name
}

// CommandKind selects how a [Command] is executed.
type CommandKind string

const (
	// CommandMessage renders the value like a frame and sends it as a chat message.
	CommandMessage CommandKind = "message"

	// CommandConsole runs the value with console authority.
	CommandConsole CommandKind = "console"

	// CommandRecipient runs the value on behalf of the recipient.
	CommandRecipient CommandKind = "recipient"
)

// IsValid reports whether k is a known command kind.
func (k CommandKind) IsValid() bool {
	switch k {
	case CommandMessage, CommandConsole, CommandRecipient:
		return true
	}
	return false
}

// Command is a command directive fired on a frame.
type Command struct {
	Kind  CommandKind `json:"kind"  yaml:"kind"`
	Value string      `json:"value" yaml:"value"`
}

// ConditionKind selects how a [Condition] is evaluated.
type ConditionKind string

const (
	ConditionHasCapability   ConditionKind = "has_capability"
	ConditionLacksCapability ConditionKind = "lacks_capability"
	ConditionExpression      ConditionKind = "expression"
)

// IsValid reports whether k is a known condition kind.
func (k ConditionKind) IsValid() bool {
	switch k {
	case ConditionHasCapability, ConditionLacksCapability, ConditionExpression:
		return true
	}
	return false
}

// DefaultConditionID names anonymous conditions.
const DefaultConditionID = "custom"

// Condition is a named predicate on a recipient.
type Condition struct {
	ID    string        `json:"id,omitempty" yaml:"id"`
	Kind  ConditionKind `json:"kind"         yaml:"kind"`
	Value string        `json:"value"        yaml:"value"`
}

// Normalized returns c with an empty ID replaced by [DefaultConditionID].
func (c Condition) Normalized() Condition {
	if c.ID == "" {
		c.ID = DefaultConditionID
	}
	return c
}

// Validate checks that the kind is known and the value is present.
func (c Condition) Validate() error {
	if !c.Kind.IsValid() {
		return fmt.Errorf("anim: condition %q: unknown kind %q", c.Normalized().ID, c.Kind)
	}
	if c.Value == "" {
		return fmt.Errorf("anim: condition %q: value is required", c.Normalized().ID)
	}
	return nil
}

// Recipient is an addressable connected user. Identity is the ID alone; the
// name is a display hint.
type Recipient struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// TargetKind selects how a [Target] expands into recipients.
type TargetKind string

const (
	TargetRecipient  TargetKind = "recipient"
	TargetRecipients TargetKind = "recipients"
	TargetWorld      TargetKind = "world"
	TargetServer     TargetKind = "server"
)

// Target describes who should receive an animation. Only the fields relevant
// to Kind are read.
type Target struct {
	Kind       TargetKind  `json:"kind"`
	Recipients []Recipient `json:"recipients,omitempty"`
	World      string      `json:"world,omitempty"`
}

// ToRecipient targets exactly one recipient.
func ToRecipient(r Recipient) Target {
	return Target{Kind: TargetRecipient, Recipients: []Recipient{r}}
}

// ToRecipients targets an explicit collection.
func ToRecipients(rs ...Recipient) Target {
	return Target{Kind: TargetRecipients, Recipients: rs}
}

// ToWorld targets every recipient currently in world.
func ToWorld(world string) Target {
	return Target{Kind: TargetWorld, World: world}
}

// ToServer targets every connected recipient.
func ToServer() Target {
	return Target{Kind: TargetServer}
}

// Single reports whether the target addresses one recipient, in which case
// callers report a boolean rather than a recipient collection.
func (t Target) Single() bool { return t.Kind == TargetRecipient }

// Validate checks the target's shape.
func (t Target) Validate() error {
	switch t.Kind {
	case TargetRecipient:
		if len(t.Recipients) != 1 || t.Recipients[0].ID == "" {
			return errors.New("anim: recipient target needs exactly one recipient with an id")
		}
	case TargetRecipients:
		for i, r := range t.Recipients {
			if r.ID == "" {
				return fmt.Errorf("anim: recipients[%d]: id is required", i)
			}
		}
	case TargetWorld:
		if t.World == "" {
			return errors.New("anim: world target needs a world name")
		}
	case TargetServer:
	default:
		return fmt.Errorf("anim: unknown target kind %q", t.Kind)
	}
	return nil
}

// ParseTarget parses the compact target form used by operators:
//
//	all | server | ""    every connected recipient
//	world:NAME           everyone in world NAME
//	viewer:ID            one recipient
//	viewers:ID,ID,...    an explicit collection
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "all", "server":
		return ToServer(), nil
	}
	kind, arg, ok := strings.Cut(s, ":")
	if !ok || arg == "" {
		return Target{}, fmt.Errorf("anim: invalid target %q", s)
	}
	switch kind {
	case "world":
		return ToWorld(arg), nil
	case "viewer":
		return ToRecipient(Recipient{ID: arg}), nil
	case "viewers":
		var rs []Recipient
		for id := range strings.SplitSeq(arg, ",") {
			if id = strings.TrimSpace(id); id != "" {
				rs = append(rs, Recipient{ID: id})
			}
		}
		return ToRecipients(rs...), nil
	}
	return Target{}, fmt.Errorf("anim: unknown target kind %q", kind)
}

// String returns the form accepted by [ParseTarget].
func (t Target) String() string {
	switch t.Kind {
	case TargetServer:
		return "all"
	case TargetWorld:
		return "world:" + t.World
	case TargetRecipient:
		if len(t.Recipients) == 1 {
			return "viewer:" + t.Recipients[0].ID
		}
	case TargetRecipients:
		ids := make([]string, len(t.Recipients))
		for i, r := range t.Recipients {
			ids[i] = r.ID
		}
		return "viewers:" + strings.Join(ids, ",")
	}
	return string(t.Kind)
}

// UnmarshalJSON accepts either the object form or a [ParseTarget] string.
func (t *Target) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseTarget(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	type plain Target
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("anim: target: %w", err)
	}
	*t = Target(p)
	return nil
}

// Definition is a complete animation: frames, rate, feature flags and the
// per-frame directive maps. Keys of Sounds and Commands are zero-based frame
// indices.
type Definition struct {
	Name         string            `json:"name"`
	Kind         Kind              `json:"kind,omitempty"`
	Frames       []string          `json:"frames"`
	FPS          float64           `json:"fps"`
	Markup       bool              `json:"markup,omitempty"`
	Placeholders bool              `json:"placeholders,omitempty"`
	Sounds       map[int][]Sound   `json:"sounds,omitempty"`
	Commands     map[int][]Command `json:"commands,omitempty"`
}

// Validate reports every structural problem in d, joined.
func (d *Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if d.Kind != "" && !d.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("unknown kind %q", d.Kind))
	}
	if len(d.Frames) == 0 {
		errs = append(errs, errors.New("at least one frame is required"))
	}
	if !(d.FPS > 0) || math.IsInf(d.FPS, 1) {
		errs = append(errs, fmt.Errorf("fps must be positive and finite, got %v", d.FPS))
	}
	for idx, sounds := range d.Sounds {
		if idx < 0 || idx >= len(d.Frames) {
			errs = append(errs, fmt.Errorf("sounds: frame index %d out of range [0, %d)", idx, len(d.Frames)))
		}
		for i, s := range sounds {
			if s.Name == "" {
				errs = append(errs, fmt.Errorf("sounds[%d][%d]: name is required", idx, i))
			}
			if s.Pitch < 0 || s.Pitch > 2 {
				errs = append(errs, fmt.Errorf("sounds[%d][%d]: pitch %v outside [0, 2]", idx, i, s.Pitch))
			}
		}
	}
	for idx, cmds := range d.Commands {
		if idx < 0 || idx >= len(d.Frames) {
			errs = append(errs, fmt.Errorf("commands: frame index %d out of range [0, %d)", idx, len(d.Frames)))
		}
		for i, c := range cmds {
			if !c.Kind.IsValid() {
				errs = append(errs, fmt.Errorf("commands[%d][%d]: unknown kind %q", idx, i, c.Kind))
			}
			if c.Value == "" {
				errs = append(errs, fmt.Errorf("commands[%d][%d]: value is required", idx, i))
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	name := d.Name
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Errorf("anim: definition %q: %w", name, errors.Join(errs...))
}

// LastFrame returns the index of the final frame.
func (d *Definition) LastFrame() int { return len(d.Frames) - 1 }

// Duration returns the wall-clock time between the first and the last frame.
func (d *Definition) Duration() time.Duration {
	if d.FPS <= 0 || len(d.Frames) < 2 {
		return 0
	}
	return time.Duration(float64(d.LastFrame()) / d.FPS * float64(time.Second))
}
