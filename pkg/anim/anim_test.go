package anim

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func validDefinition() *Definition {
	return &Definition{
		Name:   "welcome",
		Kind:   KindPlainText,
		Frames: []string{"a", "b", "c"},
		FPS:    2,
		Sounds: map[int][]Sound{
			0: {{Name: "ui.button.click", Pitch: 1}},
		},
		Commands: map[int][]Command{
			1: {{Kind: CommandMessage, Value: "hi"}},
		},
	}
}

func TestDefinitionValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(d *Definition)
		wantErr string
	}{
		{name: "valid", mutate: func(*Definition) {}},
		{name: "missing name", mutate: func(d *Definition) { d.Name = "" }, wantErr: "name is required"},
		{name: "no frames", mutate: func(d *Definition) { d.Frames = nil; d.Sounds = nil; d.Commands = nil }, wantErr: "at least one frame"},
		{name: "zero fps", mutate: func(d *Definition) { d.FPS = 0 }, wantErr: "fps must be positive"},
		{name: "negative fps", mutate: func(d *Definition) { d.FPS = -1 }, wantErr: "fps must be positive"},
		{name: "infinite fps", mutate: func(d *Definition) { d.FPS = math.Inf(1) }, wantErr: "fps must be positive and finite"},
		{name: "NaN fps", mutate: func(d *Definition) { d.FPS = math.NaN() }, wantErr: "fps must be positive and finite"},
		{name: "sound index out of range", mutate: func(d *Definition) {
			d.Sounds[3] = []Sound{{Name: "x"}}
		}, wantErr: "sounds: frame index 3 out of range"},
		{name: "command index negative", mutate: func(d *Definition) {
			d.Commands[-1] = []Command{{Kind: CommandConsole, Value: "say x"}}
		}, wantErr: "commands: frame index -1 out of range"},
		{name: "pitch too high", mutate: func(d *Definition) {
			d.Sounds[0][0].Pitch = 2.5
		}, wantErr: "pitch 2.5 outside [0, 2]"},
		{name: "unknown command kind", mutate: func(d *Definition) {
			d.Commands[1][0].Kind = "shout"
		}, wantErr: `unknown kind "shout"`},
		{name: "unknown animation kind", mutate: func(d *Definition) { d.Kind = "video" }, wantErr: `unknown kind "video"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := validDefinition()
			tt.mutate(d)
			err := d.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefinitionDuration(t *testing.T) {
	t.Parallel()
	d := validDefinition()
	if got, want := d.Duration(), time.Second; got != want {
		t.Errorf("Duration() = %v, want %v", got, want)
	}
	if got := d.LastFrame(); got != 2 {
		t.Errorf("LastFrame() = %d, want 2", got)
	}
}

func TestNotFoundError(t *testing.T) {
	t.Parallel()
	var err error = &NotFoundError{Name: "missing"}
	if !errors.Is(err, ErrAnimationNotFound) {
		t.Fatal("errors.Is(NotFoundError, ErrAnimationNotFound) = false")
	}
	if got, want := err.Error(), `the animation "missing" was not found`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestSoundDefaults(t *testing.T) {
	t.Parallel()
	s := Sound{Name: "entity.player.levelup"}.WithDefaults()
	if s.Namespace != DefaultSoundNamespace || s.Source != DefaultSoundSource || s.Pitch != 0 {
		t.Errorf("WithDefaults() = %+v", s)
	}
	if got := s.Key(); got != "minecraft:entity.player.levelup" {
		t.Errorf("Key() = %q", got)
	}
}

func TestSoundDecodePitch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		json      string
		yaml      string
		wantPitch float64
		wantErr   bool
	}{
		{name: "absent", json: `{"name":"click"}`, yaml: "name: click", wantPitch: DefaultSoundPitch},
		{name: "explicit zero", json: `{"name":"click","pitch":0}`, yaml: "name: click\npitch: 0", wantPitch: 0},
		{name: "explicit", json: `{"name":"click","pitch":1.5}`, yaml: "name: click\npitch: 1.5", wantPitch: 1.5},
		{name: "unknown field", json: `{"name":"click","volume":1}`, yaml: "name: click\nvolume: 1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var fromJSON, fromYAML Sound
			jerr := json.Unmarshal([]byte(tt.json), &fromJSON)
			yerr := yaml.Unmarshal([]byte(tt.yaml), &fromYAML)
			if tt.wantErr {
				if jerr == nil || yerr == nil {
					t.Fatalf("errors = %v, %v; want both set", jerr, yerr)
				}
				return
			}
			if jerr != nil || yerr != nil {
				t.Fatalf("unexpected errors: %v, %v", jerr, yerr)
			}
			if fromJSON.Pitch != tt.wantPitch || fromYAML.Pitch != tt.wantPitch {
				t.Errorf("pitch = %v (json), %v (yaml), want %v", fromJSON.Pitch, fromYAML.Pitch, tt.wantPitch)
			}
			if fromJSON.Name != "click" || fromYAML.Name != "click" {
				t.Errorf("name lost: %+v, %+v", fromJSON, fromYAML)
			}
		})
	}
}

func TestConditionNormalized(t *testing.T) {
	t.Parallel()
	c := Condition{Kind: ConditionHasCapability, Value: "vip"}.Normalized()
	if c.ID != DefaultConditionID {
		t.Errorf("ID = %q, want %q", c.ID, DefaultConditionID)
	}
	if err := (Condition{Kind: "maybe", Value: "x"}).Validate(); err == nil {
		t.Error("Validate() with unknown kind = nil, want error")
	}
	if err := (Condition{Kind: ConditionExpression}).Validate(); err == nil {
		t.Error("Validate() with empty value = nil, want error")
	}
}

func TestTargetValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		target  Target
		wantErr bool
	}{
		{"single", ToRecipient(Recipient{ID: "a"}), false},
		{"single without id", ToRecipient(Recipient{}), true},
		{"list", ToRecipients(Recipient{ID: "a"}, Recipient{ID: "b"}), false},
		{"empty list", ToRecipients(), false},
		{"world", ToWorld("lobby"), false},
		{"world without name", ToWorld(""), true},
		{"server", ToServer(), false},
		{"unknown", Target{Kind: "galaxy"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.target.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseChannel(t *testing.T) {
	t.Parallel()
	if c, err := ParseChannel(""); err != nil || c != ChannelTitle {
		t.Errorf("ParseChannel(\"\") = %q, %v", c, err)
	}
	if c, err := ParseChannel("actionbar"); err != nil || c != ChannelActionBar {
		t.Errorf("ParseChannel(actionbar) = %q, %v", c, err)
	}
	if _, err := ParseChannel("tooltip"); err == nil {
		t.Error("ParseChannel(tooltip) = nil error")
	}
}

func TestParseTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Target
		wantErr bool
	}{
		{in: "", want: ToServer()},
		{in: "all", want: ToServer()},
		{in: "world:nether", want: ToWorld("nether")},
		{in: "viewer:alice", want: ToRecipient(Recipient{ID: "alice"})},
		{in: "viewers:alice, bob,", want: ToRecipients(Recipient{ID: "alice"}, Recipient{ID: "bob"})},
		{in: "world:", wantErr: true},
		{in: "galaxy:far", wantErr: true},
		{in: "lobby", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTarget(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTarget(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.String() != tt.want.String() {
				t.Errorf("ParseTarget(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestTargetUnmarshalJSON(t *testing.T) {
	t.Parallel()
	var body struct{ Target Target }
	if err := json.Unmarshal([]byte(`{"target":"world:lobby"}`), &body); err != nil {
		t.Fatalf("string form: %v", err)
	}
	if body.Target.Kind != TargetWorld || body.Target.World != "lobby" {
		t.Errorf("string form = %+v", body.Target)
	}
	if err := json.Unmarshal([]byte(`{"target":{"kind":"recipients","recipients":[{"id":"a"}]}}`), &body); err != nil {
		t.Fatalf("object form: %v", err)
	}
	if body.Target.Kind != TargetRecipients || body.Target.Recipients[0].ID != "a" {
		t.Errorf("object form = %+v", body.Target)
	}
	if err := json.Unmarshal([]byte(`{"target":"nowhere:x"}`), &body); err == nil {
		t.Error("bad string form accepted")
	}
}
