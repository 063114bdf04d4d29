package viewer

import "github.com/MrWong99/framecast/pkg/anim"

// Server to client event types.
const (
	EventWelcome = "welcome"
	EventDisplay = "display"
	EventSound   = "sound"
	EventMessage = "message"
	EventCommand = "command"
	EventKick    = "kick"
	EventPong    = "pong"
)

// Client to server event types.
const (
	ClientWorld = "world"
	ClientPing  = "ping"
)

// Event is one JSON text frame sent to a viewer. Only the fields relevant to
// Type are set.
type Event struct {
	Type    string       `json:"type"`
	ID      string       `json:"id,omitempty"`
	Name    string       `json:"name,omitempty"`
	World   string       `json:"world,omitempty"`
	Channel anim.Channel `json:"channel,omitempty"`
	Text    string       `json:"text,omitempty"`
	Sound   *anim.Sound  `json:"sound,omitempty"`
	Command string       `json:"command,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

// ClientEvent is one JSON text frame received from a viewer.
type ClientEvent struct {
	Type  string `json:"type"`
	World string `json:"world,omitempty"`
}
