// Package mock provides test doubles for Discord interaction testing.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// SentEmbed is one recorded ChannelMessageSendEmbed call.
type SentEmbed struct {
	ChannelID string
	Embed     *discordgo.MessageEmbed
}

// InteractionResponder records interaction responses and channel posts for
// test assertions. It is safe for concurrent use.
type InteractionResponder struct {
	mu sync.Mutex

	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// Embeds records all ChannelMessageSendEmbed calls.
	Embeds []SentEmbed

	// Err is returned by every method when non-nil, allowing error injection.
	Err error
}

// InteractionRespond records the response and returns the configured error.
func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, resp)
	return m.Err
}

// ChannelMessageSendEmbed records the embed and returns a stub message.
func (m *InteractionResponder) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Embeds = append(m.Embeds, SentEmbed{ChannelID: channelID, Embed: embed})
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "mock-embed", ChannelID: channelID}, nil
}

// LastResponse returns the most recently recorded response, or nil.
func (m *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// LastContent returns the text of the most recent response, or "".
func (m *InteractionResponder) LastContent() string {
	resp := m.LastResponse()
	if resp == nil || resp.Data == nil {
		return ""
	}
	return resp.Data.Content
}

// SentEmbeds returns a copy of the recorded channel posts.
func (m *InteractionResponder) SentEmbeds() []SentEmbed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentEmbed(nil), m.Embeds...)
}

// Reset clears all recorded interactions and errors.
func (m *InteractionResponder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = nil
	m.Embeds = nil
	m.Err = nil
}
