package discord

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// maxChoices is the Discord limit on autocomplete choices.
const maxChoices = 25

// reply answers i with an ephemeral message built from data.
func reply(s Responder, i *discordgo.InteractionCreate, what string, data *discordgo.InteractionResponseData) {
	data.Flags |= discordgo.MessageFlagsEphemeral
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		slog.Warn("discord: failed to respond", "kind", what, "err", err)
	}
}

// RespondEphemeral answers with text only the author sees.
func RespondEphemeral(s Responder, i *discordgo.InteractionCreate, content string) {
	reply(s, i, "text", &discordgo.InteractionResponseData{Content: content})
}

// RespondEmbed answers with an ephemeral embed and optional components such
// as the stop button of a show.
func RespondEmbed(s Responder, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, components ...discordgo.MessageComponent) {
	reply(s, i, "embed", &discordgo.InteractionResponseData{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: components,
	})
}

// RespondError answers with "Error: " and err.
func RespondError(s Responder, i *discordgo.InteractionCreate, err error) {
	reply(s, i, "error", &discordgo.InteractionResponseData{Content: fmt.Sprintf("Error: %v", err)})
}

// RespondChoices answers an autocomplete interaction. Names beyond the
// Discord limit are cut.
func RespondChoices(s Responder, i *discordgo.InteractionCreate, names []string) {
	if len(names) > maxChoices {
		names = names[:maxChoices]
	}
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(names))
	for _, n := range names {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: n, Value: n})
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
	if err != nil {
		slog.Warn("discord: failed to send autocomplete choices", "err", err)
	}
}
