// Package commands implements the framecast slash commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/framecast/internal/discord"
	"github.com/MrWong99/framecast/internal/playback"
	"github.com/MrWong99/framecast/pkg/anim"
)

const (
	// StopPrefix starts the custom_id of the stop button attached to a show
	// response. The session handle follows it.
	StopPrefix = "animation_stop:"

	requestTimeout = 5 * time.Second

	// maxListed caps the lines of the list and sessions embeds.
	maxListed = 40
)

// Runner executes closures on the scheduler's control goroutine.
type Runner interface {
	Do(ctx context.Context, fn func(*playback.Scheduler)) error
}

// Catalog provides animation names for autocomplete. It must be safe for
// concurrent use.
type Catalog interface {
	Names() []string
	Suggest(name string) []string
}

// AnimationCommands handles the /animation slash command group.
type AnimationCommands struct {
	runner  Runner
	catalog Catalog
}

// NewAnimationCommands creates an AnimationCommands handler.
func NewAnimationCommands(runner Runner, catalog Catalog) *AnimationCommands {
	return &AnimationCommands{runner: runner, catalog: catalog}
}

// Register adds the /animation group to router. Showing and stopping need
// the operator role.
func (ac *AnimationCommands) Register(router *discord.Router) {
	router.Command(ac.Definition(), func(s discord.Responder, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(s, i, "Please use a subcommand: `/animation list`, `/animation show`, `/animation stop`, `/animation sessions`.")
	})
	router.Subcommand("animation/list", ac.handleList)
	router.Subcommand("animation/show", ac.handleShow, discord.OperatorOnly())
	router.Subcommand("animation/stop", ac.handleStop, discord.OperatorOnly())
	router.Subcommand("animation/sessions", ac.handleSessions)
	router.Autocomplete("animation/show", ac.handleAutocomplete)
	router.Button(StopPrefix, ac.handleStopButton, discord.OperatorOnly())
}

// Definition returns the /animation ApplicationCommand for Discord registration.
func (ac *AnimationCommands) Definition() *discordgo.ApplicationCommand {
	channels := make([]*discordgo.ApplicationCommandOptionChoice, 0, 3)
	for _, ch := range []anim.Channel{anim.ChannelTitle, anim.ChannelSubtitle, anim.ChannelActionBar} {
		channels = append(channels, &discordgo.ApplicationCommandOptionChoice{Name: string(ch), Value: string(ch)})
	}
	return &discordgo.ApplicationCommand{
		Name:        "animation",
		Description: "Show and manage text animations",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "list",
				Description: "List the animations in the catalog",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
			{
				Name:        "show",
				Description: "Show an animation to viewers",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:         "name",
						Description:  "Animation name",
						Type:         discordgo.ApplicationCommandOptionString,
						Required:     true,
						Autocomplete: true,
					},
					{
						Name:        "target",
						Description: "all, world:NAME, viewer:ID or viewers:ID,ID (default all)",
						Type:        discordgo.ApplicationCommandOptionString,
					},
					{
						Name:        "channel",
						Description: "Display channel (default title)",
						Type:        discordgo.ApplicationCommandOptionString,
						Choices:     channels,
					},
				},
			},
			{
				Name:        "stop",
				Description: "Stop a running animation",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Name:        "session",
						Description: "Session id, e.g. anim-3",
						Type:        discordgo.ApplicationCommandOptionString,
						Required:    true,
					},
				},
			},
			{
				Name:        "sessions",
				Description: "List running animations",
				Type:        discordgo.ApplicationCommandOptionSubCommand,
			},
		},
	}
}

// ── Handlers ────────────────────────────────────────────────────────────────

func (ac *AnimationCommands) handleList(s discord.Responder, i *discordgo.InteractionCreate) {
	names := ac.catalog.Names()
	if len(names) == 0 {
		discord.RespondEphemeral(s, i, "The catalog is empty.")
		return
	}
	slices.Sort(names)
	discord.RespondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Animations (%d)", len(names)),
		Description: bulletList(names, func(n string) string { return "`" + n + "`" }),
	})
}

func (ac *AnimationCommands) handleShow(s discord.Responder, i *discordgo.InteractionCreate) {
	opts := subOptions(i.ApplicationCommandData())

	name := optString(opts, "name")
	target, err := anim.ParseTarget(optString(opts, "target"))
	if err != nil {
		discord.RespondError(s, i, err)
		return
	}
	ch := anim.ChannelTitle
	if v := optString(opts, "channel"); v != "" {
		if ch, err = anim.ParseChannel(v); err != nil {
			discord.RespondError(s, i, err)
			return
		}
	}

	var (
		res     playback.Result
		showErr error
	)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := ac.runner.Do(ctx, func(sched *playback.Scheduler) {
		res, showErr = sched.ShowName(name, target, ch, nil)
	}); err != nil {
		discord.RespondError(s, i, fmt.Errorf("playback unavailable: %w", err))
		return
	}

	var nf *anim.NotFoundError
	switch {
	case errors.As(showErr, &nf):
		msg := fmt.Sprintf("Animation `%s` not found.", nf.Name)
		if len(nf.Suggestions) > 0 {
			msg += " Did you mean " + strings.Join(quoteAll(nf.Suggestions), ", ") + "?"
		}
		discord.RespondEphemeral(s, i, msg)
		return
	case showErr != nil:
		discord.RespondError(s, i, showErr)
		return
	case !res.Shown:
		discord.RespondEphemeral(s, i, fmt.Sprintf("Animation `%s` was not shown: no eligible viewers for %s.", name, target))
		return
	}

	discord.RespondEmbed(s, i, &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Showing %s", name),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Session", Value: res.Handle.String(), Inline: true},
			{Name: "Channel", Value: string(ch), Inline: true},
			{Name: "Viewers", Value: fmt.Sprintf("%d", len(res.Recipients)), Inline: true},
		},
	}, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{Label: "Stop", Style: discordgo.DangerButton, CustomID: StopPrefix + res.Handle.String()},
	}})
}

func (ac *AnimationCommands) handleStop(s discord.Responder, i *discordgo.InteractionCreate) {
	ac.stop(s, i, optString(subOptions(i.ApplicationCommandData()), "session"))
}

func (ac *AnimationCommands) handleStopButton(s discord.Responder, i *discordgo.InteractionCreate) {
	ac.stop(s, i, strings.TrimPrefix(i.MessageComponentData().CustomID, StopPrefix))
}

func (ac *AnimationCommands) stop(s discord.Responder, i *discordgo.InteractionCreate, id string) {
	h, err := playback.ParseHandle(id)
	if err != nil {
		discord.RespondError(s, i, err)
		return
	}

	var stopped bool
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := ac.runner.Do(ctx, func(sched *playback.Scheduler) { stopped = sched.Cancel(h) }); err != nil {
		discord.RespondError(s, i, fmt.Errorf("playback unavailable: %w", err))
		return
	}
	if !stopped {
		discord.RespondEphemeral(s, i, fmt.Sprintf("Session %s is not running.", h))
		return
	}
	discord.RespondEphemeral(s, i, fmt.Sprintf("Stopped %s.", h))
}

func (ac *AnimationCommands) handleSessions(s discord.Responder, i *discordgo.InteractionCreate) {
	var infos []playback.Info
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := ac.runner.Do(ctx, func(sched *playback.Scheduler) { infos = sched.Sessions() }); err != nil {
		discord.RespondError(s, i, fmt.Errorf("playback unavailable: %w", err))
		return
	}
	if len(infos) == 0 {
		discord.RespondEphemeral(s, i, "No animations are running.")
		return
	}
	discord.RespondEmbed(s, i, &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Running animations (%d)", len(infos)),
		Description: bulletList(infos, func(in playback.Info) string {
			return fmt.Sprintf("`%s` %s on %s, frame %d/%d, %d viewers",
				in.ID, in.Animation, in.Channel, in.Frame+1, in.Frames, len(in.Recipients))
		}),
	})
}

// handleAutocomplete offers catalog names matching the typed prefix, falling
// back to fuzzy suggestions when nothing matches.
func (ac *AnimationCommands) handleAutocomplete(s discord.Responder, i *discordgo.InteractionCreate) {
	var typed string
	for _, opt := range subOptionList(i.ApplicationCommandData()) {
		if opt.Focused {
			typed = strings.ToLower(opt.StringValue())
		}
	}
	names := ac.catalog.Names()
	slices.Sort(names)
	var hits []string
	for _, n := range names {
		if strings.HasPrefix(strings.ToLower(n), typed) {
			hits = append(hits, n)
		}
	}
	if len(hits) == 0 && typed != "" {
		hits = ac.catalog.Suggest(typed)
	}
	discord.RespondChoices(s, i, hits)
}

// ── Helpers ────────────────────────────────────────────────────────────────

func subOptionList(data discordgo.ApplicationCommandInteractionData) []*discordgo.ApplicationCommandInteractionDataOption {
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return data.Options[0].Options
	}
	return data.Options
}

func subOptions(data discordgo.ApplicationCommandInteractionData) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption)
	for _, opt := range subOptionList(data) {
		m[opt.Name] = opt
	}
	return m
}

func optString(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if opt, ok := opts[name]; ok {
		return strings.TrimSpace(opt.StringValue())
	}
	return ""
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "`" + n + "`"
	}
	return out
}

func bulletList[T any](items []T, line func(T) string) string {
	var b strings.Builder
	for idx, it := range items {
		if idx == maxListed {
			fmt.Fprintf(&b, "and %d more", len(items)-maxListed)
			break
		}
		b.WriteString("• ")
		b.WriteString(line(it))
		b.WriteByte('\n')
	}
	return b.String()
}
