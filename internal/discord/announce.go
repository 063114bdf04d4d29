package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/framecast/internal/playback"
)

// ChannelSender is the subset of [discordgo.Session] used for announcements.
type ChannelSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ ChannelSender = (*discordgo.Session)(nil)

const (
	embedColorGreen = 0x2ECC71
	embedColorRed   = 0xE74C3C

	announceBuffer = 64

	// maxWitnessNames caps the names listed in one embed.
	maxWitnessNames = 20
)

// Announcer posts an embed to a channel for every finished animation. Events
// are queued so the control goroutine never waits on Discord; a full queue
// drops the announcement.
type Announcer struct {
	sender    ChannelSender
	channelID string

	mu     sync.Mutex
	closed bool
	queue  chan playback.FinishEvent
	done   chan struct{}
}

// NewAnnouncer starts the announcement loop. Call [Announcer.Close] to stop it.
func NewAnnouncer(sender ChannelSender, channelID string) *Announcer {
	a := &Announcer{
		sender:    sender,
		channelID: channelID,
		queue:     make(chan playback.FinishEvent, announceBuffer),
		done:      make(chan struct{}),
	}
	go a.loop()
	return a
}

// OnFinish is a [playback.FinishListener].
func (a *Announcer) OnFinish(ev playback.FinishEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- ev:
	default:
		slog.Warn("discord: announcement queue full, dropping", "session", ev.Handle.String(), "animation", ev.Animation)
	}
}

// Close stops accepting events and waits for queued ones to be posted, or
// for ctx to end.
func (a *Announcer) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("discord: close announcer: %w", ctx.Err())
	}
}

func (a *Announcer) loop() {
	defer close(a.done)
	for ev := range a.queue {
		if _, err := a.sender.ChannelMessageSendEmbed(a.channelID, FinishEmbed(ev)); err != nil {
			slog.Warn("discord: failed to announce animation", "session", ev.Handle.String(), "err", err)
		}
	}
}

// FinishEmbed renders a finish event.
func FinishEmbed(ev playback.FinishEvent) *discordgo.MessageEmbed {
	color := embedColorGreen
	if ev.Outcome != playback.OutcomeCompleted {
		color = embedColorRed
	}

	witnesses := "none"
	if n := len(ev.Recipients); n > 0 {
		names := make([]string, 0, min(n, maxWitnessNames))
		for _, r := range ev.Recipients[:min(n, maxWitnessNames)] {
			names = append(names, r.Name)
		}
		witnesses = strings.Join(names, ", ")
		if n > maxWitnessNames {
			witnesses += fmt.Sprintf(" and %d more", n-maxWitnessNames)
		}
	}

	return &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Animation %s %s", ev.Animation, ev.Outcome),
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Session", Value: ev.Handle.String(), Inline: true},
			{Name: "Channel", Value: string(ev.Channel), Inline: true},
			{Name: "Duration", Value: ev.FinishedAt.Sub(ev.StartedAt).Round(time.Millisecond).String(), Inline: true},
			{Name: "Witnesses", Value: witnesses},
		},
		Timestamp: ev.FinishedAt.Format(time.RFC3339),
	}
}
