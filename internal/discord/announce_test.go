package discord

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/framecast/internal/discord/mock"
	"github.com/MrWong99/framecast/internal/playback"
	"github.com/MrWong99/framecast/pkg/anim"
)

func finishEvent(outcome playback.Outcome, witnesses int) playback.FinishEvent {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := playback.FinishEvent{
		Handle:     3,
		Animation:  "welcome",
		Kind:       anim.KindPlainText,
		Channel:    anim.ChannelTitle,
		Outcome:    outcome,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}
	for i := range witnesses {
		ev.Recipients = append(ev.Recipients, anim.Recipient{ID: "v" + string(rune('a'+i%26)), Name: "Viewer"})
	}
	return ev
}

func TestFinishEmbed(t *testing.T) {
	t.Parallel()

	e := FinishEmbed(finishEvent(playback.OutcomeCompleted, 2))
	if e.Color != embedColorGreen {
		t.Errorf("color = %x, want green", e.Color)
	}
	if e.Title != "Animation welcome completed" {
		t.Errorf("title = %q", e.Title)
	}
	fields := map[string]string{}
	for _, f := range e.Fields {
		fields[f.Name] = f.Value
	}
	if fields["Session"] != "anim-3" || fields["Duration"] != "1.5s" || fields["Witnesses"] != "Viewer, Viewer" {
		t.Errorf("fields = %v", fields)
	}

	cancelled := FinishEmbed(finishEvent(playback.OutcomeCancelled, 0))
	if cancelled.Color != embedColorRed {
		t.Errorf("cancelled color = %x, want red", cancelled.Color)
	}
	if got := cancelled.Fields[3].Value; got != "none" {
		t.Errorf("witnesses = %q, want none", got)
	}

	many := FinishEmbed(finishEvent(playback.OutcomeCompleted, maxWitnessNames+5))
	if got := many.Fields[3].Value; !strings.HasSuffix(got, "and 5 more") {
		t.Errorf("witnesses = %q, want a truncation suffix", got)
	}
}

func TestAnnouncerPostsAndDrains(t *testing.T) {
	t.Parallel()

	s := &mock.InteractionResponder{}
	a := NewAnnouncer(s, "chan-1")
	a.OnFinish(finishEvent(playback.OutcomeCompleted, 1))
	a.OnFinish(finishEvent(playback.OutcomeAbandoned, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sent := s.SentEmbeds()
	if len(sent) != 2 {
		t.Fatalf("sent %d embeds, want 2", len(sent))
	}
	if sent[0].ChannelID != "chan-1" || sent[1].Embed.Title != "Animation welcome abandoned" {
		t.Errorf("sent = %+v", sent)
	}

	// Events after close are ignored and a second Close is fine.
	a.OnFinish(finishEvent(playback.OutcomeCompleted, 1))
	if err := a.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if got := len(s.SentEmbeds()); got != 2 {
		t.Errorf("sent %d embeds after close, want 2", got)
	}
}
