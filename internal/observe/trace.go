package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the framecast tracer.
const tracerName = "github.com/MrWong99/framecast"

// Span attribute keys for playback spans.
const (
	AttrSession    = attribute.Key("framecast.session")
	AttrAnimation  = attribute.Key("framecast.animation")
	AttrKind       = attribute.Key("framecast.kind")
	AttrChannel    = attribute.Key("framecast.channel")
	AttrRecipients = attribute.Key("framecast.recipients")
	AttrFrame      = attribute.Key("framecast.frame")
	AttrOutcome    = attribute.Key("framecast.outcome")
)

// Tracer returns the framecast tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID is the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id added when ctx
// carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// ── Playback sessions ─────────────────────────────────────────────────────────

// SessionSpan traces one playback session from commit to finish. Frames are
// span events. A nil *SessionSpan is a no-op.
type SessionSpan struct {
	span trace.Span
}

// SessionInfo names the session a [SessionSpan] covers.
type SessionInfo struct {
	Handle     string
	Animation  string
	Kind       string
	Channel    string
	Recipients int
}

// StartSessionSpan starts a root span for a session. Sessions outlive the
// request that started them, so any span in ctx becomes a link rather than
// the parent.
func StartSessionSpan(ctx context.Context, info SessionInfo) *SessionSpan {
	opts := []trace.SpanStartOption{
		trace.WithNewRoot(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrSession.String(info.Handle),
			AttrAnimation.String(info.Animation),
			AttrKind.String(info.Kind),
			AttrChannel.String(info.Channel),
			AttrRecipients.Int(info.Recipients),
		),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		opts = append(opts, trace.WithLinks(trace.Link{SpanContext: sc}))
	}
	_, span := Tracer().Start(ctx, "playback.session "+info.Animation, opts...)
	return &SessionSpan{span: span}
}

// Frame records the dispatch of frame index to recipients viewers.
func (s *SessionSpan) Frame(index, recipients int) {
	if s == nil {
		return
	}
	s.span.AddEvent("frame", trace.WithAttributes(
		AttrFrame.Int(index),
		AttrRecipients.Int(recipients),
	))
}

// End closes the span. Sessions that lost every viewer are marked as errors.
func (s *SessionSpan) End(outcome string, witnesses int) {
	if s == nil {
		return
	}
	s.span.SetAttributes(AttrOutcome.String(outcome), AttrRecipients.Int(witnesses))
	if outcome == "abandoned" {
		s.span.SetStatus(codes.Error, "every recipient left")
	}
	s.span.End()
}
