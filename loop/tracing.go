package loop

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns the engine's OpenTelemetry tracer. Until a caller
// registers a real TracerProvider via otel.SetTracerProvider, this
// resolves to the SDK's built-in no-op implementation, so RunTraced
// is always safe to call.
func Tracer() trace.Tracer {
	return otel.Tracer("engine/loop")
}

// RunTraced wraps Run in a single span covering the whole TOAD run
// (spec §4.1's contract of exactly one terminal event per run makes
// this a clean 1:1 span-per-run), tagging the span with the terminal
// event's kind and marking it as an error status for every
// termination other than EventComplete.
func (l *Loop) RunTraced(ctx context.Context, task string, cfg Config) <-chan Event {
	resolved := cfg.withDefaults()
	ctx, span := Tracer().Start(ctx, "loop.run", trace.WithAttributes(
		attribute.Int("loop.max_iterations", resolved.MaxIterations),
		attribute.Int("loop.max_errors", resolved.MaxErrors),
	))

	source := l.Run(ctx, task, cfg)
	out := make(chan Event)
	go func() {
		defer close(out)
		defer span.End()
		for ev := range source {
			if ev.IsTerminal() {
				span.SetAttributes(attribute.String("loop.terminal_event", string(ev.Kind)))
				if ev.Kind != EventComplete {
					span.SetStatus(codes.Error, string(ev.Kind))
				}
			}
			out <- ev
		}
	}()
	return out
}
