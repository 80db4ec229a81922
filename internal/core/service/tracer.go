package service

import "context"

// Tracer starts/finishes spans for observability. The engine ships a no-op
// implementation; a real OTel exporter can be wired in by the surface that
// embeds the engine without the engine depending on that choice.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attributes map[string]string) (context.Context, func(error))
}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// NoopTracer is the default tracer used when none is configured.
var NoopTracer Tracer = noopTracer{}
