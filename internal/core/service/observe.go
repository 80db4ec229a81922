package service

import (
	"context"
	"time"
)

// ObservationHooks lets callers attach start/complete callbacks to a
// component's units of work (a poll tick, a submit attempt) without the
// component itself depending on a metrics backend.
type ObservationHooks struct {
	OnStart    func(ctx context.Context, meta map[string]string)
	OnComplete func(ctx context.Context, meta map[string]string, err error, duration time.Duration)
}

var NoopObservationHooks = ObservationHooks{}

func StartObservation(ctx context.Context, hooks ObservationHooks, meta map[string]string) func(error) {
	if hooks.OnStart != nil {
		hooks.OnStart(ctx, meta)
	}
	start := time.Now()
	return func(err error) {
		if hooks.OnComplete != nil {
			hooks.OnComplete(ctx, meta, err, time.Since(start))
		}
	}
}
