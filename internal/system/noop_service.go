package system

import "context"

// NoopService is a convenient Service implementation for placeholders that
// don't (yet) need background processing.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string { return n.ServiceName }

func (NoopService) Start(context.Context) error { return nil }

func (NoopService) Stop(context.Context) error { return nil }
