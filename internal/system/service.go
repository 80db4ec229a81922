// Package system provides the lifecycle contract every long-lived engine
// component implements, and the manager that starts/stops them in order.
package system

import (
	"context"

	core "github.com/deepresearch/engine/internal/core/service"
)

// Service represents a lifecycle-managed component. The background
// runners (the submit worker and the poller) implement this so the Manager
// built in cmd/engine can start and stop them deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DescriptorProvider optionally advertises service metadata for the admin
// introspection surface.
type DescriptorProvider interface {
	Descriptor() core.Descriptor
}
