package service

// Layer identifies a component's architectural placement for introspection.
type Layer string

const (
	LayerIngress Layer = "ingress"
	LayerEngine  Layer = "engine"
	LayerAdapter Layer = "adapter"
	LayerData    Layer = "data"
)

// Descriptor advertises a service's identity and capabilities for operator
// introspection (the admin HTTP surface, not the out-of-scope dashboard).
type Descriptor struct {
	Name         string
	Domain       string
	Layer        Layer
	Capabilities []string
}

func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	if len(caps) == 0 {
		return d
	}
	combined := make([]string, 0, len(d.Capabilities)+len(caps))
	combined = append(combined, d.Capabilities...)
	combined = append(combined, caps...)
	d.Capabilities = combined
	return d
}
