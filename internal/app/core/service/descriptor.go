package service

// Layer describes where a capability sits in the engine.
type Layer string

const (
	// LayerEngine marks the progression and level services that own the
	// domain rules.
	LayerEngine Layer = "engine"
	// LayerPlatform marks supporting capabilities such as storage and
	// notification fan-out.
	LayerPlatform Layer = "platform"
)

// Descriptor advertises a service's placement and capabilities. It is optional
// and does not change runtime behavior, but allows orchestration layers and
// documentation to reason about modules consistently.
type Descriptor struct {
	Name         string
	Domain       string
	Layer        Layer
	Capabilities []string
}

// WithCapabilities returns a copy of the descriptor with additional
// capabilities appended.
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
