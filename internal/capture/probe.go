package capture

import (
	"context"
	"fmt"
)

// Capability is the result of Probe: either Supported or Unsupported.
type Capability interface {
	capability()
}

// Supported carries a ready engine.
type Supported struct {
	Engine *Engine
}

// Unsupported explains why camera scanning is unavailable. Manual entry still works.
type Unsupported struct {
	Reason string
}

func (Supported) capability()   {}
func (Unsupported) capability() {}

// Probe checks once whether camera scanning can work on this platform and, if so,
// builds the engine. Callers switch on the result instead of testing features later.
func Probe(ctx context.Context, camera Camera, detector Detector, opts ...Option) Capability {
	if camera == nil {
		return Unsupported{Reason: "no camera configured"}
	}
	if detector == nil {
		return Unsupported{Reason: "no barcode detector available"}
	}
	if c, ok := camera.(Checker); ok {
		if err := c.Check(ctx); err != nil {
			return Unsupported{Reason: fmt.Sprintf("camera unavailable: %v", err)}
		}
	}
	return Supported{Engine: NewEngine(camera, detector, opts...)}
}
