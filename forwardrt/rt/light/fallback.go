package light

import "github.com/gekko3d/forward/forwardrt/rt/core"

// ResolveShadowType maps a requested shadow type onto one the device can
// render. Omni lights always use PCF3 because cubemap shadows are sampled
// with a single comparison tap. The chain is idempotent.
func ResolveShadowType(caps core.Capabilities, typ Type, requested ShadowType) ShadowType {
	if typ == Omni {
		return PCF3
	}
	t := requested
	if t == PCF5 && !caps.SupportsDepthShadow {
		t = PCF3
	}
	if t == VSM32 && !caps.TextureFloatRenderable {
		t = VSM16
	}
	if t == VSM16 && !caps.TextureHalfFloatRenderable {
		t = VSM8
	}
	return t
}
