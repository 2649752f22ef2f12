// SPDX-License-Identifier: MIT

// Package scene implements the per-device scene lifecycle state machine and
// render loop: the Scene Manager and Render Scheduler.
package scene

import (
	"context"
	"log/slog"
)

// Payload is the opaque, duck-typed set of parameters passed to a scene.
// The router validates only the ingress envelope; everything past that is
// scene-specific and forwarded verbatim.
type Payload map[string]any

// Clone returns a shallow copy so a scene cannot mutate a payload another
// goroutine still holds a reference to.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Bool reads a boolean field, defaulting to false if absent or the wrong type.
func (p Payload) Bool(key string) bool {
	v, _ := p[key].(bool)
	return v
}

// Surface is the drawing abstraction a scene renders into. It hides the
// transport behind a small pixel/text API; the Render Scheduler pushes the
// accumulated surface to the device transport after render returns.
type Surface interface {
	// SetPixel sets a single pixel to an RGB color.
	SetPixel(x, y int, r, g, b uint8)
	// Clear blanks the surface to black.
	Clear()
	// DrawText draws a line of text at (x, y) in the given color; scenes
	// that only need text need not touch SetPixel directly.
	DrawText(x, y int, text string, r, g, b uint8)
	// Width and Height report the device's declared capabilities.
	Width() int
	Height() int
}

// StateHandle is a scene's private key/value bag, scoped to one instance
// (and so one generation). It is held in memory only and is not written to
// the State Store. It must not be retained across generations.
type StateHandle interface {
	Get(key string) (value any, ok bool)
	Set(key string, value any)
}

// Ctx is passed to every lifecycle hook. It is valid only for the generation
// it was created for; scenes must not cache it past a render/init/cleanup
// call or leak it into a goroutine that outlives the call.
type Ctx struct {
	context.Context

	DeviceID     string
	SceneName    string
	GenerationID uint64
	Payload      Payload

	Surface Surface
	State   StateHandle
	Logger  *slog.Logger

	// PublishOk reports an intermediate, scene-driven success event (for
	// example "animation complete") without ending the render loop.
	PublishOk func(message string)
}

// Scene is the fixed capability set a scene module must implement. Scenes
// are trusted code in the same trust boundary as the daemon; the runtime
// only invokes these three hooks and never inspects scene internals.
type Scene interface {
	// Init is called once before the first render of an instance. An error
	// here moves the instance straight to STOPPED.
	Init(ctx *Ctx) error
	// Render produces one frame and returns the delay until the next
	// desired frame. Returning 0 for a non-looping scene ends the loop.
	Render(ctx *Ctx) (nextDelayMs int, err error)
	// Cleanup is invoked on stop or supersede. Errors are logged, never
	// propagated — the superseding scene must still start.
	Cleanup(ctx *Ctx) error
}

// Descriptor is a scene's static metadata, registered once at startup.
type Descriptor struct {
	Name         string
	WantsLoop    bool
	DeviceTypes  []string
	Tags         []string
	IsHidden     bool
	SortOrder    int
	ConfigSchema map[string]any

	New func() Scene `json:"-"`
}
