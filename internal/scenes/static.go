// SPDX-License-Identifier: MIT

package scenes

import (
	"github.com/markus-barta/pidicon/internal/registry"
	"github.com/markus-barta/pidicon/internal/scene"
)

func init() {
	registry.RegisterScene(scene.Descriptor{
		Name:      "static",
		WantsLoop: false,
		Tags:      []string{"builtin", "demo"},
		SortOrder: 0,
		New:       func() scene.Scene { return &staticScene{} },
	})
}

// staticScene fills the display with a solid color once and exits the
// loop (wantsLoop=false): it demonstrates a one-shot render.
type staticScene struct{}

func (s *staticScene) Init(ctx *scene.Ctx) error { return nil }

func (s *staticScene) Render(ctx *scene.Ctx) (int, error) {
	r, g, b := colorFromPayload(ctx.Payload)
	for y := 0; y < ctx.Surface.Height(); y++ {
		for x := 0; x < ctx.Surface.Width(); x++ {
			ctx.Surface.SetPixel(x, y, r, g, b)
		}
	}
	return 0, nil
}

func (s *staticScene) Cleanup(ctx *scene.Ctx) error {
	ctx.Surface.Clear()
	return nil
}

func colorFromPayload(p scene.Payload) (r, g, b uint8) {
	r, g, b = 0, 0, 0
	if v, ok := p["r"].(float64); ok {
		r = uint8(v)
	}
	if v, ok := p["g"].(float64); ok {
		g = uint8(v)
	}
	if v, ok := p["b"].(float64); ok {
		b = uint8(v)
	}
	return r, g, b
}
