// SPDX-License-Identifier: MIT

// Package scenes holds the daemon's built-in scene implementations. Each
// file registers itself with the Scene Registry via an init() call, the
// same "embedded registry populated at build time" strategy used
// elsewhere in the daemon for fixed-capability-set registrations.
package scenes

import (
	"time"

	"github.com/markus-barta/pidicon/internal/registry"
	"github.com/markus-barta/pidicon/internal/scene"
)

func init() {
	registry.RegisterScene(scene.Descriptor{
		Name:      "clock",
		WantsLoop: true,
		Tags:      []string{"builtin", "demo"},
		SortOrder: 10,
		New:       func() scene.Scene { return &clockScene{} },
	})
}

// clockScene renders the current time once a second. It demonstrates a
// looping scene that reads its refresh interval from the payload.
type clockScene struct {
	intervalMs int
	color      [3]uint8
}

func (c *clockScene) Init(ctx *scene.Ctx) error {
	c.intervalMs = 1000
	if v, ok := ctx.Payload["intervalMs"].(float64); ok && v > 0 {
		c.intervalMs = int(v)
	}
	c.color = [3]uint8{255, 255, 255}
	return nil
}

func (c *clockScene) Render(ctx *scene.Ctx) (int, error) {
	ctx.Surface.Clear()
	text := time.Now().Format("15:04:05")
	ctx.Surface.DrawText(2, 2, text, c.color[0], c.color[1], c.color[2])
	return c.intervalMs, nil
}

func (c *clockScene) Cleanup(ctx *scene.Ctx) error {
	ctx.Surface.Clear()
	return nil
}
