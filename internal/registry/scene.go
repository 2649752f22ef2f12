// SPDX-License-Identifier: MIT

package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/markus-barta/pidicon/internal/scene"
)

// sceneDescriptors is the embedded registry populated at build time: scene
// packages self-register via a package-level init() calling RegisterScene, the
// same "fixed capability set, registered at build time" strategy the
// teacher uses for its menu and diagnostics check registrations.
var (
	sceneMu          sync.Mutex
	sceneDescriptors = make(map[string]scene.Descriptor)
)

// RegisterScene adds a scene descriptor to the build-time registry. Called
// from a scene package's init(); panics on a duplicate name since that is a
// programming error caught at process start, not a runtime condition.
func RegisterScene(d scene.Descriptor) {
	sceneMu.Lock()
	defer sceneMu.Unlock()

	if _, exists := sceneDescriptors[d.Name]; exists {
		panic(fmt.Sprintf("registry: duplicate scene registration %q", d.Name))
	}
	sceneDescriptors[d.Name] = d
}

// Scene is the Scene Registry: loads scene modules eagerly at startup and
// indexes them by name.
type Scene struct {
	mu          sync.RWMutex
	descriptors map[string]scene.Descriptor
}

// NewScene builds a Scene Registry from every scene registered so far via
// RegisterScene. Call this after all internal/scenes packages have been
// imported (their init() functions have run) and before accepting commands.
func NewScene() *Scene {
	sceneMu.Lock()
	defer sceneMu.Unlock()

	copied := make(map[string]scene.Descriptor, len(sceneDescriptors))
	for name, d := range sceneDescriptors {
		copied[name] = d
	}
	return &Scene{descriptors: copied}
}

// Lookup returns a scene's descriptor by name.
func (s *Scene) Lookup(name string) (scene.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.descriptors[name]
	return d, ok
}

// Exists reports whether a scene name is registered.
func (s *Scene) Exists(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// List returns all non-hidden scenes sorted by SortOrder then name.
func (s *Scene) List() []scene.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]scene.Descriptor, 0, len(s.descriptors))
	for _, d := range s.descriptors {
		if d.IsHidden {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out
}
