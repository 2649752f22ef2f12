// SPDX-License-Identifier: MIT

package registry

import (
	"testing"

	"github.com/markus-barta/pidicon/internal/scene"
)

func TestSceneRegistryLookupAndList(t *testing.T) {
	RegisterScene(scene.Descriptor{Name: "registry-test-alpha", SortOrder: 2})
	RegisterScene(scene.Descriptor{Name: "registry-test-beta", SortOrder: 1})
	RegisterScene(scene.Descriptor{Name: "registry-test-hidden", IsHidden: true})

	reg := NewScene()

	if !reg.Exists("registry-test-alpha") {
		t.Fatalf("expected registry-test-alpha to be registered")
	}
	if reg.Exists("registry-test-missing") {
		t.Fatalf("expected registry-test-missing to be absent")
	}

	d, ok := reg.Lookup("registry-test-beta")
	if !ok || d.Name != "registry-test-beta" {
		t.Fatalf("lookup failed: %+v, ok=%v", d, ok)
	}

	list := reg.List()
	for _, d := range list {
		if d.Name == "registry-test-hidden" {
			t.Errorf("expected hidden scene to be excluded from List")
		}
	}

	// registry-test-beta (SortOrder 1) must sort before registry-test-alpha (SortOrder 2).
	betaIdx, alphaIdx := -1, -1
	for i, d := range list {
		switch d.Name {
		case "registry-test-beta":
			betaIdx = i
		case "registry-test-alpha":
			alphaIdx = i
		}
	}
	if betaIdx == -1 || alphaIdx == -1 {
		t.Fatalf("expected both test scenes in list")
	}
	if betaIdx > alphaIdx {
		t.Errorf("expected lower SortOrder scene to sort first")
	}
}

func TestRegisterSceneDuplicatePanics(t *testing.T) {
	RegisterScene(scene.Descriptor{Name: "registry-test-dup"})

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected duplicate registration to panic")
		}
	}()
	RegisterScene(scene.Descriptor{Name: "registry-test-dup"})
}
