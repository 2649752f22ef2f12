// SPDX-License-Identifier: MIT

package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := New("", nil)
	s.Set("scene", "dev-1", "foo", "bar")

	v, ok := s.Get("scene", "dev-1", "foo")
	if !ok {
		t.Fatalf("expected key to be present")
	}
	if v != "bar" {
		t.Fatalf("got %v, want bar", v)
	}

	if _, ok := s.Get("scene", "dev-1", "missing"); ok {
		t.Fatalf("expected missing key to be absent")
	}
}

func TestFlushIsDurableAndIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime-state.json")

	s := New(path, nil)
	s.Set(NamespaceDevice, "dev-1", KeyBrightness, 42)

	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("second flush should also succeed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("journal did not decode: %v", err)
	}
	if doc.Version != documentVersion {
		t.Fatalf("got version %d, want %d", doc.Version, documentVersion)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime-state.json")

	s1 := New(path, nil)
	s1.Set(NamespaceDevice, "dev-1", KeyBrightness, 77)
	s1.Set(NamespaceDevice, "dev-1", KeyActiveScene, "clock")
	if err := s1.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	s2 := New(path, nil)
	s2.Restore()

	state := s2.GetDeviceState("dev-1")
	if state.Brightness != 77 {
		t.Fatalf("got brightness %d, want 77", state.Brightness)
	}
	if state.ActiveScene != "clock" {
		t.Fatalf("got scene %q, want clock", state.ActiveScene)
	}
}

func TestRestoreRoundTripArbitraryNamespace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime-state.json")

	s1 := New(path, nil)
	s1.Set("registry", "panel_1", "driverMode", "mock")
	if err := s1.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	s2 := New(path, nil)
	s2.Restore()

	v, ok := s2.Get("registry", "panel_1", "driverMode")
	if !ok {
		t.Fatalf("expected a namespace other than daemon/devices to survive a restore")
	}
	if v != "mock" {
		t.Fatalf("got driverMode %v, want mock", v)
	}
}

func TestRestoreMissingFileIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "does-not-exist.json"), nil)
	s.Restore() // must not panic

	if _, ok := s.Get(NamespaceDevice, "dev-1", KeyBrightness); ok {
		t.Fatalf("expected empty state after restoring a missing file")
	}
}

func TestRestoreMalformedFileIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime-state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write malformed file: %v", err)
	}

	s := New(path, nil)
	s.Restore() // must not panic

	if _, ok := s.Get(NamespaceDevice, "dev-1", KeyBrightness); ok {
		t.Fatalf("expected empty state after restoring a malformed file")
	}
}

func TestDebounceCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime-state.json")

	s := New(path, nil)
	s.debounce = 30 * time.Millisecond

	s.Set(NamespaceDevice, "dev-1", KeyBrightness, 1)
	s.Set(NamespaceDevice, "dev-1", KeyBrightness, 2)
	s.Set(NamespaceDevice, "dev-1", KeyBrightness, 3)

	time.Sleep(80 * time.Millisecond)

	state := s.GetDeviceState("dev-1")
	if state.Brightness != 3 {
		t.Fatalf("got brightness %d, want 3 (last write wins)", state.Brightness)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected a single debounced write to have landed: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("journal file is empty")
	}
}

func TestCriticalWriteFlushesImmediately(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime-state.json")

	s := New(path, nil)
	if err := s.SetBrightness("dev-1", 42); err != nil {
		t.Fatalf("SetBrightness: %v", err)
	}

	// No sleep: a critical write must already be on disk.
	s2 := New(path, nil)
	s2.Restore()
	if got := s2.GetDeviceState("dev-1").Brightness; got != 42 {
		t.Fatalf("got %d, want 42 immediately after critical write", got)
	}
}

func TestDisablePersistenceStopsTimers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime-state.json")

	s := New(path, nil)
	s.debounce = 20 * time.Millisecond
	s.Set(NamespaceDevice, "dev-1", KeyBrightness, 1)
	s.DisablePersistence()

	time.Sleep(60 * time.Millisecond)

	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected no journal file once persistence is disabled before the debounce fired")
	}
}
