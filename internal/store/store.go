// SPDX-License-Identifier: MIT

// Package store implements the authoritative State Store: namespaced keyed
// state backed by an in-memory map and a debounced, atomically-written
// journal file.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/markus-barta/pidicon/internal/config"
)

// DebounceWindow is the default delay between a set() and its journal write.
const DebounceWindow = 2 * time.Second

// FlushTimeout bounds how long a shutdown-triggered flush may take.
const FlushTimeout = 5 * time.Second

// document is the on-disk shape: { version, updatedAt, namespaces }.
// Each namespace's slots are kept as json.RawMessage so that fields this
// build doesn't know about survive a rewrite unmodified. Every namespace
// ever passed to Set (not just the built-in "daemon"/"devices" ones, e.g.
// "registry") is journaled and restored the same way.
type document struct {
	Version    int                                   `json:"version"`
	UpdatedAt  int64                                 `json:"updatedAt"`
	Namespaces map[string]map[string]json.RawMessage `json:"namespaces"`
}

const documentVersion = 1

// Store is the keyed, namespaced in-memory state with a write-behind
// journal. The zero value is not usable; construct with New.
type Store struct {
	mu   sync.RWMutex
	path string
	log  *slog.Logger

	// data[namespace][deviceId][key] = value
	data map[string]map[string]map[string]any

	timerMu       sync.Mutex
	timer         *time.Timer
	debounce      time.Duration
	persistenceOn bool

	writeFailures int
}

// New creates a Store that journals to path. path may be empty, in which
// case persistence is disabled from the start (in-memory only, for tests).
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:          path,
		log:           logger,
		data:          make(map[string]map[string]map[string]any),
		debounce:      DebounceWindow,
		persistenceOn: path != "",
	}
	return s
}

// Get reads a value; ok is false if the key has never been set, in which
// case the caller should use its own default.
func (s *Store) Get(namespace, deviceID, key string) (value any, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, present := s.data[namespace]
	if !present {
		return nil, false
	}
	dev, present := ns[deviceID]
	if !present {
		return nil, false
	}
	v, present := dev[key]
	return v, present
}

// Set stores a value and schedules a debounced journal write. Set never
// fails; persistence errors are logged asynchronously.
func (s *Store) Set(namespace, deviceID, key string, value any) {
	s.mu.Lock()
	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]map[string]any)
		s.data[namespace] = ns
	}
	dev, ok := ns[deviceID]
	if !ok {
		dev = make(map[string]any)
		ns[deviceID] = dev
	}
	dev[key] = value
	s.mu.Unlock()

	s.scheduleFlush()
}

// SetCritical stores a value like Set, then immediately and synchronously
// flushes to disk. Critical writes (power, brightness, active scene, play
// state) must be durable-visible even if the process dies inside the
// debounce window.
func (s *Store) SetCritical(namespace, deviceID, key string, value any) error {
	s.Set(namespace, deviceID, key, value)
	return s.Flush()
}

// scheduleFlush arms the debounce timer if one isn't already pending.
// Repeated calls within the same window coalesce into a single flush.
func (s *Store) scheduleFlush() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if !s.persistenceOn {
		return
	}
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.timerMu.Lock()
		s.timer = nil
		s.timerMu.Unlock()

		if err := s.Flush(); err != nil {
			s.log.Warn("state store debounced flush failed", "error", err)
		}
	})
}

// Flush synchronously and durably writes the current state to the journal
// file. It is idempotent and safe to call concurrently with Set.
func (s *Store) Flush() error {
	s.mu.RLock()
	if !s.persistenceOn {
		s.mu.RUnlock()
		return nil
	}
	doc := s.snapshotDocument()
	s.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state document: %w", err)
	}

	if err := atomicWriteFile(s.path, data); err != nil {
		s.mu.Lock()
		s.writeFailures++
		s.mu.Unlock()
		return fmt.Errorf("persistence: write journal: %w", err)
	}
	return nil
}

// snapshotDocument assumes the caller holds at least a read lock. It walks
// every namespace in s.data, not just the built-in ones, so a namespace
// such as "registry" journals and restores exactly like "devices" does.
func (s *Store) snapshotDocument() document {
	doc := document{
		Version:    documentVersion,
		UpdatedAt:  time.Now().UnixMilli(),
		Namespaces: make(map[string]map[string]json.RawMessage, len(s.data)),
	}

	for namespace, slots := range s.data {
		out := make(map[string]json.RawMessage, len(slots))
		for slot, fields := range slots {
			if raw, err := json.Marshal(fields); err == nil {
				out[slot] = raw
			}
		}
		doc.Namespaces[namespace] = out
	}
	return doc
}

// Snapshot returns an opaque copy of the whole document, JSON-encoded. It is
// primarily used by the API layer to serve a full state view.
func (s *Store) Snapshot() []byte {
	s.mu.RLock()
	doc := s.snapshotDocument()
	s.mu.RUnlock()

	data, _ := json.Marshal(doc)
	return data
}

// Restore loads the journal file. A missing or malformed file resets to
// empty state and logs a warning — this is non-fatal by design, since the
// devices themselves hold no state a cold daemon could otherwise recover.
// Before reading, it snapshots the existing journal into a timestamped
// backup (reusing the config package's backup helper, which is a plain
// file-copy-with-timestamp regardless of what it was written for) so an
// operator can recover the pre-restore file if this restore turns out to
// read a journal some other process already mangled.
func (s *Store) Restore() {
	if !s.persistenceOn {
		return
	}

	if _, err := config.BackupConfig(s.path, filepath.Join(filepath.Dir(s.path), "backups")); err != nil {
		// Most commonly there is simply no prior journal yet (first boot);
		// any other failure is non-fatal, the restore itself still proceeds.
		s.log.Debug("state store: pre-restore journal backup skipped", "path", s.path, "error", err)
	}

	data, err := os.ReadFile(s.path) // #nosec G304 -- path is operator-controlled configuration
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("state store: could not read journal, starting empty", "path", s.path, "error", err)
		}
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.Warn("state store: journal is malformed, starting empty", "path", s.path, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	restored := make(map[string]map[string]map[string]any, len(doc.Namespaces))
	for namespace, slots := range doc.Namespaces {
		devs := make(map[string]map[string]any, len(slots))
		for slot, raw := range slots {
			var fields map[string]any
			if err := json.Unmarshal(raw, &fields); err != nil {
				s.log.Warn("state store: skipping malformed record", "namespace", namespace, "slot", slot, "error", err)
				continue
			}
			devs[slot] = fields
		}
		restored[namespace] = devs
	}
	s.data = restored
}

// DisablePersistence stops all journaling and pending timers. Intended for
// tests that want a pure in-memory store.
func (s *Store) DisablePersistence() {
	s.timerMu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerMu.Unlock()

	s.mu.Lock()
	s.persistenceOn = false
	s.mu.Unlock()
}

// atomicWriteFile writes data to a temp file in the same directory as path,
// syncs it, and renames it into place, so a crash mid-write leaves either
// the old file or the new one, never a partial one.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state.*.json") // #nosec G304
	if err != nil {
		return fmt.Errorf("create temp journal file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp journal file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp journal file: %w", err)
	}
	if err := tmp.Chmod(0o640); err != nil {
		return fmt.Errorf("chmod temp journal file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp journal file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename journal file into place: %w", err)
	}

	success = true
	return nil
}
