// SPDX-License-Identifier: MIT

package store

import "time"

// Daemon Meta State: restored to detect stale heartbeats after an abrupt
// termination. Kept under the special "" deviceId slot of the
// "daemon" namespace so it rides the same journal document as device state.
const (
	namespaceDaemon   = "daemon"
	daemonSlot        = ""
	keyDaemonStartTs  = "daemonStartTs"
	keyLastHeartbeat  = "lastHeartbeatTs"
)

// MarkStarted records the current process start time. Not critical: it is
// diagnostic, not user-visible state.
func (s *Store) MarkStarted() {
	s.Set(namespaceDaemon, daemonSlot, keyDaemonStartTs, time.Now().UnixMilli())
}

// Heartbeat updates the last-heartbeat timestamp. Called periodically so a
// future restart can tell how long the daemon was down.
func (s *Store) Heartbeat() {
	s.Set(namespaceDaemon, daemonSlot, keyLastHeartbeat, time.Now().UnixMilli())
}

// DaemonMeta reports the restored start/heartbeat timestamps, 0 if never
// recorded.
func (s *Store) DaemonMeta() (startTs, lastHeartbeatTs int64) {
	if v, ok := s.Get(namespaceDaemon, daemonSlot, keyDaemonStartTs); ok {
		startTs = int64(toInt(v, 0))
	}
	if v, ok := s.Get(namespaceDaemon, daemonSlot, keyLastHeartbeat); ok {
		lastHeartbeatTs = int64(toInt(v, 0))
	}
	return startTs, lastHeartbeatTs
}
