// SPDX-License-Identifier: MIT

// Package router implements the Command Router: parses and validates
// ingress commands from the bus and REST/WebSocket API, dispatches them to
// the Scene Manager and Device Registry, and publishes the resulting
// authoritative state.
package router

import (
	"strings"
	"unicode"

	"github.com/markus-barta/pidicon/internal/apperr"
)

// MaxIDLength bounds deviceId/scene-name segments pulled out of untrusted
// ingress (bus topics, REST URLs) before they reach the registries.
const MaxIDLength = 128

// SanitizeID validates a device ID or scene name extracted from untrusted
// ingress. It rejects the same hazard classes the teacher's device-name
// sanitizer does — path traversal, path separators, control characters,
// and empty/oversized input — adapted from a filesystem-safety check to a
// routing-safety check, since these strings flow into map lookups and log
// lines rather than file paths.
func SanitizeID(raw string) (string, error) {
	if raw == "" {
		return "", apperr.Validationf("router: empty identifier")
	}
	if len(raw) > MaxIDLength {
		return "", apperr.Validationf("router: identifier exceeds %d characters", MaxIDLength)
	}
	if strings.Contains(raw, "..") {
		return "", apperr.Validationf("router: identifier contains path traversal sequence")
	}
	if strings.ContainsAny(raw, "/\\") {
		return "", apperr.Validationf("router: identifier contains a path separator")
	}
	for _, r := range raw {
		if unicode.IsControl(r) {
			return "", apperr.Validationf("router: identifier contains a control character")
		}
	}
	if strings.TrimSpace(raw) != raw {
		return "", apperr.Validationf("router: identifier has leading or trailing whitespace")
	}
	return raw, nil
}
