// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vsm

import "github.com/gocd/gocd-sub047/services/vsm/cache"

// ErrorResponse is the error body for rejected requests.
//
// Value stream map failures use the error-only document instead.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the machine-readable error code.
	Code string `json:"code,omitempty"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is returned by the readiness endpoint.
type ReadyResponse struct {
	Ready bool `json:"ready"`

	// Snapshot names the snapshot backend, empty when none is configured.
	Snapshot string `json:"snapshot,omitempty"`

	// Error describes why the service is not ready.
	Error string `json:"error,omitempty"`
}

// PurgeResponse is returned after clearing the map cache.
type PurgeResponse struct {
	Purged int         `json:"purged"`
	Stats  cache.Stats `json:"stats"`
}
