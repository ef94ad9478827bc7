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

import "errors"

// Sentinel errors for the VSM service.
var (
	// ErrInvalidRequest indicates a malformed pipeline or material identifier.
	ErrInvalidRequest = errors.New("invalid value stream map request")

	// ErrNilSource indicates the service was created without a graph source.
	ErrNilSource = errors.New("graph source is required")
)
