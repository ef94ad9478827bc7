// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph sources.
var (
	// ErrNotFound indicates the pipeline run or material revision is unknown.
	ErrNotFound = errors.New("value stream map not found")

	// ErrPermissionDenied indicates the caller may not view the map.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUpstreamUnavailable indicates the configuration engine could not
	// be reached or failed.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInvalidGraph indicates the upstream payload could not be decoded.
	ErrInvalidGraph = errors.New("invalid graph payload")
)

// UpstreamError is a graph source failure with a user-facing message.
type UpstreamError struct {
	// Key is the request that failed.
	Key Key

	// StatusCode is the upstream HTTP status, or 0 for non-HTTP sources.
	StatusCode int

	// Message is shown to the user in the error-only map.
	Message string

	// Err is one of the package sentinels, possibly wrapping a cause.
	Err error
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Key, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// DisplayMessage returns the message to show for err.
//
// Description:
//
//	Uses the upstream message when err carries an *UpstreamError with one,
//	otherwise a default message per sentinel.
func DisplayMessage(err error) string {
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.Message != "" {
		return ue.Message
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "Value stream map not found"
	case errors.Is(err, ErrPermissionDenied):
		return "You do not have permission to view this value stream map"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "Value stream map is temporarily unavailable"
	default:
		return "Value stream map could not be built"
	}
}

// Reason returns a short metric label for err.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidGraph):
		return "invalid_graph"
	default:
		return "error"
	}
}

func notFound(key Key) error {
	var msg string
	switch key.Kind {
	case KindPipeline:
		msg = fmt.Sprintf("Pipeline '%s' with counter '%s' not found!", key.Name, key.Version)
	default:
		msg = fmt.Sprintf("Material with fingerprint '%s' and revision '%s' not found!", key.Name, key.Version)
	}
	return &UpstreamError{Key: key, Message: msg, Err: ErrNotFound}
}
