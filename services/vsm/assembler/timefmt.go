// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assembler

import (
	"time"

	"github.com/dustin/go-humanize"
)

// NoTimeData is rendered for a modification without a timestamp.
const NoTimeData = "N/A"

// TimeFormatter converts a modification timestamp into display text.
type TimeFormatter interface {
	Format(t time.Time) string
}

// TimeFormatterFunc adapts a function to TimeFormatter.
type TimeFormatterFunc func(t time.Time) string

// Format calls f(t).
func (f TimeFormatterFunc) Format(t time.Time) string {
	return f(t)
}

// RelativeTime renders timestamps relative to a clock, e.g. "3 hours ago".
//
// Thread Safety: Safe for concurrent use.
type RelativeTime struct {
	// Now returns the reference instant. Nil means time.Now.
	Now func() time.Time
}

// Format renders t relative to the clock, or NoTimeData for the zero time.
func (r RelativeTime) Format(t time.Time) string {
	if t.IsZero() {
		return NoTimeData
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return humanize.RelTime(t, now(), "ago", "from now")
}

// AbsoluteTime renders timestamps with a fixed layout in a fixed location.
type AbsoluteTime struct {
	// Layout is a time.Format layout. Empty means time.RFC3339.
	Layout string

	// Location converts the timestamp before formatting. Nil means UTC.
	Location *time.Location
}

// Format renders t with the layout, or NoTimeData for the zero time.
func (a AbsoluteTime) Format(t time.Time) string {
	if t.IsZero() {
		return NoTimeData
	}
	layout := a.Layout
	if layout == "" {
		layout = time.RFC3339
	}
	loc := a.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(layout)
}
