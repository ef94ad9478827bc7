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
	"net/url"
	"strconv"
	"strings"
)

// LinkBuilders produce the locators embedded in an assembled map.
//
// Description:
//
//	The assembler knows nothing about routing; the host supplies one
//	function per link kind. A nil field renders every locator of that kind
//	as the empty string. Use NoLinks to say so explicitly and
//	StandardLinks for the server's own routes.
type LinkBuilders struct {
	// PipelineHistory builds the locator of a pipeline run.
	PipelineHistory func(pipelineName string, pipelineCounter int) string

	// MaterialRevision builds the locator of a material modification.
	MaterialRevision func(fingerprint, revision string) string

	// StageDetail builds the locator of a stage run.
	StageDetail func(pipelineName string, pipelineCounter int, stageName string, stageCounter int) string

	// PipelineEdit builds the locator of the pipeline config editor.
	PipelineEdit func(pipelineName string) string
}

// NoLinks returns builders that produce empty locators for every link kind.
func NoLinks() LinkBuilders {
	return LinkBuilders{
		PipelineHistory:  func(string, int) string { return "" },
		MaterialRevision: func(string, string) string { return "" },
		StageDetail:      func(string, int, string, int) string { return "" },
		PipelineEdit:     func(string) string { return "" },
	}
}

// StandardLinks returns builders for the server's VSM, stage and admin routes.
//
// Description:
//
//	Every path segment is escaped with url.PathEscape. baseURL may be empty
//	for root-relative links; a trailing slash is trimmed.
//
// Inputs:
//
//	baseURL - Prefix such as "https://ci.example.com/go" or "/go".
//
// Outputs:
//
//	LinkBuilders - All four builders set.
//
// Example:
//
//	links := StandardLinks("/go")
//	links.StageDetail("build", 3, "test", 1) // "/go/pipelines/build/3/test/1"
func StandardLinks(baseURL string) LinkBuilders {
	base := strings.TrimRight(baseURL, "/")

	return LinkBuilders{
		PipelineHistory: func(name string, counter int) string {
			return joinPath(base+"/pipelines/value_stream_map", name, strconv.Itoa(counter))
		},
		MaterialRevision: func(fingerprint, revision string) string {
			return joinPath(base+"/materials/value_stream_map", fingerprint, revision)
		},
		StageDetail: func(name string, counter int, stage string, stageCounter int) string {
			return joinPath(base+"/pipelines", name, strconv.Itoa(counter), stage, strconv.Itoa(stageCounter))
		},
		PipelineEdit: func(name string) string {
			return joinPath(base+"/admin/pipelines", name) + "/edit"
		},
	}
}

// joinPath appends escaped segments to an already-escaped prefix.
func joinPath(prefix string, segments ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

func (l LinkBuilders) pipelineHistory(name string, counter int) string {
	if l.PipelineHistory == nil {
		return ""
	}
	return l.PipelineHistory(name, counter)
}

func (l LinkBuilders) materialRevision(fingerprint, revision string) string {
	if l.MaterialRevision == nil {
		return ""
	}
	return l.MaterialRevision(fingerprint, revision)
}

func (l LinkBuilders) stageDetail(name string, counter int, stage string, stageCounter int) string {
	if l.StageDetail == nil {
		return ""
	}
	return l.StageDetail(name, counter, stage, stageCounter)
}

func (l LinkBuilders) pipelineEdit(name string) string {
	if l.PipelineEdit == nil {
		return ""
	}
	return l.PipelineEdit(name)
}
