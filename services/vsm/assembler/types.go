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

import "github.com/gocd/gocd-sub047/services/vsm/model"

// ValueStreamMap is the assembled, render-ready view of a dependency graph.
//
// Description:
//
//	Built once per request by Assemble and never mutated afterwards.
//	When Error is set the map carries nothing else: CurrentPipeline,
//	CurrentMaterial and Levels are all zero.
type ValueStreamMap struct {
	// CurrentPipeline is the pipeline the map is rooted at. Empty if none.
	CurrentPipeline string

	// CurrentMaterial is the material id the map is rooted at. Empty if none.
	CurrentMaterial string

	// Levels mirror the input levels one to one, in order.
	Levels []Level

	// Error is the upstream "VSM unavailable" message.
	Error string
}

// HasError reports whether the map is an error-only map.
func (v *ValueStreamMap) HasError() bool {
	return v != nil && v.Error != ""
}

// NodeCount returns the number of nodes across all levels.
func (v *ValueStreamMap) NodeCount() int {
	if v == nil {
		return 0
	}
	n := 0
	for _, l := range v.Levels {
		n += len(l.Nodes)
	}
	return n
}

// Level is one rendered depth of the map.
type Level struct {
	Nodes []Node
}

// Node holds the fields common to every node kind plus its kind payload.
type Node struct {
	ID         string
	Name       string
	Parents    []string
	Dependents []string
	Type       model.NodeType
	Depth      int

	// Kind is one of *PipelineNode, *MaterialNode or *GenericNode.
	Kind NodeKind
}

// NodeKind is the closed set of node payloads.
//
// The set is sealed by the unexported method; switch over the concrete
// types and treat any other value as unreachable.
type NodeKind interface {
	nodeKind()
}

// PipelineNode is the payload of a pipeline vertex.
type PipelineNode struct {
	// Locator links to the pipeline history page. Empty when ViewType is set.
	Locator string

	// EditPath links to the pipeline configuration editor. Always computed.
	EditPath string

	// Message is the upstream note. Empty when none was supplied.
	Message string

	// ViewType is the explicit view override. ViewTypeNone when absent.
	ViewType model.ViewType

	CanEdit      bool
	TemplateName string

	// Instances has one entry per historical run. Never nil.
	Instances []PipelineInstanceView
}

// MaterialNode is the payload of a source-control material vertex.
type MaterialNode struct {
	// MaterialNames is nil when upstream supplied no names.
	MaterialNames []string

	MaterialRevisions []MaterialRevisionGroup
}

// GenericNode is the payload of any other vertex. It carries nothing.
type GenericNode struct{}

func (*PipelineNode) nodeKind() {}
func (*MaterialNode) nodeKind() {}
func (*GenericNode) nodeKind()  {}

// PipelineInstanceView is one run of a pipeline.
type PipelineInstanceView struct {
	Label   string
	Counter int

	// Locator is empty for the placeholder counter 0.
	Locator string

	Stages []StageView
}

// StageView is one stage of a pipeline run.
type StageView struct {
	Name   string
	Status string

	// Duration in seconds. Nil unless the stage completed.
	Duration *int64

	// Locator is empty when Status is "Unknown".
	Locator string
}

// MaterialRevisionGroup holds the modifications of one material config.
type MaterialRevisionGroup struct {
	Fingerprint   string
	Modifications []MaterialRevisionView
}

// MaterialRevisionView is one source-control revision.
type MaterialRevisionView struct {
	Revision     string
	User         string
	Comment      string
	ModifiedTime string
	Locator      string
}
