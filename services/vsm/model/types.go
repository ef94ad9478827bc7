// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the leveled dependency graph supplied by the
// upstream configuration engine.
//
// The graph is computed upstream: node ids are unique, every node sits in
// exactly one level and parent/child ids reference nodes in adjacent levels.
// Nothing in this package validates or reorders it. The JSON tags describe
// the wire format served by the engine and stored in snapshots.
package model

import "time"

// NodeType discriminates the kind of a dependency node.
type NodeType string

const (
	// NodeTypePipeline is a pipeline vertex with run history.
	NodeTypePipeline NodeType = "PIPELINE"

	// NodeTypeMaterial is a source-control material vertex with revisions.
	NodeTypeMaterial NodeType = "MATERIAL"

	// NodeTypeDummy is a placeholder vertex inserted upstream to keep
	// edges between non-adjacent levels. Any unknown type is treated the same.
	NodeTypeDummy NodeType = "DUMMY"
)

// String returns the wire form of the node type.
func (t NodeType) String() string {
	return string(t)
}

// ViewType marks a pipeline node whose history cannot be shown normally.
//
// The empty value means the node is rendered as a regular pipeline.
type ViewType string

const (
	// ViewTypeNone is the absent view type.
	ViewTypeNone ViewType = ""

	// ViewTypeWarning marks a pipeline with a configuration warning.
	ViewTypeWarning ViewType = "WARNING"

	// ViewTypeNoPermission marks a pipeline the user may not view.
	ViewTypeNoPermission ViewType = "NO_PERMISSION"

	// ViewTypeDeleted marks a pipeline that no longer exists in config.
	ViewTypeDeleted ViewType = "DELETED"
)

// IsSet reports whether an explicit view type was supplied.
func (v ViewType) IsSet() bool {
	return v != ViewTypeNone
}

// Graph is one value stream map as computed upstream.
type Graph struct {
	// CurrentPipeline is the pipeline the map was requested for.
	// Empty when the map is rooted at a material.
	CurrentPipeline string `json:"current_pipeline,omitempty"`

	// CurrentMaterial is the material node id the map was requested for.
	// Empty when the map is rooted at a pipeline.
	CurrentMaterial string `json:"current_material,omitempty"`

	// Levels are ordered as chosen by the upstream traversal.
	Levels []Level `json:"levels"`
}

// NodeCount returns the total number of nodes across all levels.
func (g *Graph) NodeCount() int {
	if g == nil {
		return 0
	}
	n := 0
	for _, l := range g.Levels {
		n += len(l.Nodes)
	}
	return n
}

// Level is the set of nodes at one depth from the root.
type Level struct {
	Nodes []DependencyNode `json:"nodes"`
}

// DependencyNode is a single vertex of the value stream map.
//
// Only the payload fields that match Type are meaningful: Revisions,
// Message, ViewType, CanEdit and TemplateName for pipelines;
// MaterialNames and MaterialRevisions for materials.
type DependencyNode struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     NodeType `json:"node_type"`
	Depth    int      `json:"depth"`
	Parents  []string `json:"parents"`
	Children []string `json:"children"`

	// Message is an upstream note about the node. Empty means none.
	Message      string             `json:"message,omitempty"`
	ViewType     ViewType           `json:"view_type,omitempty"`
	CanEdit      bool               `json:"can_edit,omitempty"`
	TemplateName string             `json:"template_name,omitempty"`
	Revisions    []PipelineRevision `json:"revisions,omitempty"`

	MaterialNames     []string           `json:"material_names,omitempty"`
	MaterialRevisions []MaterialRevision `json:"material_revisions,omitempty"`
}

// PipelineRevision is one historical run of a pipeline.
type PipelineRevision struct {
	Label string `json:"label"`

	// Counter is the run number. Zero is the placeholder used upstream for
	// runs that have not been scheduled yet.
	Counter int             `json:"counter"`
	Stages  []StageRevision `json:"stages"`
}

// StageRevision is the state of one stage within a pipeline run.
type StageRevision struct {
	Name            string `json:"name"`
	Status          string `json:"status"`
	Counter         int    `json:"counter"`
	Completed       bool   `json:"completed"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// StageStatusUnknown is the status of a stage that never ran.
const StageStatusUnknown = "Unknown"

// MaterialRevision groups the modifications of one material config.
type MaterialRevision struct {
	Fingerprint   string         `json:"fingerprint"`
	Modifications []Modification `json:"modifications"`
}

// Modification is a single source-control revision.
type Modification struct {
	Revision     string    `json:"revision"`
	User         string    `json:"user"`
	Comment      string    `json:"comment"`
	ModifiedTime time.Time `json:"modified_time"`
}
