// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assembler reshapes a leveled dependency graph into the value
// stream map view model.
//
// The transform is a single synchronous pass with no side effects. It does
// not traverse, order or validate the graph; levels and edges are taken
// as supplied. Locators come from caller-supplied LinkBuilders and
// modification times from a TimeFormatter.
//
// # Usage
//
//	a := assembler.New(assembler.StandardLinks("/go"))
//	vsm := a.AssembleGraph(graph)
//
// # Thread Safety
//
// An Assembler is immutable after New and safe for concurrent use.
package assembler

import (
	"fmt"

	"github.com/gocd/gocd-sub047/services/vsm/model"
)

// Assembler builds ValueStreamMaps with fixed link builders and time format.
type Assembler struct {
	links LinkBuilders
	times TimeFormatter
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithTimeFormatter sets the formatter for modification times.
// Default: RelativeTime{} against the wall clock.
func WithTimeFormatter(f TimeFormatter) Option {
	return func(a *Assembler) {
		if f != nil {
			a.times = f
		}
	}
}

// New creates an Assembler.
//
// Inputs:
//
//	links - Locator builders. See LinkBuilders for nil-field behavior.
//	opts - Optional settings.
//
// Outputs:
//
//	*Assembler - Ready to use. Never nil.
func New(links LinkBuilders, opts ...Option) *Assembler {
	a := &Assembler{
		links: links,
		times: RelativeTime{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds a map with the given links and default options.
//
// Description:
//
//	Convenience wrapper around New(links).Assemble.
func Assemble(currentPipeline, currentMaterial, errMsg string, levels []model.Level, links LinkBuilders) *ValueStreamMap {
	return New(links).Assemble(currentPipeline, currentMaterial, errMsg, levels)
}

// Assemble builds the view model for one value stream map.
//
// Description:
//
//	If errMsg is non-empty the result carries only that message and the
//	remaining inputs are ignored. Otherwise every input level produces
//	one output level with the same nodes in the same order.
//
// Inputs:
//
//	currentPipeline - Root pipeline name. Empty when rooted at a material.
//	currentMaterial - Root material id. Empty when rooted at a pipeline.
//	errMsg - Upstream failure message. Empty for a successful graph.
//	levels - Leveled nodes as computed upstream.
//
// Outputs:
//
//	*ValueStreamMap - Never nil.
func (a *Assembler) Assemble(currentPipeline, currentMaterial, errMsg string, levels []model.Level) *ValueStreamMap {
	if errMsg != "" {
		return &ValueStreamMap{Error: errMsg}
	}

	vsm := &ValueStreamMap{
		CurrentPipeline: currentPipeline,
		CurrentMaterial: currentMaterial,
		Levels:          make([]Level, len(levels)),
	}
	for i, level := range levels {
		nodes := make([]Node, len(level.Nodes))
		for j := range level.Nodes {
			nodes[j] = a.node(&level.Nodes[j])
		}
		vsm.Levels[i] = Level{Nodes: nodes}
	}
	return vsm
}

// AssembleGraph builds the view model of an upstream graph.
func (a *Assembler) AssembleGraph(g *model.Graph) *ValueStreamMap {
	if g == nil {
		return a.Assemble("", "", "", nil)
	}
	return a.Assemble(g.CurrentPipeline, g.CurrentMaterial, "", g.Levels)
}

// AssembleError builds an error-only map.
func (a *Assembler) AssembleError(msg string) *ValueStreamMap {
	if msg == "" {
		msg = "Value stream map unavailable"
	}
	return a.Assemble("", "", msg, nil)
}

func (a *Assembler) node(n *model.DependencyNode) Node {
	out := Node{
		ID:         n.ID,
		Name:       n.Name,
		Parents:    copyStrings(n.Parents),
		Dependents: copyStrings(n.Children),
		Type:       n.Type,
		Depth:      n.Depth,
	}

	switch n.Type {
	case model.NodeTypePipeline:
		out.Kind = a.pipelineNode(n)
	case model.NodeTypeMaterial:
		out.Kind = a.materialNode(n)
	default:
		out.Kind = &GenericNode{}
	}
	return out
}

func (a *Assembler) pipelineNode(n *model.DependencyNode) *PipelineNode {
	p := &PipelineNode{
		EditPath:     a.links.pipelineEdit(n.Name),
		Message:      n.Message,
		ViewType:     n.ViewType,
		CanEdit:      n.CanEdit,
		TemplateName: n.TemplateName,
		Instances:    make([]PipelineInstanceView, 0, len(n.Revisions)),
	}
	// Only regular pipelines link to their history page; EditPath above is
	// computed for every pipeline regardless of view type.
	if !n.ViewType.IsSet() {
		p.Locator = fmt.Sprintf("/tab/pipeline/history/%s", n.Name)
	}

	for _, rev := range n.Revisions {
		p.Instances = append(p.Instances, a.instance(n.Name, rev))
	}
	return p
}

func (a *Assembler) instance(pipelineName string, rev model.PipelineRevision) PipelineInstanceView {
	inst := PipelineInstanceView{
		Label:   rev.Label,
		Counter: rev.Counter,
		Stages:  make([]StageView, 0, len(rev.Stages)),
	}
	if rev.Counter != 0 {
		inst.Locator = a.links.pipelineHistory(pipelineName, rev.Counter)
	}

	for _, st := range rev.Stages {
		sv := StageView{
			Name:   st.Name,
			Status: st.Status,
		}
		if st.Completed {
			d := st.DurationSeconds
			sv.Duration = &d
		}
		if st.Status != model.StageStatusUnknown {
			sv.Locator = a.links.stageDetail(pipelineName, rev.Counter, st.Name, st.Counter)
		}
		inst.Stages = append(inst.Stages, sv)
	}
	return inst
}

func (a *Assembler) materialNode(n *model.DependencyNode) *MaterialNode {
	m := &MaterialNode{
		MaterialRevisions: make([]MaterialRevisionGroup, 0, len(n.MaterialRevisions)),
	}
	if len(n.MaterialNames) > 0 {
		m.MaterialNames = copyStrings(n.MaterialNames)
	}

	for _, rev := range n.MaterialRevisions {
		group := MaterialRevisionGroup{
			Fingerprint:   rev.Fingerprint,
			Modifications: make([]MaterialRevisionView, 0, len(rev.Modifications)),
		}
		for _, mod := range rev.Modifications {
			group.Modifications = append(group.Modifications, MaterialRevisionView{
				Revision:     mod.Revision,
				User:         mod.User,
				Comment:      mod.Comment,
				ModifiedTime: a.times.Format(mod.ModifiedTime),
				Locator:      a.links.materialRevision(rev.Fingerprint, mod.Revision),
			})
		}
		m.MaterialRevisions = append(m.MaterialRevisions, group)
	}
	return m
}

// copyStrings returns a copy of s that never aliases the input.
// A nil input yields an empty, non-nil slice.
func copyStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
