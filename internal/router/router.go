// Package router resolves the stations of a workflow by order.
//
// The router holds the workflow catalog and answers the two questions the
// progression engine asks: which section sits at a given order, and what comes
// after the current one. It serves as the single source of workflow
// definitions for the engine and the CLI.
//
// Routing can be built from explicit definitions ([NewRouter]) or from the
// section and schema manifests ([NewRouterFromManifest]).
//
// Key types:
//   - [Router] - Read-only workflow catalog
//   - [Step] - A section still ahead of an item (see [Router.Remaining])
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"labflow/internal/manifest"
	"labflow/internal/workflow"
)

// Sentinel errors for section routing.
var (
	// ErrPathEnded indicates that no section exists at the requested order.
	// Callers advancing an item should treat this as the end of its path
	// rather than as a failure.
	ErrPathEnded = errors.New("no section at requested order")

	// ErrUnknownWorkflow indicates the workflow id is not in the catalog.
	// This usually points at a typo in the item's workflow assignment.
	ErrUnknownWorkflow = errors.New("unknown workflow")
)

// Router routes workflow orders to sections.
//
// A Router is immutable after construction and safe for concurrent use.
type Router struct {
	workflows map[string]workflow.Workflow
}

// NewRouter creates a [Router] from explicit workflow definitions.
//
// Every workflow is validated with [workflow.Workflow.Validate]; the first
// invalid one or a duplicated id aborts construction.
func NewRouter(workflows ...workflow.Workflow) (*Router, error) {
	r := &Router{workflows: make(map[string]workflow.Workflow, len(workflows))}
	for _, w := range workflows {
		if err := w.Validate(); err != nil {
			return nil, err
		}
		if _, ok := r.workflows[w.ID]; ok {
			return nil, fmt.Errorf("workflow %s defined twice", w.ID)
		}
		sections := make([]workflow.Section, len(w.Sections))
		copy(sections, w.Sections)
		sort.Slice(sections, func(i, j int) bool { return sections[i].Order < sections[j].Order })
		w.Sections = sections
		r.workflows[w.ID] = w
	}
	return r, nil
}

// NewRouterFromManifest creates a [Router] from a section manifest and an
// optional schema manifest.
//
// Each manifest workflow becomes one [workflow.Workflow]. Sections pick up
// their parameter fields from schemas by section id; sections without a
// schema capture nothing. A nil schemas value is allowed.
func NewRouterFromManifest(m *manifest.Manifest, schemas *manifest.SchemaManifest) (*Router, error) {
	var workflows []workflow.Workflow
	for _, id := range m.Workflows() {
		w := workflow.Workflow{ID: id, Name: id}
		for _, entry := range m.EntriesFor(id) {
			section := workflow.Section{
				ID:    entry.Section,
				Name:  entry.Name,
				Order: entry.Order,
			}
			if s := schemas.GetSection(entry.Section); s != nil {
				section.Parameters = append([]workflow.ParameterField(nil), s.Parameters...)
			}
			w.Sections = append(w.Sections, section)
		}
		workflows = append(workflows, w)
	}
	return NewRouter(workflows...)
}

// GetWorkflow returns the workflow with the given id.
//
// Returns [ErrUnknownWorkflow] when the id is not in the catalog.
func (r *Router) GetWorkflow(_ context.Context, workflowID string) (*workflow.Workflow, error) {
	w, ok := r.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowID)
	}
	return &w, nil
}

// GetSectionByOrder returns the section at order within the workflow.
//
// Returns [ErrPathEnded] when the workflow defines no such order and
// [ErrUnknownWorkflow] when the workflow itself is missing.
func (r *Router) GetSectionByOrder(ctx context.Context, workflowID string, order int) (workflow.Section, error) {
	w, err := r.GetWorkflow(ctx, workflowID)
	if err != nil {
		return workflow.Section{}, err
	}
	s, ok := w.SectionAt(order)
	if !ok {
		return workflow.Section{}, fmt.Errorf("%w: workflow %s order %d", ErrPathEnded, workflowID, order)
	}
	return s, nil
}

// WorkflowIDs returns the catalog's workflow ids in sorted order.
func (r *Router) WorkflowIDs() []string {
	ids := make([]string, 0, len(r.workflows))
	for id := range r.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
