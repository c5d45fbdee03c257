package router

import (
	"context"
)

// Step represents a section an item has yet to pass through.
//
// Steps are used for previews: the show command lists what the item will visit
// next if every remaining station completes.
type Step struct {
	// Order is the section's position within the workflow.
	Order int

	// SectionID identifies the station.
	SectionID string

	// Name is the human-readable station name.
	Name string
}

// Remaining returns the steps after the given order through the end of the
// workflow. Pass -1 for an item that has not started.
//
// Returns [ErrUnknownWorkflow] for a missing workflow and [ErrPathEnded]
// when nothing is left.
func (r *Router) Remaining(ctx context.Context, workflowID string, afterOrder int) ([]Step, error) {
	w, err := r.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	var steps []Step
	for _, s := range w.Sections {
		if s.Order <= afterOrder {
			continue
		}
		steps = append(steps, Step{Order: s.Order, SectionID: s.ID, Name: s.Name})
	}
	if len(steps) == 0 {
		return nil, ErrPathEnded
	}
	return steps, nil
}
