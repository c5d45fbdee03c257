package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"labflow/internal/acceptance"
	"labflow/internal/router"
	"labflow/internal/status"
	"labflow/internal/store"
	"labflow/internal/workflow"
)

// Complete finishes a processing record and advances the item to the next
// section of its workflow.
//
// params are merged over the record's current parameters and must satisfy
// the section schema, required fields included. Returns [ErrNotActive] when
// the record is not processing and [ErrInvalidParameters] on schema
// failures; in both cases nothing is persisted. Next is nil when the record
// was the item's last station.
func (e *Engine) Complete(ctx context.Context, recordID string, params map[string]string, details, actingUserID string) (TransitionResult, error) {
	res, orderID, err := e.transition(ctx, OpComplete, recordID, params, func(t *transitionState) error {
		if err := t.section.ValidateParameters(t.params, true); err != nil {
			return err
		}
		if err := t.finish(ctx, status.StationFinished, details, actingUserID); err != nil {
			return err
		}
		next, err := e.advance(ctx, t.item, t.record.Order, actingUserID)
		if err != nil {
			return err
		}
		t.result.Next = next
		if next == nil {
			t.outcome = OutcomeEnded
		} else {
			t.outcome = OutcomeAdvanced
		}
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	e.recompute(ctx, orderID)
	return res, nil
}

// Reject closes a processing record as rejected.
//
// With reRouteOrder set, a processing record is created at that order; the
// order may point backwards or sideways. A reRouteOrder with no section in
// the workflow returns [ErrUnknownSection] before anything is persisted.
// Without reRouteOrder the item's path terminates: its specimen is
// deactivated first and no new record is created. A failed deactivation
// leaves the record processing.
func (e *Engine) Reject(ctx context.Context, recordID string, params map[string]string, details, actingUserID string, reRouteOrder *int) (TransitionResult, error) {
	res, orderID, err := e.transition(ctx, OpReject, recordID, params, func(t *transitionState) error {
		if err := t.section.ValidateParameters(t.params, false); err != nil {
			return err
		}

		var target *workflow.Section
		if reRouteOrder != nil {
			s, err := e.workflows.GetSectionByOrder(ctx, t.item.WorkflowID, *reRouteOrder)
			if errors.Is(err, router.ErrPathEnded) {
				return fmt.Errorf("%w: re-route to order %d of %s", ErrUnknownSection, *reRouteOrder, t.item.WorkflowID)
			}
			if err != nil {
				return fmt.Errorf("resolve re-route section: %w", err)
			}
			target = &s
		}

		if target != nil {
			if err := t.finish(ctx, status.StationRejected, details, actingUserID); err != nil {
				return err
			}
			next, err := e.materialize(ctx, t.item, target.Order, status.StationProcessing, actingUserID)
			if err != nil {
				return err
			}
			t.result.Next = next
			t.outcome = OutcomeRerouted
			return nil
		}

		deactivated, err := e.deactivate(ctx, t.item)
		if err != nil {
			return err
		}
		if err := t.finish(ctx, status.StationRejected, details, actingUserID); err != nil {
			return err
		}
		t.outcome = OutcomeStopped
		msg := fmt.Sprintf("Sample rejected at %s, workflow path ended", sectionLabel(&t.result.Record))
		if deactivated != nil {
			msg += fmt.Sprintf(" (specimen %s deactivated)", deactivated.Barcode)
		}
		e.annotate(ctx, t.item.ID, msg)
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	e.recompute(ctx, orderID)
	return res, nil
}

// deactivate detaches the item's active specimen ahead of a terminal
// rejection and returns it. The record is still processing when this fails,
// so the rejection can be retried. An already inactive specimen is skipped.
func (e *Engine) deactivate(ctx context.Context, item *acceptance.Item) (*acceptance.Specimen, error) {
	if !item.HasActiveSpecimen() {
		return nil, nil
	}
	sp := item.Specimen
	if err := e.specimens.DeactivateSpecimen(ctx, item.ID, sp.ID); err != nil {
		return nil, fmt.Errorf("deactivate specimen %s: %w", sp.ID, err)
	}
	e.logger.Info("specimen deactivated", "item_id", item.ID, "specimen_id", sp.ID)
	return sp, nil
}

// transitionState carries what a Complete or Reject step needs once the
// record has been loaded and checked under the item lock.
type transitionState struct {
	engine  *Engine
	record  *acceptance.StationRecord
	item    *acceptance.Item
	section workflow.Section
	params  map[string]string
	result  TransitionResult
	outcome string
}

// finish persists the terminal status, stamps and captured values.
func (t *transitionState) finish(ctx context.Context, st status.StationStatus, details, userID string) error {
	now := t.engine.nowFn()
	upd := acceptance.StationUpdate{
		ExpectStatus: status.StationProcessing,
		Status:       &st,
		Parameters:   t.params,
		FinishedAt:   &now,
		FinishedBy:   &userID,
	}
	if details != "" {
		upd.Details = &details
	}

	rec, err := t.engine.stations.UpdateStation(ctx, t.record.ID, upd)
	if errors.Is(err, store.ErrStatusConflict) {
		return fmt.Errorf("%w: %s", ErrNotActive, t.record.ID)
	}
	if err != nil {
		return fmt.Errorf("update station %s: %w", t.record.ID, err)
	}
	t.result.Record = *rec

	t.engine.logger.Info("station closed",
		"item_id", rec.ItemID,
		"record_id", rec.ID,
		"order", rec.Order,
		"status", rec.Status,
	)
	verb := "Completed"
	if st == status.StationRejected {
		verb = "Rejected"
	}
	msg := verb + " " + sectionLabel(rec) + byUser(userID)
	if st == status.StationRejected && details != "" {
		msg += ": " + details
	}
	t.engine.annotate(ctx, rec.ItemID, msg)
	return nil
}

// transition loads the record, locks its item, re-reads it under the lock,
// checks it is processing, resolves its section and runs step. It returns
// the order id for the roll-up.
func (e *Engine) transition(ctx context.Context, op, recordID string, params map[string]string, step func(t *transitionState) error) (TransitionResult, string, error) {
	rec, err := e.stations.GetStation(ctx, recordID)
	if err != nil {
		e.observe(op, OutcomeFailed)
		return TransitionResult{}, "", notFoundAs(err, ErrRecordNotFound, recordID)
	}

	unlock := e.locks.Lock(rec.ItemID)
	defer unlock()

	t, err := e.prepare(ctx, recordID, params)
	if err == nil {
		err = step(t)
	}
	if err != nil {
		e.observe(op, OutcomeFailed)
		e.logger.Warn("transition refused", "operation", op, "record_id", recordID, "error", err)
		return TransitionResult{}, "", err
	}
	e.observe(op, t.outcome)
	return t.result, t.item.OrderID, nil
}

func (e *Engine) prepare(ctx context.Context, recordID string, params map[string]string) (*transitionState, error) {
	rec, err := e.stations.GetStation(ctx, recordID)
	if err != nil {
		return nil, notFoundAs(err, ErrRecordNotFound, recordID)
	}
	switch {
	case rec.Status.IsTerminal():
		return nil, fmt.Errorf("%w: %s is already %s", ErrNotActive, rec.ID, rec.Status)
	case rec.Status != status.StationProcessing:
		return nil, fmt.Errorf("%w: %s is %s, awaiting specimen entry", ErrNotActive, rec.ID, rec.Status)
	}

	item, err := e.items.GetItem(ctx, rec.ItemID)
	if err != nil {
		return nil, fmt.Errorf("load item %s: %w", rec.ItemID, err)
	}
	section, err := e.workflows.GetSectionByOrder(ctx, item.WorkflowID, rec.Order)
	if errors.Is(err, router.ErrPathEnded) {
		return nil, fmt.Errorf("%w: record %s order %d", ErrUnknownSection, rec.ID, rec.Order)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve section of %s: %w", rec.ID, err)
	}

	return &transitionState{
		engine:  e,
		record:  rec,
		item:    item,
		section: section,
		params:  mergeParameters(rec.Parameters, params),
	}, nil
}

// mergeParameters overlays captured values onto the record's parameters.
func mergeParameters(base, captured map[string]string) map[string]string {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]string, len(captured))
	}
	maps.Copy(out, captured)
	return out
}
