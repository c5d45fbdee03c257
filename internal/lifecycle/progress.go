package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"labflow/internal/acceptance"
	"labflow/internal/router"
	"labflow/internal/status"
	"labflow/internal/store"
)

// Progress materializes the item's next station record if it should have one.
//
// Progress returns a nil record without error when any guard holds: the
// order is not processing, the item has a report, the item has no workflow,
// a record is waiting or processing, or no specimen is active. Otherwise it
// resolves the current record (the most recently updated finished one) and:
//   - creates the section at current order + 1 as processing
//   - seeds order 0 when the item has no records at all
//   - does nothing when the workflow has no further section
//
// Calling Progress again without an intervening change creates nothing.
func (e *Engine) Progress(ctx context.Context, itemID, actingUserID string) (*acceptance.StationRecord, error) {
	unlock := e.locks.Lock(itemID)
	rec, orderID, outcome, err := e.progressLocked(ctx, itemID, actingUserID)
	unlock()

	if err != nil {
		e.observe(OpProgress, OutcomeFailed)
		return nil, err
	}
	e.observe(OpProgress, outcome)
	if rec != nil {
		e.recompute(ctx, orderID)
	}
	return rec, nil
}

func (e *Engine) progressLocked(ctx context.Context, itemID, userID string) (*acceptance.StationRecord, string, string, error) {
	item, err := e.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, "", "", fmt.Errorf("load item %s: %w", itemID, err)
	}
	log := e.logger.With("item_id", itemID)

	order, err := e.items.GetOrder(ctx, item.OrderID)
	if err != nil {
		return nil, "", "", fmt.Errorf("load order %s: %w", item.OrderID, err)
	}
	if order.Status != status.OrderProcessing {
		log.Debug("progress skipped", "reason", "order not processing", "order_status", order.Status)
		return nil, order.ID, OutcomeNoop, nil
	}
	if item.HasReport() {
		log.Debug("progress skipped", "reason", "item has report")
		return nil, order.ID, OutcomeNoop, nil
	}
	if item.WorkflowID == "" {
		log.Debug("progress skipped", "reason", "no workflow")
		return nil, order.ID, OutcomeNoop, nil
	}

	active, err := e.stations.FindActiveStation(ctx, itemID)
	if err != nil {
		return nil, "", "", fmt.Errorf("load active station of %s: %w", itemID, err)
	}
	if active != nil {
		log.Debug("progress skipped", "reason", "record "+string(active.Status), "record_id", active.ID)
		return nil, order.ID, OutcomeNoop, nil
	}
	if !item.HasActiveSpecimen() {
		log.Debug("progress skipped", "reason", "no active specimen")
		return nil, order.ID, OutcomeNoop, nil
	}

	records, err := e.stations.FindAllStations(ctx, itemID)
	if err != nil {
		return nil, "", "", fmt.Errorf("load stations of %s: %w", itemID, err)
	}
	current := resolveCurrent(records)
	switch {
	case current != nil:
		rec, err := e.advance(ctx, item, current.Order, userID)
		if store.IsActiveStationConflict(err) {
			// Another writer opened a station after the active check.
			log.Info("progress skipped", "reason", "concurrent station", "error", err)
			return nil, order.ID, OutcomeNoop, nil
		}
		if err != nil {
			return nil, "", "", err
		}
		if rec == nil {
			return nil, order.ID, OutcomeEnded, nil
		}
		return rec, order.ID, OutcomeAdvanced, nil
	case len(records) == 0:
		rec, err := e.seed(ctx, item, userID)
		if store.IsActiveStationConflict(err) {
			log.Info("progress skipped", "reason", "concurrent station", "error", err)
			return nil, order.ID, OutcomeNoop, nil
		}
		if err != nil {
			return nil, "", "", err
		}
		if rec == nil {
			return nil, order.ID, OutcomeEnded, nil
		}
		return rec, order.ID, OutcomeAdvanced, nil
	default:
		// Only rejected records remain.
		return nil, order.ID, OutcomeNoop, nil
	}
}

// resolveCurrent returns the processing record, else the most recently
// updated finished record. Rejected records are ignored. Ties on UpdatedAt
// go to the later record in creation order.
func resolveCurrent(records []acceptance.StationRecord) *acceptance.StationRecord {
	var finished *acceptance.StationRecord
	for i := range records {
		r := &records[i]
		switch r.Status {
		case status.StationProcessing:
			return r
		case status.StationFinished:
			if finished == nil || !r.UpdatedAt.Before(finished.UpdatedAt) {
				finished = r
			}
		}
	}
	return finished
}

// seed creates the record at order 0 using the configured seed status.
func (e *Engine) seed(ctx context.Context, item *acceptance.Item, userID string) (*acceptance.StationRecord, error) {
	return e.materialize(ctx, item, 0, e.seedStatus, userID)
}

// advance creates the record following fromOrder as processing. It returns
// nil when the workflow ends at fromOrder.
func (e *Engine) advance(ctx context.Context, item *acceptance.Item, fromOrder int, userID string) (*acceptance.StationRecord, error) {
	return e.materialize(ctx, item, fromOrder+1, status.StationProcessing, userID)
}

func (e *Engine) materialize(ctx context.Context, item *acceptance.Item, order int, st status.StationStatus, userID string) (*acceptance.StationRecord, error) {
	section, err := e.workflows.GetSectionByOrder(ctx, item.WorkflowID, order)
	if errors.Is(err, router.ErrPathEnded) {
		e.logger.Debug("workflow path ended", "item_id", item.ID, "order", order)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve section %d of %s: %w", order, item.WorkflowID, err)
	}

	req := acceptance.StationCreationRequest{
		ItemID:      item.ID,
		SectionID:   section.ID,
		SectionName: section.Name,
		Order:       section.Order,
		Parameters:  section.Template(),
		Status:      st,
	}
	if st == status.StationProcessing {
		now := e.nowFn()
		req.StartedAt = &now
		req.StartedBy = userID
	}

	rec, err := e.stations.CreateStation(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create station %s for %s: %w", section.ID, item.ID, err)
	}

	e.logger.Info("station created",
		"item_id", item.ID,
		"record_id", rec.ID,
		"section", rec.SectionID,
		"order", rec.Order,
		"status", rec.Status,
	)
	if st == status.StationProcessing {
		e.annotate(ctx, item.ID, fmt.Sprintf("Started %s%s", sectionLabel(rec), byUser(userID)))
	} else {
		e.annotate(ctx, item.ID, fmt.Sprintf("Awaiting specimen at %s", sectionLabel(rec)))
	}
	return rec, nil
}

// byUser is the " by <user>" suffix of a timeline note, empty without a user.
func byUser(userID string) string {
	if userID == "" {
		return ""
	}
	return " by " + userID
}

func sectionLabel(rec *acceptance.StationRecord) string {
	if rec.SectionName != "" {
		return rec.SectionName
	}
	return rec.SectionID
}
