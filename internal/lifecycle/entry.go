package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"labflow/internal/acceptance"
	"labflow/internal/status"
	"labflow/internal/store"
)

// EnterSample starts every waiting record reached by a scanned barcode.
//
// A specimen may be shared by several items, so one scan can start several
// records. When sectionID is non-empty only records of that section are
// considered. Returns [ErrBarcodeNotFound] when no record matches the
// barcode and [ErrNotWaiting] when records match but none of them is
// waiting at the requested section.
func (e *Engine) EnterSample(ctx context.Context, barcode, sectionID, actingUserID string) ([]acceptance.StationRecord, error) {
	matches, err := e.stations.FindStationsByBarcode(ctx, barcode)
	if err != nil {
		e.observe(OpEnter, OutcomeFailed)
		return nil, fmt.Errorf("find stations for barcode %s: %w", barcode, err)
	}
	if len(matches) == 0 {
		e.observe(OpEnter, OutcomeFailed)
		return nil, fmt.Errorf("%w: %s", ErrBarcodeNotFound, barcode)
	}
	if sectionID != "" {
		var filtered []acceptance.StationRecord
		for _, rec := range matches {
			if rec.SectionID == sectionID {
				filtered = append(filtered, rec)
			}
		}
		if len(filtered) == 0 {
			e.observe(OpEnter, OutcomeFailed)
			return nil, fmt.Errorf("%w: %s at %s", ErrNotWaiting, barcode, sectionID)
		}
		matches = filtered
	}

	byItem := make(map[string][]string)
	for _, rec := range matches {
		if rec.Status == status.StationWaiting {
			byItem[rec.ItemID] = append(byItem[rec.ItemID], rec.ID)
		}
	}
	itemIDs := make([]string, 0, len(byItem))
	for id := range byItem {
		itemIDs = append(itemIDs, id)
	}
	sort.Strings(itemIDs)

	var started []acceptance.StationRecord
	orders := make(map[string]struct{})
	for _, itemID := range itemIDs {
		recs, orderID, err := e.enterItem(ctx, itemID, byItem[itemID], barcode, actingUserID)
		if err != nil {
			e.observe(OpEnter, OutcomeFailed)
			return started, err
		}
		if len(recs) > 0 && orderID != "" {
			orders[orderID] = struct{}{}
		}
		started = append(started, recs...)
	}

	if len(started) == 0 {
		e.observe(OpEnter, OutcomeFailed)
		return nil, fmt.Errorf("%w: %s", ErrNotWaiting, barcode)
	}
	e.observe(OpEnter, OutcomeEntered)
	for orderID := range orders {
		e.recompute(ctx, orderID)
	}
	return started, nil
}

// enterItem moves the item's waiting records to processing under the item lock.
func (e *Engine) enterItem(ctx context.Context, itemID string, recordIDs []string, barcode, userID string) ([]acceptance.StationRecord, string, error) {
	unlock := e.locks.Lock(itemID)
	defer unlock()

	var orderID string
	if item, err := e.items.GetItem(ctx, itemID); err == nil {
		orderID = item.OrderID
	} else {
		e.logger.Warn("entry item lookup failed", "item_id", itemID, "error", err)
	}

	var out []acceptance.StationRecord
	for _, id := range recordIDs {
		now := e.nowFn()
		processing := status.StationProcessing
		rec, err := e.stations.UpdateStation(ctx, id, acceptance.StationUpdate{
			ExpectStatus: status.StationWaiting,
			Status:       &processing,
			StartedAt:    &now,
			StartedBy:    &userID,
		})
		if errors.Is(err, store.ErrStatusConflict) {
			// Started by a concurrent scan.
			continue
		}
		if err != nil {
			return out, orderID, fmt.Errorf("start station %s: %w", id, err)
		}

		e.logger.Info("specimen entered",
			"item_id", itemID,
			"record_id", rec.ID,
			"barcode", barcode,
			"order", rec.Order,
		)
		e.annotate(ctx, itemID, fmt.Sprintf("Specimen %s received at %s%s", barcode, sectionLabel(rec), byUser(userID)))
		out = append(out, *rec)
	}
	return out, orderID, nil
}
