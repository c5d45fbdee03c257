package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"labflow/internal/acceptance"
	"labflow/internal/store"
)

// FindActiveStation returns the item's waiting or processing record, or nil.
func (s *Store) FindActiveStation(ctx context.Context, itemID string) (*acceptance.StationRecord, error) {
	rec, err := scanStation(s.queryRow(ctx,
		"SELECT "+stationColumns+" FROM station_records WHERE item_id = ? AND status IN ('waiting', 'processing') ORDER BY seq LIMIT 1",
		itemID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active station: %w", err)
	}
	return rec, nil
}

// FindAllStations returns the item's records in creation order.
func (s *Store) FindAllStations(ctx context.Context, itemID string) ([]acceptance.StationRecord, error) {
	return queryStations(ensureContext(ctx), s.db, "WHERE item_id = ? ORDER BY seq", itemID)
}

// GetStation returns the record with the given id.
func (s *Store) GetStation(ctx context.Context, id string) (*acceptance.StationRecord, error) {
	return getStation(ensureContext(ctx), s.db, id)
}

func getStation(ctx context.Context, q querier, id string) (*acceptance.StationRecord, error) {
	rec, err := scanStation(q.QueryRowContext(ctx, "SELECT "+stationColumns+" FROM station_records WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("station record %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get station: %w", err)
	}
	return rec, nil
}

// FindStationsByBarcode returns the records of every item whose active
// specimen carries the barcode.
func (s *Store) FindStationsByBarcode(ctx context.Context, barcode string) ([]acceptance.StationRecord, error) {
	return queryStations(ensureContext(ctx), s.db,
		"WHERE item_id IN (SELECT id FROM items WHERE specimen_barcode = ? AND specimen_active = 1) ORDER BY item_id, seq",
		barcode,
	)
}

func itemExists(ctx context.Context, q querier, itemID string) error {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(1) FROM items WHERE id = ?", itemID).Scan(&n); err != nil {
		return fmt.Errorf("check item: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
	}
	return nil
}

func insertStation(ctx context.Context, q querier, rec acceptance.StationRecord) error {
	params, err := encodeParameters(rec.Parameters)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO station_records (
            id, item_id, section_id, section_name, section_order, status, parameters_json, details,
            started_at, started_by, finished_at, finished_by, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.ItemID,
		rec.SectionID,
		nullableString(rec.SectionName),
		rec.Order,
		rec.Status,
		params,
		nullableString(rec.Details),
		nullableTime(rec.StartedAt),
		nullableString(rec.StartedBy),
		nullableTime(rec.FinishedAt),
		nullableString(rec.FinishedBy),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert station record: %w", err)
	}
	return nil
}

// CreateStation materializes a new waiting or processing record.
func (s *Store) CreateStation(ctx context.Context, req acceptance.StationCreationRequest) (*acceptance.StationRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var created acceptance.StationRecord
	err := s.withTx(ctx, func(tx *sql.Tx, now time.Time) ([]store.Change, error) {
		if err := itemExists(ctx, tx, req.ItemID); err != nil {
			return nil, err
		}
		rec := req.Record()
		rec.ID = s.idFn()
		rec.CreatedAt = now
		rec.UpdatedAt = now
		if err := insertStation(ctx, tx, rec); err != nil {
			return nil, err
		}
		created = rec
		return []store.Change{{Action: store.ActionCreate, After: rec}}, nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// ImportStation inserts a record as-is, keeping its id, status and stamps.
func (s *Store) ImportStation(ctx context.Context, rec acceptance.StationRecord) error {
	if !rec.Status.IsValid() {
		return fmt.Errorf("station record %s has invalid status %q", rec.ID, rec.Status)
	}
	return s.withTx(ctx, func(tx *sql.Tx, now time.Time) ([]store.Change, error) {
		if err := itemExists(ctx, tx, rec.ItemID); err != nil {
			return nil, err
		}
		if rec.ID == "" {
			rec.ID = s.idFn()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = rec.CreatedAt
		}
		if err := insertStation(ctx, tx, rec); err != nil {
			return nil, err
		}
		return []store.Change{{Action: store.ActionCreate, After: rec}}, nil
	})
}

// UpdateStation applies upd to the record with the given id.
func (s *Store) UpdateStation(ctx context.Context, id string, upd acceptance.StationUpdate) (*acceptance.StationRecord, error) {
	var updated acceptance.StationRecord
	err := s.withTx(ctx, func(tx *sql.Tx, now time.Time) ([]store.Change, error) {
		rec, err := getStation(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if upd.ExpectStatus != "" && rec.Status != upd.ExpectStatus {
			return nil, fmt.Errorf("station record %s is %s, expected %s: %w", id, rec.Status, upd.ExpectStatus, store.ErrStatusConflict)
		}
		before := rec.Clone()
		upd.Apply(rec)
		rec.UpdatedAt = now

		params, err := encodeParameters(rec.Parameters)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE station_records
             SET status = ?, parameters_json = ?, details = ?, started_at = ?, started_by = ?,
                 finished_at = ?, finished_by = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			rec.Status,
			params,
			nullableString(rec.Details),
			nullableTime(rec.StartedAt),
			nullableString(rec.StartedBy),
			nullableTime(rec.FinishedAt),
			nullableString(rec.FinishedBy),
			formatTime(rec.UpdatedAt),
			id,
			before.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("update station record: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, fmt.Errorf("station record %s: %w", id, store.ErrStatusConflict)
		}
		updated = *rec
		return []store.Change{{Action: store.ActionUpdate, Before: &before, After: *rec}}, nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// AppendTimelineEntry records an audit line for the item.
func (s *Store) AppendTimelineEntry(ctx context.Context, itemID, message string) error {
	return s.ImportTimelineEntry(ctx, acceptance.TimelineEntry{ItemID: itemID, Message: message})
}

// ImportTimelineEntry records an audit line keeping its timestamp. A zero
// At is stamped with the current time.
func (s *Store) ImportTimelineEntry(ctx context.Context, entry acceptance.TimelineEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx, now time.Time) ([]store.Change, error) {
		if err := itemExists(ctx, tx, entry.ItemID); err != nil {
			return nil, err
		}
		at := entry.At
		if at.IsZero() {
			at = now
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO timeline_entries (item_id, message, at) VALUES (?, ?, ?)",
			entry.ItemID, entry.Message, formatTime(at),
		); err != nil {
			return nil, fmt.Errorf("insert timeline entry: %w", err)
		}
		return nil, nil
	})
}

// ListTimeline returns the item's audit lines oldest first.
func (s *Store) ListTimeline(ctx context.Context, itemID string) ([]acceptance.TimelineEntry, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT item_id, message, at FROM timeline_entries WHERE item_id = ? ORDER BY seq", itemID)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	var out []acceptance.TimelineEntry
	for rows.Next() {
		var (
			entry acceptance.TimelineEntry
			atRaw string
		)
		if err := rows.Scan(&entry.ItemID, &entry.Message, &atRaw); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		if at, err := parseTimeString(atRaw); err == nil {
			entry.At = at
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
