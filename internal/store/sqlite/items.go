package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"labflow/internal/acceptance"
	"labflow/internal/status"
	"labflow/internal/store"
)

// GetItem returns the item with the given id.
func (s *Store) GetItem(ctx context.Context, id string) (*acceptance.Item, error) {
	item, err := scanItem(s.queryRow(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// GetOrder returns the order with the given id.
func (s *Store) GetOrder(ctx context.Context, id string) (*acceptance.Order, error) {
	o, err := scanOrder(s.queryRow(ctx, "SELECT id, reference, status, created_at, updated_at FROM orders WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func scanOrder(scanner interface{ Scan(dest ...any) error }) (*acceptance.Order, error) {
	var (
		o          acceptance.Order
		reference  sql.NullString
		statusStr  string
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&o.ID, &reference, &statusStr, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	o.Reference = reference.String
	o.Status = status.OrderStatus(statusStr)
	if created, err := parseTimeString(createdRaw); err == nil {
		o.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		o.UpdatedAt = updated
	}
	return &o, nil
}

// SetOrderStatus overwrites the order's status.
func (s *Store) SetOrderStatus(ctx context.Context, id string, st status.OrderStatus) error {
	if !st.IsValid() {
		return fmt.Errorf("invalid order status: %s", st)
	}
	return s.withTx(ctx, func(tx *sql.Tx, now time.Time) ([]store.Change, error) {
		res, err := tx.ExecContext(ctx, "UPDATE orders SET status = ?, updated_at = ? WHERE id = ?", st, formatTime(now), id)
		if err != nil {
			return nil, fmt.Errorf("update order status: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
		}
		return nil, nil
	})
}

func (s *Store) countItems(ctx context.Context, orderID, where string) (int, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return 0, err
	}
	var n int
	if err := s.queryRow(ctx, "SELECT COUNT(1) FROM items WHERE order_id = ? "+where, orderID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// CountReportableItems counts the order's non-service items.
func (s *Store) CountReportableItems(ctx context.Context, orderID string) (int, error) {
	return s.countItems(ctx, orderID, "AND kind <> 'service'")
}

// CountPublishedItems counts reportable items whose report is published.
func (s *Store) CountPublishedItems(ctx context.Context, orderID string) (int, error) {
	return s.countItems(ctx, orderID, "AND kind <> 'service' AND report_id IS NOT NULL AND report_published = 1")
}

// CountStartedItems counts items with at least one station record.
func (s *Store) CountStartedItems(ctx context.Context, orderID string) (int, error) {
	return s.countItems(ctx, orderID, "AND EXISTS (SELECT 1 FROM station_records sr WHERE sr.item_id = items.id)")
}

// DeactivateSpecimen marks the item's specimen inactive.
func (s *Store) DeactivateSpecimen(ctx context.Context, itemID, specimenID string) error {
	return s.withTx(ctx, func(tx *sql.Tx, _ time.Time) ([]store.Change, error) {
		res, err := tx.ExecContext(ctx,
			"UPDATE items SET specimen_active = 0 WHERE id = ? AND specimen_id = ?", itemID, specimenID)
		if err != nil {
			return nil, fmt.Errorf("deactivate specimen: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, fmt.Errorf("specimen %s on item %s: %w", specimenID, itemID, store.ErrNotFound)
		}
		return nil, nil
	})
}

// CreateOrder inserts an order. An empty id is generated and an empty
// status defaults to pending.
func (s *Store) CreateOrder(ctx context.Context, o acceptance.Order) (*acceptance.Order, error) {
	if o.Status == "" {
		o.Status = status.OrderPending
	}
	if !o.Status.IsValid() {
		return nil, fmt.Errorf("invalid order status: %s", o.Status)
	}
	err := s.withTx(ctx, func(tx *sql.Tx, now time.Time) ([]store.Change, error) {
		if o.ID == "" {
			o.ID = s.idFn()
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		o.UpdatedAt = now
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO orders (id, reference, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			o.ID, nullableString(o.Reference), o.Status, formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
		); err != nil {
			return nil, fmt.Errorf("insert order: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateItem inserts an item under an existing order.
func (s *Store) CreateItem(ctx context.Context, item acceptance.Item) (*acceptance.Item, error) {
	if item.Kind == "" {
		item.Kind = acceptance.KindTest
	}
	err := s.withTx(ctx, func(tx *sql.Tx, _ time.Time) ([]store.Change, error) {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM orders WHERE id = ?", item.OrderID).Scan(&n); err != nil {
			return nil, fmt.Errorf("check order: %w", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("order %s: %w", item.OrderID, store.ErrNotFound)
		}
		if item.ID == "" {
			item.ID = s.idFn()
		}

		var (
			specimenID, barcode any
			specimenActive      int
			reportID            any
			published           int
			publishedAt         any
		)
		if item.Specimen != nil {
			specimenID = item.Specimen.ID
			barcode = nullableString(item.Specimen.Barcode)
			specimenActive = boolToInt(item.Specimen.Active)
		}
		if item.Report != nil {
			if item.Report.ID == "" {
				item.Report.ID = s.idFn()
			}
			reportID = item.Report.ID
			published = boolToInt(item.Report.Published)
			publishedAt = nullableTime(item.Report.PublishedAt)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO items (
                id, order_id, workflow_id, name, kind, specimen_id, specimen_barcode, specimen_active,
                report_id, report_published, report_published_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.OrderID, nullableString(item.WorkflowID), nullableString(item.Name), item.Kind,
			specimenID, barcode, specimenActive, reportID, published, publishedAt,
		); err != nil {
			return nil, fmt.Errorf("insert item: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// AttachReport sets the item's terminal report.
func (s *Store) AttachReport(ctx context.Context, itemID string, r acceptance.Report) error {
	if r.ID == "" {
		r.ID = s.idFn()
	}
	return s.withTx(ctx, func(tx *sql.Tx, _ time.Time) ([]store.Change, error) {
		res, err := tx.ExecContext(ctx,
			"UPDATE items SET report_id = ?, report_published = ?, report_published_at = ? WHERE id = ?",
			r.ID, boolToInt(r.Published), nullableTime(r.PublishedAt), itemID)
		if err != nil {
			return nil, fmt.Errorf("attach report: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
		}
		return nil, nil
	})
}

// PublishReport marks the item's report published, creating the report
// when none is attached yet.
func (s *Store) PublishReport(ctx context.Context, itemID string) error {
	newID := s.idFn()
	return s.withTx(ctx, func(tx *sql.Tx, now time.Time) ([]store.Change, error) {
		res, err := tx.ExecContext(ctx,
			`UPDATE items
             SET report_id = COALESCE(report_id, ?), report_published = 1, report_published_at = ?
             WHERE id = ?`,
			newID, formatTime(now), itemID)
		if err != nil {
			return nil, fmt.Errorf("publish report: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
		}
		return nil, nil
	})
}

// ListOrders returns every order sorted by id.
func (s *Store) ListOrders(ctx context.Context) ([]acceptance.Order, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), "SELECT id, reference, status, created_at, updated_at FROM orders ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []acceptance.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ListItems returns the order's items in insertion order.
func (s *Store) ListItems(ctx context.Context, orderID string) ([]acceptance.Item, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), "SELECT "+itemColumns+" FROM items WHERE order_id = ? ORDER BY seq", orderID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var out []acceptance.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}
