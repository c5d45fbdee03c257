// Package memory provides an in-memory implementation of the station store
// used for tests and file-backed ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"labflow/internal/acceptance"
	"labflow/internal/status"
	"labflow/internal/store"
)

// Compile-time contract assertion.
var _ store.Store = (*Store)(nil)

type memoryState struct {
	orders       map[string]acceptance.Order
	orderItems   map[string][]string
	items        map[string]acceptance.Item
	stations     map[string]acceptance.StationRecord
	itemStations map[string][]string
	timeline     map[string][]acceptance.TimelineEntry
}

func newMemoryState() memoryState {
	return memoryState{
		orders:       make(map[string]acceptance.Order),
		orderItems:   make(map[string][]string),
		items:        make(map[string]acceptance.Item),
		stations:     make(map[string]acceptance.StationRecord),
		itemStations: make(map[string][]string),
		timeline:     make(map[string][]acceptance.TimelineEntry),
	}
}

func (s memoryState) clone() memoryState {
	c := newMemoryState()
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.orderItems {
		c.orderItems[k] = slices.Clone(v)
	}
	for k, v := range s.items {
		c.items[k] = cloneItem(v)
	}
	for k, v := range s.stations {
		c.stations[k] = v.Clone()
	}
	for k, v := range s.itemStations {
		c.itemStations[k] = slices.Clone(v)
	}
	for k, v := range s.timeline {
		c.timeline[k] = slices.Clone(v)
	}
	return c
}

func cloneItem(item acceptance.Item) acceptance.Item {
	if item.Specimen != nil {
		sp := *item.Specimen
		item.Specimen = &sp
	}
	if item.Report != nil {
		r := *item.Report
		if r.PublishedAt != nil {
			t := *r.PublishedAt
			r.PublishedAt = &t
		}
		item.Report = &r
	}
	return item
}

// StationsForItem implements [store.RuleView] over the transactional state.
func (s *memoryState) StationsForItem(_ context.Context, itemID string) ([]acceptance.StationRecord, error) {
	ids := s.itemStations[itemID]
	out := make([]acceptance.StationRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.stations[id].Clone())
	}
	return out, nil
}

// Store is a mutex-guarded in-memory backend. Every write runs against a
// cloned state that only replaces the live state once the rules pass.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *store.RulesEngine
	nowFn  func() time.Time
	idFn   func() string
}

// NewStore constructs an empty store. A nil engine disables commit rules.
func NewStore(engine *store.RulesEngine) *Store {
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		idFn:   uuid.NewString,
	}
}

// SetClock replaces the time source used for record timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = now
}

// Close is a no-op; it satisfies [store.Store].
func (s *Store) Close() error {
	return nil
}

type transaction struct {
	state   memoryState
	changes []store.Change
	now     time.Time
}

// runInTransaction executes fn within a transactional copy of the state.
func (s *Store) runInTransaction(ctx context.Context, fn func(tx *transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{state: s.state.clone(), now: s.nowFn()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := s.engine.Check(ctx, &tx.state, tx.changes); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *Store) view(fn func(st *memoryState) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&s.state)
}

// FindActiveStation returns the item's waiting or processing record, or nil.
func (s *Store) FindActiveStation(_ context.Context, itemID string) (*acceptance.StationRecord, error) {
	var found *acceptance.StationRecord
	err := s.view(func(st *memoryState) error {
		for _, id := range st.itemStations[itemID] {
			rec := st.stations[id]
			if rec.IsActive() {
				c := rec.Clone()
				found = &c
				return nil
			}
		}
		return nil
	})
	return found, err
}

// FindAllStations returns the item's records in creation order.
func (s *Store) FindAllStations(ctx context.Context, itemID string) ([]acceptance.StationRecord, error) {
	var out []acceptance.StationRecord
	err := s.view(func(st *memoryState) error {
		var err error
		out, err = st.StationsForItem(ctx, itemID)
		return err
	})
	return out, err
}

// GetStation returns the record with the given id.
func (s *Store) GetStation(_ context.Context, id string) (*acceptance.StationRecord, error) {
	var found *acceptance.StationRecord
	err := s.view(func(st *memoryState) error {
		rec, ok := st.stations[id]
		if !ok {
			return fmt.Errorf("station record %s: %w", id, store.ErrNotFound)
		}
		c := rec.Clone()
		found = &c
		return nil
	})
	return found, err
}

// CreateStation materializes a new waiting or processing record.
func (s *Store) CreateStation(ctx context.Context, req acceptance.StationCreationRequest) (*acceptance.StationRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var created acceptance.StationRecord
	err := s.runInTransaction(ctx, func(tx *transaction) error {
		if _, ok := tx.state.items[req.ItemID]; !ok {
			return fmt.Errorf("item %s: %w", req.ItemID, store.ErrNotFound)
		}
		rec := req.Record()
		rec.ID = s.idFn()
		rec.CreatedAt = tx.now
		rec.UpdatedAt = tx.now
		tx.putStation(rec, nil)
		created = rec.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// ImportStation inserts a record as-is, keeping its id, status and stamps.
func (s *Store) ImportStation(ctx context.Context, rec acceptance.StationRecord) error {
	return s.runInTransaction(ctx, func(tx *transaction) error {
		if _, ok := tx.state.items[rec.ItemID]; !ok {
			return fmt.Errorf("item %s: %w", rec.ItemID, store.ErrNotFound)
		}
		if !rec.Status.IsValid() {
			return fmt.Errorf("station record %s has invalid status %q", rec.ID, rec.Status)
		}
		if rec.ID == "" {
			rec.ID = s.idFn()
		}
		if _, exists := tx.state.stations[rec.ID]; exists {
			return fmt.Errorf("station record %s already exists", rec.ID)
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = tx.now
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = rec.CreatedAt
		}
		tx.putStation(rec.Clone(), nil)
		return nil
	})
}

// UpdateStation applies upd to the record with the given id.
func (s *Store) UpdateStation(ctx context.Context, id string, upd acceptance.StationUpdate) (*acceptance.StationRecord, error) {
	var updated acceptance.StationRecord
	err := s.runInTransaction(ctx, func(tx *transaction) error {
		rec, ok := tx.state.stations[id]
		if !ok {
			return fmt.Errorf("station record %s: %w", id, store.ErrNotFound)
		}
		if upd.ExpectStatus != "" && rec.Status != upd.ExpectStatus {
			return fmt.Errorf("station record %s is %s, expected %s: %w", id, rec.Status, upd.ExpectStatus, store.ErrStatusConflict)
		}
		before := rec.Clone()
		upd.Apply(&rec)
		rec.UpdatedAt = tx.now
		tx.putStation(rec, &before)
		updated = rec.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (tx *transaction) putStation(rec acceptance.StationRecord, before *acceptance.StationRecord) {
	action := store.ActionUpdate
	if before == nil {
		action = store.ActionCreate
		tx.state.itemStations[rec.ItemID] = append(tx.state.itemStations[rec.ItemID], rec.ID)
	}
	tx.state.stations[rec.ID] = rec
	tx.changes = append(tx.changes, store.Change{Action: action, Before: before, After: rec.Clone()})
}

// FindStationsByBarcode returns the records of every item whose active
// specimen carries the barcode.
func (s *Store) FindStationsByBarcode(_ context.Context, barcode string) ([]acceptance.StationRecord, error) {
	var out []acceptance.StationRecord
	err := s.view(func(st *memoryState) error {
		itemIDs := make([]string, 0)
		for id, item := range st.items {
			if item.HasActiveSpecimen() && item.Specimen.Barcode == barcode {
				itemIDs = append(itemIDs, id)
			}
		}
		sort.Strings(itemIDs)
		for _, itemID := range itemIDs {
			for _, id := range st.itemStations[itemID] {
				out = append(out, st.stations[id].Clone())
			}
		}
		return nil
	})
	return out, err
}

// GetItem returns the item with the given id.
func (s *Store) GetItem(_ context.Context, id string) (*acceptance.Item, error) {
	var found *acceptance.Item
	err := s.view(func(st *memoryState) error {
		item, ok := st.items[id]
		if !ok {
			return fmt.Errorf("item %s: %w", id, store.ErrNotFound)
		}
		c := cloneItem(item)
		found = &c
		return nil
	})
	return found, err
}

// GetOrder returns the order with the given id.
func (s *Store) GetOrder(_ context.Context, id string) (*acceptance.Order, error) {
	var found *acceptance.Order
	err := s.view(func(st *memoryState) error {
		o, ok := st.orders[id]
		if !ok {
			return fmt.Errorf("order %s: %w", id, store.ErrNotFound)
		}
		found = &o
		return nil
	})
	return found, err
}

// SetOrderStatus overwrites the order's status.
func (s *Store) SetOrderStatus(ctx context.Context, id string, st status.OrderStatus) error {
	if !st.IsValid() {
		return fmt.Errorf("invalid order status: %s", st)
	}
	return s.runInTransaction(ctx, func(tx *transaction) error {
		o, ok := tx.state.orders[id]
		if !ok {
			return fmt.Errorf("order %s: %w", id, store.ErrNotFound)
		}
		o.Status = st
		o.UpdatedAt = tx.now
		tx.state.orders[id] = o
		return nil
	})
}

func (s *Store) countItems(orderID string, match func(st *memoryState, item acceptance.Item) bool) (int, error) {
	n := 0
	err := s.view(func(st *memoryState) error {
		if _, ok := st.orders[orderID]; !ok {
			return fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
		}
		for _, id := range st.orderItems[orderID] {
			if match(st, st.items[id]) {
				n++
			}
		}
		return nil
	})
	return n, err
}

// CountReportableItems counts the order's non-service items.
func (s *Store) CountReportableItems(_ context.Context, orderID string) (int, error) {
	return s.countItems(orderID, func(_ *memoryState, item acceptance.Item) bool {
		return item.IsReportable()
	})
}

// CountPublishedItems counts reportable items whose report is published.
func (s *Store) CountPublishedItems(_ context.Context, orderID string) (int, error) {
	return s.countItems(orderID, func(_ *memoryState, item acceptance.Item) bool {
		return item.IsReportable() && item.Report != nil && item.Report.Published
	})
}

// CountStartedItems counts items with at least one station record.
func (s *Store) CountStartedItems(_ context.Context, orderID string) (int, error) {
	return s.countItems(orderID, func(st *memoryState, item acceptance.Item) bool {
		return len(st.itemStations[item.ID]) > 0
	})
}

// DeactivateSpecimen marks the item's specimen inactive.
func (s *Store) DeactivateSpecimen(ctx context.Context, itemID, specimenID string) error {
	return s.runInTransaction(ctx, func(tx *transaction) error {
		item, ok := tx.state.items[itemID]
		if !ok {
			return fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
		}
		if item.Specimen == nil || item.Specimen.ID != specimenID {
			return fmt.Errorf("specimen %s on item %s: %w", specimenID, itemID, store.ErrNotFound)
		}
		item.Specimen.Active = false
		tx.state.items[itemID] = item
		return nil
	})
}

// AppendTimelineEntry records an audit line for the item.
func (s *Store) AppendTimelineEntry(ctx context.Context, itemID, message string) error {
	return s.ImportTimelineEntry(ctx, acceptance.TimelineEntry{ItemID: itemID, Message: message})
}

// ImportTimelineEntry records an audit line keeping its timestamp. A zero
// At is stamped with the current time.
func (s *Store) ImportTimelineEntry(ctx context.Context, entry acceptance.TimelineEntry) error {
	return s.runInTransaction(ctx, func(tx *transaction) error {
		if _, ok := tx.state.items[entry.ItemID]; !ok {
			return fmt.Errorf("item %s: %w", entry.ItemID, store.ErrNotFound)
		}
		if entry.At.IsZero() {
			entry.At = tx.now
		}
		tx.state.timeline[entry.ItemID] = append(tx.state.timeline[entry.ItemID], entry)
		return nil
	})
}

// ListTimeline returns the item's audit lines oldest first.
func (s *Store) ListTimeline(_ context.Context, itemID string) ([]acceptance.TimelineEntry, error) {
	var out []acceptance.TimelineEntry
	err := s.view(func(st *memoryState) error {
		out = slices.Clone(st.timeline[itemID])
		return nil
	})
	return out, err
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
	err := s.runInTransaction(ctx, func(tx *transaction) error {
		if o.ID == "" {
			o.ID = s.idFn()
		}
		if _, exists := tx.state.orders[o.ID]; exists {
			return fmt.Errorf("order %s already exists", o.ID)
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = tx.now
		}
		o.UpdatedAt = tx.now
		tx.state.orders[o.ID] = o
		return nil
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
	err := s.runInTransaction(ctx, func(tx *transaction) error {
		if _, ok := tx.state.orders[item.OrderID]; !ok {
			return fmt.Errorf("order %s: %w", item.OrderID, store.ErrNotFound)
		}
		if item.ID == "" {
			item.ID = s.idFn()
		}
		if _, exists := tx.state.items[item.ID]; exists {
			return fmt.Errorf("item %s already exists", item.ID)
		}
		tx.state.items[item.ID] = cloneItem(item)
		tx.state.orderItems[item.OrderID] = append(tx.state.orderItems[item.OrderID], item.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c := cloneItem(item)
	return &c, nil
}

// AttachReport sets the item's terminal report.
func (s *Store) AttachReport(ctx context.Context, itemID string, r acceptance.Report) error {
	return s.runInTransaction(ctx, func(tx *transaction) error {
		item, ok := tx.state.items[itemID]
		if !ok {
			return fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
		}
		if r.ID == "" {
			r.ID = s.idFn()
		}
		item.Report = &r
		tx.state.items[itemID] = cloneItem(item)
		return nil
	})
}

// PublishReport marks the item's report published, creating the report
// when none is attached yet.
func (s *Store) PublishReport(ctx context.Context, itemID string) error {
	return s.runInTransaction(ctx, func(tx *transaction) error {
		item, ok := tx.state.items[itemID]
		if !ok {
			return fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
		}
		if item.Report == nil {
			item.Report = &acceptance.Report{ID: s.idFn()}
		}
		now := tx.now
		item.Report.Published = true
		item.Report.PublishedAt = &now
		tx.state.items[itemID] = item
		return nil
	})
}

// ListOrders returns every order sorted by id.
func (s *Store) ListOrders(_ context.Context) ([]acceptance.Order, error) {
	var out []acceptance.Order
	err := s.view(func(st *memoryState) error {
		for _, o := range st.orders {
			out = append(out, o)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

// ListItems returns the order's items in insertion order.
func (s *Store) ListItems(_ context.Context, orderID string) ([]acceptance.Item, error) {
	var out []acceptance.Item
	err := s.view(func(st *memoryState) error {
		if _, ok := st.orders[orderID]; !ok {
			return fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
		}
		for _, id := range st.orderItems[orderID] {
			out = append(out, cloneItem(st.items[id]))
		}
		return nil
	})
	return out, err
}
