// Package store defines the persistence contract shared by the memory and
// SQLite backends, and the rules both evaluate before committing a change.
//
// Backends live in the memory and sqlite subpackages. Both report missing
// rows with [ErrNotFound] and refuse a commit that would leave an item with
// two active station records with [ErrActiveStationExists].
package store

import (
	"context"

	"labflow/internal/acceptance"
	"labflow/internal/status"
)

// Sentinel errors returned by every backend.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = acceptance.NewError(acceptance.KindNotFound, "not found")

	// ErrActiveStationExists indicates a write would give an item a second
	// waiting or processing station record.
	ErrActiveStationExists = acceptance.NewError(acceptance.KindPrecondition, "item already has an active station record")

	// ErrStatusConflict indicates a conditional update found the record in
	// a different status than expected.
	ErrStatusConflict = acceptance.NewError(acceptance.KindPrecondition, "station record status changed concurrently")
)

// Store is the full surface a backend provides: station records, item and
// order lookups, the roll-up counters, specimens, the timeline, plus the
// seeding calls used by imports.
type Store interface {
	FindActiveStation(ctx context.Context, itemID string) (*acceptance.StationRecord, error)
	FindAllStations(ctx context.Context, itemID string) ([]acceptance.StationRecord, error)
	GetStation(ctx context.Context, id string) (*acceptance.StationRecord, error)
	CreateStation(ctx context.Context, req acceptance.StationCreationRequest) (*acceptance.StationRecord, error)
	UpdateStation(ctx context.Context, id string, upd acceptance.StationUpdate) (*acceptance.StationRecord, error)
	FindStationsByBarcode(ctx context.Context, barcode string) ([]acceptance.StationRecord, error)
	ImportStation(ctx context.Context, rec acceptance.StationRecord) error

	GetItem(ctx context.Context, id string) (*acceptance.Item, error)
	GetOrder(ctx context.Context, id string) (*acceptance.Order, error)
	SetOrderStatus(ctx context.Context, id string, s status.OrderStatus) error
	CountReportableItems(ctx context.Context, orderID string) (int, error)
	CountPublishedItems(ctx context.Context, orderID string) (int, error)
	CountStartedItems(ctx context.Context, orderID string) (int, error)

	DeactivateSpecimen(ctx context.Context, itemID, specimenID string) error
	AppendTimelineEntry(ctx context.Context, itemID, message string) error
	ImportTimelineEntry(ctx context.Context, entry acceptance.TimelineEntry) error
	ListTimeline(ctx context.Context, itemID string) ([]acceptance.TimelineEntry, error)

	CreateOrder(ctx context.Context, o acceptance.Order) (*acceptance.Order, error)
	CreateItem(ctx context.Context, item acceptance.Item) (*acceptance.Item, error)
	AttachReport(ctx context.Context, itemID string, r acceptance.Report) error
	PublishReport(ctx context.Context, itemID string) error
	ListOrders(ctx context.Context) ([]acceptance.Order, error)
	ListItems(ctx context.Context, orderID string) ([]acceptance.Item, error)

	Close() error
}
