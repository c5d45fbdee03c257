package fixture

import (
	"context"
	"fmt"

	"labflow/internal/acceptance"
)

// Importer is the store surface [Import] writes through.
type Importer interface {
	CreateOrder(ctx context.Context, o acceptance.Order) (*acceptance.Order, error)
	CreateItem(ctx context.Context, item acceptance.Item) (*acceptance.Item, error)
	ImportStation(ctx context.Context, rec acceptance.StationRecord) error
	ImportTimelineEntry(ctx context.Context, entry acceptance.TimelineEntry) error
}

// Exporter is the store surface [Export] reads from.
type Exporter interface {
	ListOrders(ctx context.Context) ([]acceptance.Order, error)
	ListItems(ctx context.Context, orderID string) ([]acceptance.Item, error)
	FindAllStations(ctx context.Context, itemID string) ([]acceptance.StationRecord, error)
	ListTimeline(ctx context.Context, itemID string) ([]acceptance.TimelineEntry, error)
}

// Stats counts what an import created.
type Stats struct {
	Orders   int
	Items    int
	Stations int
	Timeline int
}

// Import writes every order, item, station record and timeline entry of doc
// to dst. Item and record parent ids are taken from their position in the
// document. Import stops at the first failure; rows already written stay.
func Import(ctx context.Context, dst Importer, doc *Document) (Stats, error) {
	var stats Stats
	for _, o := range doc.Orders {
		if _, err := dst.CreateOrder(ctx, o.Order); err != nil {
			return stats, fmt.Errorf("import order %s: %w", o.ID, err)
		}
		stats.Orders++

		for _, it := range o.Items {
			item := it.Item
			item.OrderID = o.ID
			if _, err := dst.CreateItem(ctx, item); err != nil {
				return stats, fmt.Errorf("import item %s: %w", it.ID, err)
			}
			stats.Items++

			for _, rec := range it.Stations {
				rec.ItemID = it.ID
				if err := dst.ImportStation(ctx, rec); err != nil {
					return stats, fmt.Errorf("import station %s of item %s: %w", rec.ID, it.ID, err)
				}
				stats.Stations++
			}
			for _, entry := range it.Timeline {
				entry.ItemID = it.ID
				if err := dst.ImportTimelineEntry(ctx, entry); err != nil {
					return stats, fmt.Errorf("import timeline of item %s: %w", it.ID, err)
				}
				stats.Timeline++
			}
		}
	}
	return stats, nil
}

// Export snapshots every order in src, with items, station chains and
// timelines.
func Export(ctx context.Context, src Exporter) (*Document, error) {
	orders, err := src.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	doc := &Document{Orders: make([]OrderSheet, 0, len(orders))}
	for _, o := range orders {
		sheet := OrderSheet{Order: o}
		items, err := src.ListItems(ctx, o.ID)
		if err != nil {
			return nil, fmt.Errorf("list items of %s: %w", o.ID, err)
		}
		for _, item := range items {
			stations, err := src.FindAllStations(ctx, item.ID)
			if err != nil {
				return nil, fmt.Errorf("list stations of %s: %w", item.ID, err)
			}
			timeline, err := src.ListTimeline(ctx, item.ID)
			if err != nil {
				return nil, fmt.Errorf("list timeline of %s: %w", item.ID, err)
			}
			sheet.Items = append(sheet.Items, ItemSheet{Item: item, Stations: stations, Timeline: timeline})
		}
		doc.Orders = append(doc.Orders, sheet)
	}
	return doc, nil
}
