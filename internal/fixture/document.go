// Package fixture reads and writes order sheets: YAML documents describing
// orders, their items and specimens, and optionally the items' station
// chains and timelines.
//
// Sheets seed a store ([Import]) and snapshot one ([Export]). The memory
// store driver uses the same round trip to persist its state between CLI
// invocations.
package fixture

import (
	"fmt"

	"labflow/internal/acceptance"
)

// Document is the root of an order sheet.
type Document struct {
	Orders []OrderSheet `yaml:"orders"`
}

// OrderSheet is one order with its items.
type OrderSheet struct {
	acceptance.Order `yaml:",inline"`

	Items []ItemSheet `yaml:"items"`
}

// ItemSheet is one item with its recorded history.
type ItemSheet struct {
	acceptance.Item `yaml:",inline"`

	Stations []acceptance.StationRecord `yaml:"stations,omitempty"`
	Timeline []acceptance.TimelineEntry `yaml:"timeline,omitempty"`
}

// Validate checks that ids are present and unique across the document and
// that statuses are known. Empty order statuses are allowed and default to
// pending on import.
func (d *Document) Validate() error {
	orders := make(map[string]struct{})
	items := make(map[string]struct{})
	stations := make(map[string]struct{})

	for i, o := range d.Orders {
		if o.ID == "" {
			return fmt.Errorf("order at index %d has no id", i)
		}
		if _, dup := orders[o.ID]; dup {
			return fmt.Errorf("duplicate order id %s", o.ID)
		}
		orders[o.ID] = struct{}{}
		if o.Status != "" && !o.Status.IsValid() {
			return fmt.Errorf("order %s has invalid status %q", o.ID, o.Status)
		}

		for j, it := range o.Items {
			if it.ID == "" {
				return fmt.Errorf("order %s: item at index %d has no id", o.ID, j)
			}
			if _, dup := items[it.ID]; dup {
				return fmt.Errorf("duplicate item id %s", it.ID)
			}
			items[it.ID] = struct{}{}
			switch it.Kind {
			case "", acceptance.KindTest, acceptance.KindService:
			default:
				return fmt.Errorf("item %s has unknown kind %q", it.ID, it.Kind)
			}

			active := 0
			for _, st := range it.Stations {
				if !st.Status.IsValid() {
					return fmt.Errorf("item %s: station %s has invalid status %q", it.ID, st.ID, st.Status)
				}
				if st.ID != "" {
					if _, dup := stations[st.ID]; dup {
						return fmt.Errorf("duplicate station record id %s", st.ID)
					}
					stations[st.ID] = struct{}{}
				}
				if st.Status.IsActive() {
					active++
				}
			}
			if active > 1 {
				return fmt.Errorf("item %s has %d active station records", it.ID, active)
			}
		}
	}
	return nil
}
