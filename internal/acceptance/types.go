// Package acceptance holds the domain types of a laboratory order and the
// station records its testing units accumulate.
//
// An [Order] owns its [Item] values. Each item owns an append-only chain of
// [StationRecord] values, one per station visited. Records are created only
// from a [StationCreationRequest] and changed only through a [StationUpdate].
package acceptance

import (
	"maps"
	"time"

	"labflow/internal/status"
)

// ItemKind classifies an item for the order roll-up.
type ItemKind string

// Item kinds.
const (
	// KindTest items produce a report and count toward order completion.
	KindTest ItemKind = "test"

	// KindService items are line items that never produce a report.
	KindService ItemKind = "service"
)

// Order is an acceptance: a request bundling one or more items.
type Order struct {
	ID        string             `yaml:"id" json:"id"`
	Reference string             `yaml:"reference,omitempty" json:"reference,omitempty"`
	Status    status.OrderStatus `yaml:"status" json:"status"`
	CreatedAt time.Time          `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time          `yaml:"updated_at" json:"updated_at"`
}

// Specimen is the physical sample attached to an item.
type Specimen struct {
	ID      string `yaml:"id" json:"id"`
	Barcode string `yaml:"barcode" json:"barcode"`
	Active  bool   `yaml:"active" json:"active"`
}

// Report is the terminal document of a test item. Only its publication state
// is tracked here.
type Report struct {
	ID          string     `yaml:"id" json:"id"`
	Published   bool       `yaml:"published" json:"published"`
	PublishedAt *time.Time `yaml:"published_at,omitempty" json:"published_at,omitempty"`
}

// Item is one testing unit of an order.
type Item struct {
	ID         string    `yaml:"id" json:"id"`
	OrderID    string    `yaml:"order_id" json:"order_id"`
	WorkflowID string    `yaml:"workflow" json:"workflow"`
	Name       string    `yaml:"name,omitempty" json:"name,omitempty"`
	Kind       ItemKind  `yaml:"kind" json:"kind"`
	Specimen   *Specimen `yaml:"specimen,omitempty" json:"specimen,omitempty"`
	Report     *Report   `yaml:"report,omitempty" json:"report,omitempty"`
}

// IsReportable reports whether the item counts toward order completion.
func (i *Item) IsReportable() bool {
	return i.Kind != KindService
}

// HasActiveSpecimen reports whether an active specimen is attached.
func (i *Item) HasActiveSpecimen() bool {
	return i.Specimen != nil && i.Specimen.Active
}

// HasReport reports whether the item already has its terminal report.
func (i *Item) HasReport() bool {
	return i.Report != nil
}

// StationRecord is one item's visit to one section.
//
// Order and SectionID are fixed at creation. Status moves
// waiting -> processing -> finished|rejected.
type StationRecord struct {
	ID          string               `yaml:"id" json:"id"`
	ItemID      string               `yaml:"item_id" json:"item_id"`
	SectionID   string               `yaml:"section" json:"section"`
	SectionName string               `yaml:"section_name,omitempty" json:"section_name,omitempty"`
	Order       int                  `yaml:"order" json:"order"`
	Status      status.StationStatus `yaml:"status" json:"status"`
	Parameters  map[string]string    `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Details     string               `yaml:"details,omitempty" json:"details,omitempty"`
	StartedAt   *time.Time           `yaml:"started_at,omitempty" json:"started_at,omitempty"`
	StartedBy   string               `yaml:"started_by,omitempty" json:"started_by,omitempty"`
	FinishedAt  *time.Time           `yaml:"finished_at,omitempty" json:"finished_at,omitempty"`
	FinishedBy  string               `yaml:"finished_by,omitempty" json:"finished_by,omitempty"`
	CreatedAt   time.Time            `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time            `yaml:"updated_at" json:"updated_at"`
}

// IsActive reports whether the record is waiting or processing.
func (r *StationRecord) IsActive() bool {
	return r.Status.IsActive()
}

// Clone returns a deep copy of the record.
func (r StationRecord) Clone() StationRecord {
	r.Parameters = maps.Clone(r.Parameters)
	if r.StartedAt != nil {
		t := *r.StartedAt
		r.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		r.FinishedAt = &t
	}
	return r
}

// StationCreationRequest is the single input shape for creating a station record.
type StationCreationRequest struct {
	ItemID      string
	SectionID   string
	SectionName string
	Order       int
	Parameters  map[string]string
	Status      status.StationStatus
	StartedAt   *time.Time
	StartedBy   string
}

// Validate checks the request carries an item, a section and an active status.
func (r StationCreationRequest) Validate() error {
	switch {
	case r.ItemID == "":
		return NewError(KindPrecondition, "station creation requires an item id")
	case r.SectionID == "":
		return NewError(KindPrecondition, "station creation requires a section id")
	case r.Order < 0:
		return NewError(KindPrecondition, "station order must be non-negative")
	case !r.Status.IsActive():
		return NewError(KindPrecondition, "new station records must be waiting or processing")
	}
	return nil
}

// Record builds the record described by the request. The caller assigns
// ID and timestamps.
func (r StationCreationRequest) Record() StationRecord {
	rec := StationRecord{
		ItemID:      r.ItemID,
		SectionID:   r.SectionID,
		SectionName: r.SectionName,
		Order:       r.Order,
		Status:      r.Status,
		Parameters:  maps.Clone(r.Parameters),
		StartedBy:   r.StartedBy,
	}
	if rec.Parameters == nil {
		rec.Parameters = map[string]string{}
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		rec.StartedAt = &t
	}
	return rec
}

// StationUpdate is the explicit set of fields an update may change.
// Nil fields are left untouched.
type StationUpdate struct {
	// ExpectStatus makes the update conditional on the record's current
	// status. Empty means unconditional.
	ExpectStatus status.StationStatus

	Status     *status.StationStatus
	Parameters map[string]string
	Details    *string
	StartedAt  *time.Time
	StartedBy  *string
	FinishedAt *time.Time
	FinishedBy *string
}

// Apply copies the set fields onto rec.
func (u StationUpdate) Apply(rec *StationRecord) {
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.Parameters != nil {
		rec.Parameters = maps.Clone(u.Parameters)
	}
	if u.Details != nil {
		rec.Details = *u.Details
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		rec.StartedAt = &t
	}
	if u.StartedBy != nil {
		rec.StartedBy = *u.StartedBy
	}
	if u.FinishedAt != nil {
		t := *u.FinishedAt
		rec.FinishedAt = &t
	}
	if u.FinishedBy != nil {
		rec.FinishedBy = *u.FinishedBy
	}
}

// TimelineEntry is one line of an item's audit timeline.
type TimelineEntry struct {
	ItemID  string    `yaml:"item_id" json:"item_id"`
	Message string    `yaml:"message" json:"message"`
	At      time.Time `yaml:"at" json:"at"`
}

// Ptr returns a pointer to v. It keeps StationUpdate literals short.
func Ptr[T any](v T) *T {
	return &v
}
