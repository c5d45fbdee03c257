// Package lifecycle drives items through their workflow stations.
//
// The [Engine] owns every station transition: automatic advance
// ([Engine.Progress]), explicit completion and rejection ([Engine.Complete],
// [Engine.Reject]) and specimen entry ([Engine.EnterSample]). All four
// serialize on the item so an item never ends up with two active records.
//
// Key concepts:
//   - Collaborators are declared here as small interfaces and injected
//   - Guard failures are silent no-ops returning a nil record
//   - Business-rule failures are classified errors (see [acceptance.KindOf])
//   - Order roll-up runs after each mutation when a [Rollup] is set
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"labflow/internal/acceptance"
	"labflow/internal/keylock"
	"labflow/internal/status"
	"labflow/internal/workflow"
)

// StationStore is the persistence interface for station records.
//
// FindActiveStation returns nil without error when the item has no waiting
// or processing record. The [store.Store] backends implement this interface.
type StationStore interface {
	FindActiveStation(ctx context.Context, itemID string) (*acceptance.StationRecord, error)
	FindAllStations(ctx context.Context, itemID string) ([]acceptance.StationRecord, error)
	GetStation(ctx context.Context, id string) (*acceptance.StationRecord, error)
	CreateStation(ctx context.Context, req acceptance.StationCreationRequest) (*acceptance.StationRecord, error)
	UpdateStation(ctx context.Context, id string, upd acceptance.StationUpdate) (*acceptance.StationRecord, error)
	FindStationsByBarcode(ctx context.Context, barcode string) ([]acceptance.StationRecord, error)
}

// WorkflowLookup resolves workflow definitions.
//
// GetSectionByOrder returns [router.ErrPathEnded] when the workflow has no
// section at that order. The [router.Router] type implements this interface.
type WorkflowLookup interface {
	GetWorkflow(ctx context.Context, workflowID string) (*workflow.Workflow, error)
	GetSectionByOrder(ctx context.Context, workflowID string, order int) (workflow.Section, error)
}

// ItemLookup loads items and their parent orders.
type ItemLookup interface {
	GetItem(ctx context.Context, id string) (*acceptance.Item, error)
	GetOrder(ctx context.Context, id string) (*acceptance.Order, error)
}

// SpecimenService detaches a specimen from further processing.
type SpecimenService interface {
	DeactivateSpecimen(ctx context.Context, itemID, specimenID string) error
}

// Timeline is the append-only audit log of an item.
//
// Entries are observational; a failed append is logged, never returned.
type Timeline interface {
	AppendTimelineEntry(ctx context.Context, itemID, message string) error
}

// Rollup recomputes an order's aggregate status. The rollup.Service type
// implements this interface.
type Rollup interface {
	Recompute(ctx context.Context, orderID string) (status.OrderStatus, error)
}

// Recorder receives one observation per engine operation. The metrics
// package provides the Prometheus implementation.
type Recorder interface {
	ObserveTransition(operation, outcome string)
}

// Operation names reported to the [Recorder].
const (
	OpProgress = "progress"
	OpComplete = "complete"
	OpReject   = "reject"
	OpEnter    = "enter_sample"
)

// Outcomes reported to the [Recorder].
const (
	OutcomeAdvanced = "advanced"
	OutcomeNoop     = "noop"
	OutcomeEnded    = "path_ended"
	OutcomeRerouted = "rerouted"
	OutcomeStopped  = "terminated"
	OutcomeEntered  = "entered"
	OutcomeFailed   = "failed"
)

// TransitionResult is returned by [Engine.Complete] and [Engine.Reject].
type TransitionResult struct {
	// Record is the transitioned record in its final state.
	Record acceptance.StationRecord

	// Next is the record materialized by the transition, if any.
	Next *acceptance.StationRecord
}

// Engine orchestrates station transitions for items.
//
// Engine uses dependency injection for testability. Use [NewEngine] to create
// an instance; optional collaborators are set with the Set methods before the
// engine is shared between goroutines.
type Engine struct {
	stations  StationStore
	workflows WorkflowLookup
	items     ItemLookup
	specimens SpecimenService
	timeline  Timeline

	rollup     Rollup
	recorder   Recorder
	logger     *slog.Logger
	seedStatus status.StationStatus
	nowFn      func() time.Time

	locks *keylock.Mutex
}

// NewEngine creates an Engine with the required collaborators.
//
// The first station of an item is seeded as waiting by default; see
// [Engine.SetSeedStatus].
func NewEngine(stations StationStore, workflows WorkflowLookup, items ItemLookup, specimens SpecimenService, timeline Timeline) *Engine {
	return &Engine{
		stations:   stations,
		workflows:  workflows,
		items:      items,
		specimens:  specimens,
		timeline:   timeline,
		logger:     slog.New(slog.DiscardHandler),
		seedStatus: status.StationWaiting,
		nowFn:      func() time.Time { return time.Now().UTC() },
		locks:      keylock.New(),
	}
}

// SetRollup configures the order roll-up run after each mutation.
// If not set (or set to nil), order status is left to the caller.
func (e *Engine) SetRollup(r Rollup) {
	e.rollup = r
}

// SetRecorder configures an optional metrics recorder.
func (e *Engine) SetRecorder(r Recorder) {
	e.recorder = r
}

// SetLogger configures the structured logger. A nil logger discards output.
func (e *Engine) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	e.logger = l
}

// SetSeedStatus selects the status of an item's first station record.
//
// Waiting leaves the record for the sample-entry gate; processing starts it
// immediately. Any other value is ignored.
func (e *Engine) SetSeedStatus(s status.StationStatus) {
	if s.IsActive() {
		e.seedStatus = s
	}
}

// SetClock replaces the time source for start and finish stamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.nowFn = now
}

func (e *Engine) observe(op, outcome string) {
	if e.recorder != nil {
		e.recorder.ObserveTransition(op, outcome)
	}
}

func (e *Engine) annotate(ctx context.Context, itemID, message string) {
	if e.timeline == nil {
		return
	}
	if err := e.timeline.AppendTimelineEntry(ctx, itemID, message); err != nil {
		e.logger.Warn("timeline append failed", "item_id", itemID, "error", err)
	}
}

func (e *Engine) recompute(ctx context.Context, orderID string) {
	if e.rollup == nil || orderID == "" {
		return
	}
	if _, err := e.rollup.Recompute(ctx, orderID); err != nil {
		e.logger.Warn("order roll-up failed", "order_id", orderID, "error", err)
	}
}
