// Package status defines the status values used by station records and orders.
//
// Station records move waiting -> processing -> finished|rejected. Orders move
// pending -> processing -> reported, with waiting_for_payment and cancelled set
// by order-level actions outside the progression engine.
//
// Key types:
//   - [StationStatus] - State of one item's visit to one section
//   - [OrderStatus] - Aggregate state of an order
package status

import "strings"

// StationStatus is the state of a single station record.
type StationStatus string

// Station record status values.
const (
	// StationWaiting marks a record created ahead of specimen entry.
	StationWaiting StationStatus = "waiting"

	// StationProcessing marks the record currently being worked.
	StationProcessing StationStatus = "processing"

	// StationFinished marks a record completed successfully.
	StationFinished StationStatus = "finished"

	// StationRejected marks a record closed by a rejection.
	StationRejected StationStatus = "rejected"
)

var stationStatuses = map[StationStatus]struct{}{
	StationWaiting:    {},
	StationProcessing: {},
	StationFinished:   {},
	StationRejected:   {},
}

// IsValid reports whether s is a known station status.
func (s StationStatus) IsValid() bool {
	_, ok := stationStatuses[s]
	return ok
}

// IsActive reports whether a record in this status counts as the item's
// active station. At most one record per item may be active.
func (s StationStatus) IsActive() bool {
	return s == StationWaiting || s == StationProcessing
}

// IsTerminal reports whether no further transition is allowed from s.
func (s StationStatus) IsTerminal() bool {
	return s == StationFinished || s == StationRejected
}

// ParseStationStatus converts a string into a known StationStatus.
func ParseStationStatus(value string) (StationStatus, bool) {
	s := StationStatus(strings.ToLower(strings.TrimSpace(value)))
	return s, s.IsValid()
}

// OrderStatus is the aggregate state of an order.
type OrderStatus string

// Order status values.
const (
	OrderPending           OrderStatus = "pending"
	OrderWaitingForPayment OrderStatus = "waiting_for_payment"
	OrderProcessing        OrderStatus = "processing"
	OrderReported          OrderStatus = "reported"
	OrderCancelled         OrderStatus = "cancelled"
)

var orderStatuses = map[OrderStatus]struct{}{
	OrderPending:           {},
	OrderWaitingForPayment: {},
	OrderProcessing:        {},
	OrderReported:          {},
	OrderCancelled:         {},
}

// IsValid reports whether s is a known order status.
func (s OrderStatus) IsValid() bool {
	_, ok := orderStatuses[s]
	return ok
}

// Rank places s on the roll-up ladder: not started (0), in progress (1),
// complete (2). Cancelled orders return -1 and sit outside the ladder.
func (s OrderStatus) Rank() int {
	switch s {
	case OrderPending, OrderWaitingForPayment:
		return 0
	case OrderProcessing:
		return 1
	case OrderReported:
		return 2
	default:
		return -1
	}
}

// ParseOrderStatus converts a string into a known OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, bool) {
	s := OrderStatus(strings.ToLower(strings.TrimSpace(value)))
	return s, s.IsValid()
}
