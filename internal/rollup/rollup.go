// Package rollup derives an order's aggregate status from its items.
//
// The status is a function of three counts: reportable items, published
// reportable items, and items that have started processing. The result only
// moves forward on the pending < processing < reported ladder; cancelled
// orders are never touched.
package rollup

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"labflow/internal/acceptance"
	"labflow/internal/keylock"
	"labflow/internal/status"
)

// DefaultConcurrency bounds [Service.RecomputeAll] when no limit is set.
const DefaultConcurrency = 4

// OrderCounter is the read/write surface the roll-up needs from the store.
type OrderCounter interface {
	GetOrder(ctx context.Context, id string) (*acceptance.Order, error)
	SetOrderStatus(ctx context.Context, id string, s status.OrderStatus) error
	CountReportableItems(ctx context.Context, orderID string) (int, error)
	CountPublishedItems(ctx context.Context, orderID string) (int, error)
	CountStartedItems(ctx context.Context, orderID string) (int, error)
}

// Publisher is told when an order becomes reported because its last
// report was published. Delivery is the publisher's concern.
type Publisher interface {
	PublishOrderReported(ctx context.Context, order acceptance.Order) error
}

// Recorder receives one observation per roll-up.
type Recorder interface {
	ObserveRollup(outcome string)
}

// Roll-up outcomes reported to the [Recorder].
const (
	OutcomeChanged   = "changed"
	OutcomeUnchanged = "unchanged"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Counts are the inputs of a roll-up.
type Counts struct {
	Reportable int
	Published  int
	Started    int
}

// Decision is the result of [Derive].
type Decision struct {
	Status status.OrderStatus
	Notify bool
}

// Derive computes the status an order with the given counts should have.
//
// Notify is set only when the order moves to reported because every
// reportable item has been published. Derive never returns a status below
// current, and returns current unchanged for cancelled orders.
func Derive(current status.OrderStatus, c Counts) Decision {
	if current == status.OrderCancelled {
		return Decision{Status: current}
	}

	target := current
	published := false
	switch {
	case c.Reportable == 0:
		target = status.OrderReported
	case c.Published >= c.Reportable:
		target = status.OrderReported
		published = true
	case c.Started > 0:
		target = status.OrderProcessing
	}

	if target.Rank() <= current.Rank() {
		return Decision{Status: current}
	}
	return Decision{Status: target, Notify: published && target == status.OrderReported}
}

// Service recomputes order status against an [OrderCounter].
type Service struct {
	orders      OrderCounter
	publisher   Publisher
	recorder    Recorder
	logger      *slog.Logger
	concurrency int
	locks       *keylock.Mutex
}

// NewService creates a roll-up service over orders.
func NewService(orders OrderCounter) *Service {
	return &Service{
		orders:      orders,
		logger:      slog.New(slog.DiscardHandler),
		concurrency: DefaultConcurrency,
		locks:       keylock.New(),
	}
}

// SetPublisher configures the publication hook. Nil disables notifications.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

// SetRecorder configures an optional metrics recorder.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// SetLogger configures the structured logger. A nil logger discards output.
func (s *Service) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	s.logger = l
}

// SetConcurrency bounds how many orders [Service.RecomputeAll] handles at
// once. Values below 1 restore [DefaultConcurrency].
func (s *Service) SetConcurrency(n int) {
	if n < 1 {
		n = DefaultConcurrency
	}
	s.concurrency = n
}

// Recompute derives and persists the order's status, returning the status
// the order has afterwards.
//
// Calls for the same order are serialized. Re-running with unchanged counts
// writes nothing and sends no second notification. A failed notification is
// logged but does not fail the roll-up.
func (s *Service) Recompute(ctx context.Context, orderID string) (status.OrderStatus, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	st, outcome, err := s.recompute(ctx, orderID)
	if err != nil {
		s.observe(OutcomeFailed)
		return "", err
	}
	s.observe(outcome)
	return st, nil
}

func (s *Service) recompute(ctx context.Context, orderID string) (status.OrderStatus, string, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", "", fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order.Status == status.OrderCancelled {
		return order.Status, OutcomeSkipped, nil
	}

	counts, err := s.counts(ctx, orderID)
	if err != nil {
		return "", "", err
	}

	d := Derive(order.Status, counts)
	if d.Status == order.Status {
		return order.Status, OutcomeUnchanged, nil
	}
	if err := s.orders.SetOrderStatus(ctx, orderID, d.Status); err != nil {
		return "", "", fmt.Errorf("set order %s status: %w", orderID, err)
	}
	s.logger.Info("order status changed",
		"order_id", orderID,
		"from", order.Status,
		"status", d.Status,
		"reportable", counts.Reportable,
		"published", counts.Published,
		"started", counts.Started,
	)

	if d.Notify && s.publisher != nil {
		reported := *order
		reported.Status = d.Status
		if err := s.publisher.PublishOrderReported(ctx, reported); err != nil {
			s.logger.Warn("order publication notification failed", "order_id", orderID, "error", err)
		}
	}
	return d.Status, OutcomeChanged, nil
}

func (s *Service) counts(ctx context.Context, orderID string) (Counts, error) {
	var (
		c   Counts
		err error
	)
	if c.Reportable, err = s.orders.CountReportableItems(ctx, orderID); err != nil {
		return Counts{}, fmt.Errorf("count reportable items of %s: %w", orderID, err)
	}
	if c.Published, err = s.orders.CountPublishedItems(ctx, orderID); err != nil {
		return Counts{}, fmt.Errorf("count published items of %s: %w", orderID, err)
	}
	if c.Started, err = s.orders.CountStartedItems(ctx, orderID); err != nil {
		return Counts{}, fmt.Errorf("count started items of %s: %w", orderID, err)
	}
	return c, nil
}

// RecomputeAll recomputes independent orders concurrently and returns each
// order's resulting status. The first error cancels the remaining work.
func (s *Service) RecomputeAll(ctx context.Context, orderIDs ...string) (map[string]status.OrderStatus, error) {
	results := make([]status.OrderStatus, len(orderIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range orderIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st, err := s.Recompute(gctx, id)
			if err != nil {
				return err
			}
			results[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]status.OrderStatus, len(orderIDs))
	for i, id := range orderIDs {
		out[id] = results[i]
	}
	return out, nil
}

func (s *Service) observe(outcome string) {
	if s.recorder != nil {
		s.recorder.ObserveRollup(outcome)
	}
}
