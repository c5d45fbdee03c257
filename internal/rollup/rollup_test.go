package rollup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/acceptance"
	"labflow/internal/status"
	"labflow/internal/store"
	"labflow/internal/store/memory"
)

type MockPublisher struct {
	mu     sync.Mutex
	orders []string
	err    error
}

func (m *MockPublisher) PublishOrderReported(_ context.Context, order acceptance.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, order.ID)
	return m.err
}

func (m *MockPublisher) Orders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.orders...)
}

type MockRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *MockRecorder) ObserveRollup(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

// seedOrder creates an order with the given number of reportable items and
// service items.
func seedOrder(t *testing.T, s *memory.Store, id string, st status.OrderStatus, reportable, services int) []string {
	t.Helper()
	ctx := context.Background()
	_, err := s.CreateOrder(ctx, acceptance.Order{ID: id, Status: st})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < reportable; i++ {
		itemID := fmt.Sprintf("%s-t%d", id, i)
		_, err := s.CreateItem(ctx, acceptance.Item{ID: itemID, OrderID: id, WorkflowID: "cbc", Kind: acceptance.KindTest})
		require.NoError(t, err)
		ids = append(ids, itemID)
	}
	for i := 0; i < services; i++ {
		_, err := s.CreateItem(ctx, acceptance.Item{ID: fmt.Sprintf("%s-s%d", id, i), OrderID: id, Kind: acceptance.KindService})
		require.NoError(t, err)
	}
	return ids
}

func startItem(t *testing.T, s *memory.Store, itemID string) {
	t.Helper()
	_, err := s.CreateStation(context.Background(), acceptance.StationCreationRequest{
		ItemID: itemID, SectionID: "reception", Status: status.StationProcessing,
	})
	require.NoError(t, err)
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name    string
		current status.OrderStatus
		counts  Counts
		want    status.OrderStatus
		notify  bool
	}{
		{"nothing reportable", status.OrderProcessing, Counts{}, status.OrderReported, false},
		{"all published", status.OrderProcessing, Counts{Reportable: 3, Published: 3, Started: 3}, status.OrderReported, true},
		{"partially published", status.OrderProcessing, Counts{Reportable: 3, Published: 2, Started: 3}, status.OrderProcessing, false},
		{"started from pending", status.OrderPending, Counts{Reportable: 2, Started: 1}, status.OrderProcessing, false},
		{"started from waiting for payment", status.OrderWaitingForPayment, Counts{Reportable: 2, Started: 1}, status.OrderProcessing, false},
		{"not started", status.OrderPending, Counts{Reportable: 2}, status.OrderPending, false},
		{"never moves back from reported", status.OrderReported, Counts{Reportable: 2, Started: 1}, status.OrderReported, false},
		{"already reported no second notify", status.OrderReported, Counts{Reportable: 1, Published: 1, Started: 1}, status.OrderReported, false},
		{"cancelled left alone", status.OrderCancelled, Counts{Reportable: 1, Published: 1, Started: 1}, status.OrderCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(tt.current, tt.counts)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.notify, got.Notify)
		})
	}
}

func TestRecompute_ReportsWhenLastItemPublishes(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore(store.DefaultRulesEngine())
	items := seedOrder(t, s, "o1", status.OrderProcessing, 3, 1)
	for _, id := range items {
		startItem(t, s, id)
	}
	require.NoError(t, s.PublishReport(ctx, items[0]))
	require.NoError(t, s.PublishReport(ctx, items[1]))

	pub := &MockPublisher{}
	svc := NewService(s)
	svc.SetPublisher(pub)

	st, err := svc.Recompute(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, status.OrderProcessing, st)
	assert.Empty(t, pub.Orders())

	require.NoError(t, s.PublishReport(ctx, items[2]))
	st, err = svc.Recompute(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, status.OrderReported, st)
	assert.Equal(t, []string{"o1"}, pub.Orders())

	order, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, status.OrderReported, order.Status)
}

func TestRecompute_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore(store.DefaultRulesEngine())
	items := seedOrder(t, s, "o1", status.OrderProcessing, 1, 0)
	require.NoError(t, s.PublishReport(ctx, items[0]))

	pub := &MockPublisher{}
	rec := &MockRecorder{}
	svc := NewService(s)
	svc.SetPublisher(pub)
	svc.SetRecorder(rec)

	for i := 0; i < 3; i++ {
		st, err := svc.Recompute(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, status.OrderReported, st)
	}
	assert.Len(t, pub.Orders(), 1)
	assert.Equal(t, []string{OutcomeChanged, OutcomeUnchanged, OutcomeUnchanged}, rec.outcomes)
}

func TestRecompute_StartedMovesPendingToProcessing(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore(store.DefaultRulesEngine())
	items := seedOrder(t, s, "o1", status.OrderPending, 2, 0)
	svc := NewService(s)

	st, err := svc.Recompute(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, status.OrderPending, st)

	startItem(t, s, items[0])
	st, err = svc.Recompute(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, status.OrderProcessing, st)
}

func TestRecompute_ServiceOnlyOrderIsReported(t *testing.T) {
	s := memory.NewStore(store.DefaultRulesEngine())
	seedOrder(t, s, "o1", status.OrderProcessing, 0, 2)
	pub := &MockPublisher{}
	svc := NewService(s)
	svc.SetPublisher(pub)

	st, err := svc.Recompute(context.Background(), "o1")

	require.NoError(t, err)
	assert.Equal(t, status.OrderReported, st)
	assert.Empty(t, pub.Orders())
}

func TestRecompute_CancelledSkipped(t *testing.T) {
	s := memory.NewStore(store.DefaultRulesEngine())
	seedOrder(t, s, "o1", status.OrderCancelled, 0, 0)
	rec := &MockRecorder{}
	svc := NewService(s)
	svc.SetRecorder(rec)

	st, err := svc.Recompute(context.Background(), "o1")

	require.NoError(t, err)
	assert.Equal(t, status.OrderCancelled, st)
	assert.Equal(t, []string{OutcomeSkipped}, rec.outcomes)
}

func TestRecompute_PublisherFailureDoesNotFail(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore(store.DefaultRulesEngine())
	items := seedOrder(t, s, "o1", status.OrderProcessing, 1, 0)
	require.NoError(t, s.PublishReport(ctx, items[0]))
	svc := NewService(s)
	svc.SetPublisher(&MockPublisher{err: errors.New("ntfy down")})
	svc.SetLogger(nil)

	st, err := svc.Recompute(ctx, "o1")

	require.NoError(t, err)
	assert.Equal(t, status.OrderReported, st)
}

func TestRecompute_UnknownOrder(t *testing.T) {
	svc := NewService(memory.NewStore(store.DefaultRulesEngine()))

	_, err := svc.Recompute(context.Background(), "missing")

	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, acceptance.KindNotFound, acceptance.KindOf(err))
}

func TestRecompute_ConcurrentNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore(store.DefaultRulesEngine())
	items := seedOrder(t, s, "o1", status.OrderProcessing, 2, 0)
	for _, id := range items {
		require.NoError(t, s.PublishReport(ctx, id))
	}
	pub := &MockPublisher{}
	svc := NewService(s)
	svc.SetPublisher(pub)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Recompute(ctx, "o1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, pub.Orders(), 1)
}

func TestRecomputeAll(t *testing.T) {
	ctx := context.Background()
	s := memory.NewStore(store.DefaultRulesEngine())
	a := seedOrder(t, s, "a", status.OrderPending, 1, 0)
	startItem(t, s, a[0])
	seedOrder(t, s, "b", status.OrderProcessing, 0, 1)
	seedOrder(t, s, "c", status.OrderPending, 1, 0)

	svc := NewService(s)
	svc.SetConcurrency(2)

	got, err := svc.RecomputeAll(ctx, "a", "b", "c")

	require.NoError(t, err)
	assert.Equal(t, map[string]status.OrderStatus{
		"a": status.OrderProcessing,
		"b": status.OrderReported,
		"c": status.OrderPending,
	}, got)
}

func TestRecomputeAll_StopsOnError(t *testing.T) {
	s := memory.NewStore(store.DefaultRulesEngine())
	seedOrder(t, s, "a", status.OrderPending, 1, 0)
	svc := NewService(s)
	svc.SetConcurrency(0)

	_, err := svc.RecomputeAll(context.Background(), "a", "missing")

	assert.ErrorIs(t, err, store.ErrNotFound)
}
