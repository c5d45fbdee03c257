package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"labflow/internal/acceptance"
	"labflow/internal/router"
	"labflow/internal/status"
	"labflow/internal/store"
	"labflow/internal/store/memory"
	"labflow/internal/workflow"
)

// MockRecorder records engine observations for verification in tests.
type MockRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (m *MockRecorder) ObserveTransition(operation, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, operation+":"+outcome)
}

func (m *MockRecorder) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MockRollup counts roll-up requests per order.
type MockRollup struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (m *MockRollup) Recompute(_ context.Context, orderID string) (status.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[orderID]++
	return status.OrderProcessing, m.err
}

func (m *MockRollup) Count(orderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[orderID]
}

// FailingTimeline rejects every append.
type FailingTimeline struct{}

func (FailingTimeline) AppendTimelineEntry(context.Context, string, string) error {
	return errors.New("timeline offline")
}

// FailingSpecimens refuses every deactivation.
type FailingSpecimens struct{}

func (FailingSpecimens) DeactivateSpecimen(context.Context, string, string) error {
	return errors.New("specimen service offline")
}

// staleActiveStore hides the active record, the way a second writer sees the
// store just before another one commits.
type staleActiveStore struct {
	*memory.Store
}

func (staleActiveStore) FindActiveStation(context.Context, string) (*acceptance.StationRecord, error) {
	return nil, nil
}

func cbcWorkflow() workflow.Workflow {
	return workflow.Workflow{
		ID:   "cbc",
		Name: "Complete blood count",
		Sections: []workflow.Section{
			{ID: "reception", Name: "Reception", Order: 0, Parameters: []workflow.ParameterField{
				{Name: "volume_ml", Type: workflow.ParameterNumber},
			}},
			{ID: "hematology", Name: "Hematology", Order: 1, Parameters: []workflow.ParameterField{
				{Name: "wbc", Type: workflow.ParameterNumber, Required: true},
				{Name: "comment", Type: workflow.ParameterText, Default: "none"},
			}},
			{ID: "review", Name: "Review", Order: 2},
		},
	}
}

type testEnv struct {
	store    *memory.Store
	engine   *Engine
	recorder *MockRecorder
	rollup   *MockRollup
}

// newTestEnv builds an engine over a memory store holding order o1
// (processing) with items:
//   - i1: cbc, specimen sp1/BC-1 active
//   - i2: cbc, specimen sp2/BC-1 active (shares the physical sample)
//   - i3: cbc, no specimen
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	s := memory.NewStore(store.DefaultRulesEngine())
	r, err := router.NewRouter(cbcWorkflow())
	require.NoError(t, err)

	_, err = s.CreateOrder(ctx, acceptance.Order{ID: "o1", Status: status.OrderProcessing})
	require.NoError(t, err)
	for _, item := range []acceptance.Item{
		{ID: "i1", OrderID: "o1", WorkflowID: "cbc", Kind: acceptance.KindTest, Specimen: &acceptance.Specimen{ID: "sp1", Barcode: "BC-1", Active: true}},
		{ID: "i2", OrderID: "o1", WorkflowID: "cbc", Kind: acceptance.KindTest, Specimen: &acceptance.Specimen{ID: "sp2", Barcode: "BC-1", Active: true}},
		{ID: "i3", OrderID: "o1", WorkflowID: "cbc", Kind: acceptance.KindTest},
	} {
		_, err := s.CreateItem(ctx, item)
		require.NoError(t, err)
	}

	e := NewEngine(s, r, s, s, s)
	rec := &MockRecorder{}
	roll := &MockRollup{}
	e.SetRecorder(rec)
	e.SetRollup(roll)
	e.SetClock(func() time.Time { return time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC) })

	return &testEnv{store: s, engine: e, recorder: rec, rollup: roll}
}

// importRecord places an existing record on an item, as a previous session would have.
func (env *testEnv) importRecord(t *testing.T, itemID, section string, order int, st status.StationStatus, updated time.Time) acceptance.StationRecord {
	t.Helper()
	rec := acceptance.StationRecord{
		ID:         itemID + "-" + section + "-" + string(st),
		ItemID:     itemID,
		SectionID:  section,
		Order:      order,
		Status:     st,
		Parameters: map[string]string{},
		CreatedAt:  updated,
		UpdatedAt:  updated,
	}
	require.NoError(t, env.store.ImportStation(context.Background(), rec))
	return rec
}

func (env *testEnv) stations(t *testing.T, itemID string) []acceptance.StationRecord {
	t.Helper()
	recs, err := env.store.FindAllStations(context.Background(), itemID)
	require.NoError(t, err)
	return recs
}

func activeCount(recs []acceptance.StationRecord) int {
	n := 0
	for _, r := range recs {
		if r.IsActive() {
			n++
		}
	}
	return n
}

func intPtr(v int) *int {
	return &v
}
