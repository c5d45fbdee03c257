package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"labflow/internal/acceptance"
	"labflow/internal/config"
	"labflow/internal/lifecycle"
	"labflow/internal/manifest"
	"labflow/internal/output"
	"labflow/internal/rollup"
	"labflow/internal/router"
	"labflow/internal/status"
	"labflow/internal/store"
	"labflow/internal/store/memory"
)

const testManifest = `workflow,order,section,name
cbc,0,reception,Sample reception
cbc,1,hematology,Hematology bench
cbc,2,review,Medical review
`

const testSchemas = `sections:
  - id: reception
    parameters:
      - name: volume_ml
        type: number
  - id: hematology
    parameters:
      - name: wbc
        type: number
        required: true
      - name: comment
        type: text
        default: none
`

// MockNotifier records published orders.
type MockNotifier struct {
	mu        sync.Mutex
	Published []string
	Tests     int
	Err       error
}

func (m *MockNotifier) PublishOrderReported(_ context.Context, order acceptance.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, order.ID)
	return m.Err
}

func (m *MockNotifier) TestNotification(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tests++
	return m.Err
}

type testEnv struct {
	app      *App
	store    *memory.Store
	notifier *MockNotifier
	out      *bytes.Buffer
}

// newTestApp builds an App over a memory store holding order o1
// (processing) with test item i1 on specimen BC-1 and service item i2.
func newTestApp(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	m, err := manifest.ReadFromString(testManifest)
	require.NoError(t, err)
	schemas, err := manifest.ReadSchemasFromBytes([]byte(testSchemas))
	require.NoError(t, err)
	rt, err := router.NewRouterFromManifest(m, schemas)
	require.NoError(t, err)

	st := memory.NewStore(store.DefaultRulesEngine())
	clock := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return clock })

	_, err = st.CreateOrder(ctx, acceptance.Order{ID: "o1", Reference: "ACC-1", Status: status.OrderProcessing})
	require.NoError(t, err)
	_, err = st.CreateItem(ctx, acceptance.Item{
		ID: "i1", OrderID: "o1", WorkflowID: "cbc", Kind: acceptance.KindTest,
		Specimen: &acceptance.Specimen{ID: "sp1", Barcode: "BC-1", Active: true},
	})
	require.NoError(t, err)
	_, err = st.CreateItem(ctx, acceptance.Item{ID: "i2", OrderID: "o1", WorkflowID: "cbc", Kind: acceptance.KindService})
	require.NoError(t, err)

	notifier := &MockNotifier{}
	ru := rollup.NewService(st)
	ru.SetPublisher(notifier)

	eng := lifecycle.NewEngine(st, rt, st, st, st)
	eng.SetRollup(ru)
	eng.SetClock(func() time.Time { return clock })

	buf := &bytes.Buffer{}
	app := &App{
		Config:   config.DefaultConfig(),
		Store:    st,
		Router:   rt,
		Engine:   eng,
		Rollup:   ru,
		Notifier: notifier,
		Printer:  output.NewPrinterWithWriter(buf),
	}
	return &testEnv{app: app, store: st, notifier: notifier, out: buf}
}

// run executes one command line against the env and returns everything the
// command printed.
func (e *testEnv) run(args ...string) (string, error) {
	e.out.Reset()
	rootCmd := NewRootCommand(e.app)
	rootCmd.SetOut(e.out)
	rootCmd.SetErr(e.out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return e.out.String(), err
}

// activeID returns the id of the item's active station record.
func (e *testEnv) activeID(t *testing.T, itemID string) string {
	t.Helper()
	rec, err := e.store.FindActiveStation(context.Background(), itemID)
	require.NoError(t, err)
	require.NotNil(t, rec, "item %s has no active station", itemID)
	return rec.ID
}

// writeFile writes content under dir and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}
