// Package storetest holds behavior tests every [store.Store] backend must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/acceptance"
	"labflow/internal/status"
	"labflow/internal/store"
)

// Factory returns a fresh, empty backend for one test.
type Factory func(t *testing.T) store.Store

// Seed creates order o1 (processing) with a test item i1 carrying specimen
// BC-1, a service item i2, and a second test item i3 sharing specimen BC-1.
func Seed(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.CreateOrder(ctx, acceptance.Order{ID: "o1", Status: status.OrderProcessing})
	require.NoError(t, err)
	_, err = s.CreateItem(ctx, acceptance.Item{
		ID: "i1", OrderID: "o1", WorkflowID: "cbc", Kind: acceptance.KindTest,
		Specimen: &acceptance.Specimen{ID: "sp1", Barcode: "BC-1", Active: true},
	})
	require.NoError(t, err)
	_, err = s.CreateItem(ctx, acceptance.Item{ID: "i2", OrderID: "o1", WorkflowID: "cbc", Kind: acceptance.KindService})
	require.NoError(t, err)
	_, err = s.CreateItem(ctx, acceptance.Item{
		ID: "i3", OrderID: "o1", WorkflowID: "lipid", Kind: acceptance.KindTest,
		Specimen: &acceptance.Specimen{ID: "sp1", Barcode: "BC-1", Active: true},
	})
	require.NoError(t, err)
}

func waiting(itemID, section string, order int) acceptance.StationCreationRequest {
	return acceptance.StationCreationRequest{
		ItemID:     itemID,
		SectionID:  section,
		Order:      order,
		Parameters: map[string]string{"note": ""},
		Status:     status.StationWaiting,
	}
}

// Run executes the backend behavior suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("create and read station", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		ctx := context.Background()

		rec, err := s.CreateStation(ctx, waiting("i1", "reception", 0))
		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, status.StationWaiting, rec.Status)
		assert.False(t, rec.CreatedAt.IsZero())

		got, err := s.GetStation(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "reception", got.SectionID)
		assert.Equal(t, map[string]string{"note": ""}, got.Parameters)

		active, err := s.FindActiveStation(ctx, "i1")
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, rec.ID, active.ID)

		none, err := s.FindActiveStation(ctx, "i3")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("missing rows", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		ctx := context.Background()

		_, err := s.GetStation(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetItem(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetOrder(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.CreateStation(ctx, waiting("nope", "reception", 0))
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.UpdateStation(ctx, "nope", acceptance.StationUpdate{Details: acceptance.Ptr("x")})
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.Equal(t, acceptance.KindNotFound, acceptance.KindOf(err))
	})

	t.Run("second active station is refused", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		ctx := context.Background()

		_, err := s.CreateStation(ctx, waiting("i1", "reception", 0))
		require.NoError(t, err)

		_, err = s.CreateStation(ctx, waiting("i1", "hematology", 1))
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrActiveStationExists)

		all, err := s.FindAllStations(ctx, "i1")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("concurrent creates leave one active record", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = s.CreateStation(ctx, waiting("i1", "reception", 0))
			}()
		}
		wg.Wait()

		all, err := s.FindAllStations(ctx, "i1")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("update applies fields and honours expected status", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		ctx := context.Background()

		rec, err := s.CreateStation(ctx, waiting("i1", "reception", 0))
		require.NoError(t, err)

		_, err = s.UpdateStation(ctx, rec.ID, acceptance.StationUpdate{
			ExpectStatus: status.StationProcessing,
			Status:       acceptance.Ptr(status.StationFinished),
		})
		assert.ErrorIs(t, err, store.ErrStatusConflict)

		updated, err := s.UpdateStation(ctx, rec.ID, acceptance.StationUpdate{
			ExpectStatus: status.StationWaiting,
			Status:       acceptance.Ptr(status.StationProcessing),
			StartedBy:    acceptance.Ptr("u1"),
			Parameters:   map[string]string{"note": "hemolysed"},
			Details:      acceptance.Ptr("scanned"),
		})
		require.NoError(t, err)
		assert.Equal(t, status.StationProcessing, updated.Status)
		assert.Equal(t, "u1", updated.StartedBy)
		assert.Equal(t, "hemolysed", updated.Parameters["note"])
		assert.Equal(t, "scanned", updated.Details)
		assert.Equal(t, 0, updated.Order)

		// finishing frees the slot for the next station
		_, err = s.UpdateStation(ctx, rec.ID, acceptance.StationUpdate{Status: acceptance.Ptr(status.StationFinished)})
		require.NoError(t, err)
		_, err = s.CreateStation(ctx, acceptance.StationCreationRequest{ItemID: "i1", SectionID: "hematology", Order: 1, Status: status.StationProcessing})
		require.NoError(t, err)

		all, err := s.FindAllStations(ctx, "i1")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "reception", all[0].SectionID)
		assert.Equal(t, "hematology", all[1].SectionID)
	})

	t.Run("reopening a finished record behind an active one is refused", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		ctx := context.Background()

		first, err := s.CreateStation(ctx, acceptance.StationCreationRequest{ItemID: "i1", SectionID: "reception", Status: status.StationProcessing})
		require.NoError(t, err)
		_, err = s.UpdateStation(ctx, first.ID, acceptance.StationUpdate{Status: acceptance.Ptr(status.StationFinished)})
		require.NoError(t, err)
		_, err = s.CreateStation(ctx, acceptance.StationCreationRequest{ItemID: "i1", SectionID: "hematology", Order: 1, Status: status.StationProcessing})
		require.NoError(t, err)

		_, err = s.UpdateStation(ctx, first.ID, acceptance.StationUpdate{Status: acceptance.Ptr(status.StationProcessing)})
		assert.ErrorIs(t, err, store.ErrActiveStationExists)

		got, err := s.GetStation(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, status.StationFinished, got.Status)
	})

	t.Run("barcode lookup spans items sharing a specimen", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		ctx := context.Background()

		_, err := s.CreateStation(ctx, waiting("i1", "reception", 0))
		require.NoError(t, err)
		_, err = s.CreateStation(ctx, waiting("i3", "reception", 0))
		require.NoError(t, err)

		recs, err := s.FindStationsByBarcode(ctx, "BC-1")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "i1", recs[0].ItemID)
		assert.Equal(t, "i3", recs[1].ItemID)

		none, err := s.FindStationsByBarcode(ctx, "BC-404")
		require.NoError(t, err)
		assert.Empty(t, none)

		require.NoError(t, s.DeactivateSpecimen(ctx, "i1", "sp1"))
		recs, err = s.FindStationsByBarcode(ctx, "BC-1")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "i3", recs[0].ItemID)
	})

	t.Run("specimen deactivation", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		ctx := context.Background()

		assert.ErrorIs(t, s.DeactivateSpecimen(ctx, "i1", "other"), store.ErrNotFound)
		require.NoError(t, s.DeactivateSpecimen(ctx, "i1", "sp1"))

		item, err := s.GetItem(ctx, "i1")
		require.NoError(t, err)
		require.NotNil(t, item.Specimen)
		assert.False(t, item.Specimen.Active)
		assert.False(t, item.HasActiveSpecimen())
	})

	t.Run("roll-up counters", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		ctx := context.Background()

		counts := func() (int, int, int) {
			r, err := s.CountReportableItems(ctx, "o1")
			require.NoError(t, err)
			p, err := s.CountPublishedItems(ctx, "o1")
			require.NoError(t, err)
			st, err := s.CountStartedItems(ctx, "o1")
			require.NoError(t, err)
			return r, p, st
		}

		r, p, st := counts()
		assert.Equal(t, []int{2, 0, 0}, []int{r, p, st})

		_, err := s.CreateStation(ctx, waiting("i1", "reception", 0))
		require.NoError(t, err)
		require.NoError(t, s.AttachReport(ctx, "i1", acceptance.Report{ID: "r1"}))
		r, p, st = counts()
		assert.Equal(t, []int{2, 0, 1}, []int{r, p, st})

		require.NoError(t, s.PublishReport(ctx, "i1"))
		require.NoError(t, s.PublishReport(ctx, "i2"))
		r, p, st = counts()
		assert.Equal(t, []int{2, 1, 1}, []int{r, p, st})

		item, err := s.GetItem(ctx, "i1")
		require.NoError(t, err)
		require.NotNil(t, item.Report)
		assert.Equal(t, "r1", item.Report.ID)
		assert.True(t, item.Report.Published)
		assert.NotNil(t, item.Report.PublishedAt)

		_, err = s.CountReportableItems(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("order status", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		ctx := context.Background()

		require.NoError(t, s.SetOrderStatus(ctx, "o1", status.OrderReported))
		o, err := s.GetOrder(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, status.OrderReported, o.Status)

		assert.Error(t, s.SetOrderStatus(ctx, "o1", status.OrderStatus("bogus")))
		assert.ErrorIs(t, s.SetOrderStatus(ctx, "nope", status.OrderReported), store.ErrNotFound)
	})

	t.Run("timeline", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		ctx := context.Background()

		require.NoError(t, s.AppendTimelineEntry(ctx, "i1", "first"))
		require.NoError(t, s.AppendTimelineEntry(ctx, "i1", "second"))
		assert.ErrorIs(t, s.AppendTimelineEntry(ctx, "nope", "x"), store.ErrNotFound)

		entries, err := s.ListTimeline(ctx, "i1")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "first", entries[0].Message)
		assert.Equal(t, "second", entries[1].Message)
		assert.False(t, entries[0].At.IsZero())

		at := time.Date(2025, 12, 1, 10, 30, 0, 0, time.UTC)
		require.NoError(t, s.ImportTimelineEntry(ctx, acceptance.TimelineEntry{ItemID: "i3", Message: "restored", At: at}))
		assert.ErrorIs(t, s.ImportTimelineEntry(ctx, acceptance.TimelineEntry{ItemID: "nope", Message: "x"}), store.ErrNotFound)
		entries, err = s.ListTimeline(ctx, "i3")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, at.Equal(entries[0].At))
	})

	t.Run("listing and import", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s)
		ctx := context.Background()

		orders, err := s.ListOrders(ctx)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, "o1", orders[0].ID)

		items, err := s.ListItems(ctx, "o1")
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, []string{"i1", "i2", "i3"}, []string{items[0].ID, items[1].ID, items[2].ID})
		assert.Equal(t, acceptance.KindService, items[1].Kind)

		require.NoError(t, s.ImportStation(ctx, acceptance.StationRecord{
			ID: "st-1", ItemID: "i3", SectionID: "reception", Order: 0, Status: status.StationFinished,
			Parameters: map[string]string{"volume_ml": "3"}, FinishedBy: "u9",
		}))
		got, err := s.GetStation(ctx, "st-1")
		require.NoError(t, err)
		assert.Equal(t, status.StationFinished, got.Status)
		assert.Equal(t, "u9", got.FinishedBy)
		assert.Equal(t, "3", got.Parameters["volume_ml"])

		assert.Error(t, s.ImportStation(ctx, acceptance.StationRecord{ID: "st-1", ItemID: "i3", SectionID: "reception", Status: status.StationFinished}))

		_, err = s.CreateOrder(ctx, acceptance.Order{ID: "o1"})
		assert.Error(t, err)
		created, err := s.CreateOrder(ctx, acceptance.Order{})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, status.OrderPending, created.Status)
	})
}
