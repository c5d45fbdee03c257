package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/acceptance"
	"labflow/internal/status"
	"labflow/internal/store"
	"labflow/internal/store/storetest"
)

func openTestStore(t *testing.T, engine *store.RulesEngine) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "labflow.db"), engine)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreBehavior(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTestStore(t, store.DefaultRulesEngine())
	})
}

func TestUniqueIndexWithoutRules(t *testing.T) {
	s := openTestStore(t, nil)
	storetest.Seed(t, s)
	ctx := context.Background()

	_, err := s.CreateStation(ctx, acceptance.StationCreationRequest{ItemID: "i1", SectionID: "reception", Status: status.StationWaiting})
	require.NoError(t, err)

	_, err = s.CreateStation(ctx, acceptance.StationCreationRequest{ItemID: "i1", SectionID: "reception", Status: status.StationProcessing})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrActiveStationExists)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "labflow.db")
	s, err := Open(path, store.DefaultRulesEngine())
	require.NoError(t, err)
	storetest.Seed(t, s)

	started := time.Date(2026, 2, 3, 10, 30, 0, 0, time.UTC)
	rec, err := s.CreateStation(context.Background(), acceptance.StationCreationRequest{
		ItemID: "i1", SectionID: "reception", SectionName: "Reception", Status: status.StationProcessing,
		StartedAt: &started, StartedBy: "u1", Parameters: map[string]string{"volume_ml": "4.5"},
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, store.DefaultRulesEngine())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())

	got, err := s.GetStation(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Reception", got.SectionName)
	assert.Equal(t, "4.5", got.Parameters["volume_ml"])
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Nil(t, got.FinishedAt)
}

func TestSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labflow.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	_, err = s.db.Exec("UPDATE schema_version SET version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("", nil)
	assert.Error(t, err)
}

type busyErr struct{}

func (busyErr) Error() string { return "database is locked" }

func TestRetryOnBusy(t *testing.T) {
	attempts := 0
	err := retryOnBusy(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return busyErr{}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	permanent := errors.New("no such table")
	err = retryOnBusy(context.Background(), func() error {
		attempts++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = retryOnBusy(ctx, func() error { return busyErr{} })
	assert.ErrorIs(t, err, context.Canceled)
}
