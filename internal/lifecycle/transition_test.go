package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/acceptance"
	"labflow/internal/status"
)

// startAt gives item i1 a processing record at the given order with
// everything before it finished.
func startAt(t *testing.T, env *testEnv, order int) *acceptance.StationRecord {
	t.Helper()
	ctx := context.Background()
	env.engine.SetSeedStatus(status.StationProcessing)

	rec, err := env.engine.Progress(ctx, "i1", "tech-1")
	require.NoError(t, err)
	require.NotNil(t, rec)

	params := map[string]string{"wbc": "7.2"}
	for rec.Order < order {
		var p map[string]string
		if rec.SectionID == "hematology" {
			p = params
		}
		res, err := env.engine.Complete(ctx, rec.ID, p, "", "tech-1")
		require.NoError(t, err)
		require.NotNil(t, res.Next)
		rec = res.Next
	}
	return rec
}

func TestComplete_AdvancesToNextSection(t *testing.T) {
	env := newTestEnv(t)
	rec := startAt(t, env, 1)

	res, err := env.engine.Complete(context.Background(), rec.ID, map[string]string{"wbc": "6.8"}, "normal range", "tech-2")

	require.NoError(t, err)
	assert.Equal(t, status.StationFinished, res.Record.Status)
	assert.Equal(t, "tech-2", res.Record.FinishedBy)
	assert.NotNil(t, res.Record.FinishedAt)
	assert.Equal(t, "normal range", res.Record.Details)
	assert.Equal(t, map[string]string{"wbc": "6.8", "comment": "none"}, res.Record.Parameters)
	require.NotNil(t, res.Next)
	assert.Equal(t, 2, res.Next.Order)
	assert.Equal(t, status.StationProcessing, res.Next.Status)

	recs := env.stations(t, "i1")
	assert.Len(t, recs, 3)
	assert.Equal(t, 1, activeCount(recs))
}

func TestComplete_LastStationEndsPath(t *testing.T) {
	env := newTestEnv(t)
	rec := startAt(t, env, 2)

	res, err := env.engine.Complete(context.Background(), rec.ID, nil, "", "tech-1")

	require.NoError(t, err)
	assert.Nil(t, res.Next)
	assert.Equal(t, status.StationFinished, res.Record.Status)
	assert.Equal(t, 0, activeCount(env.stations(t, "i1")))
	assert.Contains(t, env.recorder.Calls(), "complete:path_ended")
}

func TestComplete_OrdersIncreaseAlongPath(t *testing.T) {
	env := newTestEnv(t)
	startAt(t, env, 2)

	recs := env.stations(t, "i1")
	require.Len(t, recs, 3)
	for i, r := range recs {
		assert.Equal(t, i, r.Order)
	}
}

func TestComplete_Refusals(t *testing.T) {
	tests := []struct {
		name     string
		params   map[string]string
		finished bool
		recordID string
		wantErr  error
		wantKind acceptance.ErrorKind
	}{
		{
			name:     "missing required parameter",
			params:   map[string]string{"comment": "clotted"},
			wantErr:  ErrInvalidParameters,
			wantKind: acceptance.KindPrecondition,
		},
		{
			name:     "non numeric value",
			params:   map[string]string{"wbc": "lots"},
			wantErr:  ErrInvalidParameters,
			wantKind: acceptance.KindPrecondition,
		},
		{
			name:     "unknown parameter",
			params:   map[string]string{"wbc": "5", "rbc": "4"},
			wantErr:  ErrInvalidParameters,
			wantKind: acceptance.KindPrecondition,
		},
		{
			name:     "record already finished",
			params:   map[string]string{"wbc": "5"},
			finished: true,
			wantErr:  ErrNotActive,
			wantKind: acceptance.KindPrecondition,
		},
		{
			name:     "unknown record",
			recordID: "nope",
			wantErr:  ErrRecordNotFound,
			wantKind: acceptance.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			rec := startAt(t, env, 1)
			id := rec.ID
			if tt.recordID != "" {
				id = tt.recordID
			}
			if tt.finished {
				_, err := env.engine.Complete(ctx, rec.ID, tt.params, "", "tech-1")
				require.NoError(t, err)
			}
			before := env.stations(t, "i1")

			_, err := env.engine.Complete(ctx, id, tt.params, "", "tech-1")

			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, tt.wantKind, acceptance.KindOf(err))
			assert.Equal(t, before, env.stations(t, "i1"))
		})
	}
}

func TestComplete_WaitingRecordIsNotActive(t *testing.T) {
	env := newTestEnv(t)
	rec, err := env.engine.Progress(context.Background(), "i1", "tech-1")
	require.NoError(t, err)
	require.NotNil(t, rec)

	_, err = env.engine.Complete(context.Background(), rec.ID, nil, "", "tech-1")

	assert.ErrorIs(t, err, ErrNotActive)
}

func TestComplete_ClosedRecordIsNotActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := startAt(t, env, 2)
	_, err := env.engine.Complete(ctx, rec.ID, nil, "", "tech-1")
	require.NoError(t, err)

	_, err = env.engine.Complete(ctx, rec.ID, nil, "", "tech-1")

	require.ErrorIs(t, err, ErrNotActive)
	assert.Contains(t, err.Error(), "is already finished")

	timeline, err := env.store.ListTimeline(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "Completed Review by tech-1", timeline[len(timeline)-1].Message)
}

func TestComplete_ConcurrentCallsFinishOnce(t *testing.T) {
	env := newTestEnv(t)
	rec := startAt(t, env, 2)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		refused   int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Complete(context.Background(), rec.ID, nil, "", "tech-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrNotActive):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, refused)
	assert.Len(t, env.stations(t, "i1"), 3)
}

func TestComplete_ConcurrentWithProgressKeepsOneActive(t *testing.T) {
	env := newTestEnv(t)
	rec := startAt(t, env, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = env.engine.Complete(context.Background(), rec.ID, map[string]string{"wbc": "5"}, "", "tech-1")
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			_, _ = env.engine.Progress(context.Background(), "i1", "tech-2")
		}
	}()
	wg.Wait()

	recs := env.stations(t, "i1")
	assert.Len(t, recs, 3)
	assert.Equal(t, 1, activeCount(recs))
}

func TestReject_ReRoutesBackwards(t *testing.T) {
	env := newTestEnv(t)
	rec := startAt(t, env, 2)

	res, err := env.engine.Reject(context.Background(), rec.ID, nil, "hemolysed", "tech-3", intPtr(0))

	require.NoError(t, err)
	assert.Equal(t, status.StationRejected, res.Record.Status)
	assert.Equal(t, "hemolysed", res.Record.Details)
	require.NotNil(t, res.Next)
	assert.Equal(t, 0, res.Next.Order)
	assert.Equal(t, "reception", res.Next.SectionID)
	assert.Equal(t, status.StationProcessing, res.Next.Status)
	assert.Equal(t, "tech-3", res.Next.StartedBy)

	item, err := env.store.GetItem(context.Background(), "i1")
	require.NoError(t, err)
	assert.True(t, item.HasActiveSpecimen())
	assert.Contains(t, env.recorder.Calls(), "reject:rerouted")
}

func TestReject_WithoutReRouteTerminates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := startAt(t, env, 1)

	res, err := env.engine.Reject(ctx, rec.ID, map[string]string{"wbc": ""}, "clotted", "tech-1", nil)

	require.NoError(t, err)
	assert.Nil(t, res.Next)
	assert.Equal(t, status.StationRejected, res.Record.Status)

	recs := env.stations(t, "i1")
	assert.Len(t, recs, 2)
	assert.Equal(t, 0, activeCount(recs))

	item, err := env.store.GetItem(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, item.HasActiveSpecimen())

	timeline, err := env.store.ListTimeline(ctx, "i1")
	require.NoError(t, err)
	require.NotEmpty(t, timeline)
	last := timeline[len(timeline)-1]
	assert.Equal(t, "Sample rejected at Hematology, workflow path ended (specimen BC-1 deactivated)", last.Message)

	// Terminated items stay put.
	again, err := env.engine.Progress(ctx, "i1", "tech-1")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestReject_FailedDeactivationPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := startAt(t, env, 1)
	before := env.stations(t, "i1")
	env.engine.specimens = FailingSpecimens{}

	_, err := env.engine.Reject(ctx, rec.ID, nil, "clotted", "tech-1", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "specimen service offline")
	assert.Equal(t, before, env.stations(t, "i1"))
	assert.Contains(t, env.recorder.Calls(), "reject:failed")

	item, err := env.store.GetItem(ctx, "i1")
	require.NoError(t, err)
	assert.True(t, item.HasActiveSpecimen())

	again, err := env.engine.Progress(ctx, "i1", "tech-1")
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Len(t, env.stations(t, "i1"), 2)

	// Retry once the service is back.
	env.engine.specimens = env.store
	res, err := env.engine.Reject(ctx, rec.ID, nil, "clotted", "tech-1", nil)
	require.NoError(t, err)
	assert.Equal(t, status.StationRejected, res.Record.Status)

	item, err = env.store.GetItem(ctx, "i1")
	require.NoError(t, err)
	assert.False(t, item.HasActiveSpecimen())
}

func TestReject_UnknownReRouteSectionPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := startAt(t, env, 1)
	before := env.stations(t, "i1")

	_, err := env.engine.Reject(ctx, rec.ID, nil, "", "tech-1", intPtr(7))

	require.ErrorIs(t, err, ErrUnknownSection)
	assert.Equal(t, acceptance.KindPrecondition, acceptance.KindOf(err))
	assert.Equal(t, before, env.stations(t, "i1"))

	item, err := env.store.GetItem(ctx, "i1")
	require.NoError(t, err)
	assert.True(t, item.HasActiveSpecimen())
}

func TestReject_DoesNotRequireRequiredParameters(t *testing.T) {
	env := newTestEnv(t)
	rec := startAt(t, env, 1)

	_, err := env.engine.Reject(context.Background(), rec.ID, nil, "", "tech-1", intPtr(1))

	require.NoError(t, err)
}

func TestReject_StillValidatesTypes(t *testing.T) {
	env := newTestEnv(t)
	rec := startAt(t, env, 1)

	_, err := env.engine.Reject(context.Background(), rec.ID, map[string]string{"wbc": "n/a"}, "", "tech-1", nil)

	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestTransitions_TriggerRollup(t *testing.T) {
	env := newTestEnv(t)
	rec := startAt(t, env, 2)
	before := env.rollup.Count("o1")

	_, err := env.engine.Complete(context.Background(), rec.ID, nil, "", "tech-1")
	require.NoError(t, err)
	assert.Equal(t, before+1, env.rollup.Count("o1"))

	_, err = env.engine.Complete(context.Background(), rec.ID, nil, "", "tech-1")
	require.Error(t, err)
	assert.Equal(t, before+1, env.rollup.Count("o1"))
}

func TestTransitions_RollupFailureIsLogged(t *testing.T) {
	env := newTestEnv(t)
	env.rollup.err = errors.New("store offline")
	rec := startAt(t, env, 2)

	_, err := env.engine.Complete(context.Background(), rec.ID, nil, "", "tech-1")

	assert.NoError(t, err)
}

func TestMergeParameters(t *testing.T) {
	base := map[string]string{"a": "1", "b": "2"}

	got := mergeParameters(base, map[string]string{"b": "3", "c": "4"})

	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, got)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, base)
	assert.Equal(t, map[string]string{"x": "y"}, mergeParameters(nil, map[string]string{"x": "y"}))
}
