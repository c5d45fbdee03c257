package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/acceptance"
	"labflow/internal/status"
)

func TestEnterSample_StartsEveryWaitingRecordOfSharedSpecimen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, id := range []string{"i1", "i2"} {
		rec, err := env.engine.Progress(ctx, id, "")
		require.NoError(t, err)
		require.NotNil(t, rec)
		require.Equal(t, status.StationWaiting, rec.Status)
	}

	started, err := env.engine.EnterSample(ctx, "BC-1", "", "tech-9")

	require.NoError(t, err)
	require.Len(t, started, 2)
	assert.Equal(t, "i1", started[0].ItemID)
	assert.Equal(t, "i2", started[1].ItemID)
	for _, rec := range started {
		assert.Equal(t, status.StationProcessing, rec.Status)
		assert.Equal(t, "tech-9", rec.StartedBy)
		assert.NotNil(t, rec.StartedAt)
	}
	assert.Equal(t, 3, env.rollup.Count("o1"))

	timeline, err := env.store.ListTimeline(ctx, "i2")
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, "Specimen BC-1 received at Reception by tech-9", timeline[1].Message)
}

func TestEnterSample_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.engine.Progress(ctx, "i1", "")
	require.NoError(t, err)

	_, err = env.engine.EnterSample(ctx, "BC-404", "", "tech-1")
	require.ErrorIs(t, err, ErrBarcodeNotFound)
	assert.Equal(t, acceptance.KindNotFound, acceptance.KindOf(err))

	_, err = env.engine.EnterSample(ctx, "BC-1", "", "tech-1")
	require.NoError(t, err)

	_, err = env.engine.EnterSample(ctx, "BC-1", "", "tech-1")
	require.ErrorIs(t, err, ErrNotWaiting)
	assert.Equal(t, acceptance.KindNotWaiting, acceptance.KindOf(err))

	assert.Equal(t, []string{"progress:advanced", "enter_sample:failed", "enter_sample:entered", "enter_sample:failed"}, env.recorder.Calls())
}

func TestEnterSample_SectionFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.engine.Progress(ctx, "i1", "")
	require.NoError(t, err)

	_, err = env.engine.EnterSample(ctx, "BC-1", "hematology", "tech-1")
	require.ErrorIs(t, err, ErrNotWaiting)
	assert.Equal(t, acceptance.KindNotWaiting, acceptance.KindOf(err))
	assert.Contains(t, err.Error(), "BC-1 at hematology")

	_, err = env.engine.EnterSample(ctx, "BC-404", "hematology", "tech-1")
	assert.ErrorIs(t, err, ErrBarcodeNotFound)

	started, err := env.engine.EnterSample(ctx, "BC-1", "reception", "tech-1")
	require.NoError(t, err)
	assert.Len(t, started, 1)
}

func TestEnterSample_DeactivatedSpecimenNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.engine.Progress(ctx, "i1", "")
	require.NoError(t, err)
	require.NoError(t, env.store.DeactivateSpecimen(ctx, "i1", "sp1"))

	_, err = env.engine.EnterSample(ctx, "BC-1", "", "tech-1")

	assert.ErrorIs(t, err, ErrBarcodeNotFound)
}

func TestEnterSample_ThenProgressFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.engine.Progress(ctx, "i1", "")
	require.NoError(t, err)

	started, err := env.engine.EnterSample(ctx, "BC-1", "", "tech-1")
	require.NoError(t, err)
	require.Len(t, started, 1)

	res, err := env.engine.Complete(ctx, started[0].ID, map[string]string{"volume_ml": "3"}, "", "tech-1")
	require.NoError(t, err)
	require.NotNil(t, res.Next)
	assert.Equal(t, "hematology", res.Next.SectionID)
	assert.Equal(t, status.StationProcessing, res.Next.Status)
}
