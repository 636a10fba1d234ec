package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fleettrack/internal/core/model"
	"fleettrack/internal/core/repository"
)

func TestStateStoreOrdering(t *testing.T) {
	ctx := context.Background()
	r1 := report("1", 1, 1, 10, t0)
	r2 := report("1", 2, 2, 20, t0.Add(5*time.Second))

	t.Run("in order", func(t *testing.T) {
		env := newTestEnv(t, false)
		_, err := env.state.Apply(ctx, "v1", r1)
		require.NoError(t, err)
		st, err := env.state.Apply(ctx, "v1", r2)
		require.NoError(t, err)
		assert.Equal(t, r2.Timestamp, st.LastReportAt)
	})

	t.Run("out of order", func(t *testing.T) {
		env := newTestEnv(t, false)
		_, err := env.state.Apply(ctx, "v1", r2)
		require.NoError(t, err)

		_, err = env.state.Apply(ctx, "v1", r1)
		assert.ErrorIs(t, err, model.ErrStaleReport)

		st, err := env.state.Get(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, r2.Timestamp, st.LastReportAt)
		assert.Equal(t, model.Position{Lat: 2, Lng: 2}, st.Position)
		assert.Equal(t, 20.0, st.SpeedKph)
	})

	t.Run("equal timestamp is accepted", func(t *testing.T) {
		env := newTestEnv(t, false)
		_, err := env.state.Apply(ctx, "v1", r1)
		require.NoError(t, err)
		again := report("1", 3, 3, 0, t0)
		st, err := env.state.Apply(ctx, "v1", again)
		require.NoError(t, err)
		assert.Equal(t, model.Position{Lat: 3, Lng: 3}, st.Position)
	})
}

func TestStateStoreReconcilesOnRead(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	st, err := env.state.Get(ctx, "never")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, st.Status)

	st, err = env.state.Apply(ctx, "v1", report("1", 1, 1, 50, t0))
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnline, st.Status)

	env.clock.Advance(60 * time.Second)
	st, err = env.state.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnline, st.Status)

	env.clock.Advance(time.Second)
	st, err = env.state.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, st.Status, "no new report needed to go offline")

	stored, err := env.states.FindByVehicleID(ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, stored.Status, "status is never persisted")
}

func TestStateStoreConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	const writers = 100
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = env.state.Apply(ctx, "v1", report("1", float64(i%90), 0, float64(i), t0.Add(time.Duration(i)*time.Second)))
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := env.state.Get(ctx, "v1")
			if assert.NoError(t, err) && st.HasReported() {
				// Snapshots are whole: the speed always matches the report's timestamp.
				assert.Equal(t, st.LastReportAt.Sub(t0).Seconds(), st.SpeedKph)
			}
		}()
	}
	wg.Wait()

	st, err := env.state.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add((writers-1)*time.Second), st.LastReportAt)
	assert.Equal(t, float64(writers-1), st.SpeedKph)
}

func TestStateStoreLoadsFromRepository(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewInMemoryStateRepository()
	require.NoError(t, repo.Save(ctx, model.VehicleState{VehicleID: "v1", SpeedKph: 5, LastReportAt: t0}))

	clock := newFakeClock(t0)
	store := NewStateStore(repo, StateStoreConfig{Now: clock.Now}, zap.NewNop())

	st, err := store.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnline, st.Status)

	_, err = store.Apply(ctx, "v1", report("1", 0, 0, 0, t0.Add(-time.Second)))
	assert.ErrorIs(t, err, model.ErrStaleReport, "restart must not forget the last report time")
}

func TestStateStorePublishes(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	clock := newFakeClock(t0)
	store := NewStateStore(repository.NewInMemoryStateRepository(), StateStoreConfig{Now: clock.Now}, zap.NewNop(), pub)

	_, err := store.Apply(ctx, "v1", report("1", 1, 1, 0, t0))
	require.NoError(t, err)
	_, err = store.Apply(ctx, "v1", report("1", 1, 1, 0, t0.Add(-time.Minute)))
	require.Error(t, err)

	require.Len(t, pub.states, 1)
	assert.Equal(t, model.StatusStopped, pub.states[0].Status)
}

func TestStateStoreSummary(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	_, err := env.state.Apply(ctx, "moving", report("1", 1, 1, 30, t0))
	require.NoError(t, err)
	_, err = env.state.Apply(ctx, "parked", report("2", 1, 1, 0, t0))
	require.NoError(t, err)
	_, err = env.state.Apply(ctx, "gone", report("3", 1, 1, 30, t0.Add(-time.Hour)))
	require.NoError(t, err)

	sum, err := env.state.Summary(ctx, []string{"moving", "parked", "gone", "silent"})
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 1, sum.Online)
	assert.Equal(t, 1, sum.Stopped)
	assert.Equal(t, 2, sum.Offline)
}
