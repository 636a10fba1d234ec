package repository

import (
	"context"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"fleettrack/internal/core/model"
	"fleettrack/internal/core/repository/migrations"
)

func TestInMemoryVehicleRepositoryUniqueIMEI(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryVehicleRepository()

	first := model.NewVehicle("owner-1", "Truck", "abc-123", "358723000000010")
	require.NoError(t, repo.Create(ctx, first))

	second := model.NewVehicle("owner-2", "Van", "xyz-999", "358723000000010")
	assert.ErrorIs(t, repo.Create(ctx, second), model.ErrDuplicateDevice)

	first.SoftDelete(time.Now())
	require.NoError(t, repo.Update(ctx, first))
	assert.ErrorIs(t, repo.Create(ctx, second), model.ErrDuplicateDevice, "soft-deleted vehicles keep their imei")

	found, err := repo.FindByIMEI(ctx, "358723000000010")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, "ABC-123", found.Plate)

	missing, err := repo.FindByID(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInMemoryVehicleRepositoryRejectsIMEIChange(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryVehicleRepository()

	v := model.NewVehicle("owner-1", "Truck", "abc", "111")
	require.NoError(t, repo.Create(ctx, v))

	v.IMEI = "222"
	assert.ErrorIs(t, repo.Update(ctx, v), model.ErrInvalidVehicle)
}

func TestVehicleUpdateKeepsIMEI(t *testing.T) {
	stored := &model.Vehicle{ID: "v1", IMEI: "111"}

	assert.NoError(t, checkVehicleUpdate(stored, &model.Vehicle{ID: "v1", IMEI: "111", Name: "Renamed"}))
	assert.ErrorIs(t, checkVehicleUpdate(stored, &model.Vehicle{ID: "v1", IMEI: "222"}), model.ErrInvalidVehicle)
	assert.ErrorIs(t, checkVehicleUpdate(nil, &model.Vehicle{ID: "v1", IMEI: "111"}), model.ErrUnknownVehicle)

	assert.Equal(t, bson.M{"id": "v1", "imei": "111"}, vehicleUpdateFilter(stored))
}

func TestInMemoryStateRepositoryNeverRegresses(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryStateRepository()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, model.VehicleState{VehicleID: "v1", LastReportAt: t0, SpeedKph: 10}))
	err := repo.Save(ctx, model.VehicleState{VehicleID: "v1", LastReportAt: t0.Add(-time.Second), SpeedKph: 99})
	assert.ErrorIs(t, err, model.ErrStaleReport)

	state, err := repo.FindByVehicleID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, state.SpeedKph)
	assert.Equal(t, t0, state.LastReportAt)
}

func TestInMemoryHistoryRepositoryPagination(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryHistoryRepository()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Appended out of order; two entries share a timestamp.
	offsets := []int{3, 1, 2, 2, 0}
	for i, off := range offsets {
		entry := &model.HistoryEntry{
			ID:        string(rune('a' + i)),
			VehicleID: "v1",
			Timestamp: t0.Add(time.Duration(off) * time.Minute),
		}
		require.NoError(t, repo.Append(ctx, entry))
	}
	require.NoError(t, repo.Append(ctx, &model.HistoryEntry{ID: "z", VehicleID: "v2", Timestamp: t0}))

	var seen []string
	filter := HistoryFilter{VehicleID: "v1", Limit: 2}
	for {
		page, err := repo.Query(ctx, filter)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			seen = append(seen, e.ID)
		}
		last := page[len(page)-1]
		filter.After = &HistoryCursor{Timestamp: last.Timestamp, ID: last.ID}
	}
	assert.Equal(t, []string{"e", "b", "c", "d", "a"}, seen)

	ranged, err := repo.Query(ctx, HistoryFilter{VehicleID: "v1", From: t0.Add(time.Minute), To: t0.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, ranged, 3)

	count, err := repo.CountByVehicleID(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestInMemoryHistoryRepositoryDeleteBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryHistoryRepository()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, &model.HistoryEntry{ID: "old", VehicleID: "v1", Timestamp: now.AddDate(0, 0, -91)}))
	require.NoError(t, repo.Append(ctx, &model.HistoryEntry{ID: "new", VehicleID: "v1", Timestamp: now.AddDate(0, 0, -1)}))
	require.NoError(t, repo.Append(ctx, &model.HistoryEntry{ID: "gone", VehicleID: "v2", Timestamp: now.AddDate(-1, 0, 0)}))

	deleted, err := repo.DeleteBefore(ctx, now.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	left, err := repo.Query(ctx, HistoryFilter{VehicleID: "v1"})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].ID)
}

func TestInMemoryCommandRepositoryOutstanding(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryCommandRepository()
	now := time.Now()

	locate := model.NewCommand("v1", model.CommandLocate, nil, now, time.Minute)
	lock := model.NewCommand("v1", model.CommandLock, nil, now.Add(time.Second), time.Minute)
	require.NoError(t, repo.Create(ctx, locate))
	require.NoError(t, repo.Create(ctx, lock))

	lock.Status = model.CommandConfirmed
	require.NoError(t, repo.Update(ctx, lock))

	outstanding, err := repo.FindOutstanding(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, outstanding, 1)
	assert.Equal(t, locate.ID, outstanding[0].ID)

	all, err := repo.FindByVehicleID(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, lock.ID, all[0].ID)

	missing := model.NewCommand("v1", model.CommandReboot, nil, now, time.Minute)
	assert.ErrorIs(t, repo.Update(ctx, missing), model.ErrCommandNotFound)
}

func TestHistoryMigrationsStoreRawAsBytes(t *testing.T) {
	names, err := fs.Glob(migrations.FS, "*.up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"000001_location_history.up.sql",
		"000002_location_history_raw_bytea.up.sql",
	}, names)

	up, err := fs.ReadFile(migrations.FS, "000002_location_history_raw_bytea.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "TYPE BYTEA")

	down, err := fs.ReadFile(migrations.FS, "000002_location_history_raw_bytea.down.sql")
	require.NoError(t, err)
	assert.Contains(t, string(down), "TYPE TEXT")
}

func TestPgx5URL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/fleet", pgx5URL("postgres://u:p@db:5432/fleet"))
	assert.Equal(t, "pgx5://db/fleet", pgx5URL("postgresql://db/fleet"))
	assert.Equal(t, "pgx5://db/fleet", pgx5URL("pgx5://db/fleet"))
}
