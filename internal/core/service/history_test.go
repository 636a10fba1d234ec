package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleettrack/internal/core/model"
)

func TestHistoryPagination(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	for i := 0; i < 7; i++ {
		_, err := env.history.Append(ctx, "v1", report("1", 1, 1, 0, t0.Add(time.Duration(i)*time.Minute)), false)
		require.NoError(t, err)
	}

	var got []time.Time
	q := HistoryQuery{VehicleID: "v1", Limit: 3}
	pages := 0
	for {
		page, err := env.history.Query(ctx, q)
		require.NoError(t, err)
		pages++
		for _, e := range page.Entries {
			got = append(got, e.Timestamp)
		}
		if page.NextCursor == "" {
			break
		}
		q.Cursor = page.NextCursor
	}

	assert.Equal(t, 3, pages)
	require.Len(t, got, 7)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].After(got[i-1]))
	}
}

func TestHistoryQueryRange(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	for i := 0; i < 5; i++ {
		_, err := env.history.Append(ctx, "v1", report("1", 1, 1, 0, t0.AddDate(0, 0, -i)), false)
		require.NoError(t, err)
	}

	page, err := env.history.Query(ctx, HistoryQuery{VehicleID: "v1", From: t0.AddDate(0, 0, -2), To: t0})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3)
	assert.Empty(t, page.NextCursor)

	empty, err := env.history.Query(ctx, HistoryQuery{VehicleID: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, empty.Entries)
	assert.Empty(t, empty.Entries)
}

func TestHistoryQueryValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	tests := []struct {
		name string
		q    HistoryQuery
	}{
		{"missing vehicle", HistoryQuery{}},
		{"inverted range", HistoryQuery{VehicleID: "v1", From: t0, To: t0.Add(-time.Hour)}},
		{"garbage cursor", HistoryQuery{VehicleID: "v1", Cursor: "!!!"}},
		{"cursor without id", HistoryQuery{VehicleID: "v1", Cursor: encodeCursor(t0, "")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.history.Query(ctx, tt.q)
			assert.ErrorIs(t, err, model.ErrInvalidQuery)
		})
	}
}

func TestHistoryCursorRoundTrip(t *testing.T) {
	ts := t0.Add(123 * time.Millisecond)
	c, err := decodeCursor(encodeCursor(ts, "entry-1"))
	require.NoError(t, err)
	assert.True(t, ts.Equal(c.Timestamp))
	assert.Equal(t, "entry-1", c.ID)
}

func TestHistoryLimitClamp(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	for i := 0; i < DefaultHistoryLimit+1; i++ {
		_, err := env.history.Append(ctx, "v1", report("1", 1, 1, 0, t0.Add(time.Duration(i)*time.Second)), false)
		require.NoError(t, err)
	}

	page, err := env.history.Query(ctx, HistoryQuery{VehicleID: "v1"})
	require.NoError(t, err)
	assert.Len(t, page.Entries, DefaultHistoryLimit)
	assert.NotEmpty(t, page.NextCursor)

	page, err = env.history.Query(ctx, HistoryQuery{VehicleID: "v1", Limit: MaxHistoryLimit * 2})
	require.NoError(t, err)
	assert.Len(t, page.Entries, DefaultHistoryLimit+1)
}

func TestHistoryPurge(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	_, err := env.history.Append(ctx, "v1", report("1", 1, 1, 0, t0.AddDate(0, 0, -100)), false)
	require.NoError(t, err)
	_, err = env.history.Append(ctx, "v1", report("1", 1, 1, 0, t0), false)
	require.NoError(t, err)

	n, err := env.history.Purge(ctx, t0.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := env.history.Count(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
