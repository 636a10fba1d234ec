package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"fleettrack/internal/core/model"
)

func TestWriteHistory(t *testing.T) {
	vehicle := &model.Vehicle{ID: "v1", Name: "Truck 7", Plate: "ABC-123", IMEI: "358723000000010"}
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := []*model.HistoryEntry{
		{Timestamp: ts, ReceivedAt: ts.Add(time.Second), Position: model.Position{Lat: -22.4841, Lng: -42.9645}, SpeedKph: 88, Source: "json"},
		{Timestamp: ts.Add(-5 * time.Second), ReceivedAt: ts.Add(2 * time.Second), Position: model.Position{Lat: 1, Lng: 2}, Source: "h02", Stale: true},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteHistory(&buf, vehicle, entries))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{historySheet}, f.GetSheetList())
	rows, err := f.GetRows(historySheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Timestamp (UTC)", rows[0][0])
	assert.Equal(t, "2024-05-01 12:00:00", rows[1][0])
	assert.Equal(t, "-22.4841", rows[1][2])
	assert.Equal(t, "88", rows[1][4])
	assert.Equal(t, "TRUE", rows[2][7])

	props, err := f.GetDocProps()
	require.NoError(t, err)
	assert.Equal(t, "358723000000010", props.Subject)
}

func TestWriteHistoryEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHistory(&buf, &model.Vehicle{Name: "x"}, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(historySheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
