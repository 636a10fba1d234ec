package tk303

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleettrack/internal/core/model"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    map[string]string
		wantErr error
	}{
		{
			name: "tracker fix",
			data: "imei:359586015829802,tracker,0809231929,13554900601,F,112909.397,A,2234.4669,N,11354.3287,E,0.00,;",
			want: map[string]string{
				"imei":      "359586015829802",
				"event":     "tracker",
				"speed":     "0",
				"timestamp": "2008-09-23T11:29:09.397Z",
			},
		},
		{
			name: "heartbeat",
			data: "##,imei:359586015829802,A;",
			want: map[string]string{"imei": "359586015829802"},
		},
		{
			name: "no gps fix",
			data: "imei:359586015829802,tracker,0809231929,13554900601,L,;",
			want: map[string]string{"imei": "359586015829802"},
		},
		{
			name:    "broken latitude",
			data:    "imei:359586015829802,tracker,0809231929,13554900601,F,112909.397,A,22x4.4669,N,11354.3287,E,0.11,;",
			wantErr: model.ErrMalformedReport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewDecoder().Decode([]byte(tt.data))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			for k, v := range tt.want {
				assert.Equal(t, v, got[k], "field %s", k)
			}
		})
	}
}

func TestDecodeCoordinates(t *testing.T) {
	got, err := NewDecoder().Decode([]byte("imei:358723000000010,tracker,2405011200,,F,120000.000,A,2229.0460,S,04257.8700,W,47.52,;"))
	require.NoError(t, err)

	assert.Equal(t, "358723000000010", got["imei"])
	assert.Contains(t, got["lat"], "-22.484")
	assert.Contains(t, got["lng"], "-42.964")

	ts, err := time.Parse(time.RFC3339Nano, got["timestamp"])
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), ts)
}

func TestFixTimeAcrossMidnight(t *testing.T) {
	tests := []struct {
		name  string
		local string
		utc   string
		want  time.Time
	}{
		{"same day", "0809231929", "112909.397", time.Date(2008, 9, 23, 11, 29, 9, 397000000, time.UTC)},
		{"local ahead of utc date", "2405020130", "173000.000", time.Date(2024, 5, 1, 17, 30, 0, 0, time.UTC)},
		{"local behind utc date", "2405012200", "030000.000", time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC)},
		{"date only", "240501", "235959", time.Date(2024, 5, 1, 23, 59, 59, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := fixTime(tt.local, tt.utc)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := fixTime("24x5012200", "030000")
	assert.False(t, ok)
}

func TestMatch(t *testing.T) {
	d := NewDecoder()
	assert.True(t, d.Match([]byte("imei:1234,tracker")))
	assert.True(t, d.Match([]byte("IMEI:1234,tracker")))
	assert.True(t, d.Match([]byte("##,imei:1234,A;")))
	assert.False(t, d.Match([]byte(`{"imei":"1234"}`)))
	assert.False(t, d.Match([]byte("imei=1234&lat=1")))
}
