package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleettrack/internal/core/model"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestParser() *Parser {
	return NewParser(WithClock(func() time.Time { return fixedNow }))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		hint      Shape
		wantIMEI  string
		wantLat   float64
		wantLng   float64
		wantSpeed float64
		wantTime  time.Time
		source    Shape
	}{
		{
			name:     "json body",
			raw:      `{"imei":"358723000000010","lat":-1.2921,"lng":36.8219,"speed":42.5,"timestamp":"2024-05-01T11:59:00Z"}`,
			wantIMEI: "358723000000010", wantLat: -1.2921, wantLng: 36.8219, wantSpeed: 42.5,
			wantTime: time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC),
			source:   ShapeJSON,
		},
		{
			name:     "json nested position with lon alias",
			raw:      `{"deviceId":"358723000000010","position":{"latitude":10,"lon":20}}`,
			wantIMEI: "358723000000010", wantLat: 10, wantLng: 20,
			wantTime: fixedNow,
			source:   ShapeJSON,
		},
		{
			name:     "query string",
			raw:      "imei=358723000000010&lat=1.5&lon=2.5&speed=10&timestamp=1714564740",
			wantIMEI: "358723000000010", wantLat: 1.5, wantLng: 2.5, wantSpeed: 10,
			wantTime: time.Unix(1714564740, 0).UTC(),
			source:   ShapeQuery,
		},
		{
			name:     "unix milliseconds",
			raw:      "imei=1&lat=0&lng=0&timestamp=1714564740500",
			wantIMEI: "1",
			wantTime: time.UnixMilli(1714564740500).UTC(),
			source:   ShapeQuery,
		},
		{
			name:     "h02 text",
			raw:      "*HQ,865205030000000,V1,123456,A,2237.7514,N,11408.6214,E,6,2,151022,FFFFFBFF#",
			wantIMEI: "865205030000000", wantLat: 22.62919, wantLng: 114.14369, wantSpeed: 6 * 1.852,
			wantTime: time.Date(2022, 10, 15, 12, 34, 56, 0, time.UTC),
			source:   ShapeH02,
		},
		{
			name:     "explicit hint",
			raw:      `{"imei":"7","lat":"1","lng":"1"}`,
			hint:     ShapeJSON,
			wantIMEI: "7", wantLat: 1, wantLng: 1,
			wantTime: fixedNow,
			source:   ShapeJSON,
		},
	}

	p := newTestParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := p.Parse([]byte(tt.raw), tt.hint)
			require.NoError(t, err)

			assert.Equal(t, tt.wantIMEI, report.IMEI)
			assert.InDelta(t, tt.wantLat, report.Position.Lat, 1e-4)
			assert.InDelta(t, tt.wantLng, report.Position.Lng, 1e-4)
			assert.InDelta(t, tt.wantSpeed, report.SpeedKph, 1e-3)
			assert.True(t, tt.wantTime.Equal(report.Timestamp), "timestamp %s", report.Timestamp)
			assert.Equal(t, fixedNow, report.ReceivedAt)
			assert.Equal(t, string(tt.source), report.Source)
			assert.Equal(t, tt.raw, string(report.Raw))
		})
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		hint    Shape
		wantErr error
	}{
		{"empty payload", "   ", "", model.ErrUnsupportedEncoding},
		{"unknown shape", "hello world", "", model.ErrUnsupportedEncoding},
		{"unknown hint", `{"imei":"1"}`, Shape("xml"), model.ErrUnsupportedEncoding},
		{"broken json", `{"imei":`, "", model.ErrUnsupportedEncoding},
		{"missing imei", `{"lat":1,"lng":2}`, "", model.ErrMalformedReport},
		{"missing latitude", `{"imei":"1","lng":2}`, "", model.ErrMalformedReport},
		{"missing longitude", `{"imei":"1","lat":2}`, "", model.ErrMalformedReport},
		{"non numeric latitude", `{"imei":"1","lat":"north","lng":2}`, "", model.ErrMalformedReport},
		{"latitude out of range", `{"imei":"1","lat":91,"lng":2}`, "", model.ErrMalformedReport},
		{"longitude out of range", "imei=1&lat=0&lon=-180.5", "", model.ErrMalformedReport},
		{"lng and lon disagree", "imei=1&lat=0&lng=10&lon=11", "", model.ErrMalformedReport},
		{"bad timestamp", `{"imei":"1","lat":1,"lng":1,"timestamp":"yesterday"}`, "", model.ErrMalformedReport},
		{"timestamp too far ahead", `{"imei":"1","lat":1,"lng":1,"timestamp":"2024-05-01T13:00:00Z"}`, "", model.ErrMalformedReport},
		{"epoch overflows int64", `{"imei":"1","lat":1,"lng":1,"timestamp":"1e20"}`, "", model.ErrMalformedReport},
		{"epoch far beyond int64", `{"imei":"1","lat":1,"lng":1,"timestamp":"1e300"}`, "", model.ErrMalformedReport},
		{"twenty digit epoch", `{"imei":"1","lat":1,"lng":1,"timestamp":"99999999999999999999"}`, "", model.ErrMalformedReport},
		{"tk303 heartbeat has no fix", "##,imei:359586015829802,A;", "", model.ErrMalformedReport},
	}

	p := newTestParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := p.Parse([]byte(tt.raw), tt.hint)
			assert.Nil(t, report)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseTimestampBounds(t *testing.T) {
	p := NewParser(WithClock(func() time.Time { return fixedNow }), WithMaxFutureSkew(0))

	_, err := p.Parse([]byte(`{"imei":"1","lat":1,"lng":1,"timestamp":"253402300800000"}`), "")
	assert.ErrorIs(t, err, model.ErrMalformedReport)

	report, err := p.Parse([]byte(`{"imei":"1","lat":1,"lng":1,"timestamp":"253402300799999"}`), "")
	require.NoError(t, err)
	assert.Equal(t, 9999, report.Timestamp.Year())

	report, err = p.Parse([]byte(`{"imei":"1","lat":1,"lng":1,"timestamp":"99999999999"}`), "")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(99999999999, 0).UTC(), report.Timestamp)
}

func TestNormalizeDefaults(t *testing.T) {
	p := newTestParser()

	t.Run("speed defaults to zero", func(t *testing.T) {
		for _, v := range []string{"", "fast", "-3"} {
			report, err := p.Normalize(Fields{"imei": "1", "lat": "0", "lng": "0", "speed": v}, nil, ShapeQuery, fixedNow)
			require.NoError(t, err)
			assert.Zero(t, report.SpeedKph, "speed %q", v)
		}
	})

	t.Run("agreeing lng and lon are accepted", func(t *testing.T) {
		report, err := p.Normalize(Fields{"imei": "1", "lat": "0", "lng": "5.5", "lon": "5.50"}, nil, ShapeQuery, fixedNow)
		require.NoError(t, err)
		assert.Equal(t, 5.5, report.Position.Lng)
	})

	t.Run("zero receive time uses the clock", func(t *testing.T) {
		report, err := p.Normalize(Fields{"imei": "1", "lat": "0", "lng": "0"}, nil, ShapeGT06, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, fixedNow, report.ReceivedAt)
		assert.Equal(t, fixedNow, report.Timestamp)
	})

	t.Run("command id and address pass through", func(t *testing.T) {
		report, err := p.Normalize(Fields{"imei": "1", "lat": "0", "lng": "0", "ack": "cmd-1", "address": " Main St "}, nil, ShapeH02, fixedNow)
		require.NoError(t, err)
		assert.Equal(t, "cmd-1", report.CommandID)
		assert.Equal(t, "Main St", report.Address)
	})

	t.Run("future skew check can be disabled", func(t *testing.T) {
		lax := NewParser(WithClock(func() time.Time { return fixedNow }), WithMaxFutureSkew(0))
		report, err := lax.Normalize(Fields{"imei": "1", "lat": "0", "lng": "0", "timestamp": "2030-01-01 00:00:00"}, nil, ShapeQuery, fixedNow)
		require.NoError(t, err)
		assert.Equal(t, 2030, report.Timestamp.Year())
	})
}

func TestParseCopiesRaw(t *testing.T) {
	raw := []byte(`{"imei":"1","lat":1,"lng":1}`)
	report, err := newTestParser().Parse(raw, "")
	require.NoError(t, err)

	raw[2] = 'X'
	assert.Equal(t, `{"imei":"1","lat":1,"lng":1}`, string(report.Raw))
}
