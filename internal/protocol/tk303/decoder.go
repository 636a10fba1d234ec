// Package tk303 decodes the comma-separated text sent by TK303/TK103 family trackers:
//
//	imei:359586015829802,tracker,0809231929,13554900601,F,112909.397,A,2234.4669,N,11354.3287,E,0.11,;
package tk303

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"fleettrack/internal/core/model"
	"fleettrack/internal/protocol/nmea"
)

const prefix = "imei:"

// Field positions after splitting on ','.
const (
	idxIMEI = iota
	idxKeyword
	idxLocalTime
	idxPhone
	idxFix
	idxUTCTime
	idxValidity
	idxLat
	idxLatHemi
	idxLng
	idxLngHemi
	idxSpeed
	idxCourse
)

type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) Name() string { return "tk303" }

func (d *Decoder) Match(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	trimmed = bytes.TrimPrefix(trimmed, []byte("##,"))
	return len(trimmed) >= len(prefix) && strings.EqualFold(string(trimmed[:len(prefix)]), prefix)
}

// Decode returns only the imei for heartbeats and fixes without GPS ("L" or "V"),
// which the canonical parser then rejects for missing coordinates.
func (d *Decoder) Decode(raw []byte) (map[string]string, error) {
	text := strings.TrimSpace(string(raw))
	text = strings.TrimPrefix(text, "##,")
	text = strings.TrimRight(text, ";")
	parts := strings.Split(text, ",")

	imei := strings.TrimSpace(parts[idxIMEI])
	if len(imei) < len(prefix) || !strings.EqualFold(imei[:len(prefix)], prefix) {
		return nil, fmt.Errorf("%w: tk303 payload without imei prefix", model.ErrUnsupportedEncoding)
	}
	fields := map[string]string{"imei": strings.TrimSpace(imei[len(prefix):])}

	if len(parts) <= idxSpeed {
		return fields, nil
	}
	fields["event"] = strings.TrimSpace(parts[idxKeyword])
	if !strings.EqualFold(parts[idxFix], "F") || !strings.EqualFold(parts[idxValidity], "A") {
		return fields, nil
	}

	lat, err := nmea.ParseCoordinate(parts[idxLat], parts[idxLatHemi])
	if err != nil {
		return nil, fmt.Errorf("%w: tk303 latitude %q: %v", model.ErrMalformedReport, parts[idxLat], err)
	}
	lng, err := nmea.ParseCoordinate(parts[idxLng], parts[idxLngHemi])
	if err != nil {
		return nil, fmt.Errorf("%w: tk303 longitude %q: %v", model.ErrMalformedReport, parts[idxLng], err)
	}
	fields["lat"] = nmea.FormatFloat(lat)
	fields["lng"] = nmea.FormatFloat(lng)
	if s := nmea.KnotsField(parts[idxSpeed]); s != "" {
		fields["speed"] = s
	}
	if ts, ok := fixTime(parts[idxLocalTime], parts[idxUTCTime]); ok {
		fields["timestamp"] = ts.Format(time.RFC3339Nano)
	}
	return fields, nil
}

// fixTime combines the UTC hhmmss.sss field with a date taken from the local
// yyMMddHHmm field. The local clock can be a day ahead of or behind UTC, so the
// UTC date is the one that puts the UTC time nearest to the local time.
func fixTime(local, utc string) (time.Time, bool) {
	local = strings.TrimSpace(local)
	utc = strings.TrimSpace(utc)
	if len(local) < 6 || len(utc) < 6 {
		return time.Time{}, false
	}
	withClock := len(local) >= 10
	var localTime time.Time
	var err error
	if withClock {
		localTime, err = time.Parse("0601021504", local[:10])
	} else {
		localTime, err = time.Parse("060102", local[:6])
	}
	if err != nil {
		return time.Time{}, false
	}
	clock, err := time.Parse("150405", utc[:6])
	if err != nil {
		return time.Time{}, false
	}
	var frac time.Duration
	if len(utc) > 7 && utc[6] == '.' {
		if f, err := time.ParseDuration("0." + utc[7:] + "s"); err == nil {
			frac = f
		}
	}

	ts := time.Date(localTime.Year(), localTime.Month(), localTime.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), int(frac), time.UTC)
	if !withClock {
		return ts, true
	}
	best := ts
	for _, days := range []int{-1, 1} {
		candidate := ts.AddDate(0, 0, days)
		if absDuration(candidate.Sub(localTime)) < absDuration(best.Sub(localTime)) {
			best = candidate
		}
	}
	return best, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
