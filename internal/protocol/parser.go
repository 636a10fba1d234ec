// Package protocol turns raw device payloads into canonical location reports.
//
// Every transport variant is an adapter that flattens its payload into Fields.
// Normalize is the single place where fields are validated and defaulted.
package protocol

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"fleettrack/internal/core/model"
	"fleettrack/internal/protocol/h02"
	"fleettrack/internal/protocol/jsonbody"
	"fleettrack/internal/protocol/query"
	"fleettrack/internal/protocol/tk303"
)

type Shape string

const (
	ShapeJSON  Shape = "json"
	ShapeQuery Shape = "query"
	ShapeTK303 Shape = "tk303"
	ShapeH02   Shape = "h02"
	ShapeGT06  Shape = "gt06"
)

// Fields is a flat, lower-cased key/value view of one report.
type Fields = map[string]string

// Decoder is implemented by each payload adapter.
type Decoder interface {
	Name() string
	Match(raw []byte) bool
	Decode(raw []byte) (map[string]string, error)
}

var (
	imeiKeys      = []string{"imei", "deviceid", "device_id", "uniqueid"}
	speedKeys     = []string{"speed", "speedkph", "speed_kph"}
	timestampKeys = []string{"timestamp", "time", "fixtime"}
	commandKeys   = []string{"commandid", "command_id", "ack"}
)

const DefaultMaxFutureSkew = 10 * time.Minute

type Parser struct {
	decoders      []Decoder
	now           func() time.Time
	maxFutureSkew time.Duration
}

type Option func(*Parser)

// WithClock overrides the receive-time source.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// WithMaxFutureSkew bounds how far ahead of the receive time a device clock may be.
// Zero disables the check.
func WithMaxFutureSkew(d time.Duration) Option {
	return func(p *Parser) { p.maxFutureSkew = d }
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{
		// Order matters when sniffing: the text protocols have fixed prefixes,
		// query strings are the loosest match.
		decoders: []Decoder{
			tk303.NewDecoder(),
			h02.NewDecoder(),
			jsonbody.NewDecoder(),
			query.NewDecoder(),
		},
		now:           time.Now,
		maxFutureSkew: DefaultMaxFutureSkew,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse decodes raw using the decoder named by hint, or sniffs the shape when hint is empty.
func (p *Parser) Parse(raw []byte, hint Shape) (*model.LocationReport, error) {
	receivedAt := p.now().UTC()
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", model.ErrUnsupportedEncoding)
	}

	dec, err := p.pick(raw, hint)
	if err != nil {
		return nil, err
	}

	fields, err := dec.Decode(raw)
	if err != nil {
		return nil, err
	}
	return p.Normalize(fields, raw, Shape(dec.Name()), receivedAt)
}

func (p *Parser) pick(raw []byte, hint Shape) (Decoder, error) {
	if hint != "" {
		for _, d := range p.decoders {
			if d.Name() == string(hint) {
				return d, nil
			}
		}
		return nil, fmt.Errorf("%w: no decoder for %q", model.ErrUnsupportedEncoding, hint)
	}
	for _, d := range p.decoders {
		if d.Match(raw) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: payload matches no known shape", model.ErrUnsupportedEncoding)
}

// Normalize validates decoded fields and builds the canonical report. raw is kept verbatim.
func (p *Parser) Normalize(fields Fields, raw []byte, source Shape, receivedAt time.Time) (*model.LocationReport, error) {
	if receivedAt.IsZero() {
		receivedAt = p.now().UTC()
	}

	imei := strings.TrimSpace(lookup(fields, imeiKeys...))
	if imei == "" {
		return nil, fmt.Errorf("%w: imei is required", model.ErrMalformedReport)
	}

	lat, err := coordinate(fields, "lat", "latitude")
	if err != nil {
		return nil, err
	}
	lng, err := longitude(fields)
	if err != nil {
		return nil, err
	}
	pos := model.Position{Lat: lat, Lng: lng}
	if !pos.Valid() {
		return nil, fmt.Errorf("%w: coordinates out of range (%f, %f)", model.ErrMalformedReport, lat, lng)
	}

	ts := receivedAt
	if v := strings.TrimSpace(lookup(fields, timestampKeys...)); v != "" {
		ts, err = parseTimestamp(v)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp %q: %v", model.ErrMalformedReport, v, err)
		}
		if p.maxFutureSkew > 0 && ts.Sub(receivedAt) > p.maxFutureSkew {
			return nil, fmt.Errorf("%w: timestamp %s is ahead of server time", model.ErrMalformedReport, ts.Format(time.RFC3339))
		}
	}

	cp := make([]byte, len(raw))
	copy(cp, raw)

	return &model.LocationReport{
		IMEI:       imei,
		Position:   pos,
		SpeedKph:   speed(lookup(fields, speedKeys...)),
		Address:    strings.TrimSpace(fields["address"]),
		Timestamp:  ts.UTC(),
		ReceivedAt: receivedAt.UTC(),
		Source:     string(source),
		CommandID:  strings.TrimSpace(lookup(fields, commandKeys...)),
		Raw:        cp,
	}, nil
}

func lookup(fields Fields, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k]; ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func coordinate(fields Fields, keys ...string) (float64, error) {
	v := strings.TrimSpace(lookup(fields, keys...))
	if v == "" {
		return 0, fmt.Errorf("%w: %s is required", model.ErrMalformedReport, keys[0])
	}
	f, err := parseFloat(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not numeric", model.ErrMalformedReport, keys[0], v)
	}
	return f, nil
}

// longitude accepts both lng and lon. When a device sends both they must agree.
func longitude(fields Fields) (float64, error) {
	lngRaw := strings.TrimSpace(lookup(fields, "lng", "longitude"))
	lonRaw := strings.TrimSpace(fields["lon"])

	switch {
	case lngRaw == "" && lonRaw == "":
		return 0, fmt.Errorf("%w: lng or lon is required", model.ErrMalformedReport)
	case lonRaw == "":
		return coordinate(fields, "lng", "longitude")
	case lngRaw == "":
		return coordinate(fields, "lon")
	}

	lng, err := coordinate(fields, "lng", "longitude")
	if err != nil {
		return 0, err
	}
	lon, err := coordinate(fields, "lon")
	if err != nil {
		return 0, err
	}
	if lng != lon {
		return 0, fmt.Errorf("%w: lng %v and lon %v disagree", model.ErrMalformedReport, lng, lon)
	}
	return lng, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return f, nil
}

func speed(v string) float64 {
	if v == "" {
		return 0
	}
	f, err := parseFloat(v)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

// maxUnixMillis is 10000-01-01T00:00:00Z. Values of 1e11 and above are milliseconds.
const maxUnixMillis = 253402300800000

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp accepts RFC3339, a few common layouts (UTC) and unix seconds or milliseconds.
func parseTimestamp(v string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	f, err := parseFloat(v)
	if err != nil || f <= 0 {
		return time.Time{}, fmt.Errorf("unrecognized time format")
	}
	if f >= maxUnixMillis {
		return time.Time{}, fmt.Errorf("epoch value out of range")
	}
	if f >= 1e11 {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}
