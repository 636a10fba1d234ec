package h02

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleettrack/internal/core/model"
	"fleettrack/internal/protocol/nmea"
)

// H02 text frame:
//
//	*HQ,865205030000000,V1,123456,A,2237.7514,N,11408.6214,E,0.00,000,151022,FFFFFBFF#
const (
	startSequence = "*HQ"
	endByte       = '#'

	infoReport  = "V1"
	replyReport = "V4"
)

const (
	idxIMEI = iota + 1
	idxType
	idxTime
	idxValidity
	idxLat
	idxLatHemi
	idxLng
	idxLngHemi
	idxSpeed
	idxCourse
	idxDate
	idxStatus
)

var (
	ErrInvalidHeader      = errors.New("invalid H02 protocol header")
	ErrInvalidFormat      = errors.New("invalid H02 data format")
	ErrInvalidMessageType = errors.New("unsupported H02 message type")
)

type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) Name() string { return "h02" }

func (d *Decoder) Match(raw []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(raw), []byte(startSequence))
}

// Decode handles V1 position reports and V4 command replies, which carry the same
// position block after the echoed command code.
func (d *Decoder) Decode(raw []byte) (map[string]string, error) {
	text := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(text, startSequence) {
		return nil, fmt.Errorf("%w: %w", model.ErrUnsupportedEncoding, ErrInvalidHeader)
	}
	text = strings.TrimRight(text, string(endByte))

	parts := strings.Split(text, ",")
	if len(parts) <= idxType {
		return nil, fmt.Errorf("%w: %w", model.ErrMalformedReport, ErrInvalidFormat)
	}

	fields := map[string]string{"imei": strings.TrimSpace(parts[idxIMEI])}
	switch msgType := strings.TrimSpace(parts[idxType]); msgType {
	case infoReport:
	case replyReport:
		// *HQ,imei,V4,<cmd>,<cmd time>,<position block as in V1 from idxTime>...
		if len(parts) < 5 {
			return nil, fmt.Errorf("%w: %w", model.ErrMalformedReport, ErrInvalidFormat)
		}
		fields["ack"] = strings.TrimSpace(parts[3])
		parts = append(parts[:idxTime], parts[5:]...)
	default:
		return nil, fmt.Errorf("%w: %w: %s", model.ErrUnsupportedEncoding, ErrInvalidMessageType, msgType)
	}

	if len(parts) <= idxDate {
		return nil, fmt.Errorf("%w: %w", model.ErrMalformedReport, ErrInvalidFormat)
	}
	if strings.TrimSpace(parts[idxValidity]) != "A" {
		// No GPS fix: the report has no usable position.
		return fields, nil
	}

	lat, err := nmea.ParseCoordinate(parts[idxLat], parts[idxLatHemi])
	if err != nil {
		return nil, fmt.Errorf("%w: h02 latitude %q: %v", model.ErrMalformedReport, parts[idxLat], err)
	}
	lng, err := nmea.ParseCoordinate(parts[idxLng], parts[idxLngHemi])
	if err != nil {
		return nil, fmt.Errorf("%w: h02 longitude %q: %v", model.ErrMalformedReport, parts[idxLng], err)
	}
	fields["lat"] = nmea.FormatFloat(lat)
	fields["lng"] = nmea.FormatFloat(lng)

	if s := nmea.KnotsField(parts[idxSpeed]); s != "" {
		fields["speed"] = s
	}
	if ts, err := time.Parse("020106150405", strings.TrimSpace(parts[idxDate])+strings.TrimSpace(parts[idxTime])); err == nil {
		fields["timestamp"] = ts.UTC().Format(time.RFC3339)
	}
	if len(parts) > idxStatus {
		fields["status"] = strings.TrimSpace(parts[idxStatus])
	}
	return fields, nil
}
