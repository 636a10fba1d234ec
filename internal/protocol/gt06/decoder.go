package gt06

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Packet struct {
	Protocol byte
	Serial   uint16
	// IMEI is only present in login packets.
	IMEI string
	// Location is set for location and alarm packets.
	Location *Location
	// Reply is the text of a command reply packet and ReplyFlag the server
	// flag echoed from the command it answers.
	Reply     string
	ReplyFlag uint32
}

type Location struct {
	Time       time.Time
	Latitude   float64
	Longitude  float64
	SpeedKph   float64
	Course     float64
	Satellites int
	GPSValid   bool
}

// Split extracts complete frames from a stream buffer and returns the unconsumed tail.
// Bytes before a start marker are discarded.
func Split(buf []byte) (frames [][]byte, rest []byte) {
	for {
		start := bytes.Index(buf, []byte{StartByte1, StartByte2})
		if start < 0 {
			if len(buf) > 0 && buf[len(buf)-1] == StartByte1 {
				return frames, buf[len(buf)-1:]
			}
			return frames, nil
		}
		buf = buf[start:]
		if len(buf) < 3 {
			return frames, buf
		}
		total := int(buf[2]) + 5
		if len(buf) < total {
			return frames, buf
		}
		frames = append(frames, buf[:total])
		buf = buf[total:]
	}
}

// Decode validates framing and checksum and decodes the packet body.
func Decode(data []byte) (*Packet, error) {
	if len(data) < minFrameLength {
		return nil, fmt.Errorf("%w: got %d bytes", ErrPacketTooShort, len(data))
	}
	if data[0] != StartByte1 || data[1] != StartByte2 {
		return nil, fmt.Errorf("%w: got 0x%02x%02x", ErrInvalidHeader, data[0], data[1])
	}
	if int(data[2])+5 != len(data) {
		return nil, fmt.Errorf("%w: declared %d, frame %d", ErrInvalidLength, data[2], len(data))
	}
	if data[len(data)-2] != EndByte1 || data[len(data)-1] != EndByte2 {
		return nil, fmt.Errorf("%w: invalid end bytes", ErrMalformedPacket)
	}

	crcPos := len(data) - 4
	calc := Checksum(data[2:crcPos])
	recv := binary.BigEndian.Uint16(data[crcPos:])
	if calc != recv {
		return nil, fmt.Errorf("%w: calc=0x%04x, recv=0x%04x", ErrInvalidChecksum, calc, recv)
	}

	pkt := &Packet{
		Protocol: data[3],
		Serial:   binary.BigEndian.Uint16(data[crcPos-2 : crcPos]),
	}
	body := data[4 : crcPos-2]

	var err error
	switch pkt.Protocol {
	case LoginMsg:
		pkt.IMEI, err = decodeIMEI(body)
	case LocationMsg, LocationMsgV2, AlarmMsg:
		pkt.Location, err = decodeLocation(body)
	case StringReplyMsg:
		pkt.ReplyFlag, pkt.Reply, err = decodeReply(body)
	case HeartbeatMsg:
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidMessageType, pkt.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s message: %w", MessageName(pkt.Protocol), err)
	}
	return pkt, nil
}

// decodeIMEI reads the 8-byte BCD terminal id and drops the leading pad digit.
func decodeIMEI(body []byte) (string, error) {
	if len(body) < 8 {
		return "", fmt.Errorf("%w: login body %d bytes", ErrMalformedPacket, len(body))
	}
	var sb strings.Builder
	for _, b := range body[:8] {
		hi, lo := b>>4, b&0x0F
		if hi > 9 || lo > 9 {
			return "", fmt.Errorf("%w: terminal id is not BCD", ErrMalformedPacket)
		}
		sb.WriteByte('0' + hi)
		sb.WriteByte('0' + lo)
	}
	return strings.TrimPrefix(sb.String(), "0"), nil
}

func decodeLocation(body []byte) (*Location, error) {
	// datetime(6) + gps info(1) + lat(4) + lng(4) + speed(1) + course/status(2)
	if len(body) < 18 {
		return nil, fmt.Errorf("%w: location body %d bytes", ErrMalformedPacket, len(body))
	}
	year, month, day := int(body[0]), int(body[1]), int(body[2])
	hour, minute, second := int(body[3]), int(body[4]), int(body[5])
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return nil, fmt.Errorf("%w: invalid timestamp values", ErrMalformedPacket)
	}

	loc := &Location{
		Time:       time.Date(2000+year, time.Month(month), day, hour, minute, second, 0, time.UTC),
		Satellites: int(body[6] & 0x0F),
		Latitude:   float64(binary.BigEndian.Uint32(body[7:11])) / 1800000.0,
		Longitude:  float64(binary.BigEndian.Uint32(body[11:15])) / 1800000.0,
		SpeedKph:   float64(body[15]),
	}

	flags := binary.BigEndian.Uint16(body[16:18])
	loc.Course = float64(flags & 0x03FF)
	loc.GPSValid = flags&flagFixed != 0
	if flags&flagNorth == 0 {
		loc.Latitude = -loc.Latitude
	}
	if flags&flagWest != 0 {
		loc.Longitude = -loc.Longitude
	}
	return loc, nil
}

// decodeReply reads: length(1) + server flag(4) + text.
func decodeReply(body []byte) (uint32, string, error) {
	if len(body) < 5 {
		return 0, "", fmt.Errorf("%w: reply body %d bytes", ErrMalformedPacket, len(body))
	}
	n := int(body[0])
	if n < 4 || len(body) < 1+n {
		return 0, "", fmt.Errorf("%w: reply length %d", ErrMalformedPacket, n)
	}
	return binary.BigEndian.Uint32(body[1:5]), string(body[5 : 1+n]), nil
}

// Fields renders the location as canonical report fields for the given session imei.
// Locations without a GPS fix carry no coordinates.
func (l *Location) Fields(imei string) map[string]string {
	fields := map[string]string{"imei": imei}
	if !l.GPSValid {
		return fields
	}
	fields["lat"] = strconv.FormatFloat(l.Latitude, 'f', -1, 64)
	fields["lng"] = strconv.FormatFloat(l.Longitude, 'f', -1, 64)
	fields["speed"] = strconv.FormatFloat(l.SpeedKph, 'f', -1, 64)
	fields["timestamp"] = l.Time.Format(time.RFC3339)
	return fields
}
