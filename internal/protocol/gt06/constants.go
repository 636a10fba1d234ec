// Package gt06 implements the GT06 binary tracker protocol used over raw TCP.
package gt06

import "errors"

// Frame markers
const (
	StartByte1 = 0x78
	StartByte2 = 0x78
	EndByte1   = 0x0D
	EndByte2   = 0x0A
)

// Protocol numbers
const (
	LoginMsg       = 0x01
	LocationMsg    = 0x12
	HeartbeatMsg   = 0x13
	StringReplyMsg = 0x15
	AlarmMsg       = 0x16
	LocationMsgV2  = 0x22
)

// start(2) + len(1) + proto(1) + serial(2) + crc(2) + end(2)
const minFrameLength = 10

// Course/status flag bits.
const (
	flagNorth = 1 << 10
	flagWest  = 1 << 11
	flagFixed = 1 << 12
)

var (
	ErrInvalidHeader      = errors.New("invalid GT06 protocol header")
	ErrPacketTooShort     = errors.New("data too short for GT06 protocol")
	ErrInvalidChecksum    = errors.New("invalid checksum")
	ErrInvalidLength      = errors.New("packet length mismatch")
	ErrInvalidMessageType = errors.New("unsupported message type")
	ErrMalformedPacket    = errors.New("malformed packet structure")
)

// MessageName returns a human-readable name for a protocol number.
func MessageName(protocol byte) string {
	switch protocol {
	case LoginMsg:
		return "login"
	case LocationMsg, LocationMsgV2:
		return "location"
	case HeartbeatMsg:
		return "heartbeat"
	case StringReplyMsg:
		return "command reply"
	case AlarmMsg:
		return "alarm"
	}
	return "unknown"
}
