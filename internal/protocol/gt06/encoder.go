package gt06

import "encoding/binary"

// Response builds the acknowledgement frame the terminal expects for login,
// heartbeat and alarm packets.
func Response(protocol byte, serial uint16) []byte {
	return Frame(protocol, nil, serial)
}

// Frame wraps a body into a full GT06 frame with length, serial and checksum.
func Frame(protocol byte, body []byte, serial uint16) []byte {
	length := 1 + len(body) + 2 + 2
	frame := make([]byte, 0, length+5)
	frame = append(frame, StartByte1, StartByte2, byte(length), protocol)
	frame = append(frame, body...)
	frame = binary.BigEndian.AppendUint16(frame, serial)
	frame = binary.BigEndian.AppendUint16(frame, Checksum(frame[2:]))
	return append(frame, EndByte1, EndByte2)
}

// CommandFrame builds a server-to-terminal text command (protocol 0x80) tagged with flag,
// which the terminal echoes back in its reply.
func CommandFrame(flag uint32, text string, serial uint16) []byte {
	body := make([]byte, 0, 5+len(text))
	body = append(body, byte(4+len(text)))
	body = binary.BigEndian.AppendUint32(body, flag)
	body = append(body, text...)
	return Frame(0x80, body, serial)
}

// Checksum is CRC-ITU (CRC-16/X-25) over length..serial.
func Checksum(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return ^crc
}
