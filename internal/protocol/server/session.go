package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"fleettrack/internal/core/model"
	"fleettrack/internal/transport"
)

type session struct {
	conn net.Conn

	writeMu sync.Mutex
	serial  uint16

	mu      sync.Mutex
	imei    string
	pending map[uint32]string
}

func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := s.conn.Write(data)
	return err
}

func (s *session) nextSerial() uint16 {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.serial++
	return s.serial
}

func (s *session) setIMEI(imei string) {
	s.mu.Lock()
	s.imei = imei
	s.mu.Unlock()
}

func (s *session) getIMEI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imei
}

func (s *session) addPending(flag uint32, commandID string) {
	s.mu.Lock()
	s.pending[flag] = commandID
	s.mu.Unlock()
}

func (s *session) takePending(flag uint32) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pending[flag]
	delete(s.pending, flag)
	return id, ok
}

// gt06CommandText renders a command in the terminal's text command set.
// A configure command sends payload["text"] verbatim.
func gt06CommandText(msg transport.Message) (string, error) {
	switch msg.Type {
	case model.CommandLocate:
		return "WHERE#", nil
	case model.CommandLock:
		return "RELAY,1#", nil
	case model.CommandUnlock:
		return "RELAY,0#", nil
	case model.CommandReboot:
		return "RESET#", nil
	case model.CommandConfigure:
		if text, ok := msg.Payload["text"].(string); ok && text != "" {
			return text, nil
		}
		return "", fmt.Errorf("%w: configure needs a text payload", model.ErrInvalidCommand)
	}
	return "", fmt.Errorf("%w: %s", model.ErrInvalidCommand, msg.Type)
}
