// Package server accepts device connections over raw TCP. GT06 terminals keep a
// binary session that also carries commands downstream; H02 and TK303 devices
// send text reports terminated by '#' or ';'.
package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fleettrack/internal/core/service"
	"fleettrack/internal/metrics"
	"fleettrack/internal/protocol"
	"fleettrack/internal/protocol/gt06"
	"fleettrack/internal/transport"
)

const (
	DefaultIdleTimeout = 5 * time.Minute
	writeTimeout       = 10 * time.Second
	maxFrameBuffer     = 4096
)

type TCPServer struct {
	addr        string
	ingestor    service.Ingestor
	idleTimeout time.Duration
	log         *zap.Logger

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	acks AckPublisher

	mutex    sync.RWMutex
	sessions map[string]*session
	conns    map[net.Conn]struct{}
	flags    atomic.Uint32
}

func NewTCPServer(addr string, ingestor service.Ingestor, log *zap.Logger) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPServer{
		addr:        addr,
		ingestor:    ingestor,
		idleTimeout: DefaultIdleTimeout,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[string]*session),
		conns:       make(map[net.Conn]struct{}),
	}
}

// AckPublisher forwards device acknowledgements to the process that owns the
// command, such as a NATS connection.
type AckPublisher interface {
	PublishAck(ack transport.Ack) error
}

// ForwardAcks makes the listener publish command replies instead of applying
// them itself. Call before Start.
func (s *TCPServer) ForwardAcks(p AckPublisher) {
	s.acks = p
}

func (s *TCPServer) acknowledge(imei, commandID string, log *zap.Logger) {
	if s.acks != nil {
		if err := s.acks.PublishAck(transport.Ack{IMEI: imei, CommandID: commandID}); err != nil {
			log.Warn("failed to forward acknowledgement", zap.String("imei", imei), zap.String("command_id", commandID), zap.Error(err))
		}
		return
	}
	if _, err := s.ingestor.Acknowledge(s.ctx, imei, commandID); err != nil {
		log.Warn("failed to acknowledge command", zap.String("imei", imei), zap.String("command_id", commandID), zap.Error(err))
	}
}

func (s *TCPServer) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}

	s.log.Info("TCP server listening", zap.String("addr", s.listener.Addr().String()))

	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

// Addr is the bound listener address, useful when started on port 0.
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open session, then waits for handlers to return.
func (s *TCPServer) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mutex.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mutex.Unlock()
	s.wg.Wait()
}

func (s *TCPServer) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("error accepting connection", zap.Error(err))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *TCPServer) handleConnection(conn net.Conn) {
	s.track(conn, true)
	metrics.DeviceSessions.Inc()
	defer func() {
		s.track(conn, false)
		metrics.DeviceSessions.Dec()
		conn.Close()
	}()

	log := s.log.With(zap.String("remote", conn.RemoteAddr().String()))
	log.Debug("device connected")

	sess := &session{conn: conn, pending: make(map[uint32]string)}
	r := bufio.NewReader(conn)

	_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	head, err := r.Peek(2)
	if err != nil {
		return
	}
	if head[0] == gt06.StartByte1 && head[1] == gt06.StartByte2 {
		s.serveGT06(sess, r, log)
	} else {
		s.serveText(sess, r, log)
	}

	if imei := sess.getIMEI(); imei != "" {
		s.unbind(imei, sess)
	}
	log.Debug("device disconnected", zap.String("imei", sess.getIMEI()))
}

func (s *TCPServer) serveGT06(sess *session, r *bufio.Reader, log *zap.Logger) {
	var buf []byte
	chunk := make([]byte, 1024)
	for {
		_ = sess.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		n, err := r.Read(chunk)
		if err != nil {
			return
		}
		buf = append(buf, chunk[:n]...)

		frames, rest := gt06.Split(buf)
		for _, frame := range frames {
			s.handleGT06Frame(sess, frame, log)
		}
		buf = append([]byte(nil), rest...)
		if len(buf) > maxFrameBuffer {
			log.Warn("dropping oversized GT06 buffer", zap.Int("bytes", len(buf)))
			buf = nil
		}
	}
}

func (s *TCPServer) handleGT06Frame(sess *session, frame []byte, log *zap.Logger) {
	pkt, err := gt06.Decode(frame)
	if err != nil {
		log.Warn("failed to decode GT06 frame", zap.Error(err))
		return
	}

	switch pkt.Protocol {
	case gt06.LoginMsg:
		sess.setIMEI(pkt.IMEI)
		s.bind(pkt.IMEI, sess)
		log.Info("GT06 terminal logged in", zap.String("imei", pkt.IMEI))
		s.reply(sess, gt06.Response(gt06.LoginMsg, pkt.Serial), log)

	case gt06.HeartbeatMsg:
		s.reply(sess, gt06.Response(gt06.HeartbeatMsg, pkt.Serial), log)

	case gt06.LocationMsg, gt06.LocationMsgV2, gt06.AlarmMsg:
		if pkt.Protocol == gt06.AlarmMsg {
			s.reply(sess, gt06.Response(gt06.AlarmMsg, pkt.Serial), log)
		}
		imei := sess.getIMEI()
		if imei == "" {
			log.Warn("GT06 location before login, dropping")
			return
		}
		if !pkt.Location.GPSValid {
			log.Debug("GT06 location without fix", zap.String("imei", imei))
			return
		}
		if _, err := s.ingestor.IngestFields(s.ctx, pkt.Location.Fields(imei), frame, protocol.ShapeGT06); err != nil {
			log.Debug("GT06 report not accepted", zap.String("imei", imei), zap.Error(err))
		}

	case gt06.StringReplyMsg:
		imei := sess.getIMEI()
		commandID, ok := sess.takePending(pkt.ReplyFlag)
		if !ok || imei == "" {
			log.Debug("GT06 reply without pending command", zap.String("imei", imei), zap.Uint32("flag", pkt.ReplyFlag))
			return
		}
		s.acknowledge(imei, commandID, log)
	}
}

// serveText reads H02 and TK303 text records. TK303 logins ("##,imei:...") are
// answered with LOAD and bare-imei heartbeats with ON.
func (s *TCPServer) serveText(sess *session, r *bufio.Reader, log *zap.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024), maxFrameBuffer)
	scanner.Split(splitText)

	for {
		_ = sess.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				log.Debug("text session ended", zap.Error(err))
			}
			return
		}
		record := bytes.TrimSpace(scanner.Bytes())
		if len(record) == 0 {
			continue
		}

		switch {
		case bytes.HasPrefix(record, []byte("##,")):
			s.reply(sess, []byte("LOAD"), log)
			continue
		case isDigits(record):
			sess.setIMEI(string(record))
			s.reply(sess, []byte("ON"), log)
			continue
		}

		raw := append([]byte(nil), record...)
		result, err := s.ingestor.Ingest(s.ctx, raw, "")
		if err != nil {
			log.Debug("text report not accepted", zap.ByteString("record", raw), zap.Error(err))
			continue
		}
		log.Debug("text report accepted", zap.String("vehicle_id", result.VehicleID))
	}
}

// Deliver writes a command to the connected GT06 terminal for msg.IMEI. The
// terminal's reply is matched back to msg.CommandID through the server flag.
func (s *TCPServer) Deliver(msg transport.Message) error {
	s.mutex.RLock()
	sess, ok := s.sessions[msg.IMEI]
	s.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("device %s is not connected", msg.IMEI)
	}

	text, err := gt06CommandText(msg)
	if err != nil {
		return err
	}
	flag := s.flags.Add(1)
	sess.addPending(flag, msg.CommandID)
	if err := sess.write(gt06.CommandFrame(flag, text, sess.nextSerial())); err != nil {
		sess.takePending(flag)
		return fmt.Errorf("failed to write command to %s: %w", msg.IMEI, err)
	}
	s.log.Info("command written to device",
		zap.String("imei", msg.IMEI),
		zap.String("command_id", msg.CommandID),
		zap.String("text", text),
	)
	return nil
}

// Send makes the listener a transport.Sender for in-process delivery.
func (s *TCPServer) Send(_ context.Context, msg transport.Message) error {
	return s.Deliver(msg)
}

func (s *TCPServer) reply(sess *session, data []byte, log *zap.Logger) {
	if err := sess.write(data); err != nil {
		log.Debug("failed to write reply", zap.Error(err))
	}
}

func (s *TCPServer) track(conn net.Conn, open bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if open {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *TCPServer) bind(imei string, sess *session) {
	s.mutex.Lock()
	s.sessions[imei] = sess
	s.mutex.Unlock()
}

// unbind drops the session unless a newer connection already took the imei.
func (s *TCPServer) unbind(imei string, sess *session) {
	s.mutex.Lock()
	if s.sessions[imei] == sess {
		delete(s.sessions, imei)
	}
	s.mutex.Unlock()
}

func splitText(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexAny(data, "#;\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func isDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(b) > 0
}
