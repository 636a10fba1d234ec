package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type NATS struct {
	nc  *nats.Conn
	log *zap.Logger
}

func ConnectNATS(url string, log *zap.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("fleettrack"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return &NATS{nc: nc, log: log}, nil
}

func (t *NATS) Close() {
	if t.nc != nil {
		_ = t.nc.Drain()
	}
}

// Send publishes the command on the device subject and waits for the server to
// accept it, so a dead connection surfaces as an error.
func (t *NATS) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := t.nc.Publish(CommandSubject(msg.IMEI), data); err != nil {
		return err
	}
	return t.nc.FlushWithContext(ctx)
}

// SubscribeAcks delivers device acknowledgements. The IMEI is taken from the
// subject when the body omits it.
func (t *NATS) SubscribeAcks(handle func(Ack)) (*nats.Subscription, error) {
	return t.nc.Subscribe(AckSubjects, func(m *nats.Msg) {
		var ack Ack
		if err := json.Unmarshal(m.Data, &ack); err != nil {
			t.log.Warn("failed to unmarshal ack", zap.String("subject", m.Subject), zap.Error(err))
			return
		}
		if ack.IMEI == "" {
			imei, err := imeiFromSubject(m.Subject)
			if err != nil {
				t.log.Warn("ack on unexpected subject", zap.String("subject", m.Subject))
				return
			}
			ack.IMEI = imei
		}
		handle(ack)
	})
}

// SubscribeCommands lets a device gateway receive commands for its sessions.
func (t *NATS) SubscribeCommands(handle func(Message)) (*nats.Subscription, error) {
	return t.nc.Subscribe(CommandSubjects, func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			t.log.Warn("failed to unmarshal command", zap.String("subject", m.Subject), zap.Error(err))
			return
		}
		handle(msg)
	})
}

// PublishAck forwards an acknowledgement received by a device gateway.
func (t *NATS) PublishAck(ack Ack) error {
	data, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	return t.nc.Publish(AckSubject(ack.IMEI), data)
}
