// Package transport delivers commands to devices and collects their acknowledgements.
package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"fleettrack/internal/core/model"
)

const (
	subjectPrefix = "fleet.device."
	// CommandSubjects matches every per-device command subject.
	CommandSubjects = "fleet.device.*.command"
	// AckSubjects matches every per-device acknowledgement subject.
	AckSubjects = "fleet.device.*.command.ack"
)

// Message is the wire form of a command handed to a device gateway.
type Message struct {
	CommandID string                 `json:"commandId"`
	VehicleID string                 `json:"vehicleId"`
	IMEI      string                 `json:"imei"`
	Type      model.CommandType      `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	ExpiresAt time.Time              `json:"expiresAt"`
}

func NewMessage(cmd *model.Command, imei string) Message {
	return Message{
		CommandID: cmd.ID,
		VehicleID: cmd.VehicleID,
		IMEI:      imei,
		Type:      cmd.Type,
		Payload:   cmd.Payload,
		ExpiresAt: cmd.ExpiresAt,
	}
}

// Ack is a device acknowledgement of a command.
type Ack struct {
	IMEI      string `json:"imei"`
	CommandID string `json:"commandId"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

func CommandSubject(imei string) string {
	return subjectPrefix + imei + ".command"
}

func AckSubject(imei string) string {
	return CommandSubject(imei) + ".ack"
}

// imeiFromSubject extracts the device token of fleet.device.<imei>.command[.ack].
func imeiFromSubject(subject string) (string, error) {
	rest := strings.TrimPrefix(subject, subjectPrefix)
	if rest == subject {
		return "", fmt.Errorf("unexpected subject %q", subject)
	}
	imei, _, ok := strings.Cut(rest, ".")
	if !ok || imei == "" {
		return "", fmt.Errorf("unexpected subject %q", subject)
	}
	return imei, nil
}

// Log only records commands. It is used when no broker is configured.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Send(_ context.Context, msg Message) error {
	l.log.Info("command dispatched",
		zap.String("command_id", msg.CommandID),
		zap.String("vehicle_id", msg.VehicleID),
		zap.String("imei", msg.IMEI),
		zap.String("type", string(msg.Type)),
	)
	return nil
}
