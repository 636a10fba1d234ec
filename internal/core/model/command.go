package model

import (
	"time"

	"fleettrack/internal/core/util"
)

type CommandType string

const (
	CommandLocate    CommandType = "locate"
	CommandLock      CommandType = "lock"
	CommandUnlock    CommandType = "unlock"
	CommandReboot    CommandType = "reboot"
	CommandConfigure CommandType = "configure"
)

func (t CommandType) Valid() bool {
	switch t {
	case CommandLocate, CommandLock, CommandUnlock, CommandReboot, CommandConfigure:
		return true
	}
	return false
}

type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandSent      CommandStatus = "sent"
	CommandConfirmed CommandStatus = "confirmed"
	CommandFailed    CommandStatus = "failed"
	CommandExpired   CommandStatus = "expired"
)

// Terminal states accept no further transitions.
func (s CommandStatus) Terminal() bool {
	return s == CommandConfirmed || s == CommandFailed || s == CommandExpired
}

type Command struct {
	ID          string                 `json:"id" bson:"id"`
	VehicleID   string                 `json:"vehicleId" bson:"vehicleid"`
	Type        CommandType            `json:"type" bson:"type"`
	Payload     map[string]interface{} `json:"payload,omitempty" bson:"payload,omitempty"`
	Status      CommandStatus          `json:"status" bson:"status"`
	CreatedAt   time.Time              `json:"createdAt" bson:"createdat"`
	SentAt      *time.Time             `json:"sentAt,omitempty" bson:"sentat,omitempty"`
	ConfirmedAt *time.Time             `json:"confirmedAt,omitempty" bson:"confirmedat,omitempty"`
	ExpiresAt   time.Time              `json:"expiresAt" bson:"expiresat"`
	Error       string                 `json:"error,omitempty" bson:"error,omitempty"`
}

func NewCommand(vehicleID string, cmdType CommandType, payload map[string]interface{}, now time.Time, timeout time.Duration) *Command {
	return &Command{
		ID:        util.GenerateID(),
		VehicleID: vehicleID,
		Type:      cmdType,
		Payload:   payload,
		Status:    CommandPending,
		CreatedAt: now.UTC(),
		ExpiresAt: now.Add(timeout).UTC(),
	}
}

// Outstanding reports whether the command still waits for delivery or confirmation.
func (c *Command) Outstanding() bool {
	return c.Status == CommandPending || c.Status == CommandSent
}

// Overdue reports whether an outstanding command passed its deadline at now.
func (c *Command) Overdue(now time.Time) bool {
	return c.Outstanding() && now.After(c.ExpiresAt)
}

// Clone returns a copy that can be handed out without sharing mutable fields.
func (c *Command) Clone() *Command {
	cp := *c
	if c.Payload != nil {
		cp.Payload = make(map[string]interface{}, len(c.Payload))
		for k, v := range c.Payload {
			cp.Payload[k] = v
		}
	}
	if c.SentAt != nil {
		t := *c.SentAt
		cp.SentAt = &t
	}
	if c.ConfirmedAt != nil {
		t := *c.ConfirmedAt
		cp.ConfirmedAt = &t
	}
	return &cp
}
