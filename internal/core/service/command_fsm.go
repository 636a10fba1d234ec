package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"fleettrack/internal/core/model"
)

const (
	EventSend    = "send"
	EventConfirm = "confirm"
	EventFail    = "fail"
	EventExpire  = "expire"
)

var commandEvents = fsm.Events{
	{Name: EventSend, Src: []string{string(model.CommandPending)}, Dst: string(model.CommandSent)},
	{Name: EventConfirm, Src: []string{string(model.CommandSent)}, Dst: string(model.CommandConfirmed)},
	{Name: EventFail, Src: []string{string(model.CommandPending), string(model.CommandSent)}, Dst: string(model.CommandFailed)},
	{Name: EventExpire, Src: []string{string(model.CommandPending), string(model.CommandSent)}, Dst: string(model.CommandExpired)},
}

// transition moves cmd through event at time at. reason is recorded on failure
// and expiry. Terminal states accept no events.
func transition(ctx context.Context, cmd *model.Command, event string, at time.Time, reason string) error {
	at = at.UTC()
	callbacks := fsm.Callbacks{
		"enter_" + string(model.CommandSent): func(_ context.Context, _ *fsm.Event) {
			cmd.SentAt = &at
		},
		"enter_" + string(model.CommandConfirmed): func(_ context.Context, _ *fsm.Event) {
			cmd.ConfirmedAt = &at
		},
		"enter_" + string(model.CommandFailed): func(_ context.Context, _ *fsm.Event) {
			cmd.Error = reason
		},
		"enter_" + string(model.CommandExpired): func(_ context.Context, _ *fsm.Event) {
			cmd.Error = reason
		},
	}

	machine := fsm.NewFSM(string(cmd.Status), commandEvents, callbacks)
	if err := machine.Event(ctx, event); err != nil {
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) {
			return fmt.Errorf("%w: %s from %s", model.ErrInvalidTransition, event, cmd.Status)
		}
		return err
	}
	cmd.Status = model.CommandStatus(machine.Current())
	return nil
}
