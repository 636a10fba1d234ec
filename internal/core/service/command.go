package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fleettrack/internal/core/model"
	"fleettrack/internal/core/repository"
	"fleettrack/internal/metrics"
	"fleettrack/internal/transport"
)

const DefaultCommandTimeout = 2 * time.Minute

// Acknowledgement is evidence from a device that may confirm a command: either an
// explicit command id, a location report, or both.
type Acknowledgement struct {
	CommandID string
	Report    *model.LocationReport
}

// ConfirmationMatcher decides whether ack confirms cmd. Implementations must not
// match ambiguously; the dispatcher only offers sent commands of the acking vehicle.
type ConfirmationMatcher interface {
	Match(cmd *model.Command, ack Acknowledgement) bool
}

// DefaultMatcher confirms by explicit command id. A locate command is also
// confirmed by any location report timestamped in [SentAt, ExpiresAt).
type DefaultMatcher struct{}

func (DefaultMatcher) Match(cmd *model.Command, ack Acknowledgement) bool {
	if ack.CommandID != "" {
		return ack.CommandID == cmd.ID
	}
	if ack.Report == nil || cmd.Type != model.CommandLocate || cmd.SentAt == nil {
		return false
	}
	ts := ack.Report.Timestamp
	return !ts.Before(*cmd.SentAt) && ts.Before(cmd.ExpiresAt)
}

type DispatcherConfig struct {
	Timeout time.Duration
	Matcher ConfirmationMatcher
	Now     func() time.Time
}

type Dispatcher interface {
	// Issue creates a command and hands it to the transport. A transport error
	// leaves the command failed and returns model.ErrTransportFailure.
	Issue(ctx context.Context, vehicleID string, cmdType model.CommandType, payload map[string]interface{}) (*model.Command, error)
	Get(ctx context.Context, id string) (*model.Command, error)
	ListByVehicle(ctx context.Context, vehicleID string) ([]*model.Command, error)
	// Confirm applies an explicit device acknowledgement.
	Confirm(ctx context.Context, imei, commandID string) (*model.Command, error)
	// ObserveReport confirms the commands a location report answers.
	ObserveReport(ctx context.Context, vehicleID string, report *model.LocationReport) ([]*model.Command, error)
}

type dispatcher struct {
	repo      repository.CommandRepository
	registry  Registry
	transport transport.Sender
	matcher   ConfirmationMatcher
	timeout   time.Duration
	now       func() time.Time
	locks     *keyedMutex
	log       *zap.Logger
}

func NewDispatcher(repo repository.CommandRepository, registry Registry, sender transport.Sender, cfg DispatcherConfig, log *zap.Logger) Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCommandTimeout
	}
	if cfg.Matcher == nil {
		cfg.Matcher = DefaultMatcher{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &dispatcher{
		repo:      repo,
		registry:  registry,
		transport: sender,
		matcher:   cfg.Matcher,
		timeout:   cfg.Timeout,
		now:       cfg.Now,
		locks:     newKeyedMutex(),
		log:       log,
	}
}

func (s *dispatcher) Issue(ctx context.Context, vehicleID string, cmdType model.CommandType, payload map[string]interface{}) (*model.Command, error) {
	if !cmdType.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", model.ErrInvalidCommand, cmdType)
	}
	vehicle, err := s.registry.Get(ctx, vehicleID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(vehicleID)
	defer unlock()

	outstanding, err := s.outstanding(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	for _, c := range outstanding {
		if c.Type == cmdType {
			return nil, fmt.Errorf("%w: %s command %s is %s", model.ErrCommandInFlight, cmdType, c.ID, c.Status)
		}
	}

	cmd := model.NewCommand(vehicleID, cmdType, payload, s.now(), s.timeout)
	if err := s.repo.Create(ctx, cmd); err != nil {
		return nil, err
	}
	s.count(cmd)

	if err := s.transport.Send(ctx, transport.NewMessage(cmd, vehicle.IMEI)); err != nil {
		if terr := s.move(ctx, cmd, EventFail, err.Error()); terr != nil {
			s.log.Error("failed to record transport failure", zap.String("command_id", cmd.ID), zap.Error(terr))
		}
		return cmd, fmt.Errorf("%w: %v", model.ErrTransportFailure, err)
	}

	if err := s.move(ctx, cmd, EventSend, ""); err != nil {
		return nil, err
	}
	s.log.Info("command sent",
		zap.String("command_id", cmd.ID),
		zap.String("vehicle_id", vehicleID),
		zap.String("type", string(cmdType)),
	)
	return cmd, nil
}

func (s *dispatcher) Get(ctx context.Context, id string) (*model.Command, error) {
	cmd, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrCommandNotFound, id)
	}
	if cmd.Overdue(s.now()) {
		unlock := s.locks.Lock(cmd.VehicleID)
		defer unlock()
		return s.expireIfOverdue(ctx, cmd.ID)
	}
	return cmd, nil
}

func (s *dispatcher) ListByVehicle(ctx context.Context, vehicleID string) ([]*model.Command, error) {
	if _, err := s.registry.Get(ctx, vehicleID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(vehicleID)
	// Expire first so the listing reflects deadlines.
	_, err := s.outstanding(ctx, vehicleID)
	unlock()
	if err != nil {
		return nil, err
	}
	return s.repo.FindByVehicleID(ctx, vehicleID)
}

func (s *dispatcher) Confirm(ctx context.Context, imei, commandID string) (*model.Command, error) {
	if commandID == "" {
		return nil, fmt.Errorf("%w: command id is required", model.ErrUnmatchedAck)
	}
	vehicle, err := s.registry.Lookup(ctx, imei)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(vehicle.ID)
	defer unlock()

	cmd, err := s.repo.FindByID(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if cmd == nil || cmd.VehicleID != vehicle.ID {
		return nil, fmt.Errorf("%w: no command %s for imei %s", model.ErrUnmatchedAck, commandID, imei)
	}

	if cmd.Overdue(s.now()) {
		if _, err := s.expireIfOverdue(ctx, cmd.ID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: command %s expired at %s", model.ErrConfirmationTimeout, cmd.ID, cmd.ExpiresAt.Format(time.RFC3339))
	}

	switch cmd.Status {
	case model.CommandConfirmed:
		// Devices resend acks; a repeat is not an error.
		return cmd, nil
	case model.CommandExpired:
		return nil, fmt.Errorf("%w: command %s already expired", model.ErrConfirmationTimeout, cmd.ID)
	}

	if !s.matcher.Match(cmd, Acknowledgement{CommandID: commandID}) {
		return nil, fmt.Errorf("%w: command %s", model.ErrUnmatchedAck, commandID)
	}
	if err := s.move(ctx, cmd, EventConfirm, ""); err != nil {
		return nil, err
	}
	s.log.Info("command confirmed", zap.String("command_id", cmd.ID), zap.String("vehicle_id", cmd.VehicleID))
	return cmd, nil
}

func (s *dispatcher) ObserveReport(ctx context.Context, vehicleID string, report *model.LocationReport) ([]*model.Command, error) {
	unlock := s.locks.Lock(vehicleID)
	defer unlock()

	outstanding, err := s.outstanding(ctx, vehicleID)
	if err != nil {
		return nil, err
	}

	ack := Acknowledgement{CommandID: report.CommandID, Report: report}
	var confirmed []*model.Command
	for _, cmd := range outstanding {
		if cmd.Status != model.CommandSent || !s.matcher.Match(cmd, ack) {
			continue
		}
		if err := s.move(ctx, cmd, EventConfirm, ""); err != nil {
			return confirmed, err
		}
		s.log.Info("command confirmed by report", zap.String("command_id", cmd.ID), zap.String("vehicle_id", vehicleID))
		confirmed = append(confirmed, cmd)
	}
	return confirmed, nil
}

// outstanding returns the vehicle's pending and sent commands after expiring the
// overdue ones. Callers hold the vehicle lock.
func (s *dispatcher) outstanding(ctx context.Context, vehicleID string) ([]*model.Command, error) {
	cmds, err := s.repo.FindOutstanding(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	live := cmds[:0]
	for _, cmd := range cmds {
		if cmd.Overdue(now) {
			if err := s.move(ctx, cmd, EventExpire, "no confirmation before deadline"); err != nil {
				return nil, err
			}
			continue
		}
		live = append(live, cmd)
	}
	return live, nil
}

// expireIfOverdue re-reads the command under the vehicle lock and expires it
// when still overdue.
func (s *dispatcher) expireIfOverdue(ctx context.Context, id string) (*model.Command, error) {
	cmd, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrCommandNotFound, id)
	}
	if cmd.Overdue(s.now()) {
		if err := s.move(ctx, cmd, EventExpire, "no confirmation before deadline"); err != nil {
			return nil, err
		}
	}
	return cmd, nil
}

func (s *dispatcher) move(ctx context.Context, cmd *model.Command, event, reason string) error {
	prev := cmd.Clone()
	if err := transition(ctx, cmd, event, s.now(), reason); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, cmd); err != nil {
		*cmd = *prev
		return err
	}
	s.count(cmd)
	return nil
}

func (s *dispatcher) count(cmd *model.Command) {
	metrics.CommandTransitions.WithLabelValues(string(cmd.Type), string(cmd.Status)).Inc()
}
