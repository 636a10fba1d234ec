package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fleettrack/internal/core/model"
	"fleettrack/internal/core/repository"
	"fleettrack/internal/core/status"
)

// StatePublisher receives every accepted state, already reconciled.
type StatePublisher interface {
	PublishState(ctx context.Context, state model.VehicleState) error
}

type StateStore interface {
	// Apply updates the vehicle from report. A report older than the current
	// state fails with model.ErrStaleReport and changes nothing.
	Apply(ctx context.Context, vehicleID string, report *model.LocationReport) (model.VehicleState, error)
	// Get never blocks on writers. A vehicle without reports is offline.
	Get(ctx context.Context, vehicleID string) (model.VehicleState, error)
	List(ctx context.Context, vehicleIDs []string) ([]model.VehicleState, error)
	Summary(ctx context.Context, vehicleIDs []string) (status.Summary, error)
}

type StateStoreConfig struct {
	OnlineWindow time.Duration
	Now          func() time.Time
}

// stateEntry holds one vehicle. mu serializes writers; readers only load snap.
type stateEntry struct {
	mu   sync.Mutex
	snap atomic.Pointer[model.VehicleState]
}

type stateStore struct {
	repo       repository.StateRepository
	publishers []StatePublisher
	window     time.Duration
	now        func() time.Time
	log        *zap.Logger

	mu      sync.Mutex
	entries map[string]*stateEntry
}

func NewStateStore(repo repository.StateRepository, cfg StateStoreConfig, log *zap.Logger, publishers ...StatePublisher) StateStore {
	if cfg.OnlineWindow <= 0 {
		cfg.OnlineWindow = status.DefaultOnlineWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &stateStore{
		repo:       repo,
		publishers: publishers,
		window:     cfg.OnlineWindow,
		now:        cfg.Now,
		log:        log,
		entries:    make(map[string]*stateEntry),
	}
}

func (s *stateStore) entry(vehicleID string) *stateEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[vehicleID]
	if !ok {
		e = &stateEntry{}
		s.entries[vehicleID] = e
	}
	return e
}

// snapshot returns the current state, loading it from the repository the first
// time a vehicle is touched after start.
func (s *stateStore) snapshot(ctx context.Context, vehicleID string, e *stateEntry) (*model.VehicleState, error) {
	if snap := e.snap.Load(); snap != nil {
		return snap, nil
	}

	stored, err := s.repo.FindByVehicleID(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		stored = &model.VehicleState{VehicleID: vehicleID}
	}
	// A writer may have installed a newer snapshot while we were loading.
	if e.snap.CompareAndSwap(nil, stored) {
		return stored, nil
	}
	return e.snap.Load(), nil
}

func (s *stateStore) Apply(ctx context.Context, vehicleID string, report *model.LocationReport) (model.VehicleState, error) {
	e := s.entry(vehicleID)

	e.mu.Lock()
	next, err := s.apply(ctx, vehicleID, report, e)
	e.mu.Unlock()
	if err != nil {
		return model.VehicleState{}, err
	}

	reconciled := status.Apply(*next, s.now(), s.window)
	for _, p := range s.publishers {
		if err := p.PublishState(ctx, reconciled); err != nil {
			s.log.Warn("failed to publish state", zap.String("vehicle_id", vehicleID), zap.Error(err))
		}
	}
	return reconciled, nil
}

// apply runs with e.mu held.
func (s *stateStore) apply(ctx context.Context, vehicleID string, report *model.LocationReport, e *stateEntry) (*model.VehicleState, error) {
	cur, err := s.snapshot(ctx, vehicleID, e)
	if err != nil {
		return nil, err
	}
	if report.Timestamp.Before(cur.LastReportAt) {
		return nil, fmt.Errorf("%w: report at %s is older than %s", model.ErrStaleReport,
			report.Timestamp.Format(time.RFC3339), cur.LastReportAt.Format(time.RFC3339))
	}

	next := &model.VehicleState{
		VehicleID:    vehicleID,
		Position:     report.Position,
		SpeedKph:     report.SpeedKph,
		Address:      report.Address,
		LastReportAt: report.Timestamp.UTC(),
	}
	if err := s.repo.Save(ctx, *next); err != nil {
		// Another process may own a newer state; drop ours so the next read reloads it.
		if errors.Is(err, model.ErrStaleReport) {
			e.snap.Store(nil)
		}
		return nil, err
	}
	e.snap.Store(next)
	return next, nil
}

func (s *stateStore) Get(ctx context.Context, vehicleID string) (model.VehicleState, error) {
	snap, err := s.snapshot(ctx, vehicleID, s.entry(vehicleID))
	if err != nil {
		return model.VehicleState{}, err
	}
	return status.Apply(*snap, s.now(), s.window), nil
}

func (s *stateStore) List(ctx context.Context, vehicleIDs []string) ([]model.VehicleState, error) {
	states := make([]model.VehicleState, 0, len(vehicleIDs))
	for _, id := range vehicleIDs {
		st, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, nil
}

func (s *stateStore) Summary(ctx context.Context, vehicleIDs []string) (status.Summary, error) {
	states, err := s.List(ctx, vehicleIDs)
	if err != nil {
		return status.Summary{}, err
	}
	return status.Summarize(states, s.now(), s.window), nil
}
