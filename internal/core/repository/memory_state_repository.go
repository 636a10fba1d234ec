package repository

import (
	"context"
	"fmt"
	"sync"

	"fleettrack/internal/core/model"
)

type inMemoryStateRepository struct {
	states map[string]model.VehicleState
	mutex  sync.RWMutex
}

func NewInMemoryStateRepository() StateRepository {
	return &inMemoryStateRepository{
		states: make(map[string]model.VehicleState),
	}
}

func (r *inMemoryStateRepository) Save(_ context.Context, state model.VehicleState) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if existing, ok := r.states[state.VehicleID]; ok && state.LastReportAt.Before(existing.LastReportAt) {
		return fmt.Errorf("%w: vehicle %s has a newer stored state", model.ErrStaleReport, state.VehicleID)
	}
	state.Status = ""
	r.states[state.VehicleID] = state
	return nil
}

func (r *inMemoryStateRepository) FindByVehicleID(_ context.Context, vehicleID string) (*model.VehicleState, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if state, ok := r.states[vehicleID]; ok {
		return &state, nil
	}
	return nil, nil
}

func (r *inMemoryStateRepository) FindAll(_ context.Context) ([]model.VehicleState, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	states := make([]model.VehicleState, 0, len(r.states))
	for _, state := range r.states {
		states = append(states, state)
	}
	return states, nil
}
