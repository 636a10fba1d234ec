package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fleettrack/internal/core/model"
)

type inMemoryVehicleRepository struct {
	vehicles map[string]*model.Vehicle
	byIMEI   map[string]string
	mutex    sync.RWMutex
}

func NewInMemoryVehicleRepository() VehicleRepository {
	return &inMemoryVehicleRepository{
		vehicles: make(map[string]*model.Vehicle),
		byIMEI:   make(map[string]string),
	}
}

func (r *inMemoryVehicleRepository) Create(_ context.Context, vehicle *model.Vehicle) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.byIMEI[vehicle.IMEI]; exists {
		return fmt.Errorf("%w: imei %s", model.ErrDuplicateDevice, vehicle.IMEI)
	}
	if _, exists := r.vehicles[vehicle.ID]; exists {
		return fmt.Errorf("vehicle with ID %s already exists", vehicle.ID)
	}

	cp := *vehicle
	r.vehicles[vehicle.ID] = &cp
	r.byIMEI[vehicle.IMEI] = vehicle.ID
	return nil
}

func (r *inMemoryVehicleRepository) Update(_ context.Context, vehicle *model.Vehicle) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := checkVehicleUpdate(r.vehicles[vehicle.ID], vehicle); err != nil {
		return err
	}

	cp := *vehicle
	r.vehicles[vehicle.ID] = &cp
	return nil
}

func (r *inMemoryVehicleRepository) FindByID(_ context.Context, id string) (*model.Vehicle, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if vehicle, exists := r.vehicles[id]; exists {
		cp := *vehicle
		return &cp, nil
	}
	return nil, nil
}

func (r *inMemoryVehicleRepository) FindByIMEI(_ context.Context, imei string) (*model.Vehicle, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if id, exists := r.byIMEI[imei]; exists {
		cp := *r.vehicles[id]
		return &cp, nil
	}
	return nil, nil
}

func (r *inMemoryVehicleRepository) FindByOwnerID(_ context.Context, ownerID string) ([]*model.Vehicle, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.Vehicle
	for _, vehicle := range r.vehicles {
		if vehicle.OwnerID == ownerID {
			cp := *vehicle
			result = append(result, &cp)
		}
	}
	sortVehicles(result)
	return result, nil
}

func (r *inMemoryVehicleRepository) FindAll(_ context.Context) ([]*model.Vehicle, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	vehicles := make([]*model.Vehicle, 0, len(r.vehicles))
	for _, vehicle := range r.vehicles {
		cp := *vehicle
		vehicles = append(vehicles, &cp)
	}
	sortVehicles(vehicles)
	return vehicles, nil
}

func sortVehicles(vehicles []*model.Vehicle) {
	sort.Slice(vehicles, func(i, j int) bool {
		if vehicles[i].CreatedAt.Equal(vehicles[j].CreatedAt) {
			return vehicles[i].ID < vehicles[j].ID
		}
		return vehicles[i].CreatedAt.Before(vehicles[j].CreatedAt)
	})
}
