package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fleettrack/internal/core/model"
)

type inMemoryCommandRepository struct {
	commands map[string]*model.Command
	mutex    sync.RWMutex
}

func NewInMemoryCommandRepository() CommandRepository {
	return &inMemoryCommandRepository{
		commands: make(map[string]*model.Command),
	}
}

func (r *inMemoryCommandRepository) Create(_ context.Context, cmd *model.Command) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.commands[cmd.ID]; exists {
		return fmt.Errorf("command with ID %s already exists", cmd.ID)
	}
	r.commands[cmd.ID] = cmd.Clone()
	return nil
}

func (r *inMemoryCommandRepository) Update(_ context.Context, cmd *model.Command) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.commands[cmd.ID]; !exists {
		return fmt.Errorf("%w: %s", model.ErrCommandNotFound, cmd.ID)
	}
	r.commands[cmd.ID] = cmd.Clone()
	return nil
}

func (r *inMemoryCommandRepository) FindByID(_ context.Context, id string) (*model.Command, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if cmd, exists := r.commands[id]; exists {
		return cmd.Clone(), nil
	}
	return nil, nil
}

func (r *inMemoryCommandRepository) FindByVehicleID(_ context.Context, vehicleID string) ([]*model.Command, error) {
	result := r.collect(func(c *model.Command) bool { return c.VehicleID == vehicleID })
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r *inMemoryCommandRepository) FindOutstanding(_ context.Context, vehicleID string) ([]*model.Command, error) {
	result := r.collect(func(c *model.Command) bool { return c.VehicleID == vehicleID && c.Outstanding() })
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *inMemoryCommandRepository) collect(match func(*model.Command) bool) []*model.Command {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.Command
	for _, cmd := range r.commands {
		if match(cmd) {
			result = append(result, cmd.Clone())
		}
	}
	return result
}
