package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"fleettrack/internal/cache"
	"fleettrack/internal/core/model"
	"fleettrack/internal/core/repository"
	"fleettrack/internal/metrics"
)

const vehicleCacheTTL = 10 * time.Minute

// VehicleCache caches IMEI lookups. Get returns cache.ErrMiss on a miss.
type VehicleCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
}

type RegistryConfig struct {
	AutoRegister   bool
	DefaultOwnerID string
}

type Registry interface {
	// Resolve maps a device IMEI to its active vehicle. source names the protocol
	// the device spoke and is only used to name auto-registered vehicles.
	Resolve(ctx context.Context, imei, source string) (*model.Vehicle, error)
	// Lookup is Resolve without auto-registration.
	Lookup(ctx context.Context, imei string) (*model.Vehicle, error)
	Register(ctx context.Context, ownerID, name, plate, imei string) (*model.Vehicle, error)
	Get(ctx context.Context, id string) (*model.Vehicle, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Vehicle, error)
	List(ctx context.Context) ([]*model.Vehicle, error)
	Deactivate(ctx context.Context, id string) error
}

type registry struct {
	repo  repository.VehicleRepository
	cache VehicleCache
	cfg   RegistryConfig
	group singleflight.Group
	log   *zap.Logger
}

// NewRegistry builds a registry. vc may be nil.
func NewRegistry(repo repository.VehicleRepository, vc VehicleCache, cfg RegistryConfig, log *zap.Logger) Registry {
	return &registry{
		repo:  repo,
		cache: vc,
		cfg:   cfg,
		log:   log,
	}
}

func (s *registry) Lookup(ctx context.Context, imei string) (*model.Vehicle, error) {
	return s.resolve(ctx, imei, "", false)
}

func (s *registry) Resolve(ctx context.Context, imei, source string) (*model.Vehicle, error) {
	return s.resolve(ctx, imei, source, s.cfg.AutoRegister)
}

func (s *registry) resolve(ctx context.Context, imei, source string, autoRegister bool) (*model.Vehicle, error) {
	imei = strings.TrimSpace(imei)
	if imei == "" {
		return nil, fmt.Errorf("%w: empty imei", model.ErrUnknownDevice)
	}

	if v := s.cached(ctx, imei); v != nil {
		return v, nil
	}

	vehicle, err := s.repo.FindByIMEI(ctx, imei)
	if err != nil {
		return nil, err
	}
	if vehicle == nil {
		if !autoRegister {
			return nil, fmt.Errorf("%w: imei %s", model.ErrUnknownDevice, imei)
		}
		vehicle, err = s.autoRegister(ctx, imei, source)
		if err != nil {
			return nil, err
		}
	}
	if vehicle.IsDeleted() {
		return nil, fmt.Errorf("%w: imei %s belongs to a deactivated vehicle", model.ErrUnknownDevice, imei)
	}

	s.store(ctx, vehicle)
	return vehicle, nil
}

// autoRegister collapses concurrent first contacts for one IMEI into a single
// create. Other processes racing on the same IMEI lose on the unique index and
// read the winner back.
func (s *registry) autoRegister(ctx context.Context, imei, source string) (*model.Vehicle, error) {
	v, err, _ := s.group.Do(imei, func() (interface{}, error) {
		existing, err := s.repo.FindByIMEI(ctx, imei)
		if err != nil || existing != nil {
			return existing, err
		}

		vehicle := model.NewAutoRegisteredVehicle(s.cfg.DefaultOwnerID, imei, source)
		err = s.repo.Create(ctx, vehicle)
		if errors.Is(err, model.ErrDuplicateDevice) {
			existing, err = s.repo.FindByIMEI(ctx, imei)
			if err == nil && existing == nil {
				err = fmt.Errorf("%w: imei %s vanished after duplicate insert", model.ErrUnknownDevice, imei)
			}
			return existing, err
		}
		if err != nil {
			return nil, err
		}

		metrics.VehiclesAutoRegistered.Inc()
		s.log.Info("vehicle auto-registered",
			zap.String("vehicle_id", vehicle.ID),
			zap.String("imei", imei),
			zap.String("source", source),
		)
		return vehicle, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers share the result; hand each its own copy.
	cp := *v.(*model.Vehicle)
	return &cp, nil
}

func (s *registry) Register(ctx context.Context, ownerID, name, plate, imei string) (*model.Vehicle, error) {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(name) == "" ||
		strings.TrimSpace(plate) == "" || strings.TrimSpace(imei) == "" {
		return nil, fmt.Errorf("%w: owner, name, plate and imei are required", model.ErrInvalidVehicle)
	}

	vehicle := model.NewVehicle(ownerID, name, plate, imei)
	if err := s.repo.Create(ctx, vehicle); err != nil {
		return nil, err
	}
	s.log.Info("vehicle registered", zap.String("vehicle_id", vehicle.ID), zap.String("imei", vehicle.IMEI))
	return vehicle, nil
}

func (s *registry) Get(ctx context.Context, id string) (*model.Vehicle, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", model.ErrUnknownVehicle)
	}
	vehicle, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if vehicle == nil || vehicle.IsDeleted() {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownVehicle, id)
	}
	return vehicle, nil
}

func (s *registry) ListByOwner(ctx context.Context, ownerID string) ([]*model.Vehicle, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", model.ErrInvalidVehicle)
	}
	vehicles, err := s.repo.FindByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return active(vehicles), nil
}

func (s *registry) List(ctx context.Context) ([]*model.Vehicle, error) {
	vehicles, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return active(vehicles), nil
}

func (s *registry) Deactivate(ctx context.Context, id string) error {
	vehicle, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	vehicle.SoftDelete(time.Now())
	if err := s.repo.Update(ctx, vehicle); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.VehicleIMEIKey(vehicle.IMEI)); err != nil {
			s.log.Warn("failed to evict vehicle from cache", zap.String("imei", vehicle.IMEI), zap.Error(err))
		}
	}
	s.log.Info("vehicle deactivated", zap.String("vehicle_id", id))
	return nil
}

func (s *registry) cached(ctx context.Context, imei string) *model.Vehicle {
	if s.cache == nil {
		return nil
	}
	var vehicle model.Vehicle
	if err := s.cache.Get(ctx, cache.VehicleIMEIKey(imei), &vehicle); err != nil {
		if !cache.IsMiss(err) {
			s.log.Debug("vehicle cache read failed", zap.String("imei", imei), zap.Error(err))
		}
		return nil
	}
	if vehicle.IMEI != imei || vehicle.IsDeleted() {
		return nil
	}
	return &vehicle
}

func (s *registry) store(ctx context.Context, vehicle *model.Vehicle) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cache.VehicleIMEIKey(vehicle.IMEI), vehicle, vehicleCacheTTL); err != nil {
		s.log.Debug("vehicle cache write failed", zap.String("imei", vehicle.IMEI), zap.Error(err))
	}
}

func active(vehicles []*model.Vehicle) []*model.Vehicle {
	result := make([]*model.Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		if !v.IsDeleted() {
			result = append(result, v)
		}
	}
	return result
}
