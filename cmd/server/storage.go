package main

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"fleettrack/internal/config"
	"fleettrack/internal/core/repository"
	"fleettrack/internal/logger"
)

type storage struct {
	vehicles repository.VehicleRepository
	states   repository.StateRepository
	history  repository.HistoryRepository
	commands repository.CommandRepository
	closers  []func()
}

func (s *storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

type indexed interface {
	EnsureIndexes(ctx context.Context) error
}

// openStorage builds the repositories for the configured backends.
func openStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (*storage, error) {
	s := &storage{}

	var db *mongo.Database
	if cfg.StorageBackend == config.BackendMongo || cfg.HistoryBackend == config.BackendMongo {
		client, database, err := config.ConnectMongoDB(ctx, cfg.Mongo, log)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = client.Disconnect(context.Background()) })
		db = database
	}

	var toIndex []indexed
	switch cfg.StorageBackend {
	case config.BackendMongo:
		vehicles := repository.NewMongoVehicleRepository(db)
		states := repository.NewMongoStateRepository(db)
		commands := repository.NewMongoCommandRepository(db)
		s.vehicles, s.states, s.commands = vehicles, states, commands
		toIndex = append(toIndex, vehicles, states, commands)
	default:
		s.vehicles = repository.NewInMemoryVehicleRepository()
		s.states = repository.NewInMemoryStateRepository()
		s.commands = repository.NewInMemoryCommandRepository()
	}

	switch cfg.HistoryBackend {
	case config.BackendMongo:
		history := repository.NewMongoHistoryRepository(db)
		s.history = history
		toIndex = append(toIndex, history)
	case config.BackendPostgres:
		if err := repository.MigratePostgres(cfg.PostgresDSN, 0); err != nil {
			s.Close()
			return nil, err
		}
		history, err := repository.NewPostgresHistoryRepository(ctx, cfg.PostgresDSN)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, history.Close)
		s.history = history
	default:
		s.history = repository.NewInMemoryHistoryRepository()
	}

	for _, r := range toIndex {
		if err := r.EnsureIndexes(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to ensure indexes: %w", err)
		}
	}

	log.Info("storage ready",
		zap.String("storage_backend", cfg.StorageBackend),
		zap.String("history_backend", cfg.HistoryBackend),
	)
	return s, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log, nil
}
