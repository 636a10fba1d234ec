package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type MongoConfig struct {
	URI      string
	Database string
}

// ConnectMongoDB connects and pings. The caller owns the returned client.
func ConnectMongoDB(ctx context.Context, cfg MongoConfig, log *zap.Logger) (*mongo.Client, *mongo.Database, error) {
	if cfg.URI == "" {
		return nil, nil, fmt.Errorf("MongoDB URI not provided")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	log.Info("connecting to MongoDB", zap.String("database", cfg.Database))

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Info("connected to MongoDB", zap.String("database", cfg.Database))
	return client, client.Database(cfg.Database), nil
}
