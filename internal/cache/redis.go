// Package cache wraps Redis for the IMEI lookup cache and the live state feed.
// A Cache built without a URL, or whose server is unreachable, is disabled:
// writes are no-ops and reads miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fleettrack/internal/core/model"
)

// ErrMiss is returned by Get when the key is absent or the cache is disabled.
var ErrMiss = redis.Nil

const (
	// StateChannel carries every accepted state update as JSON.
	StateChannel = "fleet:state"
	geoKey       = "fleet:geo"
	stateTTL     = 24 * time.Hour
)

type Cache struct {
	client  *redis.Client
	enabled bool
	log     *zap.Logger
}

// New connects to redisURL. Connection problems disable the cache instead of failing.
func New(ctx context.Context, redisURL string, log *zap.Logger) *Cache {
	c := &Cache{log: log}
	if redisURL == "" {
		log.Info("Redis URL not provided, caching disabled")
		return c
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn("failed to parse Redis URL, caching disabled", zap.Error(err))
		return c
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("failed to connect to Redis, caching disabled", zap.Error(err))
		_ = client.Close()
		return c
	}

	c.client = client
	c.enabled = true
	log.Info("Redis cache initialized")
	return c
}

func (c *Cache) Enabled() bool {
	return c.enabled
}

func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Set stores value as JSON.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, expiration).Err()
}

// Get decodes the JSON stored at key into dest.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if !c.enabled {
		return ErrMiss
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.enabled {
		return nil
	}
	return c.client.Del(ctx, key).Err()
}

// IsMiss reports whether err is a cache miss rather than a failure.
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}

func VehicleIMEIKey(imei string) string {
	return "vehicle:imei:" + imei
}

func vehicleStateKey(vehicleID string) string {
	return fmt.Sprintf("vehicle:%s:state", vehicleID)
}

// PublishState writes the live state hash, moves the vehicle on the fleet geo set
// and publishes the update on StateChannel in one pipeline.
func (c *Cache) PublishState(ctx context.Context, state model.VehicleState) error {
	if !c.enabled {
		return nil
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	key := vehicleStateKey(state.VehicleID)
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"vehicle_id":     state.VehicleID,
		"lat":            state.Position.Lat,
		"lng":            state.Position.Lng,
		"speed_kph":      state.SpeedKph,
		"status":         string(state.Status),
		"address":        state.Address,
		"last_report_at": state.LastReportAt.Unix(),
	})
	pipe.Expire(ctx, key, stateTTL)
	pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      state.VehicleID,
		Longitude: state.Position.Lng,
		Latitude:  state.Position.Lat,
	})
	pipe.Publish(ctx, StateChannel, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}
