package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"fleettrack/internal/core/model"
	"fleettrack/internal/core/repository"
	"fleettrack/internal/protocol"
	"fleettrack/internal/transport"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSender struct {
	mu   sync.Mutex
	sent []transport.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg transport.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	states []model.VehicleState
}

func (p *recordingPublisher) PublishState(_ context.Context, state model.VehicleState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
	return nil
}

type testEnv struct {
	clock      *fakeClock
	vehicles   repository.VehicleRepository
	states     repository.StateRepository
	entries    repository.HistoryRepository
	commands   repository.CommandRepository
	registry   Registry
	state      StateStore
	history    History
	dispatcher Dispatcher
	ingestor   Ingestor
	sender     *recordingSender
}

func newTestEnv(t *testing.T, autoRegister bool) *testEnv {
	t.Helper()
	log := zap.NewNop()
	env := &testEnv{
		clock:    newFakeClock(t0),
		vehicles: repository.NewInMemoryVehicleRepository(),
		states:   repository.NewInMemoryStateRepository(),
		entries:  repository.NewInMemoryHistoryRepository(),
		commands: repository.NewInMemoryCommandRepository(),
		sender:   &recordingSender{},
	}
	env.registry = NewRegistry(env.vehicles, nil, RegistryConfig{AutoRegister: autoRegister, DefaultOwnerID: "fleet-admin"}, log)
	env.state = NewStateStore(env.states, StateStoreConfig{OnlineWindow: 60 * time.Second, Now: env.clock.Now}, log)
	env.history = NewHistory(env.entries, log)
	env.dispatcher = NewDispatcher(env.commands, env.registry, env.sender, DispatcherConfig{Timeout: 2 * time.Minute, Now: env.clock.Now}, log)
	parser := protocol.NewParser(protocol.WithClock(env.clock.Now))
	env.ingestor = NewIngestor(parser, env.registry, env.state, env.history, env.dispatcher, log)
	return env
}

func (e *testEnv) register(t *testing.T, imei string) *model.Vehicle {
	t.Helper()
	v, err := e.registry.Register(context.Background(), "owner-1", "Truck "+imei, "abc-"+imei[len(imei)-3:], imei)
	if err != nil {
		t.Fatalf("register %s: %v", imei, err)
	}
	return v
}

func report(imei string, lat, lng, speed float64, ts time.Time) *model.LocationReport {
	return &model.LocationReport{
		IMEI:       imei,
		Position:   model.Position{Lat: lat, Lng: lng},
		SpeedKph:   speed,
		Timestamp:  ts,
		ReceivedAt: ts,
		Source:     string(protocol.ShapeJSON),
	}
}

var errBoom = errors.New("boom")
