package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fleettrack/internal/core/model"
	"fleettrack/internal/metrics"
	"fleettrack/internal/protocol"
)

type IngestResult struct {
	VehicleID string `json:"vehicleId"`
	// State is nil when the report was stale.
	State     *model.VehicleState `json:"state,omitempty"`
	Entry     *model.HistoryEntry `json:"-"`
	Confirmed []*model.Command    `json:"confirmed,omitempty"`
}

// Ingestor is the single device-report pipeline: parse, resolve, then apply to
// state and append to history concurrently.
type Ingestor interface {
	Ingest(ctx context.Context, raw []byte, hint protocol.Shape) (*IngestResult, error)
	// IngestFields runs the pipeline for payloads already decoded by a session
	// protocol such as GT06.
	IngestFields(ctx context.Context, fields protocol.Fields, raw []byte, source protocol.Shape) (*IngestResult, error)
	Acknowledge(ctx context.Context, imei, commandID string) (*model.Command, error)
}

type ingestor struct {
	parser     *protocol.Parser
	registry   Registry
	state      StateStore
	history    History
	dispatcher Dispatcher
	log        *zap.Logger
}

func NewIngestor(parser *protocol.Parser, registry Registry, state StateStore, history History, dispatcher Dispatcher, log *zap.Logger) Ingestor {
	return &ingestor{
		parser:     parser,
		registry:   registry,
		state:      state,
		history:    history,
		dispatcher: dispatcher,
		log:        log,
	}
}

func (s *ingestor) Ingest(ctx context.Context, raw []byte, hint protocol.Shape) (*IngestResult, error) {
	start := time.Now()
	report, err := s.parser.Parse(raw, hint)
	if err != nil {
		return nil, s.reject(err, string(hint), nil)
	}
	return s.process(ctx, report, start)
}

func (s *ingestor) IngestFields(ctx context.Context, fields protocol.Fields, raw []byte, source protocol.Shape) (*IngestResult, error) {
	start := time.Now()
	report, err := s.parser.Normalize(fields, raw, source, time.Time{})
	if err != nil {
		return nil, s.reject(err, string(source), nil)
	}
	return s.process(ctx, report, start)
}

func (s *ingestor) process(ctx context.Context, report *model.LocationReport, start time.Time) (*IngestResult, error) {
	metrics.ReportsReceived.WithLabelValues(report.Source).Inc()
	defer func() {
		metrics.IngestLatency.WithLabelValues(report.Source).Observe(time.Since(start).Seconds())
	}()

	vehicle, err := s.registry.Resolve(ctx, report.IMEI, report.Source)
	if err != nil {
		return nil, s.reject(err, report.Source, report)
	}
	result := &IngestResult{VehicleID: vehicle.ID}

	// The stale flag on the history entry is what a non-blocking read saw at
	// receive time; the state store makes the binding decision.
	stale := false
	if cur, err := s.state.Get(ctx, vehicle.ID); err == nil {
		stale = report.Timestamp.Before(cur.LastReportAt)
	}

	var (
		g        errgroup.Group
		state    model.VehicleState
		stateErr error
	)
	g.Go(func() error {
		entry, err := s.history.Append(ctx, vehicle.ID, report, stale)
		result.Entry = entry
		return err
	})
	g.Go(func() error {
		state, stateErr = s.state.Apply(ctx, vehicle.ID, report)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, s.reject(err, report.Source, report)
	}

	confirmed, err := s.dispatcher.ObserveReport(ctx, vehicle.ID, report)
	if err != nil {
		s.log.Warn("failed to match report against commands", zap.String("vehicle_id", vehicle.ID), zap.Error(err))
	}
	result.Confirmed = confirmed

	if stateErr != nil {
		return result, s.reject(stateErr, report.Source, report)
	}
	result.State = &state
	return result, nil
}

func (s *ingestor) Acknowledge(ctx context.Context, imei, commandID string) (*model.Command, error) {
	return s.dispatcher.Confirm(ctx, imei, commandID)
}

// reject counts and logs a rejected report and returns err unchanged.
func (s *ingestor) reject(err error, source string, report *model.LocationReport) error {
	reason := RejectReason(err)
	metrics.ReportsRejected.WithLabelValues(reason).Inc()

	fields := []zap.Field{zap.String("reason", reason), zap.String("source", source), zap.Error(err)}
	if report != nil {
		fields = append(fields, zap.String("imei", report.IMEI))
	}
	if reason == "internal" {
		s.log.Error("report processing failed", fields...)
	} else {
		s.log.Info("report rejected", fields...)
	}
	return err
}

// RejectReason names the category of an ingestion error.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, model.ErrMalformedReport):
		return "malformed"
	case errors.Is(err, model.ErrUnsupportedEncoding):
		return "unsupported"
	case errors.Is(err, model.ErrUnknownDevice):
		return "unknown_device"
	case errors.Is(err, model.ErrStaleReport):
		return "stale"
	}
	return "internal"
}
