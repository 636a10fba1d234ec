package model

import (
	"math"
	"time"

	"fleettrack/internal/core/util"
)

type Position struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// Valid reports whether both coordinates are finite and inside WGS84 bounds.
func (p Position) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// LocationReport is one normalized device report.
type LocationReport struct {
	IMEI       string    `json:"imei"`
	Position   Position  `json:"position"`
	SpeedKph   float64   `json:"speedKph"`
	Address    string    `json:"address,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"receivedAt"`
	Source     string    `json:"source"`
	CommandID  string    `json:"commandId,omitempty"`
	Raw        []byte    `json:"-"`
}

// HistoryEntry is the durable record of a submitted report.
type HistoryEntry struct {
	ID         string    `json:"id" bson:"id"`
	VehicleID  string    `json:"vehicleId" bson:"vehicleid"`
	IMEI       string    `json:"imei" bson:"imei"`
	Position   Position  `json:"position" bson:"position"`
	SpeedKph   float64   `json:"speedKph" bson:"speedkph"`
	Address    string    `json:"address,omitempty" bson:"address,omitempty"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
	ReceivedAt time.Time `json:"receivedAt" bson:"receivedat"`
	Source     string    `json:"source" bson:"source"`
	// Stale is decided from the state read before the report is applied, so two
	// concurrent out-of-order reports may both be recorded as not stale. The
	// state store's answer is authoritative.
	Stale      bool      `json:"stale" bson:"stale"`
	// Raw is the payload exactly as received. Binary frames are kept intact;
	// JSON encodes it as base64.
	Raw        []byte    `json:"raw,omitempty" bson:"raw"`
}

func NewHistoryEntry(vehicleID string, report *LocationReport, stale bool) *HistoryEntry {
	return &HistoryEntry{
		ID:         util.GenerateID(),
		VehicleID:  vehicleID,
		IMEI:       report.IMEI,
		Position:   report.Position,
		SpeedKph:   report.SpeedKph,
		Address:    report.Address,
		Timestamp:  report.Timestamp.UTC(),
		ReceivedAt: report.ReceivedAt.UTC(),
		Source:     report.Source,
		Stale:      stale,
		Raw:        append([]byte(nil), report.Raw...),
	}
}
