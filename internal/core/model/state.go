package model

import "time"

type Status string

const (
	StatusOnline  Status = "online"
	StatusStopped Status = "stopped"
	StatusOffline Status = "offline"
)

// VehicleState is the current snapshot of a vehicle. Values are copied, never shared.
type VehicleState struct {
	VehicleID    string    `json:"vehicleId" bson:"vehicleid"`
	Position     Position  `json:"position" bson:"position"`
	SpeedKph     float64   `json:"speedKph" bson:"speedkph"`
	Status       Status    `json:"status" bson:"-"`
	Address      string    `json:"address,omitempty" bson:"address,omitempty"`
	LastReportAt time.Time `json:"lastReportAt" bson:"lastreportat"`
}

// HasReported is false for vehicles that never had a report accepted.
func (s VehicleState) HasReported() bool {
	return !s.LastReportAt.IsZero()
}
