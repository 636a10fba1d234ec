package model

import (
	"strings"
	"time"

	"fleettrack/internal/core/util"
)

// Placeholder identity given to vehicles created by auto-registration.
const (
	AutoRegisteredName  = "Auto-registered"
	AutoRegisteredPlate = "UNKNOWN"
)

type Vehicle struct {
	ID        string     `json:"id" bson:"id"`
	OwnerID   string     `json:"ownerId" bson:"ownerid"`
	Name      string     `json:"name" bson:"name"`
	Plate     string     `json:"plate" bson:"plate"`
	IMEI      string     `json:"imei" bson:"imei"`
	CreatedAt time.Time  `json:"createdAt" bson:"createdat"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" bson:"deletedat,omitempty"`
}

func NewVehicle(ownerID, name, plate, imei string) *Vehicle {
	return &Vehicle{
		ID:        util.GenerateID(),
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(name),
		Plate:     strings.ToUpper(strings.TrimSpace(plate)),
		IMEI:      strings.TrimSpace(imei),
		CreatedAt: time.Now().UTC(),
	}
}

// NewAutoRegisteredVehicle creates a vehicle for a device seen for the first time.
// Devices speaking a tracker protocol are named after it, e.g. "TK303 Auto".
func NewAutoRegisteredVehicle(ownerID, imei, protocol string) *Vehicle {
	switch protocol {
	case "tk303", "h02", "gt06":
		p := strings.ToUpper(protocol)
		return NewVehicle(ownerID, p+" Auto", p, imei)
	}
	return NewVehicle(ownerID, AutoRegisteredName, AutoRegisteredPlate, imei)
}

// IsDeleted reports whether the vehicle was soft-deleted. Its IMEI stays reserved.
func (v *Vehicle) IsDeleted() bool {
	return v.DeletedAt != nil
}

func (v *Vehicle) SoftDelete(at time.Time) {
	if v.DeletedAt == nil {
		t := at.UTC()
		v.DeletedAt = &t
	}
}
