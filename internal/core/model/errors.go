package model

import "errors"

// Ingestion errors.
var (
	ErrMalformedReport     = errors.New("malformed report")
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	ErrUnknownDevice       = errors.New("unknown device")
	ErrDuplicateDevice     = errors.New("duplicate device")
	ErrStaleReport         = errors.New("stale report")
)

// Operator and command errors.
var (
	ErrUnknownVehicle      = errors.New("unknown vehicle")
	ErrInvalidVehicle      = errors.New("invalid vehicle data")
	ErrCommandNotFound     = errors.New("command not found")
	ErrInvalidCommand      = errors.New("invalid command")
	ErrCommandInFlight     = errors.New("command in flight")
	ErrTransportFailure    = errors.New("transport failure")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrUnmatchedAck        = errors.New("unmatched acknowledgement")
	ErrInvalidTransition   = errors.New("invalid command transition")
	ErrInvalidQuery        = errors.New("invalid query")
)
