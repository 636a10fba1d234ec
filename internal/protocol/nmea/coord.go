// Package nmea holds helpers shared by the text tracker protocols.
package nmea

import (
	"errors"
	"strconv"
	"strings"
)

const KnotsToKph = 1.852

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// ParseCoordinate converts (d)ddmm.mmmm plus a hemisphere letter to signed decimal degrees.
func ParseCoordinate(value, hemisphere string) (float64, error) {
	value = strings.TrimSpace(value)
	dot := strings.IndexByte(value, '.')
	if dot < 0 {
		dot = len(value)
	}
	if dot < 3 {
		return 0, ErrInvalidCoordinate
	}

	degrees, err := strconv.ParseFloat(value[:dot-2], 64)
	if err != nil {
		return 0, ErrInvalidCoordinate
	}
	minutes, err := strconv.ParseFloat(value[dot-2:], 64)
	if err != nil || minutes >= 60 {
		return 0, ErrInvalidCoordinate
	}

	result := degrees + minutes/60.0
	switch strings.ToUpper(strings.TrimSpace(hemisphere)) {
	case "N", "E":
	case "S", "W":
		result = -result
	default:
		return 0, ErrInvalidCoordinate
	}
	return result, nil
}

// FormatFloat renders a float without losing precision.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// KnotsField converts a speed in knots to a km/h field value. Unparseable input yields "".
func KnotsField(knots string) string {
	f, err := strconv.ParseFloat(strings.TrimSpace(knots), 64)
	if err != nil {
		return ""
	}
	return FormatFloat(f * KnotsToKph)
}
