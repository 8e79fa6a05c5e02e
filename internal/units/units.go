// Package units provides shared constants and validation for speed units
package units

import "strings"

// Unit constants. Tracking speed is computed in centimetres per second.
const (
	CMS = "cms"
	MPS = "mps"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{CMS, MPS}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertSpeed converts a speed from centimetres per second to the target units
func ConvertSpeed(speedCMS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedCMS / 100
	default:
		return speedCMS
	}
}

// ConvertSpeeds converts a whole series in place and returns it.
func ConvertSpeeds(speedsCMS []float64, targetUnits string) []float64 {
	if targetUnits == CMS || targetUnits == "" {
		return speedsCMS
	}
	for i, v := range speedsCMS {
		speedsCMS[i] = ConvertSpeed(v, targetUnits)
	}
	return speedsCMS
}

// Label returns the axis label for a unit.
func Label(unit string) string {
	switch unit {
	case MPS:
		return "m/s"
	default:
		return "cm/s"
	}
}
