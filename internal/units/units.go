// Package units converts provider temperature units and rounds values for display.
package units

import "math"

// absoluteZeroCelsius is 0 K expressed in degrees Celsius.
const absoluteZeroCelsius = -273.15

// KelvinToCelsius converts a Kelvin temperature to Celsius.
func KelvinToCelsius(kelvin float64) float64 {
	return kelvin + absoluteZeroCelsius
}

// CelsiusToKelvin is the inverse of KelvinToCelsius.
func CelsiusToKelvin(celsius float64) float64 {
	return celsius - absoluteZeroCelsius
}

// Round rounds v to the given number of decimal places, halves away from zero.
// Negative places are treated as zero.
func Round(v float64, places int) float64 {
	if places < 0 {
		places = 0
	}
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
