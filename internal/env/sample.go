// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package env holds barometer samples and the pressure-altitude model.
package env

import (
	"math"

	"periph.io/x/conn/v3/physic"
)

// Sample represents a single environmental measurement (baro).
type Sample struct {
	Temperature float64 `json:"temp_c"`      // °C
	Pressure    float64 `json:"pressure_pa"` // Pa
}

// FromPhysic converts a periph sensor reading.
func FromPhysic(e physic.Env) Sample {
	return Sample{
		Temperature: e.Temperature.Celsius(),
		Pressure:    float64(e.Pressure) / float64(physic.Pascal),
	}
}

// Altitude returns the height in meters above the point where
// groundPressure (Pa) and groundTemp (°C) were measured.
func Altitude(pressure, groundPressure, groundTemp float64) float64 {
	if groundPressure <= 0 || pressure <= 0 {
		return math.NaN()
	}
	scaling := pressure / groundPressure
	t := groundTemp + 273.15
	return 153.8462 * t * (1.0 - math.Exp(0.190259*math.Log(scaling)))
}
