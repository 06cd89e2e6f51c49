// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package safety

import "math"

const (
	// InternalResistance of the battery pack (Ω).
	InternalResistance = 0.05

	lowVoltage1    = 11.0
	lowVoltage2    = 10.8
	lowPowerDwell  = 3.0 // s
	altCompensate  = 0.002
	minLiveVoltage = 6.0
)

// LowPower raises a sticky battery warning level. Level 2 forces a landing.
type LowPower struct {
	level  int
	dwell1 float64
	dwell2 float64
}

// InternalVoltage is the open circuit voltage estimated from the load.
func InternalVoltage(voltage, current float64) float64 {
	return voltage + current*InternalResistance
}

// Update feeds one tick. relAlt is the height above the takeoff point, used
// to raise the thresholds. It returns the current level.
func (l *LowPower) Update(voltage, current, relAlt, dt float64) int {
	if dt > 0.1 || math.IsNaN(voltage) || math.IsNaN(current) {
		return l.level
	}
	ref := InternalVoltage(voltage, current)
	delta := math.Max(0, relAlt) * altCompensate
	switch {
	case ref > minLiveVoltage && ref < lowVoltage2+delta:
		l.dwell2 += dt
	case ref > minLiveVoltage && ref < lowVoltage1+delta:
		l.dwell1 += dt
		l.dwell2 = 0
	default:
		l.dwell1, l.dwell2 = 0, 0
	}
	if l.dwell1 > lowPowerDwell {
		l.level = max(l.level, 1)
	}
	if l.dwell2 > lowPowerDwell {
		l.level = max(l.level, 2)
	}
	return l.level
}

func (l *LowPower) Level() int { return l.level }
