// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package filter

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/geo"
)

// MotionDetector averages a vector signal for as long as it stays within
// Threshold of the running mean on every axis. A sample outside that band
// counts as motion and restarts the window from that sample.
type MotionDetector struct {
	Threshold float64
	sum       geo.Vector3
	count     int
}

func NewMotionDetector(threshold float64) *MotionDetector {
	return &MotionDetector{Threshold: threshold}
}

// Add feeds a sample and reports whether motion was detected.
func (m *MotionDetector) Add(v geo.Vector3) bool {
	moved := false
	if m.count > 0 {
		avg := m.sum.Scale(1 / float64(m.count))
		d := v.Sub(avg)
		if math.Abs(d.X) > m.Threshold || math.Abs(d.Y) > m.Threshold || math.Abs(d.Z) > m.Threshold {
			m.Reset()
			moved = true
		}
	}
	m.sum = m.sum.Add(v)
	m.count++
	return moved
}

// Average returns the mean of the current still window and its length.
func (m *MotionDetector) Average() (geo.Vector3, int) {
	if m.count == 0 {
		return geo.Vector3{}, 0
	}
	return m.sum.Scale(1 / float64(m.count)), m.count
}

func (m *MotionDetector) Count() int { return m.count }

func (m *MotionDetector) Reset() {
	m.sum = geo.Vector3{}
	m.count = 0
}
