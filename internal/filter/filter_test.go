// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/flight_computer/internal/geo"
)

func TestLowPassConvergesToStep(t *testing.T) {
	f := NewLowPass(2)
	f.Reset(0)
	var out float64
	for i := 0; i < 3000; i++ {
		out = f.Apply(1, 0.001)
	}
	assert.InDelta(t, 1.0, out, 1e-6)
}

func TestLowPassFirstSamplePassesThrough(t *testing.T) {
	f := NewLowPass(20)
	assert.Equal(t, 12.3, f.Apply(12.3, 0.001))
}

func TestLowPass2pDCGainAndAttenuation(t *testing.T) {
	f := NewLowPass2p(1000, 60)
	var out float64
	for i := 0; i < 2000; i++ {
		out = f.Apply(3)
	}
	assert.InDelta(t, 3.0, out, 1e-9)

	// 400 Hz tone is far above the cutoff
	g := NewLowPass2p(1000, 60)
	g.Reset(0)
	peak := 0.0
	for i := 0; i < 2000; i++ {
		o := g.Apply(math.Sin(2 * math.Pi * 400 * float64(i) / 1000))
		if i > 1000 {
			peak = math.Max(peak, math.Abs(o))
		}
	}
	assert.Less(t, peak, 0.05)
}

func TestMotionDetector(t *testing.T) {
	m := NewMotionDetector(1)
	for i := 0; i < 10; i++ {
		assert.False(t, m.Add(geo.Vector3{Z: -9.8 + 0.01*float64(i%2)}))
	}
	avg, n := m.Average()
	assert.Equal(t, 10, n)
	assert.InDelta(t, -9.795, avg.Z, 1e-9)

	assert.True(t, m.Add(geo.Vector3{X: 2, Z: -9.8}))
	_, n = m.Average()
	assert.Equal(t, 1, n)
}
