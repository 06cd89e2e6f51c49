// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package filter provides the signal conditioning used between the sensor
// readers and the estimators.
package filter

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/geo"
)

// Alpha returns the smoothing factor of a first-order low pass filter with
// the given cutoff frequency (Hz) sampled every dt seconds.
func Alpha(dt, cutoffHz float64) float64 {
	return dt / (dt + 1.0/(2*math.Pi*cutoffHz))
}

// LowPass is a first-order low pass filter. A NaN state is replaced by the
// next sample.
type LowPass struct {
	CutoffHz float64
	value    float64
	primed   bool
}

func NewLowPass(cutoffHz float64) *LowPass {
	return &LowPass{CutoffHz: cutoffHz}
}

// Apply feeds one sample taken dt seconds after the previous one.
func (f *LowPass) Apply(sample, dt float64) float64 {
	if !f.primed || math.IsNaN(f.value) {
		f.value = sample
		f.primed = true
		return f.value
	}
	a := Alpha(dt, f.CutoffHz)
	f.value = sample*a + f.value*(1-a)
	return f.value
}

// Reset seeds the filter output.
func (f *LowPass) Reset(v float64) {
	f.value = v
	f.primed = true
}

func (f *LowPass) Value() float64 { return f.value }

// LowPass2p is a second order Butterworth low pass filter for a fixed
// sample rate.
type LowPass2p struct {
	b0, b1, b2 float64
	a1, a2     float64
	d1, d2     float64
	primed     bool
}

// NewLowPass2p builds a filter for samples arriving at sampleHz with the
// given cutoff frequency.
func NewLowPass2p(sampleHz, cutoffHz float64) *LowPass2p {
	f := &LowPass2p{}
	fr := sampleHz / cutoffHz
	ohm := math.Tan(math.Pi / fr)
	c := 1 + 2*math.Cos(math.Pi/4)*ohm + ohm*ohm
	f.b0 = ohm * ohm / c
	f.b1 = 2 * f.b0
	f.b2 = f.b0
	f.a1 = 2 * (ohm*ohm - 1) / c
	f.a2 = (1 - 2*math.Cos(math.Pi/4)*ohm + ohm*ohm) / c
	return f
}

// Apply feeds one sample and returns the filtered value.
func (f *LowPass2p) Apply(sample float64) float64 {
	if !f.primed {
		f.Reset(sample)
	}
	d0 := sample - f.d1*f.a1 - f.d2*f.a2
	out := d0*f.b0 + f.d1*f.b1 + f.d2*f.b2
	f.d2 = f.d1
	f.d1 = d0
	return out
}

// Reset sets the internal state so that a constant input v passes through
// without transient.
func (f *LowPass2p) Reset(v float64) {
	d := v / (f.b0 + f.b1 + f.b2)
	f.d1, f.d2 = d, d
	f.primed = true
}

// Vector2p filters each axis of a vector independently.
type Vector2p [3]*LowPass2p

func NewVector2p(sampleHz, cutoffHz float64) Vector2p {
	return Vector2p{
		NewLowPass2p(sampleHz, cutoffHz),
		NewLowPass2p(sampleHz, cutoffHz),
		NewLowPass2p(sampleHz, cutoffHz),
	}
}

func (v Vector2p) Apply(s geo.Vector3) geo.Vector3 {
	return geo.Vector3{X: v[0].Apply(s.X), Y: v[1].Apply(s.Y), Z: v[2].Apply(s.Z)}
}
