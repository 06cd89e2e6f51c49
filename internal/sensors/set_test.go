// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/flight_computer/internal/env"
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/gps"
	"github.com/relabs-tech/flight_computer/internal/imu"
)

type fakeIMU struct {
	s  imu.Sample
	st Status
}

func (f *fakeIMU) ReadIMU() (imu.Sample, Status) { return f.s, f.st }

type fakeMag struct {
	v  geo.Vector3
	st Status
}

func (f *fakeMag) ReadMag() (geo.Vector3, Status) { return f.v, f.st }

type fakeBaro struct {
	s  env.Sample
	st Status
}

func (f *fakeBaro) ReadBaro() (env.Sample, Status) { return f.s, f.st }

type fakeGPS struct {
	f  gps.Fix
	st Status
}

func (f *fakeGPS) ReadGPS() (gps.Fix, Status) { return f.f, f.st }

type fakeRange float64

func (f fakeRange) ReadRange() (float64, Status) { return float64(f), Fresh }

func TestReadIMUAveragesHealthy(t *testing.T) {
	a := &fakeIMU{s: imu.Sample{Accel: geo.Vector3{Z: -10}, Gyro: geo.Vector3{X: 1}}, st: Fresh}
	b := &fakeIMU{s: imu.Sample{Accel: geo.Vector3{Z: -9}, Gyro: geo.Vector3{X: 3}}, st: Fresh}
	c := &fakeIMU{s: imu.Sample{Accel: geo.Vector3{Z: 100}}, st: Unhealthy}
	s := &Set{IMUs: []IMUReader{a, b, c}}

	smp, bits := s.ReadIMU(1000)
	assert.Zero(t, bits)
	assert.InDelta(t, -9.5, smp.Accel.Z, 1e-12)
	assert.InDelta(t, 2.0, smp.Gyro.X, 1e-12)
}

func TestReadIMUNoHealthySensorRaisesBits(t *testing.T) {
	s := &Set{IMUs: []IMUReader{&fakeIMU{st: Unhealthy}}}
	_, bits := s.ReadIMU(1000)
	assert.Equal(t, ErrGyro|ErrAccel, bits)
}

func TestStalenessRaisesBit(t *testing.T) {
	m := &fakeMag{v: geo.Vector3{X: 20}, st: Fresh}
	s := &Set{Mags: []MagReader{m}, StaleLimit: 100}

	_, fresh, bits := s.ReadMag(1000)
	assert.True(t, fresh)
	assert.Zero(t, bits)

	m.st = Stale
	v, fresh, bits := s.ReadMag(1050)
	assert.False(t, fresh)
	assert.Zero(t, bits)
	assert.Equal(t, 20.0, v.X)

	_, _, bits = s.ReadMag(1200)
	assert.Equal(t, ErrMagnet, bits)

	m.st = Fresh
	_, _, bits = s.ReadMag(1300)
	assert.Zero(t, bits)
}

func TestReadBaro(t *testing.T) {
	s := &Set{Baros: []BaroReader{
		&fakeBaro{s: env.Sample{Pressure: 100000, Temperature: 20}, st: Fresh},
		&fakeBaro{s: env.Sample{Pressure: 100100, Temperature: 22}, st: Stale},
	}}
	smp, fresh, bits := s.ReadBaro(10)
	assert.Zero(t, bits)
	assert.True(t, fresh)
	assert.InDelta(t, 100050, smp.Pressure, 1e-9)
	assert.InDelta(t, 21, smp.Temperature, 1e-9)

	empty := &Set{}
	_, _, bits = empty.ReadBaro(10)
	assert.Equal(t, ErrBaro, bits)
}

func TestBestGPS(t *testing.T) {
	s := &Set{}
	_, _, bits := s.BestGPS()
	assert.Equal(t, ErrGPS, bits)

	s.GPS = []GPSReader{
		&fakeGPS{f: gps.Fix{HDOP: 1.8, Latitude: 1}, st: Fresh},
		&fakeGPS{f: gps.Fix{HDOP: 0.9, Latitude: 2}, st: Stale},
		&fakeGPS{f: gps.Fix{HDOP: 0.5, Latitude: 3}, st: Unhealthy},
		&fakeGPS{f: gps.Fix{HDOP: 0, Latitude: 4}, st: Fresh},
	}
	fix, fresh, bits := s.BestGPS()
	assert.Zero(t, bits)
	assert.False(t, fresh)
	assert.Equal(t, 2.0, fix.Latitude)
}

func TestReadRangeWindow(t *testing.T) {
	cases := []struct {
		name string
		in   float64
		nan  bool
	}{
		{"valid", 1.2, false},
		{"zero", 0, true},
		{"too far", 4.5, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Set{Range: fakeRange(tc.in)}
			got := s.ReadRange()
			assert.Equal(t, tc.nan, math.IsNaN(got))
		})
	}
	assert.True(t, math.IsNaN((&Set{}).ReadRange()))
}

func TestErrorBitsString(t *testing.T) {
	assert.Equal(t, "none", ErrorBits(0).String())
	assert.Equal(t, "gyro|baro", (ErrGyro | ErrBaro).String())
}
