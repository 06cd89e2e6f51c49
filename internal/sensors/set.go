// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/env"
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/gps"
	"github.com/relabs-tech/flight_computer/internal/imu"
)

// DefaultStaleLimit is how long (µs) a kind may go without a fresh sample
// before its error bit is raised.
const DefaultStaleLimit = 500_000

// MaxRange is the upper bound (m) of a usable range finder reading.
const MaxRange = 4.5

var nan = math.NaN()

// Set aggregates every reader the vehicle carries. Redundant readers of one
// kind are averaged over the healthy ones.
type Set struct {
	IMUs    []IMUReader
	Mags    []MagReader
	Baros   []BaroReader
	GPS     []GPSReader
	Flow    FlowReader
	Range   RangeReader
	Battery BatteryReader

	StaleLimit int64

	lastIMU, lastMag, lastBaro int64
}

func (s *Set) staleLimit() int64 {
	if s.StaleLimit <= 0 {
		return DefaultStaleLimit
	}
	return s.StaleLimit
}

// track updates the last fresh time of a kind and reports whether it has
// been stale for too long.
func (s *Set) track(last *int64, now int64, fresh bool) bool {
	if fresh || *last == 0 {
		*last = now
	}
	return now-*last > s.staleLimit()
}

// ReadIMU averages the healthy inertial sensors.
func (s *Set) ReadIMU(now int64) (imu.Sample, ErrorBits) {
	var sum imu.Sample
	n, fresh := 0, false
	for _, r := range s.IMUs {
		smp, st := r.ReadIMU()
		if !st.Healthy() {
			continue
		}
		sum.Accel = sum.Accel.Add(smp.Accel)
		sum.Gyro = sum.Gyro.Add(smp.Gyro)
		sum.Temperature += smp.Temperature
		fresh = fresh || st == Fresh
		n++
	}
	stale := s.track(&s.lastIMU, now, fresh)
	if n == 0 || stale {
		return imu.Sample{}, ErrGyro | ErrAccel
	}
	k := 1 / float64(n)
	return imu.Sample{
		Accel:       sum.Accel.Scale(k),
		Gyro:        sum.Gyro.Scale(k),
		Temperature: sum.Temperature * k,
	}, 0
}

// ReadMag averages the healthy magnetometers. The bool reports whether at
// least one of them delivered a new sample.
func (s *Set) ReadMag(now int64) (geo.Vector3, bool, ErrorBits) {
	var sum geo.Vector3
	n, fresh := 0, false
	for _, r := range s.Mags {
		v, st := r.ReadMag()
		if !st.Healthy() {
			continue
		}
		sum = sum.Add(v)
		fresh = fresh || st == Fresh
		n++
	}
	stale := s.track(&s.lastMag, now, fresh)
	if n == 0 || stale {
		return geo.Vector3{}, false, ErrMagnet
	}
	return sum.Scale(1 / float64(n)), fresh, 0
}

// ReadBaro averages the healthy barometers.
func (s *Set) ReadBaro(now int64) (env.Sample, bool, ErrorBits) {
	var sum env.Sample
	n, fresh := 0, false
	for _, r := range s.Baros {
		smp, st := r.ReadBaro()
		if !st.Healthy() {
			continue
		}
		sum.Pressure += smp.Pressure
		sum.Temperature += smp.Temperature
		fresh = fresh || st == Fresh
		n++
	}
	stale := s.track(&s.lastBaro, now, fresh)
	if n == 0 || stale {
		return env.Sample{}, false, ErrBaro
	}
	k := 1 / float64(n)
	return env.Sample{Pressure: sum.Pressure * k, Temperature: sum.Temperature * k}, fresh, 0
}

// BestGPS returns the healthy fix with the lowest positive HDOP. Only a
// vehicle without any receiver raises ErrGPS; losing the fix is handled by
// the position estimator.
func (s *Set) BestGPS() (gps.Fix, bool, ErrorBits) {
	if len(s.GPS) == 0 {
		return gps.Fix{}, false, ErrGPS
	}
	var best gps.Fix
	found, fresh := false, false
	for _, r := range s.GPS {
		fix, st := r.ReadGPS()
		if !st.Healthy() || fix.HDOP <= 0 {
			continue
		}
		if !found || fix.HDOP < best.HDOP {
			best, fresh, found = fix, st == Fresh, true
		}
	}
	return best, fresh, 0
}

// ReadRange returns the ground distance, NaN when out of the (0, 4.5) m
// window or unavailable.
func (s *Set) ReadRange() float64 {
	if s.Range == nil {
		return nan
	}
	d, st := s.Range.ReadRange()
	if !st.Healthy() || d <= 0 || d >= MaxRange {
		return nan
	}
	return d
}

// ReadFlow returns the latest flow frame if one is available.
func (s *Set) ReadFlow() (FlowFrame, bool) {
	if s.Flow == nil {
		return FlowFrame{}, false
	}
	f, st := s.Flow.ReadFlow()
	return f, st == Fresh
}

// ReadBattery returns the power monitor reading.
func (s *Set) ReadBattery() (Battery, bool) {
	if s.Battery == nil {
		return Battery{}, false
	}
	b, st := s.Battery.ReadBattery()
	return b, st.Healthy()
}
