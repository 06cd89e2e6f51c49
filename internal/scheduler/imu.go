// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package scheduler

import (
	"sync"

	"github.com/relabs-tech/flight_computer/internal/filter"
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/imu"
	"github.com/relabs-tech/flight_computer/internal/sensors"
)

const (
	// IMUPeriod is the sampling period of the IMU task (µs).
	IMUPeriod = 1000

	accelCutoff = 20.0 // Hz
	gyroCutoff  = 60.0 // Hz
)

// IMUFrame is the filtered IMU state handed to the estimators.
type IMUFrame struct {
	Raw         imu.Sample // last raw sample
	Accel       geo.Vector3
	Gyro        geo.Vector3
	Temperature float64
	Errors      sensors.ErrorBits
	// Samples counts the raw samples taken since the previous Lock.
	Samples int
	Time    int64
}

// IMUReadFunc returns the averaged IMU sample and the error bits of the
// IMU sensors, see sensors.Set.ReadIMU.
type IMUReadFunc func(now int64) (imu.Sample, sensors.ErrorBits)

// IMUSampler runs the high rate IMU filters. While the control loop holds
// the input lock the filters keep running but the published frame does not
// change.
type IMUSampler struct {
	read IMUReadFunc

	mu        sync.Mutex
	accel     [3]*filter.LowPass
	gyro      filter.Vector2p
	last      int64
	live      IMUFrame
	published IMUFrame
	locked    bool
}

func NewIMUSampler(read IMUReadFunc) *IMUSampler {
	s := &IMUSampler{
		read: read,
		gyro: filter.NewVector2p(1e6/IMUPeriod, gyroCutoff),
	}
	for i := range s.accel {
		s.accel[i] = filter.NewLowPass(accelCutoff)
	}
	return s
}

// Sample reads and filters one IMU sample. It is the handler of the IMU task.
func (s *IMUSampler) Sample(now int64) {
	smp, errs := s.read(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.Errors = errs
	s.live.Time = now
	if errs == 0 {
		dt := float64(IMUPeriod) / 1e6
		if s.last > 0 && now > s.last {
			dt = float64(now-s.last) / 1e6
		}
		s.last = now
		s.live.Raw = smp
		s.live.Accel = geo.Vector3{
			X: s.accel[0].Apply(smp.Accel.X, dt),
			Y: s.accel[1].Apply(smp.Accel.Y, dt),
			Z: s.accel[2].Apply(smp.Accel.Z, dt),
		}
		s.live.Gyro = s.gyro.Apply(smp.Gyro)
		s.live.Temperature = smp.Temperature
		s.live.Samples++
	}
	if !s.locked {
		s.published = s.live
	}
}

// Lock freezes the published frame and returns it. The sample counter
// restarts.
func (s *IMUSampler) Lock() IMUFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = true
	f := s.published
	s.live.Samples = 0
	return f
}

// Unlock releases the input lock and publishes the latest filtered values.
func (s *IMUSampler) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = false
	s.published = s.live
}

// Locked reports whether the control loop holds the input lock.
func (s *IMUSampler) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}
