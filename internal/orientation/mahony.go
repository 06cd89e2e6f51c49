// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/relabs-tech/flight_computer/internal/geo"
)

// Mahony is a nonlinear complementary filter on SO(3). Accel and mag each
// contribute a rotation error between the measured and estimated reference
// direction, fed back through their own PI gains.
type Mahony struct {
	KpAcc, KiAcc float64
	KpMag, KiMag float64

	q       geo.Quaternion
	bias    geo.Vector3
	intAcc  geo.Vector3
	intMag  geo.Vector3
	magRef  geo.Vector3
	rate    geo.Vector3
	started bool
}

func NewMahony() *Mahony {
	return &Mahony{
		KpAcc: 0.15, KiAcc: 0.0015,
		KpMag: 0.15, KiMag: 0.0015,
		q: geo.Identity,
	}
}

func (m *Mahony) Name() string { return "mahony" }

func (m *Mahony) Init(seed Seed) {
	m.q, m.magRef = InitialAttitude(seed)
	m.bias = seed.Gyro
	m.intAcc, m.intMag = geo.Vector3{}, geo.Vector3{}
	m.started = true
}

func (m *Mahony) Update(in Input) {
	if in.Dt <= 0 {
		return
	}
	gyro := in.Gyro.Sub(m.bias)
	m.rate = gyro

	// integral terms keep correcting between measurements
	corr := m.intAcc.Add(m.intMag)
	if a := in.Accel.Sub(in.ExtAccel); a.Norm() > 0 {
		measured := a.Scale(-1).Normalized()
		e := measured.Cross(m.q.Down())
		m.intAcc = m.intAcc.Add(e.Scale(m.KiAcc * in.Dt))
		corr = corr.Add(e.Scale(m.KpAcc))
	}
	if in.MagValid && in.Mag.Norm() > 0 {
		measured := in.Mag.Normalized()
		// horizontal reference rebuilt from the current estimate so that
		// mag only corrects heading
		h := m.q.BodyToNED(measured)
		ref := geo.Vector3{X: math.Hypot(h.X, h.Y), Z: h.Z}
		e := measured.Cross(m.q.NEDToBody(ref))
		m.intMag = m.intMag.Add(e.Scale(m.KiMag * in.Dt))
		corr = corr.Add(e.Scale(m.KpMag))
	}
	m.q = m.q.Integrate(gyro.Add(corr), in.Dt)
}

func (m *Mahony) Estimate() Estimate {
	nan := math.NaN()
	bias := m.bias.Sub(m.intAcc).Sub(m.intMag)
	return newEstimate(m.q, m.rate, bias, geo.Vector3{X: nan, Y: nan, Z: nan})
}

// Ready is true once the filter has been seeded.
func (m *Mahony) Ready() bool { return m.started }
