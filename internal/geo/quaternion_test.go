// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEulerRoundTrip(t *testing.T) {
	cases := []struct {
		name             string
		roll, pitch, yaw float64
	}{
		{"level", 0, 0, 0},
		{"rolled", 0.3, 0, 0},
		{"pitched", 0, -0.4, 0},
		{"yawed", 0, 0, 2.5},
		{"mixed", -0.2, 0.35, -1.2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, p, y := FromEuler(tc.roll, tc.pitch, tc.yaw).Euler()
			assert.InDelta(t, tc.roll, r, 1e-9)
			assert.InDelta(t, tc.pitch, p, 1e-9)
			assert.InDelta(t, tc.yaw, y, 1e-9)
		})
	}
}

func TestDownMatchesRotation(t *testing.T) {
	q := FromEuler(0.25, -0.4, 1.1)
	want := q.NEDToBody(Vector3{0, 0, 1})
	got := q.Down()
	assert.InDelta(t, want.X, got.X, 1e-12)
	assert.InDelta(t, want.Y, got.Y, 1e-12)
	assert.InDelta(t, want.Z, got.Z, 1e-12)
}

func TestBodyToNEDInverse(t *testing.T) {
	q := FromEuler(0.1, 0.2, -0.7)
	v := Vector3{1, -2, 3}
	back := q.NEDToBody(q.BodyToNED(v))
	assert.InDelta(t, v.X, back.X, 1e-12)
	assert.InDelta(t, v.Y, back.Y, 1e-12)
	assert.InDelta(t, v.Z, back.Z, 1e-12)
}

func TestIntegrateYawRate(t *testing.T) {
	q := Identity
	for i := 0; i < 1000; i++ {
		q = q.Integrate(Vector3{Z: 0.5}, 0.001)
	}
	_, _, yaw := q.Euler()
	assert.InDelta(t, 0.5, yaw, 1e-4)
	assert.InDelta(t, 1.0, q.Norm(), 1e-12)
}

func TestRotationJacobianMatchesFiniteDifference(t *testing.T) {
	q := FromEuler(0.3, -0.2, 0.9)
	v := Vector3{0.4, -1.3, 9.1}
	jac := RotationJacobian(q, v)

	const h = 1e-7
	perturb := func(i int, d float64) Quaternion {
		p := q
		switch i {
		case 0:
			p.W += d
		case 1:
			p.X += d
		case 2:
			p.Y += d
		case 3:
			p.Z += d
		}
		return p
	}
	for col := 0; col < 4; col++ {
		plus := perturb(col, h).RotationMatrix().Apply(v)
		minus := perturb(col, -h).RotationMatrix().Apply(v)
		diff := plus.Sub(minus).Scale(1 / (2 * h)).Array()
		for row := 0; row < 3; row++ {
			assert.InDelta(t, diff[row], jac[row][col], 1e-5, "row %d col %d", row, col)
		}
	}
}

func TestWrapPi(t *testing.T) {
	assert.InDelta(t, -math.Pi+0.1, WrapPi(math.Pi+0.1), 1e-12)
	assert.InDelta(t, 0.2, RadianAdd(0.1, 0.1), 1e-12)
	assert.InDelta(t, math.Pi-0.1, WrapPi(-math.Pi-0.1), 1e-12)
}

func TestLocalFrameRoundTrip(t *testing.T) {
	var f LocalFrame
	f.SetOrigin(48.1, 11.5)
	n, e := f.ToNED(48.101, 11.502)
	assert.InDelta(t, 111.3, n, 0.5)
	lat, lon := f.ToLLH(n, e)
	assert.InDelta(t, 48.101, lat, 1e-9)
	assert.InDelta(t, 11.502, lon, 1e-9)
}
