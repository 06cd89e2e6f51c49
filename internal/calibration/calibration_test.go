// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/flight_computer/internal/geo"
)

var (
	trueBias  = geo.Vector3{X: 0.2, Y: -0.1, Z: 0.3}
	trueScale = geo.Vector3{X: 1.02, Y: 0.98, Z: 1.01}
)

// distort turns a true reading into what a sensor with trueBias and
// trueScale reports.
func distort(v geo.Vector3, bias, scale geo.Vector3) geo.Vector3 {
	return geo.Vector3{X: v.X/scale.X - bias.X, Y: v.Y/scale.Y - bias.Y, Z: v.Z/scale.Z - bias.Z}
}

func facePoints() []geo.Vector3 {
	var pts []geo.Vector3
	for a := 0; a < 3; a++ {
		for _, sign := range []float64{-1, 1} {
			var t [3]float64
			t[a] = sign * geo.G
			pts = append(pts, distort(geo.Vector3{X: t[0], Y: t[1], Z: t[2]}, trueBias, trueScale))
		}
	}
	return pts
}

func assertVec(t *testing.T, want, got geo.Vector3, delta float64) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, delta)
	assert.InDelta(t, want.Y, got.Y, delta)
	assert.InDelta(t, want.Z, got.Z, delta)
}

func TestSphereFitRecoversBiasAndScale(t *testing.T) {
	c, err := SphereFit(facePoints(), geo.G)
	require.NoError(t, err)
	assertVec(t, trueBias, c.Bias, 1e-6)
	assertVec(t, trueScale, c.Scale, 1e-6)
	for _, p := range facePoints() {
		assert.InDelta(t, geo.G, c.Apply(p).Norm(), 1e-6)
	}
}

func TestSphereFitNeedsSixPoints(t *testing.T) {
	_, err := SphereFit(facePoints()[:5], geo.G)
	assert.Error(t, err)
}

func TestClassifyFace(t *testing.T) {
	cases := []struct {
		v    geo.Vector3
		want int
	}{
		{geo.Vector3{X: -9.8}, 0},
		{geo.Vector3{X: 9.8}, 1},
		{geo.Vector3{Y: -9.8}, 2},
		{geo.Vector3{Y: 9.8}, 3},
		{geo.Vector3{Z: -9.8}, 4},
		{geo.Vector3{Z: 7.5}, 5},
		{geo.Vector3{X: 6, Z: -6}, -1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyFace(tc.v), "%+v", tc.v)
	}
}

func TestAccelSessionCollectsFaces(t *testing.T) {
	s := NewAccelSession()
	assert.Equal(t, -1, s.State())
	assert.False(t, s.Pending())

	s.Start()
	assert.True(t, s.Pending())
	assert.Equal(t, 0, s.State())

	faces := facePoints()
	for i, p := range faces {
		for n := 0; n < 450; n++ {
			s.Add(p)
		}
		_, ok, err := s.Finish()
		require.NoError(t, err)
		assert.Equal(t, i == len(faces)-1, ok, "face %d", i)
	}
	assert.Equal(t, 0x3f, s.State())
	assert.True(t, s.Done())
	assert.False(t, s.Pending())

	counts := s.Counts()
	for _, n := range counts {
		assert.Equal(t, 450, n)
	}
}

func TestAccelSessionShortFaceStaysPending(t *testing.T) {
	s := NewAccelSession()
	s.Start()
	for i, p := range facePoints() {
		n := 300
		if i == 2 {
			n = 90
		}
		for k := 0; k < n; k++ {
			s.Add(p)
		}
	}
	_, ok, err := s.Finish()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, s.Pending())
	assert.Equal(t, 0, s.State(), "no face above the report threshold")
}

func spherePoints(n int, radius float64, bias, scale geo.Vector3) []geo.Vector3 {
	pts := make([]geo.Vector3, 0, n)
	golden := math.Pi * (3 - math.Sqrt(5))
	for i := 0; i < n; i++ {
		z := 1 - 2*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - z*z)
		phi := golden * float64(i)
		v := geo.Vector3{X: r * math.Cos(phi), Y: r * math.Sin(phi), Z: z}.Scale(radius)
		pts = append(pts, distort(v, bias, scale))
	}
	return pts
}

func TestEllipsoidFit(t *testing.T) {
	bias := geo.Vector3{X: 12, Y: -7, Z: 3}
	scale := geo.Vector3{X: 1.1, Y: 0.9, Z: 1.0}
	c, res, err := EllipsoidFit(spherePoints(400, 48, bias, scale))
	require.NoError(t, err)
	assertVec(t, bias, c.Bias, 1e-6)
	assert.InDelta(t, scale.X/scale.Y, c.Scale.X/c.Scale.Y, 1e-6)
	assert.InDelta(t, scale.Z/scale.Y, c.Scale.Z/c.Scale.Y, 1e-6)
	assert.Less(t, res.Max, 1e-6)
}

func TestFitMagGrades(t *testing.T) {
	good := FitMag(spherePoints(300, 48, geo.Vector3{X: 5}, geo.Vector3{X: 1, Y: 1, Z: 1}))
	assert.Equal(t, ResultOK, good.Code)
	assert.Equal(t, 300, good.Points)

	assert.Equal(t, ResultTooFew, FitMag(spherePoints(20, 48, geo.Vector3{}, geo.Vector3{X: 1, Y: 1, Z: 1})).Code)

	noisy := spherePoints(300, 48, geo.Vector3{}, geo.Vector3{X: 1, Y: 1, Z: 1})
	for i := range noisy {
		if i%2 == 0 {
			noisy[i] = noisy[i].Scale(1.3)
		}
	}
	assert.NotEqual(t, ResultOK, FitMag(noisy).Code)
}

func TestMagSessionStages(t *testing.T) {
	m := NewMagSession()
	stage, result := m.State()
	assert.Equal(t, 0, stage)
	assert.Equal(t, ResultNever, result)

	m.Start()
	field := geo.Vector3{X: 20, Z: 40}
	const dt = 0.01
	steps := func(roll, pitch float64, rate geo.Vector3) bool {
		ready := false
		for i := 0; i < 700; i++ {
			ready = m.Add(field, roll, pitch, rate, dt)
		}
		return ready
	}

	// rotating about the wrong axis does not count
	assert.False(t, steps(0, 0, geo.Vector3{X: 1}))
	assert.Equal(t, StageHorizontal, m.Stage())

	assert.False(t, steps(0, 0, geo.Vector3{Z: 1}))
	stage, _ = m.State()
	assert.Equal(t, 2, stage)

	// not yet nose down
	assert.False(t, steps(0, 0.5, geo.Vector3{X: 1}))
	assert.Equal(t, StageVerticalPitch, m.Stage())
	assert.False(t, steps(0, -1.3, geo.Vector3{X: -1}))
	assert.Equal(t, StageVerticalRoll, m.Stage())
	assert.True(t, steps(1.3, 0, geo.Vector3{Y: 1}))

	pts := m.Snapshot()
	assert.InDelta(t, 3*2*math.Pi/0.02, float64(len(pts)), 10)
	assert.Equal(t, StageCalibrating, m.Stage())

	m.Complete(MagResult{Code: ResultOK})
	stage, result = m.State()
	assert.Equal(t, 0, stage)
	assert.Equal(t, ResultOK, result)
	assert.False(t, m.Active())
}

func TestWorkerRunsOffLoop(t *testing.T) {
	w := NewWorker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	_, ok := w.Poll()
	assert.False(t, ok)

	require.True(t, w.Submit(spherePoints(200, 48, geo.Vector3{Y: 3}, geo.Vector3{X: 1, Y: 1, Z: 1})))

	var r MagResult
	require.Eventually(t, func() bool {
		r, ok = w.Poll()
		return ok
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, ResultOK, r.Code)
	assert.InDelta(t, 3, r.Correction.Bias.Y, 1e-6)
}

func TestWorkerSubmitDoesNotBlock(t *testing.T) {
	w := NewWorker()
	assert.True(t, w.Submit(nil))
	assert.False(t, w.Submit(nil), "one job already queued")
}
