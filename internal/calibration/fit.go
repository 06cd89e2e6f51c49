// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/flight_computer/internal/geo"
)

// ErrFitDiverged is returned when a fit does not produce a usable model.
var ErrFitDiverged = errors.New("fit diverged")

// Correction is applied to a raw reading as (raw + Bias) * Scale per axis.
type Correction struct {
	Bias  geo.Vector3 `json:"bias"`
	Scale geo.Vector3 `json:"scale"`
}

// Identity leaves readings unchanged.
var Identity = Correction{Scale: geo.Vector3{X: 1, Y: 1, Z: 1}}

func (c Correction) Apply(raw geo.Vector3) geo.Vector3 {
	return geo.Vector3{
		X: (raw.X + c.Bias.X) * c.Scale.X,
		Y: (raw.Y + c.Bias.Y) * c.Scale.Y,
		Z: (raw.Z + c.Bias.Z) * c.Scale.Z,
	}
}

const (
	sphereIterations = 50
	sphereTolerance  = 1e-12
)

// SphereFit finds the bias and scale mapping every point onto a sphere of
// the given radius with Gauss-Newton iterations. At least six points are
// needed.
func SphereFit(points []geo.Vector3, radius float64) (Correction, error) {
	n := len(points)
	if n < 6 {
		return Correction{}, fmt.Errorf("calibration: sphere fit needs 6 points, got %d", n)
	}
	if radius <= 0 {
		return Correction{}, fmt.Errorf("calibration: invalid radius %v", radius)
	}

	// parameters: bias x,y,z then scale x,y,z, fitted on the unit sphere
	x := []float64{0, 0, 0, 1 / radius, 1 / radius, 1 / radius}
	jac := mat.NewDense(n, 6, nil)
	res := mat.NewVecDense(n, nil)
	var step mat.VecDense

	for iter := 0; iter < sphereIterations; iter++ {
		for i, p := range points {
			raw := p.Array()
			sum := 0.0
			for a := 0; a < 3; a++ {
				d := raw[a] + x[a]
				s := x[3+a]
				sum += d * d * s * s
				jac.Set(i, a, 2*d*s*s)
				jac.Set(i, 3+a, 2*d*d*s)
			}
			res.SetVec(i, -(sum - 1))
		}
		if err := step.SolveVec(jac, res); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return Correction{}, fmt.Errorf("calibration: sphere fit: %w", err)
			}
		}
		norm := 0.0
		for k := 0; k < 6; k++ {
			x[k] += step.AtVec(k)
			norm += step.AtVec(k) * step.AtVec(k)
		}
		if norm < sphereTolerance {
			break
		}
	}

	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Correction{}, ErrFitDiverged
		}
	}
	c := Correction{
		Bias:  geo.Vector3{X: x[0], Y: x[1], Z: x[2]},
		Scale: geo.Vector3{X: x[3] * radius, Y: x[4] * radius, Z: x[5] * radius},
	}
	if c.Scale.X <= 0 || c.Scale.Y <= 0 || c.Scale.Z <= 0 {
		return Correction{}, ErrFitDiverged
	}
	return c, nil
}

// Residual summarizes how far corrected points are from the fitted sphere,
// relative to its radius.
type Residual struct {
	Average float64 `json:"average"`
	Max     float64 `json:"max"`
	Min     float64 `json:"min"`
}

// EllipsoidFit fits an axis aligned ellipsoid
//
//	A x² + B y² + C z² + D x + E y + F z = 1
//
// by linear least squares and returns the correction that maps it onto a
// sphere of the mean radius.
func EllipsoidFit(points []geo.Vector3) (Correction, Residual, error) {
	n := len(points)
	if n < 6 {
		return Correction{}, Residual{}, fmt.Errorf("calibration: ellipsoid fit needs 6 points, got %d", n)
	}
	design := mat.NewDense(n, 6, nil)
	ones := mat.NewVecDense(n, nil)
	for i, p := range points {
		design.SetRow(i, []float64{p.X * p.X, p.Y * p.Y, p.Z * p.Z, p.X, p.Y, p.Z})
		ones.SetVec(i, 1)
	}
	var coef mat.VecDense
	if err := coef.SolveVec(design, ones); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return Correction{}, Residual{}, fmt.Errorf("calibration: ellipsoid fit: %w", err)
		}
	}
	quad := [3]float64{coef.AtVec(0), coef.AtVec(1), coef.AtVec(2)}
	lin := [3]float64{coef.AtVec(3), coef.AtVec(4), coef.AtVec(5)}

	var center [3]float64
	g := 1.0
	for a := 0; a < 3; a++ {
		if !(quad[a] > 0) {
			return Correction{}, Residual{}, ErrFitDiverged
		}
		center[a] = -lin[a] / (2 * quad[a])
		g += lin[a] * lin[a] / (4 * quad[a])
	}
	var radii [3]float64
	mean := 0.0
	for a := 0; a < 3; a++ {
		radii[a] = math.Sqrt(g / quad[a])
		mean += radii[a] / 3
	}
	if math.IsNaN(mean) || mean <= 0 {
		return Correction{}, Residual{}, ErrFitDiverged
	}

	c := Correction{
		Bias:  geo.Vector3{X: -center[0], Y: -center[1], Z: -center[2]},
		Scale: geo.Vector3{X: mean / radii[0], Y: mean / radii[1], Z: mean / radii[2]},
	}

	r := Residual{Min: math.Inf(1)}
	for _, p := range points {
		e := math.Abs(c.Apply(p).Norm()-mean) / mean
		r.Average += e / float64(n)
		r.Max = math.Max(r.Max, e)
		r.Min = math.Min(r.Min, e)
	}
	return c, r, nil
}
