// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/flight_computer/internal/geo"
)

// State layout: position NED, velocity NED, attitude quaternion (w,x,y,z),
// gyro bias.
const (
	ekfStates = 13
	ekfNoise  = 9
	ekfMeas   = 8

	iPos  = 0
	iVel  = 3
	iQuat = 6
	iBias = 10

	// DisabledR is the variance given to a measurement channel that must
	// not influence the state.
	DisabledR = 1e20

	ekfReadyUpdates  = 1000
	ekfReadyWindow   = 50
	ekfReadyAttitude = 0.05 // rad
)

// EKF is a 13-state extended Kalman filter predicted from gyro and accel and
// corrected by GPS position/velocity, baro altitude and magnetometer.
type EKF struct {
	GyroNoise  float64 // rad/s/√Hz
	AccelNoise float64 // m/s²/√Hz
	BiasWalk   float64 // rad/s²/√Hz
	BaroR      float64 // m²
	MagR       float64 // normalized field²

	x      *mat.VecDense
	P      *mat.Dense
	magRef geo.Vector3
	rate   geo.Vector3

	updates int
	streak  int
	ready   bool

	// preallocated work buffers
	F, FP      *mat.Dense
	G, Q, GQ   *mat.Dense
	GQG        *mat.Dense
	H, HP      *mat.Dense
	HPH, X, KH *mat.Dense
	S          *mat.SymDense
	r          []float64
	z, y, dx   *mat.VecDense
	chol       mat.Cholesky
}

func NewEKF() *EKF {
	e := &EKF{
		GyroNoise:  0.01,
		AccelNoise: 0.5,
		BiasWalk:   1e-5,
		BaroR:      1.0,
		MagR:       0.01,

		x:   mat.NewVecDense(ekfStates, nil),
		P:   mat.NewDense(ekfStates, ekfStates, nil),
		F:   mat.NewDense(ekfStates, ekfStates, nil),
		FP:  mat.NewDense(ekfStates, ekfStates, nil),
		G:   mat.NewDense(ekfStates, ekfNoise, nil),
		Q:   mat.NewDense(ekfNoise, ekfNoise, nil),
		GQ:  mat.NewDense(ekfStates, ekfNoise, nil),
		GQG: mat.NewDense(ekfStates, ekfStates, nil),
		H:   mat.NewDense(ekfMeas, ekfStates, nil),
		HP:  mat.NewDense(ekfMeas, ekfStates, nil),
		HPH: mat.NewDense(ekfMeas, ekfMeas, nil),
		X:   mat.NewDense(ekfMeas, ekfStates, nil),
		KH:  mat.NewDense(ekfStates, ekfStates, nil),
		S:   mat.NewSymDense(ekfMeas, nil),
		r:   make([]float64, ekfMeas),
		z:   mat.NewVecDense(ekfMeas, nil),
		y:   mat.NewVecDense(ekfMeas, nil),
		dx:  mat.NewVecDense(ekfStates, nil),
	}
	e.x.SetVec(iQuat, 1)
	return e
}

func (e *EKF) Name() string { return "ekf" }

func (e *EKF) Init(seed Seed) {
	q, magRef := InitialAttitude(seed)
	e.magRef = magRef
	e.x.Zero()
	e.setQuat(q)
	e.setVec3(iBias, seed.Gyro)

	e.P.Zero()
	diag := [ekfStates]float64{1, 1, 1, 1, 1, 1, 1e-4, 1e-4, 1e-4, 1e-4, 1e-6, 1e-6, 1e-6}
	for i, v := range diag {
		e.P.Set(i, i, v)
	}
	e.Q.Zero()
	for i := 0; i < 3; i++ {
		e.Q.Set(i, i, e.GyroNoise*e.GyroNoise)
		e.Q.Set(3+i, 3+i, e.AccelNoise*e.AccelNoise)
		e.Q.Set(6+i, 6+i, e.BiasWalk*e.BiasWalk)
	}
	e.updates, e.streak, e.ready = 0, 0, false
}

func (e *EKF) quat() geo.Quaternion {
	return geo.Quaternion{W: e.x.AtVec(iQuat), X: e.x.AtVec(iQuat + 1), Y: e.x.AtVec(iQuat + 2), Z: e.x.AtVec(iQuat + 3)}
}

func (e *EKF) setQuat(q geo.Quaternion) {
	e.x.SetVec(iQuat, q.W)
	e.x.SetVec(iQuat+1, q.X)
	e.x.SetVec(iQuat+2, q.Y)
	e.x.SetVec(iQuat+3, q.Z)
}

func (e *EKF) vec3(i int) geo.Vector3 {
	return geo.Vector3{X: e.x.AtVec(i), Y: e.x.AtVec(i + 1), Z: e.x.AtVec(i + 2)}
}

func (e *EKF) setVec3(i int, v geo.Vector3) {
	e.x.SetVec(i, v.X)
	e.x.SetVec(i+1, v.Y)
	e.x.SetVec(i+2, v.Z)
}

// xi returns the 4x3 matrix mapping a body rate to q ⊗ (0, ω).
func xi(q geo.Quaternion) [4][3]float64 {
	return [4][3]float64{
		{-q.X, -q.Y, -q.Z},
		{q.W, -q.Z, q.Y},
		{q.Z, q.W, -q.X},
		{-q.Y, q.X, q.W},
	}
}

// omega returns the 4x4 matrix of q ↦ q ⊗ (0, ω).
func omega(w geo.Vector3) [4][4]float64 {
	return [4][4]float64{
		{0, -w.X, -w.Y, -w.Z},
		{w.X, 0, w.Z, -w.Y},
		{w.Y, -w.Z, 0, w.X},
		{w.Z, w.Y, -w.X, 0},
	}
}

func (e *EKF) predict(f, gyro geo.Vector3, dt float64) {
	q := e.quat()
	w := gyro.Sub(e.vec3(iBias))
	e.rate = w
	rot := q.RotationMatrix()
	jac := geo.RotationJacobian(q, f)
	xq := xi(q)
	om := omega(w)

	// F = I + A·dt
	e.F.Zero()
	for i := 0; i < ekfStates; i++ {
		e.F.Set(i, i, 1)
	}
	for i := 0; i < 3; i++ {
		e.F.Set(iPos+i, iVel+i, dt)
		for j := 0; j < 4; j++ {
			e.F.Set(iVel+i, iQuat+j, jac[i][j]*dt)
		}
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			e.F.Set(iQuat+i, iQuat+j, e.F.At(iQuat+i, iQuat+j)+0.5*om[i][j]*dt)
		}
		for j := 0; j < 3; j++ {
			e.F.Set(iQuat+i, iBias+j, -0.5*xq[i][j]*dt)
		}
	}

	// noise input: gyro → q, accel → v, bias walk → b
	e.G.Zero()
	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			e.G.Set(iQuat+i, j, -0.5*xq[i][j])
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			e.G.Set(iVel+i, 3+j, rot[i][j])
		}
		e.G.Set(iBias+i, 6+i, 1)
	}

	// state propagation
	a := rot.Apply(f).Add(geo.Vector3{Z: geo.G})
	p, v := e.vec3(iPos), e.vec3(iVel)
	e.setVec3(iPos, p.Add(v.Scale(dt)).Add(a.Scale(0.5*dt*dt)))
	e.setVec3(iVel, v.Add(a.Scale(dt)))
	e.setQuat(q.Integrate(w, dt))

	// P = F·P·Fᵀ + G·Q·Gᵀ·dt
	e.FP.Mul(e.F, e.P)
	e.P.Mul(e.FP, e.F.T())
	e.GQ.Mul(e.G, e.Q)
	e.GQG.Mul(e.GQ, e.G.T())
	e.GQG.Scale(dt, e.GQG)
	e.P.Add(e.P, e.GQG)
}

func (e *EKF) correct(in Input) {
	q := e.quat()

	posR, velR := DisabledR, DisabledR
	var aid Aiding
	if in.Aiding != nil {
		aid = *in.Aiding
		posR, velR = aid.PosR, aid.VelR
	}
	magR := DisabledR
	var mag geo.Vector3
	if in.MagValid && in.Mag.Norm() > 0 {
		mag = in.Mag.Normalized()
		magR = e.MagR
	}
	baroR := e.BaroR
	baroAlt := in.BaroAlt
	if math.IsNaN(baroAlt) {
		baroR, baroAlt = DisabledR, 0
	}

	z := [ekfMeas]float64{aid.PosN, aid.PosE, -baroAlt, aid.VelN, aid.VelE, mag.X, mag.Y, mag.Z}
	predMag := q.NEDToBody(e.magRef)
	h := [ekfMeas]float64{
		e.x.AtVec(iPos), e.x.AtVec(iPos + 1), e.x.AtVec(iPos + 2),
		e.x.AtVec(iVel), e.x.AtVec(iVel + 1),
		predMag.X, predMag.Y, predMag.Z,
	}
	for i := range z {
		e.y.SetVec(i, z[i]-h[i])
	}
	if magR == DisabledR {
		for i := 5; i < 8; i++ {
			e.y.SetVec(i, 0)
		}
	}
	e.r[0], e.r[1], e.r[2] = posR, posR, baroR
	e.r[3], e.r[4] = velR, velR
	e.r[5], e.r[6], e.r[7] = magR, magR, magR

	// H: identity on position/velocity, d(R(q)ᵀ·m)/dq on mag
	e.H.Zero()
	e.H.Set(0, iPos, 1)
	e.H.Set(1, iPos+1, 1)
	e.H.Set(2, iPos+2, 1)
	e.H.Set(3, iVel, 1)
	e.H.Set(4, iVel+1, 1)
	jac := geo.RotationJacobian(q.Conjugate(), e.magRef)
	sign := [4]float64{1, -1, -1, -1}
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			e.H.Set(5+i, iQuat+j, jac[i][j]*sign[j])
		}
	}

	// S = H·P·Hᵀ + R
	e.HP.Mul(e.H, e.P)
	e.HPH.Mul(e.HP, e.H.T())
	for i := 0; i < ekfMeas; i++ {
		for j := i; j < ekfMeas; j++ {
			v := 0.5 * (e.HPH.At(i, j) + e.HPH.At(j, i))
			if i == j {
				v += e.r[i]
			}
			e.S.SetSym(i, j, v)
		}
	}
	if ok := e.chol.Factorize(e.S); !ok {
		return
	}
	// X = S⁻¹·H·P, so K = P·Hᵀ·S⁻¹ = Xᵀ. Disabled channels make S badly
	// conditioned on purpose; the solution is still usable.
	if err := e.chol.SolveTo(e.X, e.HP); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return
		}
	}

	e.dx.MulVec(e.X.T(), e.y)
	e.x.AddVec(e.x, e.dx)
	e.setQuat(e.quat().Normalized())

	// P = P - K·H·P
	e.KH.Mul(e.X.T(), e.HP)
	e.P.Sub(e.P, e.KH)
	for i := 0; i < ekfStates; i++ {
		for j := i + 1; j < ekfStates; j++ {
			v := 0.5 * (e.P.At(i, j) + e.P.At(j, i))
			e.P.Set(i, j, v)
			e.P.Set(j, i, v)
		}
	}
}

func (e *EKF) Update(in Input) {
	if in.Dt <= 0 {
		return
	}
	e.predict(in.Accel, in.Gyro, in.Dt)
	e.correct(in)

	e.updates++
	if e.attitudeSigma() < ekfReadyAttitude {
		e.streak++
	} else {
		e.streak = 0
	}
	if !e.ready && e.updates >= ekfReadyUpdates && e.streak >= ekfReadyWindow {
		e.ready = true
	}
}

// attitudeSigma is the largest 1σ attitude error implied by the quaternion
// vector part covariance.
func (e *EKF) attitudeSigma() float64 {
	s := 0.0
	for i := iQuat + 1; i < iQuat+4; i++ {
		s = math.Max(s, 2*math.Sqrt(math.Max(e.P.At(i, i), 0)))
	}
	return s
}

func (e *EKF) Estimate() Estimate {
	variance := geo.Vector3{
		X: 4 * e.P.At(iQuat+1, iQuat+1),
		Y: 4 * e.P.At(iQuat+2, iQuat+2),
		Z: 4 * e.P.At(iQuat+3, iQuat+3),
	}
	return newEstimate(e.quat(), e.rate, e.vec3(iBias), variance)
}

// Ready latches once the attitude covariance has converged; it never clears.
func (e *EKF) Ready() bool { return e.ready }

// Updates returns the number of filter steps since Init.
func (e *EKF) Updates() int { return e.updates }

// Position returns the filter's NED position and velocity.
func (e *EKF) Position() (geo.Vector3, geo.Vector3) {
	return e.vec3(iPos), e.vec3(iVel)
}
