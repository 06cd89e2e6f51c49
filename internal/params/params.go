// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package params holds the flight tunables. Every tunable is a typed field
// of Params; the short string keys only exist at the command and storage
// boundary.
package params

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrNotFound is returned for keys that name no parameter.
	ErrNotFound = errors.New("parameter not found")
	// ErrInvalid is returned when a value is outside what the key accepts.
	ErrInvalid = errors.New("invalid parameter value")
)

// MaxKeyLen is the longest wire key.
const MaxKeyLen = 4

// RC calibration columns.
const (
	RCMin = iota
	RCCenter
	RCMax
	RCReverse
)

// GyroTempPoint is one (temperature, bias) calibration point. A NaN
// temperature disables the point.
type GyroTempPoint struct {
	Temperature float64
	Bias        [3]float64
}

// Params holds every tunable with its default.
type Params struct {
	ForceMobile      float64 // mob
	UseEKF           float64 // ekf
	LoopPeriod       float64 // time, µs
	AltEstimator2    float64 // alt2
	CrashProtect     float64 // prot
	PWMMax           float64 // tmax, NaN uses the RC calibration
	PWMMin           float64 // tmin
	MaxClimb         float64 // maxC, m/s
	MaxDescend       float64 // maxD, m/s
	LandingRateFast  float64 // flrt
	LandingRateFinal float64 // lrat
	LimitV           float64 // limV, m above takeoff
	LimitH           float64 // limH, m from home
	MaxH             float64 // maxH
	YawRate          float64 // raty
	IgnoreErrors     float64 // err, sensor error bits to ignore
	Trim             [3]float64
	GyroTemp         [2]GyroTempPoint
	RC               [8][4]float64
	MotorMatrix      float64 // mat
	Idle             float64 // idle, µs
	AccelBias        [3]float64
	AccelScale       [3]float64
	MagBias          [3]float64
	MagScale         [3]float64
}

// Defaults returns the parameter set of a fresh board.
func Defaults() Params {
	nan := math.NaN()
	p := Params{
		LoopPeriod:       3000,
		PWMMax:           nan,
		PWMMin:           nan,
		MaxClimb:         5,
		MaxDescend:       2,
		LandingRateFast:  1.5,
		LandingRateFinal: 0.5,
		LimitV:           100,
		LimitH:           100,
		Idle:             1176,
		AccelScale:       [3]float64{1, 1, 1},
		MagScale:         [3]float64{1, 1, 1},
	}
	for i := range p.GyroTemp {
		p.GyroTemp[i].Temperature = nan
	}
	for i := range p.RC {
		p.RC[i] = [4]float64{1000, 1520, 2000, 0}
	}
	return p
}

// ThrottleStop is the pulse sent to stopped motors.
func (p *Params) ThrottleStop() float64 {
	if !math.IsNaN(p.PWMMin) {
		return p.PWMMin
	}
	return math.Max(p.RC[2][RCMin]-20, 1000)
}

// ThrottleMax is the largest motor pulse.
func (p *Params) ThrottleMax() float64 {
	if !math.IsNaN(p.PWMMax) {
		return p.PWMMax
	}
	return math.Min(p.RC[2][RCMax]-20, 2000)
}

// Flag reads an on/off parameter.
func Flag(v float64) bool { return v > 0.5 }

type binding func(p *Params) *float64

var table = map[string]binding{}

func bind(key string, b binding) {
	if len(key) > MaxKeyLen {
		panic("params: key too long: " + key)
	}
	if _, dup := table[key]; dup {
		panic("params: duplicate key " + key)
	}
	table[key] = b
}

func init() {
	bind("mob", func(p *Params) *float64 { return &p.ForceMobile })
	bind("ekf", func(p *Params) *float64 { return &p.UseEKF })
	bind("time", func(p *Params) *float64 { return &p.LoopPeriod })
	bind("alt2", func(p *Params) *float64 { return &p.AltEstimator2 })
	bind("prot", func(p *Params) *float64 { return &p.CrashProtect })
	bind("tmax", func(p *Params) *float64 { return &p.PWMMax })
	bind("tmin", func(p *Params) *float64 { return &p.PWMMin })
	bind("maxC", func(p *Params) *float64 { return &p.MaxClimb })
	bind("maxD", func(p *Params) *float64 { return &p.MaxDescend })
	bind("flrt", func(p *Params) *float64 { return &p.LandingRateFast })
	bind("lrat", func(p *Params) *float64 { return &p.LandingRateFinal })
	bind("limV", func(p *Params) *float64 { return &p.LimitV })
	bind("limH", func(p *Params) *float64 { return &p.LimitH })
	bind("maxH", func(p *Params) *float64 { return &p.MaxH })
	bind("raty", func(p *Params) *float64 { return &p.YawRate })
	bind("err", func(p *Params) *float64 { return &p.IgnoreErrors })
	bind("mat", func(p *Params) *float64 { return &p.MotorMatrix })
	bind("idle", func(p *Params) *float64 { return &p.Idle })

	axes := "xyz"
	for i, name := range []string{"trmR", "trmP", "trmY"} {
		bind(name, func(p *Params) *float64 { return &p.Trim[i] })
	}
	for i := 0; i < 3; i++ {
		c := string(axes[i])
		bind("abi"+c, func(p *Params) *float64 { return &p.AccelBias[i] })
		bind("asc"+c, func(p *Params) *float64 { return &p.AccelScale[i] })
		bind("mb"+c, func(p *Params) *float64 { return &p.MagBias[i] })
		bind("mg"+c, func(p *Params) *float64 { return &p.MagScale[i] })
	}
	for pt := 0; pt < 2; pt++ {
		n := fmt.Sprint(pt + 1)
		bind("gbt"+n, func(p *Params) *float64 { return &p.GyroTemp[pt].Temperature })
		for i := 0; i < 3; i++ {
			bind(fmt.Sprintf("gb%d%s", i+1, n), func(p *Params) *float64 { return &p.GyroTemp[pt].Bias[i] })
		}
	}
	for ch := 0; ch < 8; ch++ {
		for col := 0; col < 4; col++ {
			bind(fmt.Sprintf("rc%d%d", ch, col), func(p *Params) *float64 { return &p.RC[ch][col] })
		}
	}
}

// Keys lists every wire key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value for a wire key.
func (p *Params) Get(key string) (float64, error) {
	b, ok := table[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return *b(p), nil
}

// Set assigns the value for a wire key.
func (p *Params) Set(key string, v float64) error {
	b, ok := table[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	*b(p) = v
	return nil
}
