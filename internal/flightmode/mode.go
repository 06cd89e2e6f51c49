// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package flightmode holds the flight modes and the rules that choose
// between them.
package flightmode

import (
	"errors"
	"fmt"
)

// Kind identifies a flight mode.
type Kind int

const (
	Basic Kind = iota
	AltHold
	PosHold
	OpticalFlow
	RTL
	Invalid
)

var kindNames = [...]string{"basic", "althold", "poshold", "optical_flow", "RTL", "invalid"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText makes Kind readable in published JSON.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown flight mode %q", b)
}

// Setup failures.
var (
	ErrPositionNotReady = errors.New("position estimator not ready")
	ErrNoHome           = errors.New("home not set")
	ErrNoRange          = errors.New("no range finder reading")
)

// Mode is one flight mode with its own controller state.
type Mode interface {
	Kind() Kind
	// Setup prepares the mode from the current vehicle state. An error
	// keeps the previous mode active.
	Setup() error
	// Loop runs the mode for dt seconds and leaves its setpoints in the
	// shared controllers.
	Loop(dt float64)
}

// Inputs is everything the mode selection depends on.
type Inputs struct {
	Armed         bool
	Airborne      bool
	Switch        Kind // position of the mode switch
	PositionReady bool
}

// Next is the mode selected by the switch given the vehicle state. Disarmed
// selects Invalid, a vehicle on the ground flies at most altitude hold and
// position hold falls back to optical flow without a position fix.
// An active RTL is kept while position stays usable.
func Next(current Kind, in Inputs) Kind {
	if !in.Armed {
		return Invalid
	}
	if current == RTL && in.PositionReady && in.Airborne {
		return RTL
	}
	mode := in.Switch
	if mode == Invalid || mode == RTL || mode == OpticalFlow {
		mode = AltHold
	}
	if !in.Airborne && mode != Basic {
		mode = AltHold
	}
	if mode == PosHold && !in.PositionReady {
		mode = OpticalFlow
	}
	return mode
}

// Switch maps the 3-position mode channel in [-1,1] to a mode with
// hysteresis between the detents.
type Switch struct {
	mode Kind
}

func NewSwitch() *Switch { return &Switch{mode: AltHold} }

func (s *Switch) Update(v float64) Kind {
	switch {
	case v < -0.6:
		s.mode = Basic
	case v > 0.6:
		s.mode = PosHold
	case v > -0.5 && v < 0.5:
		s.mode = AltHold
	}
	return s.mode
}

func (s *Switch) Mode() Kind { return s.mode }
