// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package safety

import "math"

const (
	flipThreshold   = 0.2
	flipWindow      = 1_000_000 // µs between flips of one sequence
	armHold         = 500_000   // µs
	magCalFlipCount = 10
)

// Action is a bit set of requests raised by stick gestures.
type Action uint8

const (
	ActArmToggle Action = 1 << iota
	ActDisarm
	ActMagCalToggle
	ActFlashlight
	ActLand
	ActTakeoff
)

func (a Action) Has(b Action) bool { return a&b != 0 }

// StickState is what the gesture detector reads each tick.
type StickState struct {
	Sticks          [8]float64
	RC              RCState
	EmergencyLive   bool // emergency channel updated recently
	Armed, Airborne bool
	TakingOff       bool
}

// flipCounter counts switch flips spaced less than flipWindow apart.
type flipCounter struct {
	last  float64
	count int
	at    int64
}

func (f *flipCounter) flip(now int64) int {
	if now-f.at < flipWindow {
		f.count++
	} else {
		f.count = 1
	}
	f.at = now
	return f.count
}

// StickActions recognises the arming gesture and the switch flip sequences.
type StickActions struct {
	mode      flipCounter
	emergency flipCounter
	takeoff   float64
	armStart  int64
	armSent   bool
	primed    bool
}

func NewStickActions() *StickActions {
	s := &StickActions{}
	s.emergency.last = math.NaN()
	return s
}

// Update evaluates the gestures at time now (µs).
func (s *StickActions) Update(in StickState, now int64) Action {
	var act Action
	rc := in.Sticks
	if !s.primed {
		s.mode.last = rc[ChMode]
		s.takeoff = rc[ChTakeoff]
		s.primed = true
	}

	// mode switch flipped twice within a second
	if math.Abs(rc[ChMode]-s.mode.last) > flipThreshold {
		s.mode.last = rc[ChMode]
		if s.mode.flip(now) == 2 {
			act |= ActFlashlight
		}
	}

	// emergency switch: any change disarms, ten quick flips toggle mag
	// calibration
	if in.EmergencyLive {
		if math.IsNaN(s.emergency.last) {
			s.emergency.last = rc[ChEmergency]
		}
		if math.Abs(rc[ChEmergency]-s.emergency.last) > flipThreshold {
			s.emergency.last = rc[ChEmergency]
			act |= ActDisarm
			if s.emergency.flip(now) == magCalFlipCount {
				act |= ActMagCalToggle
			}
		}
	} else {
		s.emergency.last = math.NaN()
	}

	// throttle down, other sticks in a corner, held for half a second
	gesture := in.RC >= RCOK && rc[ChThrottle] < 0.1 &&
		math.Abs(rc[ChRoll]) > 0.85 && math.Abs(rc[ChPitch]) > 0.85 && math.Abs(rc[ChYaw]) > 0.85
	switch {
	case !gesture:
		s.armStart = 0
		s.armSent = false
	case s.armStart == 0:
		s.armStart = now
	case !s.armSent && now-s.armStart > armHold:
		s.armSent = true
		act |= ActArmToggle
	}

	if math.Abs(rc[ChTakeoff]-s.takeoff) > flipThreshold {
		s.takeoff = rc[ChTakeoff]
		switch {
		case in.Airborne:
			act |= ActLand
		case !in.Armed && !in.TakingOff:
			act |= ActTakeoff
		}
	}
	return act
}
