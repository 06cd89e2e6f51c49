// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package events holds the discrete flight events raised during a tick.
package events

import "fmt"

// Kind names a discrete event.
type Kind int

const (
	ModeSwitchChanged Kind = iota
	PosReady
	PosBad
	Airborne
	HomeSet
	Armed
	Disarmed
	ModeChanged
	RCRestored
	RCFailed
	RCMobile
	Crash
	Tilt
	Landed
	LowPower
	MagCalDone
	AccCalDone
)

var names = [...]string{
	"mode_switch_changed", "pos_ready", "pos_bad", "airborne", "home_set",
	"armed", "disarmed", "mode_changed", "rc_restored", "rc_failed",
	"rc_mobile", "crash", "tilt", "landed", "low_power", "mag_cal_done",
	"acc_cal_done",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(names) {
		return fmt.Sprintf("event(%d)", int(k))
	}
	return names[k]
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Event is one entry of the stream.
type Event struct {
	Kind Kind  `json:"kind"`
	Arg  int   `json:"arg"`
	Time int64 `json:"time_us"`
}

// Capacity is the number of events one tick can hold.
const Capacity = 16

// Ring collects the events of one tick. It is filled and drained by the
// control loop only.
type Ring struct {
	buf     [Capacity]Event
	n       int
	dropped uint64
}

// Push appends an event. It reports false and counts the drop when the ring
// is full.
func (r *Ring) Push(e Event) bool {
	if r.n >= Capacity {
		r.dropped++
		return false
	}
	r.buf[r.n] = e
	r.n++
	return true
}

// Drain hands every queued event to fn in order and empties the ring.
func (r *Ring) Drain(fn func(Event)) {
	for i := 0; i < r.n; i++ {
		fn(r.buf[i])
	}
	r.n = 0
}

func (r *Ring) Len() int { return r.n }

// Dropped is the total number of events lost to overflow.
func (r *Ring) Dropped() uint64 { return r.dropped }
