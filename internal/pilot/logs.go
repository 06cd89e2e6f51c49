// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pilot

import (
	"errors"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/relabs-tech/flight_computer/internal/altitude"
	"github.com/relabs-tech/flight_computer/internal/events"
	"github.com/relabs-tech/flight_computer/internal/flightmode"
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/mixer"
	"github.com/relabs-tech/flight_computer/internal/orientation"
	"github.com/relabs-tech/flight_computer/internal/position"
	"github.com/relabs-tech/flight_computer/internal/safety"
	"github.com/relabs-tech/flight_computer/internal/sensors"
)

// DefaultOutboxSize holds about one second of records at 1 kHz.
const DefaultOutboxSize = 1024

// Record is the per tick flight log entry.
type Record struct {
	Time     int64                 `json:"time_us"`
	Session  uuid.UUID             `json:"session"`
	Mode     flightmode.Kind       `json:"mode"`
	Armed    bool                  `json:"armed"`
	Airborne bool                  `json:"airborne"`
	Landing  bool                  `json:"landing"`
	Pose     orientation.Pose      `json:"pose"`
	Rate     geo.Vector3           `json:"rate"`
	Accel    geo.Vector3           `json:"accel"`
	Altitude altitude.Estimate     `json:"altitude"`
	AltTgt   float64               `json:"alt_target"`
	Position position.Estimate     `json:"position"`
	Throttle float64               `json:"throttle"`
	Torque   geo.Vector3           `json:"torque"`
	Motors   [mixer.Motors]float64 `json:"motors"`
	Errors   sensors.ErrorBits     `json:"errors"`
	RC       safety.RCState        `json:"rc"`
	Voltage  float64               `json:"voltage"`
}

// Sink receives flushed log records and events.
type Sink interface {
	PublishRecord(r Record) error
	PublishEvent(e events.Event) error
}

// Outbox decouples the control loop from the log writers. The loop never
// blocks on it: when a queue is full the oldest entry is dropped.
type Outbox struct {
	records chan Record
	events  chan events.Event
	dropped atomic.Uint64
}

func NewOutbox(size int) *Outbox {
	if size < 1 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		records: make(chan Record, size),
		events:  make(chan events.Event, size),
	}
}

func (o *Outbox) pushRecord(r Record) {
	for {
		select {
		case o.records <- r:
			return
		default:
		}
		select {
		case <-o.records:
			o.dropped.Add(1)
		default:
		}
	}
}

func (o *Outbox) pushEvent(e events.Event) {
	for {
		select {
		case o.events <- e:
			return
		default:
		}
		select {
		case <-o.events:
			o.dropped.Add(1)
		default:
		}
	}
}

// Flush hands every queued event, then every queued record, to sink. It
// stops at the end of what was queued when Flush was called and returns the
// joined publish errors.
func (o *Outbox) Flush(sink Sink) error {
	var errs []error
	for n := len(o.events); n > 0; n-- {
		if err := sink.PublishEvent(<-o.events); err != nil {
			errs = append(errs, err)
		}
	}
	for n := len(o.records); n > 0; n-- {
		if err := sink.PublishRecord(<-o.records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending is the number of queued records and events.
func (o *Outbox) Pending() int { return len(o.records) + len(o.events) }

// Dropped counts entries lost to overflow.
func (o *Outbox) Dropped() uint64 { return o.dropped.Load() }

func (p *Pilot) record() Record {
	r := Record{
		Time:     p.now,
		Session:  p.session,
		Mode:     p.modes.Current(),
		Armed:    p.armed,
		Airborne: p.airborne,
		Landing:  p.landing,
		Pose:     p.att.Pose(),
		Rate:     p.att.Rate,
		Accel:    p.accel,
		Altitude: p.altEst,
		AltTgt:   p.AltitudeTarget(),
		Position: p.posEst,
		Throttle: p.throttle,
		Torque:   p.torque,
		Errors:   p.effectiveErrors(),
		RC:       p.rc.State(),
		Voltage:  p.voltage.Value(),
	}
	copy(r.Motors[:], p.out.Pulses)
	return r
}
