// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	nmea "github.com/adrianmo/go-nmea"
)

// Receiver accumulates NMEA sentences into a Fix. RMC closes an epoch and
// marks the fix as new; GGA and GSA contribute altitude, quality and DOP.
type Receiver struct {
	mu      sync.Mutex
	current Fix
	fresh   bool
	epochs  int
}

func NewReceiver() *Receiver {
	return &Receiver{}
}

// HandleLine parses one NMEA sentence. Lines that are not sentences are
// ignored; malformed sentences return an error.
func (r *Receiver) HandleLine(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "$") {
		return nil
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return fmt.Errorf("gps: parse %q: %w", line, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch sentence.DataType() {
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		r.current.Time = m.Time.String()
		if m.Validity != nmea.ValidRMC {
			r.current.FixType = 0
			r.fresh = true
			r.epochs++
			return nil
		}
		r.current.Latitude = m.Latitude
		r.current.Longitude = m.Longitude
		r.current.Speed = m.Speed * knotsToMS
		r.current.Course = m.Course
		r.fresh = true
		r.epochs++

	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		r.current.Altitude = m.Altitude
		r.current.Satellites = int(m.NumSatellites)
		r.setHDOP(m.HDOP)
		if m.FixQuality == nmea.Invalid {
			r.current.FixType = 0
		}

	case nmea.TypeGSA:
		m := sentence.(nmea.GSA)
		if t, err := strconv.Atoi(m.FixType); err == nil {
			r.current.FixType = t
		}
		r.setHDOP(m.HDOP)
	}
	return nil
}

func (r *Receiver) setHDOP(hdop float64) {
	if hdop <= 0 {
		return
	}
	r.current.HDOP = hdop
	r.current.HAcc = hdop * userRangeError
	r.current.VelAcc = hdop * 0.2
}

// Fix returns the latest fix and whether it arrived since the previous
// call.
func (r *Receiver) Fix() (Fix, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fresh := r.fresh
	r.fresh = false
	return r.current, fresh
}

// Epochs counts completed RMC epochs.
func (r *Receiver) Epochs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epochs
}

// Run reads sentences from rd until ctx is cancelled or the reader fails.
func (r *Receiver) Run(ctx context.Context, rd io.Reader) error {
	reader := bufio.NewReader(rd)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("gps: read: %w", err)
		}
		if err := r.HandleLine(line); err != nil {
			// noisy receivers emit partial sentences at startup
			continue
		}
	}
}
