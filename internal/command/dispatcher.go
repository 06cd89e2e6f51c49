// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package command implements the line oriented control protocol used by
// ground stations and mobile apps.
package command

import (
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"strconv"
	"strings"

	"github.com/relabs-tech/flight_computer/internal/monitoring"
	"github.com/relabs-tech/flight_computer/internal/params"
)

// StateReport is the payload of the state reply.
type StateReport struct {
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	PositionReady bool    `json:"position_ready"`
	Altitude      float64 `json:"altitude"` // above takeoff, m
	Climb         float64 `json:"climb"`
	Distance      float64 `json:"distance"` // from home, m
	Speed         float64 `json:"speed"`
	Roll          float64 `json:"roll"` // degrees
	Pitch         float64 `json:"pitch"`
	Yaw           float64 `json:"yaw"`
	Airborne      bool    `json:"airborne"`
	Sonar         bool    `json:"sonar"`
	Battery       float64 `json:"battery"` // 0..1
	Voltage       float64 `json:"voltage"`
	RTL           bool    `json:"rtl"`
	Flashlight    bool    `json:"flashlight"`
}

// Vehicle is the part of the pilot the protocol drives. Every method is
// called from the control loop.
type Vehicle interface {
	Arm() error
	Disarm() error
	Takeoff() error
	Land()
	RTL() error
	StopRTL() error
	IsRTL() bool
	State() StateReport
	Param(key string) (float64, error)
	SetParam(key string, v float64) error
	StartMagCal()
	CancelMagCal()
	MagCalState() (stage, result int)
	StartAccelCal()
	AccelCalState() int
	SetFlashlight(on bool)
	Flashlight() bool
	// MobileSticks feeds roll, pitch, throttle and yaw from the app.
	MobileSticks(s [4]float64)
}

// Dispatcher parses one line and runs it against the vehicle.
type Dispatcher struct {
	Vehicle Vehicle
	Version string
	Board   string
	BoardID []byte
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// FormatValue writes a parameter value the way get replies carry it.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return "NAN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseValue accepts the NAN literal besides plain numbers.
func ParseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseSticks(fields []string) ([4]float64, bool) {
	var s [4]float64
	if len(fields) != 4 {
		return s, false
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return s, false
		}
		s[i] = v
	}
	return s, true
}

// Handle runs one line. It returns the reply without the newline, or ""
// for lines that take no reply.
func (d *Dispatcher) Handle(line string) string {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, ",")
	cmd := fields[0]
	v := d.Vehicle

	switch {
	case line == "@":
		v.MobileSticks([4]float64{0, 0, 0.5, 0})
		return ""
	case cmd == "stick":
		if s, ok := parseSticks(fields[1:]); ok {
			v.MobileSticks(s)
		}
		return ""
	case len(fields) == 5 && fields[4] == "stick":
		if s, ok := parseSticks(fields[:4]); ok {
			s[0] *= 1.33
			s[1] *= 1.33
			s[2] = (s[2]-0.5)*1.35 + 0.5
			s[3] *= 1.33
			v.MobileSticks(s)
		}
		return ""
	}

	switch cmd {
	case "arm":
		if err := v.Arm(); err != nil {
			return "arm,fail," + err.Error()
		}
		return "arm,ok"
	case "disarm":
		v.Disarm()
		return "disarm,ok"
	case "takeoff":
		if err := v.Takeoff(); err != nil {
			monitoring.Logf("command: takeoff: %v", err)
		}
		return "takeoff,ok"
	case "land":
		v.Land()
		return "land,ok"
	case "RTL":
		if err := v.RTL(); err != nil {
			monitoring.Logf("command: RTL: %v", err)
		}
		return "RTL,ok"
	case "STOPRTL":
		if err := v.StopRTL(); err != nil {
			monitoring.Logf("command: STOPRTL: %v", err)
		}
		return "STOPRTL,ok"
	case "RTL_get":
		return fmt.Sprintf("RTL_get,%d", b2i(v.IsRTL()))
	case "hello":
		return fmt.Sprintf("hello,yap(%s)(bsp %s)", d.Version, d.Board)
	case "chip_id":
		return fmt.Sprintf("chip_id,%08X", crc32.ChecksumIEEE(d.BoardID))
	case "state":
		return formatState(v.State())
	case "param":
		return d.paramSummary()
	case "set":
		return d.set(fields)
	case "get":
		return d.get(fields)
	case "mag_cal":
		v.StartMagCal()
		return "mag_cal,ok"
	case "cancel_mag_cal":
		v.CancelMagCal()
		return "cancel_mag_cal,ok"
	case "mag_cal_state":
		stage, result := v.MagCalState()
		return fmt.Sprintf("mag_cal_state,%d,%d", stage, result)
	case "acc_cal":
		v.StartAccelCal()
		return "acc_cal,ok"
	case "acc_cal_state":
		return fmt.Sprintf("acc_cal_state,%d", v.AccelCalState())
	case "flashlight":
		on := false
		if len(fields) > 1 {
			n, _ := strconv.Atoi(strings.TrimSpace(fields[1]))
			on = n != 0
		}
		v.SetFlashlight(on)
		return "flashlight"
	case "flashlight_get":
		return fmt.Sprintf("flashlight_get,%d", b2i(v.Flashlight()))
	}

	monitoring.Logf("command: invalid packet %q", line)
	return ""
}

func formatState(s StateReport) string {
	return fmt.Sprintf("state,%f,%f,%d,%.1f,%.1f,%.1f,%.2f,%.1f,%.1f,%.1f,%d,%d,%.2f,%.1f,%d,%d",
		s.Latitude, s.Longitude, b2i(s.PositionReady), s.Altitude, s.Climb,
		s.Distance, s.Speed,
		s.Roll, s.Pitch, s.Yaw,
		b2i(s.Airborne), b2i(s.Sonar),
		s.Battery, s.Voltage,
		b2i(s.RTL), b2i(s.Flashlight))
}

func (d *Dispatcher) paramSummary() string {
	var vals [6]float64
	for i, k := range []string{"limV", "limH", "maxH", "maxD", "maxC", "raty"} {
		v, err := d.Vehicle.Param(k)
		if err != nil {
			v = math.NaN()
		}
		vals[i] = v
	}
	return fmt.Sprintf("param,%.2f,%.2f,%.2f,%.2f,%.2f,%f", vals[0], vals[1], vals[2], vals[3], vals[4], vals[5])
}

func (d *Dispatcher) set(fields []string) string {
	if len(fields) < 3 || fields[1] == "" {
		return "set,,fail"
	}
	key := fields[1]
	val, err := ParseValue(fields[2])
	if err != nil {
		return "set,,fail"
	}
	if err := d.Vehicle.SetParam(key, val); err != nil {
		if errors.Is(err, params.ErrNotFound) {
			return "set,,not found"
		}
		monitoring.Logf("command: set %s: %v", key, err)
		return "set,,fail"
	}
	return "set," + key + ",ok"
}

func (d *Dispatcher) get(fields []string) string {
	if len(fields) < 2 {
		return "get,,fail"
	}
	key := fields[1]
	v, err := d.Vehicle.Param(key)
	if err != nil {
		return "get," + key + ",fail"
	}
	return "get," + key + "," + FormatValue(v)
}
