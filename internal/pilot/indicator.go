// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pilot

import (
	"fmt"

	"github.com/relabs-tech/flight_computer/internal/calibration"
	"github.com/relabs-tech/flight_computer/internal/sensors"
)

// Color is an RGB indicator state.
type Color uint8

const (
	Off Color = iota
	Red
	Green
	Blue
	Yellow
	Purple
	Cyan
	White
)

var colorNames = [...]string{"off", "red", "green", "blue", "yellow", "purple", "cyan", "white"}

func (c Color) String() string {
	if int(c) >= len(colorNames) {
		return "unknown"
	}
	return colorNames[c]
}

func (c Color) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Color) UnmarshalText(b []byte) error {
	for i, name := range colorNames {
		if name == string(b) {
			*c = Color(i)
			return nil
		}
	}
	return fmt.Errorf("unknown color %q", b)
}

// RGB returns the channels to light for c.
func (c Color) RGB() (r, g, b bool) {
	switch c {
	case Red:
		return true, false, false
	case Green:
		return false, true, false
	case Blue:
		return false, false, true
	case Yellow:
		return true, true, false
	case Purple:
		return true, false, true
	case Cyan:
		return false, true, true
	case White:
		return true, true, true
	}
	return false, false, false
}

const (
	errorSlot     = 500_000 // µs per blinked error bit
	heartbeat     = 1_500_000
	heartbeatOn   = 100_000
	lowPowerSlow  = 1_000_000
	lowPowerFast  = 100_000
	magStageColor = 250_000
)

type indicatorState struct {
	errors   sensors.ErrorBits
	lowPower int
	magStage int // -1 when no calibration runs
	rtl      bool
	rcFailed bool
	posHold  bool
	posReady bool
}

// indicatorColor picks the light at time now (µs). Errors win over low
// power, which wins over calibration and flight mode.
func indicatorColor(s indicatorState, now int64) Color {
	switch {
	case s.errors != 0:
		// one slot per error bit, red when set
		slot := (now / errorSlot) % (2 * sensors.ErrorCount)
		if slot%2 == 1 {
			return Off
		}
		if s.errors&(1<<(slot/2)) != 0 {
			return Red
		}
		return Green
	case s.lowPower > 0:
		period := int64(lowPowerSlow)
		if s.lowPower > 1 {
			period = lowPowerFast
		}
		if (now/period)%2 == 0 {
			return Red
		}
		return Off
	case s.magStage >= 0:
		return magColor(calibration.Stage(s.magStage), now)
	case s.rtl:
		return Purple
	}
	if now%heartbeat >= heartbeatOn {
		return Off
	}
	switch {
	case s.rcFailed:
		return Blue
	case s.posHold && s.posReady:
		return Green
	default:
		return Yellow
	}
}

func magColor(st calibration.Stage, now int64) Color {
	switch st {
	case calibration.StageHorizontal:
		return Red
	case calibration.StageVerticalPitch:
		return Green
	case calibration.StageVerticalRoll:
		return Blue
	case calibration.StageCalibrating:
		if (now/magStageColor)%2 == 0 {
			return White
		}
		return Off
	default:
		return Cyan
	}
}
