// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"image"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/flight_computer/internal/monitoring"
	"github.com/relabs-tech/flight_computer/internal/pilot"
	"github.com/relabs-tech/flight_computer/internal/sensors"
	"github.com/relabs-tech/flight_computer/internal/telemetry"
)

const (
	displayWidth  = 128
	displayHeight = 64
	lineHeight    = 13
)

// RunDisplay mirrors the flight state on an SSD1306 until ctx ends.
func RunDisplay(ctx context.Context, addr uint16, interval time.Duration, status telemetry.StatusSource) error {
	if err := sensors.InitHost(); err != nil {
		return fmt.Errorf("display: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, addr, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	monitoring.Logf("display: initialized at 0x%02X", addr)

	if err := draw(dev, []string{"", " Flight Pi", " starting..."}); err != nil {
		monitoring.Logf("display: error showing splash: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		err := draw(dev, statusLines(status.Status()))
		if err != nil && !failing {
			monitoring.Logf("display: error updating display: %v", err)
		}
		failing = err != nil
	}
}

// statusLines formats the four display rows.
func statusLines(s pilot.Status) []string {
	if !s.Initialized {
		return []string{"Initializing", fmt.Sprintf("samples %d", s.InitSamples), "keep still", ""}
	}
	state := "DISARMED"
	switch {
	case s.Armed && s.Landing:
		state = "LANDING"
	case s.Armed && s.Airborne:
		state = "FLYING"
	case s.Armed:
		state = "ARMED"
	}
	return []string{
		fmt.Sprintf("%-8s %s", state, s.Mode),
		fmt.Sprintf("Alt %5.1fm %+4.1f", s.Altitude, s.Climb),
		fmt.Sprintf("Bat %4.1fV %4.0fmAh", s.Voltage, s.MAh),
		fmt.Sprintf("RC %s E:%s", s.RC, s.Errors),
	}
}

// render draws lines onto a blank frame.
func render(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		drawer.Dot = fixed.P(0, lineHeight*(i+1))
		drawer.DrawString(line)
	}
	return img
}

func draw(dev *ssd1306.Dev, lines []string) error {
	return dev.Draw(dev.Bounds(), render(lines), image.Point{})
}
