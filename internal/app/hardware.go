// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/relabs-tech/flight_computer/internal/config"
	"github.com/relabs-tech/flight_computer/internal/gps"
	"github.com/relabs-tech/flight_computer/internal/monitoring"
	"github.com/relabs-tech/flight_computer/internal/pilot"
	"github.com/relabs-tech/flight_computer/internal/sensors"
)

const baroInterval = 20 * time.Millisecond

// LED drives a common cathode RGB indicator from three GPIO pins.
type LED struct {
	pins  [3]gpio.PinIO
	color pilot.Color
	ok    bool
}

// NewLED opens the red, green and blue pins.
func NewLED(names []string) (*LED, error) {
	if len(names) != 3 {
		return nil, fmt.Errorf("indicator: need 3 pins, got %d", len(names))
	}
	if err := sensors.InitHost(); err != nil {
		return nil, fmt.Errorf("indicator: %w", err)
	}
	l := &LED{ok: true}
	for i, name := range names {
		if l.pins[i] = gpioreg.ByName(name); l.pins[i] == nil {
			return nil, fmt.Errorf("indicator: pin %q not found", name)
		}
	}
	l.SetColor(pilot.Off)
	return l, nil
}

// SetColor implements pilot.Indicator. Pins are only written on change.
func (l *LED) SetColor(c pilot.Color) {
	if c == l.color && l.ok {
		return
	}
	l.color = c
	r, g, b := c.RGB()
	ok := true
	for i, on := range [3]bool{r, g, b} {
		if err := l.pins[i].Out(gpio.Level(on)); err != nil {
			if l.ok && ok {
				monitoring.Logf("indicator: pin %s: %v", l.pins[i].Name(), err)
			}
			ok = false
		}
	}
	l.ok = ok
}

// Flashlight switches a GPIO driven light.
type Flashlight struct {
	pin gpio.PinIO
}

func NewFlashlight(name string) (*Flashlight, error) {
	if err := sensors.InitHost(); err != nil {
		return nil, fmt.Errorf("flashlight: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("flashlight: pin %q not found", name)
	}
	return &Flashlight{pin: pin}, nil
}

// SetFlashlight implements pilot.Light.
func (f *Flashlight) SetFlashlight(on bool) {
	if err := f.pin.Out(gpio.Level(on)); err != nil {
		monitoring.Logf("flashlight: %v", err)
	}
}

// OpenSerial opens a raw 8N1 serial port.
func OpenSerial(port string, baud int) (io.ReadWriteCloser, error) {
	options := serial.OpenOptions{
		PortName:        port,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	rw, err := serial.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", port, err)
	}
	return rw, nil
}

// devices is the hardware opened for a real vehicle.
type devices struct {
	hw      pilot.Hardware
	gps     *gps.Receiver
	gpsPort io.ReadWriteCloser
	closers []io.Closer
}

func (d *devices) Close() error {
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openSensors opens the sensors named by cfg. The IMU is required; every
// other sensor is skipped with a log line when it cannot be opened.
func openSensors(cfg *config.Config) (*devices, error) {
	d := &devices{}
	set := &sensors.Set{}
	d.hw.Sensors = set

	imu, err := sensors.NewMPU9250("main", cfg.IMUSPIDevice, cfg.IMUCSPin)
	if err != nil {
		return nil, err
	}
	set.IMUs = append(set.IMUs, imu)

	if mag, err := sensors.NewAK8963("", cfg.MagI2CAddr); err != nil {
		monitoring.Logf("app: running without compass: %v", err)
	} else {
		set.Mags = append(set.Mags, mag)
		d.closers = append(d.closers, mag)
	}

	if cfg.BaroSPIDevice != "" {
		if baro, err := sensors.NewBMP280(cfg.BaroSPIDevice, baroInterval); err != nil {
			monitoring.Logf("app: running without baro: %v", err)
		} else {
			set.Baros = append(set.Baros, baro)
			d.closers = append(d.closers, baro)
		}
	}

	if cfg.GPSSerialPort != "" {
		if port, err := OpenSerial(cfg.GPSSerialPort, cfg.GPSBaudRate); err != nil {
			monitoring.Logf("app: running without GPS: %v", err)
		} else {
			d.gps = gps.NewReceiver()
			d.gpsPort = port // closed when the receiver stops
			set.GPS = append(set.GPS, sensors.GPSReceiver{Receiver: d.gps})
		}
	}

	return d, nil
}

// openDevices opens the sensors and the outputs. The motors are required,
// the indicator and the flashlight are optional.
func openDevices(cfg *config.Config) (*devices, error) {
	d, err := openSensors(cfg)
	if err != nil {
		return nil, err
	}
	motors, err := sensors.NewPWMOutput(cfg.MotorPins, cfg.PWMRate)
	if err != nil {
		if d.gpsPort != nil {
			d.gpsPort.Close()
		}
		d.Close()
		return nil, err
	}
	d.hw.Motors = motors

	if len(cfg.LEDPins) > 0 {
		if led, err := NewLED(cfg.LEDPins); err != nil {
			monitoring.Logf("app: running without indicator: %v", err)
		} else {
			d.hw.Indicator = led
		}
	}
	if cfg.FlashlightPin != "" {
		if light, err := NewFlashlight(cfg.FlashlightPin); err != nil {
			monitoring.Logf("app: running without flashlight: %v", err)
		} else {
			d.hw.Light = light
		}
	}
	return d, nil
}
