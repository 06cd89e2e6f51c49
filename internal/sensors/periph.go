// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/flight_computer/internal/env"
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/imu"
	"github.com/relabs-tech/flight_computer/internal/monitoring"
)

var (
	hostOnce    sync.Once
	hostInitErr error
)

// InitHost initializes the periph host drivers once per process. Every
// hardware adapter calls it before opening a bus.
func InitHost() error {
	hostOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostInitErr = fmt.Errorf("periph host init: %w", err)
		}
	})
	return hostInitErr
}

// statusLog logs health transitions of one device, not every failed read.
type statusLog struct {
	name    string
	healthy bool
}

func (l *statusLog) report(err error) Status {
	if err != nil {
		if l.healthy {
			monitoring.Logf("sensors: %s read failed: %v", l.name, err)
		}
		l.healthy = false
		return Unhealthy
	}
	if !l.healthy {
		monitoring.Logf("sensors: %s healthy", l.name)
	}
	l.healthy = true
	return Fresh
}

// MPU9250 reads accel and gyro from an MPU9250 on SPI.
type MPU9250 struct {
	dev   *mpu9250.MPU9250
	scale imu.Scale
	log   statusLog
	last  imu.Sample
}

// NewMPU9250 opens the IMU on spiDev with chip select csPin, configured for
// ±4 g and ±1000 °/s.
func NewMPU9250(name, spiDev, csPin string) (*MPU9250, error) {
	if err := InitHost(); err != nil {
		return nil, fmt.Errorf("%s IMU: %w", name, err)
	}
	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("%s IMU: CS pin %q not found", name, csPin)
	}
	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: SPI transport (%s): %w", name, spiDev, err)
	}
	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: device creation: %w", name, err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: initialization: %w", name, err)
	}
	if err := dev.SetAccelRange(1); err != nil {
		return nil, fmt.Errorf("%s IMU: set accel range: %w", name, err)
	}
	if err := dev.SetGyroRange(2); err != nil {
		return nil, fmt.Errorf("%s IMU: set gyro range: %w", name, err)
	}
	monitoring.Logf("sensors: %s IMU ready on %s (cs %s)", name, spiDev, csPin)
	return &MPU9250{dev: dev, scale: imu.DefaultScale, log: statusLog{name: name + " IMU", healthy: true}}, nil
}

func (m *MPU9250) readRaw() (imu.IMURaw, error) {
	var raw imu.IMURaw
	var err error
	reads := []struct {
		dst  *int16
		read func() (int16, error)
	}{
		{&raw.Ax, m.dev.GetAccelerationX},
		{&raw.Ay, m.dev.GetAccelerationY},
		{&raw.Az, m.dev.GetAccelerationZ},
		{&raw.Gx, m.dev.GetRotationX},
		{&raw.Gy, m.dev.GetRotationY},
		{&raw.Gz, m.dev.GetRotationZ},
	}
	for _, r := range reads {
		if *r.dst, err = r.read(); err != nil {
			return raw, err
		}
	}
	return raw, nil
}

func (m *MPU9250) ReadIMU() (imu.Sample, Status) {
	raw, err := m.readRaw()
	st := m.log.report(err)
	if st == Fresh {
		m.last = raw.ToSample(m.scale, nan)
	}
	return m.last, st
}

// BMP280 streams pressure and temperature from a Bosch BMx280 on SPI. The
// device runs in continuous mode so reads never wait for a conversion.
type BMP280 struct {
	mu     sync.Mutex
	dev    *bmxx80.Dev
	last   env.Sample
	fresh  bool
	closed bool
}

func NewBMP280(spiDev string, interval time.Duration) (*BMP280, error) {
	if err := InitHost(); err != nil {
		return nil, fmt.Errorf("baro: %w", err)
	}
	bus, err := spireg.Open(spiDev)
	if err != nil {
		return nil, fmt.Errorf("baro SPI open (%s): %w", spiDev, err)
	}
	dev, err := bmxx80.NewSPI(bus, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("baro init: %w", err)
	}
	ch, err := dev.SenseContinuous(interval)
	if err != nil {
		return nil, fmt.Errorf("baro continuous sensing: %w", err)
	}
	b := &BMP280{dev: dev}
	go b.run(ch)
	monitoring.Logf("sensors: baro ready on %s", spiDev)
	return b, nil
}

func (b *BMP280) run(ch <-chan physic.Env) {
	for e := range ch {
		s := env.FromPhysic(e)
		b.mu.Lock()
		b.last, b.fresh = s, true
		b.mu.Unlock()
	}
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *BMP280) ReadBaro() (env.Sample, Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.closed:
		return b.last, Unhealthy
	case b.fresh:
		b.fresh = false
		return b.last, Fresh
	default:
		return b.last, Stale
	}
}

func (b *BMP280) Close() error {
	return b.dev.Halt()
}

// AK8963 registers.
const (
	akWhoAmI   = 0x00
	akST1      = 0x02
	akHXL      = 0x03
	akCNTL1    = 0x0A
	akASAX     = 0x10
	akDeviceID = 0x48

	akModePowerDown = 0x00
	akModeFuseROM   = 0x0F
	akModeCont100Hz = 0x16 // 16 bit output, continuous mode 2

	akMicroTeslaPerLSB = 0.15
)

// AK8963 reads an external AK8963 compass over I2C. Its axes are mounted
// aligned with the airframe, so the sensor frame is already FRD.
type AK8963 struct {
	dev  *i2c.Dev
	bus  i2c.BusCloser
	adj  [3]float64
	log  statusLog
	last geo.Vector3
}

func NewAK8963(busName string, addr uint16) (*AK8963, error) {
	if err := InitHost(); err != nil {
		return nil, fmt.Errorf("compass: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("compass I2C open (%s): %w", busName, err)
	}
	a := &AK8963{dev: &i2c.Dev{Bus: bus, Addr: addr}, bus: bus, log: statusLog{name: "compass", healthy: true}}
	if err := a.init(); err != nil {
		bus.Close()
		return nil, err
	}
	monitoring.Logf("sensors: compass ready on I2C %s addr 0x%02X", busName, addr)
	return a, nil
}

func (a *AK8963) write(reg, v byte) error {
	return a.dev.Tx([]byte{reg, v}, nil)
}

func (a *AK8963) init() error {
	id := make([]byte, 1)
	if err := a.dev.Tx([]byte{akWhoAmI}, id); err != nil {
		return fmt.Errorf("compass WHO_AM_I: %w", err)
	}
	if id[0] != akDeviceID {
		return fmt.Errorf("compass WHO_AM_I = 0x%02X, want 0x%02X", id[0], akDeviceID)
	}
	if err := a.write(akCNTL1, akModePowerDown); err != nil {
		return fmt.Errorf("compass power down: %w", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := a.write(akCNTL1, akModeFuseROM); err != nil {
		return fmt.Errorf("compass fuse ROM: %w", err)
	}
	time.Sleep(10 * time.Millisecond)
	asa := make([]byte, 3)
	if err := a.dev.Tx([]byte{akASAX}, asa); err != nil {
		return fmt.Errorf("compass sensitivity adjustment: %w", err)
	}
	for i, v := range asa {
		a.adj[i] = (float64(v)-128)/256 + 1
	}
	if err := a.write(akCNTL1, akModePowerDown); err != nil {
		return fmt.Errorf("compass power down: %w", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := a.write(akCNTL1, akModeCont100Hz); err != nil {
		return fmt.Errorf("compass continuous mode: %w", err)
	}
	return nil
}

func (a *AK8963) ReadMag() (geo.Vector3, Status) {
	// ST1, HXL..HZH, ST2 in one burst; reading ST2 releases the data latch.
	buf := make([]byte, 8)
	err := a.dev.Tx([]byte{akST1}, buf)
	st := a.log.report(err)
	if st != Fresh {
		return a.last, st
	}
	if buf[0]&0x01 == 0 {
		return a.last, Stale
	}
	if buf[7]&0x08 != 0 {
		// magnetic overflow
		return a.last, Stale
	}
	var v [3]float64
	for i := range v {
		raw := int16(binary.LittleEndian.Uint16(buf[1+2*i:]))
		v[i] = float64(raw) * a.adj[i] * akMicroTeslaPerLSB
	}
	a.last = geo.Vector3{X: v[0], Y: v[1], Z: v[2]}
	return a.last, Fresh
}

func (a *AK8963) Close() error {
	return a.bus.Close()
}

// PWMOutput drives ESCs with hardware PWM on GPIO pins.
type PWMOutput struct {
	pins   []gpio.PinIO
	period float64 // µs
	freq   physic.Frequency
	log    statusLog
}

// NewPWMOutput opens one pin per motor, refreshed at rateHz.
func NewPWMOutput(pinNames []string, rateHz int) (*PWMOutput, error) {
	if err := InitHost(); err != nil {
		return nil, fmt.Errorf("motors: %w", err)
	}
	o := &PWMOutput{
		period: 1e6 / float64(rateHz),
		freq:   physic.Frequency(rateHz) * physic.Hertz,
		log:    statusLog{name: "motors", healthy: true},
	}
	for _, name := range pinNames {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("motors: pin %q not found", name)
		}
		o.pins = append(o.pins, p)
	}
	return o, nil
}

func (o *PWMOutput) WritePulses(pulses []float64) {
	var firstErr error
	for i, p := range o.pins {
		if i >= len(pulses) {
			break
		}
		duty := gpio.Duty(geo.Clamp(pulses[i]/o.period, 0, 1) * float64(gpio.DutyMax))
		if err := p.PWM(duty, o.freq); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("pin %s: %w", p.Name(), err)
		}
	}
	o.log.report(firstErr)
}
