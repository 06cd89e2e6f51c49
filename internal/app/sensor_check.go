// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/flight_computer/internal/config"
	"github.com/relabs-tech/flight_computer/internal/env"
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/sensors"
	"github.com/relabs-tech/flight_computer/internal/timeutil"
)

// stillStdGood is the gyro noise (rad/s) of a bench that is not touched.
const stillStdGood = 0.01

// axisStats collects per axis samples.
type axisStats struct {
	x, y, z []float64
}

func (a *axisStats) add(v geo.Vector3) {
	a.x = append(a.x, v.X)
	a.y = append(a.y, v.Y)
	a.z = append(a.z, v.Z)
}

func (a *axisStats) reset() { a.x, a.y, a.z = a.x[:0], a.y[:0], a.z[:0] }

// meanStd returns the per axis mean and the largest axis deviation.
func (a *axisStats) meanStd() (geo.Vector3, float64) {
	if len(a.x) == 0 {
		return geo.Vector3{}, 0
	}
	mx, sx := stat.MeanStdDev(a.x, nil)
	my, sy := stat.MeanStdDev(a.y, nil)
	mz, sz := stat.MeanStdDev(a.z, nil)
	return geo.Vector3{X: mx, Y: my, Z: mz}, max(sx, sy, sz)
}

// sensorReport is one line of the bench check.
func sensorReport(gyro geo.Vector3, gyroStd float64, accel, mag geo.Vector3, magOK bool, baroAlt float64, errs sensors.ErrorBits) string {
	still := "moving"
	if gyroStd < stillStdGood {
		still = "still"
	}
	m := "n/a"
	if magOK {
		m = fmt.Sprintf("%6.1f %6.1f %6.1f", mag.X, mag.Y, mag.Z)
	}
	return fmt.Sprintf("gyro %8.4f %8.4f %8.4f (%s, σ=%.4f)  acc %6.2f %6.2f %6.2f  mag %s  baro %7.2fm  err=%s",
		gyro.X, gyro.Y, gyro.Z, still, gyroStd, accel.X, accel.Y, accel.Z, m, baroAlt, errs)
}

// RunSensorCheck opens the vehicle sensors without the motors and prints
// averaged readings every interval until ctx ends.
func RunSensorCheck(ctx context.Context, cfg *config.Config, interval time.Duration, out io.Writer) error {
	d, err := openSensors(cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	if d.gpsPort != nil {
		d.gpsPort.Close()
	}
	set := d.hw.Sensors
	set.GPS = nil

	var gyro, accel axisStats
	var mag geo.Vector3
	magOK := false
	baroAlt, p0, t0 := 0.0, 0.0, 0.0

	sample := time.NewTicker(time.Millisecond)
	defer sample.Stop()
	report := time.NewTicker(interval)
	defer report.Stop()
	log.Printf("sensors: bench check running, reporting every %s", interval)

	var errs sensors.ErrorBits
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-sample.C:
			now := timeutil.Micros(t)
			s, e := set.ReadIMU(now)
			errs |= e
			gyro.add(s.Gyro)
			accel.add(s.Accel)
			if v, fresh, e := set.ReadMag(now); fresh {
				mag, magOK = v, true
			} else {
				errs |= e
			}
			if b, fresh, e := set.ReadBaro(now); fresh {
				if p0 == 0 {
					p0, t0 = b.Pressure, b.Temperature
				}
				baroAlt = env.Altitude(b.Pressure, p0, t0)
			} else {
				errs |= e
			}
		case <-report.C:
			g, gStd := gyro.meanStd()
			a, _ := accel.meanStd()
			fmt.Fprintln(out, sensorReport(g, gStd, a, mag, magOK, baroAlt, errs))
			gyro.reset()
			accel.reset()
			errs = 0
		}
	}
}
