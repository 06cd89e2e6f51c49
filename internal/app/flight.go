// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/flight_computer/internal/command"
	"github.com/relabs-tech/flight_computer/internal/config"
	"github.com/relabs-tech/flight_computer/internal/events"
	"github.com/relabs-tech/flight_computer/internal/monitoring"
	"github.com/relabs-tech/flight_computer/internal/params"
	"github.com/relabs-tech/flight_computer/internal/pilot"
	"github.com/relabs-tech/flight_computer/internal/scheduler"
	"github.com/relabs-tech/flight_computer/internal/sim"
	"github.com/relabs-tech/flight_computer/internal/telemetry"
	"github.com/relabs-tech/flight_computer/internal/timeutil"
)

const (
	imuPeriod      = time.Millisecond
	commandBacklog = 16
	mqttTimeout    = 5 * time.Second
)

// StatusPublisher sends the flight state snapshot.
type StatusPublisher interface {
	PublishStatus(s pilot.Status) error
}

// discard is the sink used when no broker is reachable. The outbox is still
// drained so the dropped counter only reflects a stalled flush task.
type discard struct{}

func (discard) PublishRecord(pilot.Record) error { return nil }
func (discard) PublishEvent(events.Event) error  { return nil }
func (discard) PublishStatus(pilot.Status) error { return nil }

// Flight is the assembled flight core: the pilot, its devices, the
// parameter store, the telemetry link and the task runner.
type Flight struct {
	cfg    *config.Config
	Pilot  *pilot.Pilot
	Sim    *sim.Vehicle // nil on real hardware
	Queue  *command.Queue
	Runner *scheduler.Runner

	store   *params.SQLiteStore
	devices *devices
	mqtt    mqtt.Client
	sink    pilot.Sink
	status  StatusPublisher

	// owned by the log and status tasks respectively
	logFailing, statusFailing bool
}

// NewFlight opens everything cfg names. The MQTT broker is optional: when
// it cannot be reached the core flies without telemetry.
func NewFlight(cfg *config.Config, clock timeutil.Clock) (*Flight, error) {
	f := &Flight{cfg: cfg, Queue: command.NewQueue(commandBacklog)}

	store, err := params.OpenSQLite(cfg.ParamDBPath)
	if err != nil {
		return nil, err
	}
	f.store = store
	prm := params.Defaults()
	if err := params.Load(store, &prm); err != nil {
		store.Close()
		return nil, fmt.Errorf("app: load parameters: %w", err)
	}

	var hw pilot.Hardware
	board := "rpi"
	if cfg.Simulation {
		f.Sim = sim.NewVehicle()
		hw = pilot.Hardware{Sensors: f.Sim.Sensors(), RC: f.Sim, Motors: f.Sim}
		board = "sim"
	} else {
		d, err := openDevices(cfg)
		if err != nil {
			store.Close()
			return nil, err
		}
		f.devices = d
		hw = d.hw
	}

	boardID, _ := os.Hostname()
	p, err := pilot.New(pilot.Config{
		Params:   prm,
		Store:    store,
		Board:    board,
		BoardID:  []byte(boardID),
		Commands: f.Queue,
		Outbox:   pilot.NewOutbox(pilot.DefaultOutboxSize),
	}, hw)
	if err != nil {
		f.Close()
		return nil, err
	}
	f.Pilot = p

	f.sink, f.status = discard{}, discard{}
	client, err := telemetry.Connect(cfg.MQTTBroker, cfg.MQTTClientID, mqttTimeout)
	if err != nil {
		monitoring.Logf("app: telemetry disabled: %v", err)
	} else {
		monitoring.Logf("app: connected to MQTT broker at %s", cfg.MQTTBroker)
		pub := telemetry.NewPublisher(client, telemetry.NewTopics(cfg.TopicPrefix))
		pub.Decimate = cfg.LogDecimate
		f.mqtt, f.sink, f.status = client, pub, pub
	}

	f.Runner = scheduler.NewRunner(clock)
	if err := f.registerTasks(prm); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (f *Flight) registerTasks(prm params.Params) error {
	sampler := f.Pilot.Sampler()
	loop := time.Duration(prm.LoopPeriod) * time.Microsecond
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }

	tasks := []struct {
		name   string
		period time.Duration
		h      scheduler.Handler
	}{
		{"imu", imuPeriod, func(now int64) {
			if f.Sim != nil {
				f.Sim.Step(now)
			}
			sampler.Sample(now)
		}},
		{"control", loop, f.Pilot.Tick},
		{"log", ms(f.cfg.LogFlushPeriod), f.flush},
		{"status", ms(f.cfg.TelemetryInterval), func(int64) {
			report(&f.statusFailing, "status", f.status.PublishStatus(f.Pilot.Status()))
		}},
		{"params", ms(f.cfg.ParamPersistPeriod), func(int64) {
			if err := f.Pilot.PersistParams(); err != nil {
				monitoring.Logf("app: persist parameters: %v", err)
			}
		}},
	}
	for _, t := range tasks {
		if err := f.Runner.RegisterPeriodic(t.name, t.period, t.h); err != nil {
			return err
		}
	}
	return nil
}

func (f *Flight) flush(int64) {
	report(&f.logFailing, "log", f.Pilot.Outbox().Flush(f.sink))
}

// report logs the first failure and the recovery, not every publish.
func report(failing *bool, what string, err error) {
	switch {
	case err != nil && !*failing:
		monitoring.Logf("app: %s publish failing: %v", what, err)
	case err == nil && *failing:
		monitoring.Logf("app: %s publish recovered", what)
	}
	*failing = err != nil
}

// Run starts the tasks and the transports and blocks until ctx ends.
func (f *Flight) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errc := make(chan error, 4)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Logf("app: %s stopped: %v", name, err)
				errc <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	f.Pilot.Start(ctx)
	if f.devices != nil && f.devices.gps != nil {
		spawn("gps", func(ctx context.Context) error {
			port := f.devices.gpsPort
			stop := context.AfterFunc(ctx, func() { port.Close() })
			defer stop()
			return f.devices.gps.Run(ctx, port)
		})
	}
	if f.cfg.CommandSerialPort != "" {
		spawn("command link", f.serveSerial)
	}
	spawn("web", func(ctx context.Context) error {
		return RunWeb(ctx, f.cfg.WebServerPort, f.Queue, f.Pilot, f.Runner,
			time.Duration(f.cfg.TelemetryInterval)*time.Millisecond)
	})
	if f.cfg.DisplayI2CAddr != 0 && !f.cfg.Simulation {
		spawn("display", func(ctx context.Context) error {
			return RunDisplay(ctx, f.cfg.DisplayI2CAddr,
				time.Duration(f.cfg.DisplayUpdateInterval)*time.Millisecond, f.Pilot)
		})
	}

	err := f.Runner.Run(ctx)
	cancel()
	wg.Wait()
	close(errc)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	for e := range errc {
		monitoring.Logf("app: %v", e)
	}
	return err
}

// serveSerial runs the command protocol on the serial link and reopens the
// port after a failure.
func (f *Flight) serveSerial(ctx context.Context) error {
	for {
		port, err := OpenSerial(f.cfg.CommandSerialPort, f.cfg.CommandBaudRate)
		if err != nil {
			return err
		}
		monitoring.Logf("app: command link on %s", f.cfg.CommandSerialPort)
		err = command.Serve(ctx, port, f.Queue)
		port.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		monitoring.Logf("app: command link error: %v", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Close persists the parameters and releases every device.
func (f *Flight) Close() error {
	var errs []error
	if f.Pilot != nil {
		errs = append(errs, f.Pilot.PersistParams())
	}
	if f.mqtt != nil {
		f.mqtt.Disconnect(250)
	}
	if f.devices != nil {
		errs = append(errs, f.devices.Close())
	}
	if f.store != nil {
		errs = append(errs, f.store.Close())
	}
	return errors.Join(errs...)
}
