// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pilot owns the complete flight controller state and runs the
// control tick: RC and sensor input, estimation, flight modes, control,
// motor output and the safety checks.
package pilot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/relabs-tech/flight_computer/internal/altitude"
	"github.com/relabs-tech/flight_computer/internal/calibration"
	"github.com/relabs-tech/flight_computer/internal/command"
	"github.com/relabs-tech/flight_computer/internal/control"
	"github.com/relabs-tech/flight_computer/internal/env"
	"github.com/relabs-tech/flight_computer/internal/events"
	"github.com/relabs-tech/flight_computer/internal/filter"
	"github.com/relabs-tech/flight_computer/internal/flightmode"
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/gps"
	"github.com/relabs-tech/flight_computer/internal/imu"
	"github.com/relabs-tech/flight_computer/internal/mixer"
	"github.com/relabs-tech/flight_computer/internal/monitoring"
	"github.com/relabs-tech/flight_computer/internal/orientation"
	"github.com/relabs-tech/flight_computer/internal/params"
	"github.com/relabs-tech/flight_computer/internal/position"
	"github.com/relabs-tech/flight_computer/internal/safety"
	"github.com/relabs-tech/flight_computer/internal/scheduler"
	"github.com/relabs-tech/flight_computer/internal/sensors"
)

// Version is reported by the hello command.
const Version = "1.4.0"

const (
	// MaxTickInterval is the longest tick interval (s) the estimators
	// accept; longer gaps skip estimation and control.
	MaxTickInterval = 0.2

	magInterval  = 20_000 // µs, 50 Hz
	baroInterval = 20_000
	flowInterval = 10_000 // 100 Hz

	takeoffDelay    = 2_000_000 // µs before the takeoff climb
	takeoffDrop     = 2.0       // m below current altitude while spinning up
	takeoffClimb    = 1.0       // m above current altitude
	fastLandHeight  = 10.0      // m above takeoff
	airborneHeight  = 1.0       // m above takeoff
	groundEffectAlt = 0.5       // m of range below which land effect applies
	refLatchAlt     = 5.0       // m, baro reference temperature follows below
	minLowPowerVolt = 6.0
	maxLowPowerDt   = 0.1
	batteryCutoff   = 2.0 // Hz
	modeRetry       = 1_000_000
)

var ErrNoHardware = errors.New("no sensors configured")

// Indicator shows the RGB state light.
type Indicator interface {
	SetColor(c Color)
}

// Light switches the flashlight.
type Light interface {
	SetFlashlight(on bool)
}

// Hardware is everything the pilot talks to. Indicator and Light may be
// nil.
type Hardware struct {
	Sensors   *sensors.Set
	RC        sensors.RCReader
	Motors    sensors.Actuator
	Indicator Indicator
	Light     Light
}

// Config carries the startup parameters. Store may be nil, in which case
// parameter changes are not persisted.
type Config struct {
	Params   params.Params
	Store    params.Store
	Board    string
	BoardID  []byte
	Commands *command.Queue
	Outbox   *Outbox
}

type home struct {
	north, east float64
	set         bool
}

// Pilot is the flight controller context. Every method except Status,
// PersistParams and Start must be called from the control loop goroutine.
type Pilot struct {
	hw      Hardware
	prm     params.Params
	store   params.Store
	sampler *scheduler.IMUSampler

	commands   *command.Queue
	dispatcher *command.Dispatcher
	outbox     *Outbox

	// estimation
	static      *orientation.StaticInit
	mahony      *orientation.Mahony
	ekf         *orientation.EKF
	att         orientation.Estimate
	alt         *altitude.Estimator
	altEst      altitude.Estimate
	pos         *position.Estimator
	posEst      position.Estimate
	posReady    bool
	ground      position.GroundAccel
	initialized bool
	initErr     error

	groundPressure, groundTemp float64

	accelCorr, magCorr imu.Correction
	gyroComp           imu.TempCompensation

	// latest inputs
	frame     scheduler.IMUFrame
	accel     geo.Vector3 // corrected, filtered
	gyro      geo.Vector3 // temperature compensated, filtered
	magRaw    geo.Vector3
	mag       geo.Vector3
	magFresh  bool
	baro      env.Sample
	baroAlt   float64
	baroFresh bool
	rangeDist float64
	flowFrame sensors.FlowFrame
	flowFresh bool
	fix       gps.Fix
	fixFresh  bool
	errs      sensors.ErrorBits
	magErr    sensors.ErrorBits
	baroErr   sensors.ErrorBits
	voltage   *filter.LowPass
	current   *filter.LowPass
	mAh       float64
	batteryOK bool
	lastMag   int64
	lastBaro  int64
	lastFlow  int64
	rcFrame   sensors.RCFrame
	mobile    safety.MobileSticks

	// control
	attCtl   *control.AttitudeController
	altCtl   *control.AltitudeController
	mix      *mixer.Mixer
	out      mixer.Output
	torque   geo.Vector3
	throttle float64

	modes       *flightmode.Machine
	modeSwitch  *flightmode.Switch
	failedMode  flightmode.Kind
	failedInput flightmode.Inputs
	failedAt    int64

	// flight state
	armed      bool
	airborne   bool
	landing    bool
	takeoffAlt float64
	takeoffAt  int64
	session    uuid.UUID
	home       home
	flashlight bool

	// set once the vehicle climbs rtlMinHeight above takeoff
	reachedRTLHeight bool

	// safety
	rc        *safety.RCInput
	sticks    *safety.StickActions
	crash     safety.CrashDetector
	land      safety.LandDetector
	lowPower  safety.LowPower
	accCal    *calibration.AccelSession
	magCal    *calibration.MagSession
	magWorker *calibration.Worker
	events    events.Ring
	color     Color

	now, last int64
	dt        float64

	statusMu sync.Mutex
	status   Status
}

// New builds a pilot around the given hardware.
func New(cfg Config, hw Hardware) (*Pilot, error) {
	if hw.Sensors == nil {
		return nil, ErrNoHardware
	}
	p := &Pilot{
		hw:         hw,
		prm:        cfg.Params,
		store:      cfg.Store,
		commands:   cfg.Commands,
		outbox:     cfg.Outbox,
		static:     orientation.NewStaticInit(),
		mahony:     orientation.NewMahony(),
		ekf:        orientation.NewEKF(),
		pos:        position.NewEstimator(),
		attCtl:     control.NewAttitudeController(),
		modeSwitch: flightmode.NewSwitch(),
		failedMode: flightmode.Invalid,
		rc:         safety.NewRCInput(),
		sticks:     safety.NewStickActions(),
		accCal:     calibration.NewAccelSession(),
		magCal:     calibration.NewMagSession(),
		magWorker:  calibration.NewWorker(),
		voltage:    filter.NewLowPass(batteryCutoff),
		current:    filter.NewLowPass(batteryCutoff),
		session:    uuid.Nil,
	}
	p.sampler = scheduler.NewIMUSampler(hw.Sensors.ReadIMU)
	if p.outbox == nil {
		p.outbox = NewOutbox(DefaultOutboxSize)
	}
	p.dispatcher = &command.Dispatcher{Vehicle: p, Version: Version, Board: cfg.Board, BoardID: cfg.BoardID}
	if err := p.configure(); err != nil {
		return nil, err
	}
	p.alt = altitude.New(params.Flag(p.prm.AltEstimator2))
	p.altCtl = control.NewAltitudeController(p.prm.MaxClimb, p.prm.MaxDescend)
	p.modes = flightmode.NewMachine(
		&basicMode{p: p},
		&altHoldMode{p: p},
		newPosHoldMode(p),
		newFlowMode(p),
		newRTLMode(p),
	)
	p.modes.OnChange(func(from, to flightmode.Kind) {
		p.emit(events.ModeChanged, int(to))
	})
	p.out = p.mix.StopAll()
	return p, nil
}

// configure derives the runtime objects that depend on parameters.
func (p *Pilot) configure() error {
	for _, r := range []struct {
		key string
		v   float64
	}{{"maxC", p.prm.MaxClimb}, {"maxD", p.prm.MaxDescend}} {
		if !(r.v > 0) || math.IsInf(r.v, 0) {
			return fmt.Errorf("pilot: %s %v: %w", r.key, r.v, params.ErrInvalid)
		}
	}

	layout := mixer.Plus
	if p.prm.MotorMatrix > 0.5 {
		layout = mixer.X
	}
	m, err := mixer.New(layout, p.prm.Idle, p.prm.ThrottleMax(), p.prm.ThrottleStop())
	if err != nil {
		return fmt.Errorf("pilot: %w", err)
	}
	p.mix = m

	for i := range p.rc.Channels {
		c := p.prm.RC[i]
		p.rc.Channels[i] = safety.ChannelConfig{
			Min: c[params.RCMin], Center: c[params.RCCenter], Max: c[params.RCMax],
			Reverse: params.Flag(c[params.RCReverse]),
		}
	}
	p.accelCorr = imu.Correction{Bias: vec(p.prm.AccelBias), Scale: vec(p.prm.AccelScale)}
	p.magCorr = imu.Correction{Bias: vec(p.prm.MagBias), Scale: vec(p.prm.MagScale)}
	gt := p.prm.GyroTemp
	p.gyroComp = imu.NewTempCompensation(
		imu.TempPoint{Temperature: gt[0].Temperature, Bias: vec(gt[0].Bias)},
		imu.TempPoint{Temperature: gt[1].Temperature, Bias: vec(gt[1].Bias)},
	)
	if p.altCtl != nil {
		p.altCtl.MaxClimb, p.altCtl.MaxDescend = p.prm.MaxClimb, p.prm.MaxDescend
	}
	if p.alt != nil {
		p.alt.Sonar = params.Flag(p.prm.AltEstimator2)
	}
	return nil
}

func vec(a [3]float64) geo.Vector3 { return geo.Vector3{X: a[0], Y: a[1], Z: a[2]} }

// Sampler is the IMU sampling task handler to register with the scheduler.
func (p *Pilot) Sampler() *scheduler.IMUSampler { return p.sampler }

// Outbox holds the log records and events waiting for the flush task.
func (p *Pilot) Outbox() *Outbox { return p.outbox }

// Dispatcher runs protocol lines against this pilot.
func (p *Pilot) Dispatcher() *command.Dispatcher { return p.dispatcher }

// Start runs the background magnetometer fit worker until ctx ends.
func (p *Pilot) Start(ctx context.Context) {
	go p.magWorker.Run(ctx)
}

// PersistParams flushes buffered parameter writes. It is safe to call from
// any goroutine.
func (p *Pilot) PersistParams() error {
	if p.store == nil {
		return nil
	}
	return p.store.Persist()
}

func (p *Pilot) emit(kind events.Kind, arg int) {
	if !p.events.Push(events.Event{Kind: kind, Arg: arg, Time: p.now}) {
		monitoring.Logf("pilot: event %s dropped", kind)
	}
}

// estimator returns the attitude filter selected by the ekf parameter.
func (p *Pilot) estimator() orientation.Estimator {
	if params.Flag(p.prm.UseEKF) {
		return p.ekf
	}
	return p.mahony
}

// effectiveErrors masks the error bits the user chose to ignore.
func (p *Pilot) effectiveErrors() sensors.ErrorBits {
	return p.errs &^ sensors.ErrorBits(uint8(p.prm.IgnoreErrors))
}

func (p *Pilot) Armed() bool { return p.armed }

func (p *Pilot) Airborne() bool { return p.airborne }

func (p *Pilot) Landing() bool { return p.landing }

// Initialized reports whether the static initialization finished.
func (p *Pilot) Initialized() bool { return p.initialized }

func (p *Pilot) Mode() flightmode.Kind { return p.modes.Current() }

func (p *Pilot) Attitude() orientation.Estimate { return p.att }

func (p *Pilot) AltitudeEstimate() altitude.Estimate { return p.altEst }

func (p *Pilot) PositionEstimate() position.Estimate { return p.posEst }

// Home returns the latched home position.
func (p *Pilot) Home() (north, east float64, ok bool) {
	return p.home.north, p.home.east, p.home.set
}

// AltitudeTarget returns the altitude controller target.
func (p *Pilot) AltitudeTarget() float64 {
	t, _ := p.altCtl.AltitudeState()
	return t
}

func (p *Pilot) MotorOutput() mixer.Output { return p.out }

func (p *Pilot) RCState() safety.RCState { return p.rc.State() }

func (p *Pilot) LowPowerLevel() int { return p.lowPower.Level() }

func (p *Pilot) Session() uuid.UUID { return p.session }

// Params returns a copy of the current parameters.
func (p *Pilot) Params() params.Params { return p.prm }
