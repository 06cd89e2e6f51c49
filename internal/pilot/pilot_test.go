// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pilot

import (
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/flight_computer/internal/events"
	"github.com/relabs-tech/flight_computer/internal/flightmode"
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/monitoring"
	"github.com/relabs-tech/flight_computer/internal/orientation"
	"github.com/relabs-tech/flight_computer/internal/params"
	"github.com/relabs-tech/flight_computer/internal/safety"
	"github.com/relabs-tech/flight_computer/internal/sim"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

const tick = 1000 // µs

// bench runs a pilot against a simulated vehicle on a test stand.
type bench struct {
	t     *testing.T
	v     *sim.Vehicle
	p     *Pilot
	store *params.MemoryStore
	now   int64
}

func newBench(t *testing.T) *bench {
	t.Helper()
	v := sim.NewVehicle()
	v.SetPinned(true)
	store := params.NewMemoryStore()
	p, err := New(Config{Params: params.Defaults(), Store: store, Board: "sim"},
		Hardware{Sensors: v.Sensors(), RC: v, Motors: v})
	require.NoError(t, err)
	return &bench{t: t, v: v, p: p, store: store, now: 1_000_000}
}

func (b *bench) step() {
	b.now += tick
	b.v.Step(b.now)
	b.p.Sampler().Sample(b.now)
	b.p.Tick(b.now)
}

func (b *bench) run(d int64) {
	for end := b.now + d; b.now < end; {
		b.step()
	}
}

// runUntil steps until cond holds or limit passes and returns the elapsed
// time in µs.
func (b *bench) runUntil(limit int64, cond func() bool) (int64, bool) {
	start := b.now
	for b.now-start < limit {
		b.step()
		if cond() {
			return b.now - start, true
		}
	}
	return b.now - start, false
}

func (b *bench) initialize() {
	b.t.Helper()
	for i := 0; i < orientation.StaticSamples; i++ {
		b.step()
	}
	require.True(b.t, b.p.Initialized())
}

type recordingSink struct {
	records []Record
	events  []events.Event
	err     error
}

func (s *recordingSink) PublishRecord(r Record) error {
	s.records = append(s.records, r)
	return s.err
}

func (s *recordingSink) PublishEvent(e events.Event) error {
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) kinds() []events.Kind {
	var k []events.Kind
	for _, e := range s.events {
		k = append(k, e.Kind)
	}
	return k
}

func TestNewRequiresSensors(t *testing.T) {
	_, err := New(Config{Params: params.Defaults()}, Hardware{})
	assert.ErrorIs(t, err, ErrNoHardware)
}

func TestStaticInitializationAfterStillWindow(t *testing.T) {
	b := newBench(t)
	for i := 0; i < orientation.StaticSamples-1; i++ {
		b.step()
	}
	assert.False(t, b.p.Initialized())
	assert.ErrorIs(t, b.p.Arm(), safety.ErrSensorInit)

	b.step()
	require.True(t, b.p.Initialized())
	assert.InDelta(t, 0, b.p.Attitude().Roll, 0.01)
	assert.InDelta(t, 0, b.p.Attitude().Pitch, 0.01)

	require.NoError(t, b.p.Arm())
	b.step()
	assert.True(t, b.p.Armed())
	assert.Equal(t, flightmode.AltHold, b.p.Mode())
	assert.NotEqual(t, uuid.Nil, b.p.Session())
	for _, pulse := range b.p.MotorOutput().Pulses {
		assert.GreaterOrEqual(t, pulse, b.p.Params().Idle)
	}

	st := b.p.Status()
	assert.True(t, st.Armed)
	assert.Equal(t, flightmode.AltHold, st.Mode)

	sink := &recordingSink{}
	require.NoError(t, b.p.Outbox().Flush(sink))
	assert.Contains(t, sink.kinds(), events.Armed)
	assert.NotEmpty(t, sink.records)
}

func TestArmRejectedWhileAccelCalibrationPending(t *testing.T) {
	b := newBench(t)
	b.initialize()
	d := b.p.Dispatcher()

	assert.Equal(t, "acc_cal,ok", d.Handle("acc_cal"))
	b.run(50 * tick)
	assert.Equal(t, "acc_cal_state,0", d.Handle("acc_cal_state"))
	assert.Equal(t, "arm,fail,accelerometer calibration incomplete", d.Handle("arm"))
	assert.False(t, b.p.Armed())
}

func TestCrashDisarmsOnTheSameTick(t *testing.T) {
	b := newBench(t)
	b.initialize()
	require.NoError(t, b.p.Arm())
	b.run(20 * tick)
	require.True(t, b.p.Armed())

	b.v.InjectAccel(geo.Vector3{X: 6.5 * geo.G})
	b.step()
	assert.False(t, b.p.Armed())
	assert.Equal(t, flightmode.Invalid, b.p.Mode())
	prm := b.p.Params()
	stop := prm.ThrottleStop()
	for _, pulse := range b.v.Pulses() {
		assert.Equal(t, stop, pulse)
	}

	b.v.InjectAccel(geo.Vector3{})
	b.step()
	sink := &recordingSink{}
	require.NoError(t, b.p.Outbox().Flush(sink))
	assert.Contains(t, sink.kinds(), events.Crash)
	assert.Contains(t, sink.kinds(), events.Disarmed)
}

func TestArmedOnGroundStaysGrounded(t *testing.T) {
	b := newBench(t)
	b.initialize()
	require.NoError(t, b.p.Arm())
	b.run(100 * tick)
	assert.True(t, b.p.Armed())
	assert.False(t, b.p.Airborne())
}

func TestEmergencySwitchDisarms(t *testing.T) {
	b := newBench(t)
	b.initialize()
	require.NoError(t, b.p.Arm())
	b.run(20 * tick)

	b.v.SetRC(safety.ChEmergency, 2000)
	b.step()
	assert.False(t, b.p.Armed())
	assert.ErrorIs(t, b.p.Arm(), safety.ErrEmergencySwitch)
}

func TestRCLossReturnsToLaunch(t *testing.T) {
	b := newBench(t)
	b.initialize()
	_, ok := b.runUntil(2_000_000, func() bool { return b.p.PositionEstimate().Ready })
	require.True(t, ok, "position never became ready")
	b.step()
	_, _, homeSet := b.p.Home()
	require.True(t, homeSet)

	b.v.SetRC(safety.ChThrottle, 1520)
	b.run(10 * tick)
	require.NoError(t, b.p.Arm())
	b.v.SetAltitude(10)
	_, ok = b.runUntil(10_000_000, b.p.Airborne)
	require.True(t, ok, "vehicle never became airborne")
	require.True(t, b.p.Armed())

	b.v.SetRCLive(false)
	elapsed, ok := b.runUntil(6_000_000, func() bool { return b.p.Mode() == flightmode.RTL })
	require.True(t, ok, "RTL never engaged, mode %s", b.p.Mode())
	assert.Greater(t, elapsed, int64(3_000_000))
	assert.Equal(t, safety.RCFailed, b.p.RCState())
	assert.True(t, b.p.Armed())

	b.step()
	assert.True(t, b.p.Landing(), "RTL at home lands")
}

// flyPosHold arms the bench, lifts it off and waits for position hold.
func (b *bench) flyPosHold() {
	b.t.Helper()
	b.initialize()
	_, ok := b.runUntil(2_000_000, func() bool { return b.p.PositionEstimate().Ready })
	require.True(b.t, ok, "position never became ready")

	b.v.SetRC(safety.ChThrottle, 1520)
	b.v.SetRC(safety.ChMode, 2000)
	b.run(10 * tick)
	require.NoError(b.t, b.p.Arm())
	b.v.SetAltitude(10)
	_, ok = b.runUntil(10_000_000, func() bool { return b.p.Mode() == flightmode.PosHold })
	require.True(b.t, ok, "position hold never engaged, mode %s", b.p.Mode())
}

func TestPositionLossDemotesPosHoldOnTheSameTick(t *testing.T) {
	b := newBench(t)
	b.flyPosHold()

	b.v.SetGPS(false)
	for i := 0; i < 3000; i++ {
		b.step()
		s := b.p.Status()
		require.False(t, s.Mode == flightmode.PosHold && !s.PosReady, "poshold with position not ready at tick %d", i)
		if !s.PosReady {
			break
		}
	}
	assert.False(t, b.p.PositionEstimate().Ready)
	assert.NotEqual(t, flightmode.PosHold, b.p.Mode())
	assert.True(t, b.p.Armed())
}

func TestRTLKeepsMinimumHeightOnceReached(t *testing.T) {
	tests := []struct {
		name     string
		climbTo  float64
		wantSafe bool
	}{
		{"never above minimum", 3, false},
		{"descended below minimum", 10, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := newBench(t)
			b.initialize()
			_, ok := b.runUntil(2_000_000, func() bool { return b.p.PositionEstimate().Ready })
			require.True(t, ok, "position never became ready")
			b.v.SetRC(safety.ChThrottle, 1520)
			b.run(10 * tick)
			require.NoError(t, b.p.Arm())

			b.v.SetAltitude(tc.climbTo)
			_, ok = b.runUntil(10_000_000, func() bool {
				return b.p.AltitudeEstimate().Altitude-b.p.takeoffAlt > tc.climbTo-0.5
			})
			require.True(t, ok, "vehicle never climbed")
			assert.Equal(t, tc.wantSafe, b.p.reachedRTLHeight)

			b.v.SetAltitude(3)
			_, ok = b.runUntil(10_000_000, func() bool {
				return b.p.AltitudeEstimate().Altitude-b.p.takeoffAlt < 3.5
			})
			require.True(t, ok, "vehicle never descended")
			require.True(t, b.p.Armed())

			require.NoError(t, b.p.RTL())
			if tc.wantSafe {
				assert.InDelta(t, b.p.takeoffAlt+rtlMinHeight, b.p.AltitudeTarget(), 1e-9)
			} else {
				assert.InDelta(t, b.p.AltitudeEstimate().Altitude, b.p.AltitudeTarget(), 1e-9)
			}
		})
	}
}

func TestSetParamStoresAndGuardsHardwareKeys(t *testing.T) {
	b := newBench(t)
	b.initialize()
	d := b.p.Dispatcher()

	assert.Equal(t, "set,maxC,ok", d.Handle("set,maxC,3"))
	assert.Equal(t, 3.0, b.p.Params().MaxClimb)
	v, err := b.store.Get("maxC")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)
	assert.Equal(t, "get,maxC,3", d.Handle("get,maxC"))

	require.NoError(t, b.p.Arm())
	assert.Equal(t, "set,,fail", d.Handle("set,mat,1"))
	assert.Equal(t, 0.0, b.p.Params().MotorMatrix)
	assert.Equal(t, "set,,not found", d.Handle("set,nope,1"))
}

func TestSetParamRejectsInvalidClimbLimits(t *testing.T) {
	b := newBench(t)
	b.initialize()
	d := b.p.Dispatcher()

	for _, line := range []string{"set,maxD,-1", "set,maxD,0", "set,maxD,NAN", "set,maxC,-2", "set,maxC,NAN"} {
		assert.Equal(t, "set,,fail", d.Handle(line), line)
	}
	assert.Equal(t, 5.0, b.p.Params().MaxClimb)
	assert.Equal(t, 2.0, b.p.Params().MaxDescend)
	assert.Equal(t, 2.0, b.p.altCtl.MaxDescend)
	assert.Equal(t, "get,maxD,2", d.Handle("get,maxD"))
	_, err := b.store.Get("maxD")
	assert.Error(t, err, "rejected values are not stored")

	err = b.p.SetParam("maxD", -1)
	assert.ErrorIs(t, err, params.ErrInvalid)
}

func TestStateReply(t *testing.T) {
	b := newBench(t)
	b.initialize()
	b.run(300 * tick)
	s := b.p.State()
	assert.InDelta(t, 48.1173, s.Latitude, 1e-4)
	assert.InDelta(t, 11.5167, s.Longitude, 1e-4)
	assert.True(t, s.PositionReady)
	assert.InDelta(t, 12.4, s.Voltage, 0.05)
	assert.InDelta(t, 0.9, s.Battery, 0.05)
	assert.False(t, s.RTL)
}

func TestRTLRequiresHome(t *testing.T) {
	b := newBench(t)
	b.v.SetGPS(false)
	b.initialize()
	require.NoError(t, b.p.Arm())
	b.step()

	assert.ErrorIs(t, b.p.RTL(), flightmode.ErrPositionNotReady)
	assert.Equal(t, flightmode.AltHold, b.p.Mode())
	assert.NoError(t, b.p.StopRTL())
}

func TestTakeoffRaisesTargetAfterDelay(t *testing.T) {
	b := newBench(t)
	b.initialize()
	b.v.SetRC(safety.ChThrottle, 1520)
	b.run(10 * tick)
	require.NoError(t, b.p.Takeoff())
	alt := b.p.AltitudeEstimate().Altitude
	b.step()
	assert.InDelta(t, alt-takeoffDrop, b.p.AltitudeTarget(), 0.2)

	b.run(takeoffDelay + 10*tick)
	assert.InDelta(t, alt+takeoffClimb, b.p.AltitudeTarget(), 0.2)
}

func TestIndicatorColor(t *testing.T) {
	tests := []struct {
		name string
		s    indicatorState
		now  int64
		want Color
	}{
		{"error bit set", indicatorState{errors: 1, magStage: -1}, 0, Red},
		{"error gap", indicatorState{errors: 1, magStage: -1}, errorSlot, Off},
		{"error bit clear", indicatorState{errors: 1, magStage: -1}, 2 * errorSlot, Green},
		{"low power fast on", indicatorState{lowPower: 2, magStage: -1}, 0, Red},
		{"low power fast off", indicatorState{lowPower: 2, magStage: -1}, lowPowerFast, Off},
		{"low power slow", indicatorState{lowPower: 1, magStage: -1}, lowPowerFast, Red},
		{"mag horizontal", indicatorState{magStage: 0}, 0, Red},
		{"mag roll", indicatorState{magStage: 2}, 0, Blue},
		{"rtl", indicatorState{rtl: true, magStage: -1}, heartbeatOn, Purple},
		{"heartbeat", indicatorState{magStage: -1}, 0, Yellow},
		{"heartbeat off", indicatorState{magStage: -1}, heartbeatOn, Off},
		{"rc failed", indicatorState{rcFailed: true, magStage: -1}, heartbeat, Blue},
		{"position hold", indicatorState{posHold: true, posReady: true, magStage: -1}, 0, Green},
		{"position hold not ready", indicatorState{posHold: true, magStage: -1}, 0, Yellow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, indicatorColor(tt.s, tt.now))
		})
	}
}

func TestOutboxDropsOldest(t *testing.T) {
	o := NewOutbox(2)
	for i := int64(1); i <= 3; i++ {
		o.pushRecord(Record{Time: i})
	}
	o.pushEvent(events.Event{Kind: events.Airborne})
	assert.Equal(t, 3, o.Pending())
	assert.Equal(t, uint64(1), o.Dropped())

	sink := &recordingSink{}
	require.NoError(t, o.Flush(sink))
	require.Len(t, sink.records, 2)
	assert.Equal(t, int64(2), sink.records[0].Time)
	assert.Equal(t, []events.Kind{events.Airborne}, sink.kinds())
	assert.Zero(t, o.Pending())

	failing := &recordingSink{err: errors.New("broker down")}
	o.pushRecord(Record{Time: 4})
	assert.Error(t, o.Flush(failing))
	assert.Zero(t, o.Pending())
}

func TestColorChannels(t *testing.T) {
	r, g, b := Yellow.RGB()
	assert.Equal(t, [3]bool{true, true, false}, [3]bool{r, g, b})
	r, g, b = Off.RGB()
	assert.Equal(t, [3]bool{}, [3]bool{r, g, b})

	var c Color
	require.NoError(t, c.UnmarshalText([]byte("purple")))
	assert.Equal(t, Purple, c)
	assert.Error(t, c.UnmarshalText([]byte("pink")))
}
