// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/flight_computer/internal/command"
	"github.com/relabs-tech/flight_computer/internal/config"
	"github.com/relabs-tech/flight_computer/internal/flightmode"
	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/gps"
	"github.com/relabs-tech/flight_computer/internal/monitoring"
	"github.com/relabs-tech/flight_computer/internal/pilot"
	"github.com/relabs-tech/flight_computer/internal/scheduler"
	"github.com/relabs-tech/flight_computer/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// simConfig points the flight core at the simulator and an unreachable
// broker.
func simConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse(strings.NewReader("SIMULATION=true\nMQTT_BROKER=tcp://127.0.0.1:1\n"))
	require.NoError(t, err)
	cfg.ParamDBPath = filepath.Join(t.TempDir(), "params.db")
	return cfg
}

func TestNewFlightInSimulation(t *testing.T) {
	f, err := NewFlight(simConfig(t), timeutil.NewMockClock(time.Unix(1000, 0)))
	require.NoError(t, err)
	defer f.Close()

	require.NotNil(t, f.Sim)
	var names []string
	for _, s := range f.Runner.Stats() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"imu", "control", "log", "status", "params"}, names)
	assert.Equal(t, 3*time.Millisecond, f.Runner.Stats()[1].Period)

	// without a broker the flush task drains into the discard sink
	f.flush(0)
	assert.False(t, f.logFailing)
}

func TestFlightParametersPersist(t *testing.T) {
	cfg := simConfig(t)
	f, err := NewFlight(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, f.Pilot.SetParam("maxH", 42))
	require.NoError(t, f.Close())

	f, err = NewFlight(cfg, nil)
	require.NoError(t, err)
	defer f.Close()
	v, err := f.Pilot.Param("maxH")
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
}

func TestReportLogsTransitionsOnly(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) { lines = append(lines, format) })
	defer monitoring.SetLogger(nil)

	failing := false
	boom := errors.New("boom")
	report(&failing, "log", boom)
	report(&failing, "log", boom)
	assert.True(t, failing)
	report(&failing, "log", nil)
	report(&failing, "log", nil)
	assert.False(t, failing)
	assert.Len(t, lines, 2)
}

type fixedStatus struct{ s pilot.Status }

func (f fixedStatus) Status() pilot.Status { return f.s }

type fixedTasks []scheduler.TaskStats

func (f fixedTasks) Stats() []scheduler.TaskStats { return f }

func drainLoop(ctx context.Context, q *command.Queue) {
	d := &command.Dispatcher{Version: "1.0", Board: "sim"}
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			q.Drain(d)
		}
	}
}

func TestWebAPI(t *testing.T) {
	q := command.NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go drainLoop(ctx, q)

	status := fixedStatus{pilot.Status{Time: 5, Mode: flightmode.PosHold, Armed: true}}
	tasks := fixedTasks{{Name: "control", Period: 3 * time.Millisecond, Runs: 7}}
	srv := httptest.NewServer(newWebMux(q, status, tasks, time.Second))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, "poshold", got["mode"])
	assert.Equal(t, true, got["armed"])

	resp, err = http.Get(srv.URL + "/api/tasks")
	require.NoError(t, err)
	var stats []scheduler.TaskStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(7), stats[0].Runs)

	resp, err = http.Post(srv.URL+"/api/command", "text/plain", strings.NewReader("hello\n"))
	require.NoError(t, err)
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello,yap(1.0)(bsp sim)\n", body.String())

	resp, err = http.Get(srv.URL + "/api/command")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCommandConsoleOverWebsocket(t *testing.T) {
	q := command.NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go drainLoop(ctx, q)

	srv := httptest.NewServer(newWebMux(q, fixedStatus{}, fixedTasks{}, time.Second))
	defer srv.Close()

	var out bytes.Buffer
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/command"
	err := RunCommandConsole(ctx, url, strings.NewReader("hello\nbogus\nchip_id\n"), &out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "< hello,yap(1.0)(bsp sim)", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "< chip_id,"))
}

func TestConsoleFormatsPayloads(t *testing.T) {
	var out bytes.Buffer
	f := &consoleFormatter{out: &out}

	st, err := json.Marshal(pilot.Status{Mode: flightmode.AltHold, Armed: true, Altitude: 1.5, Errors: "none"})
	require.NoError(t, err)
	require.NoError(t, f.state(st))
	require.NoError(t, f.event([]byte(`{"kind":"armed","arg":0,"time_us":2500000}`)))
	assert.Error(t, f.attitude([]byte("{")))

	text := out.String()
	assert.Contains(t, text, "[STATE] mode=althold armed=true")
	assert.Contains(t, text, "alt=  1.50")
	assert.Contains(t, text, "[EVENT]      2.500s armed(0)")
}

func TestStatusLines(t *testing.T) {
	lines := statusLines(pilot.Status{InitSamples: 12})
	assert.Equal(t, "Initializing", lines[0])
	assert.Equal(t, "samples 12", lines[1])

	lines = statusLines(pilot.Status{
		Initialized: true, Armed: true, Airborne: true,
		Mode: flightmode.RTL, Voltage: 11.8, Errors: "gps",
	})
	require.Len(t, lines, 4)
	assert.Equal(t, "FLYING   RTL", lines[0])
	assert.Equal(t, "Bat 11.8V    0mAh", lines[2])
	assert.Equal(t, "RC ok E:gps", lines[3])

	img := render(lines)
	lit := 0
	for _, b := range img.Pix {
		if b != 0 {
			lit++
		}
	}
	assert.Greater(t, lit, 0)
}

func TestFormatFix(t *testing.T) {
	s := formatFix(gps.Fix{Latitude: 48.1173, Longitude: 11.5167, FixType: 3, Satellites: 9, Time: "12:35:19"})
	assert.Contains(t, s, "lat=48.117300 lon=11.516700")
	assert.Contains(t, s, "fix=3D sats=9")
}

func TestAxisStats(t *testing.T) {
	var a axisStats
	m, s := a.meanStd()
	assert.Equal(t, geo.Vector3{}, m)
	assert.Zero(t, s)

	a.add(geo.Vector3{X: 1, Y: 2, Z: 3})
	a.add(geo.Vector3{X: 3, Y: 2, Z: 3})
	m, s = a.meanStd()
	assert.Equal(t, geo.Vector3{X: 2, Y: 2, Z: 3}, m)
	assert.InDelta(t, 1.4142, s, 1e-3) // sample deviation of {1, 3}

	line := sensorReport(m, 0.001, geo.Vector3{Z: -9.81}, geo.Vector3{}, false, 0.5, 0)
	assert.Contains(t, line, "(still")
	assert.Contains(t, line, "mag n/a")

	a.reset()
	m, _ = a.meanStd()
	assert.Equal(t, geo.Vector3{}, m)
}
