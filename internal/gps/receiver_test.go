// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rmcValid   = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	rmcVoid    = "$GPRMC,123520,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*77"
	ggaSample  = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	gsaSample3 = "$GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1*39"
)

func TestReceiverAssemblesFix(t *testing.T) {
	r := NewReceiver()
	require.NoError(t, r.HandleLine(ggaSample))
	require.NoError(t, r.HandleLine(gsaSample3))

	_, fresh := r.Fix()
	assert.False(t, fresh, "only RMC closes an epoch")

	require.NoError(t, r.HandleLine(rmcValid+"\r\n"))
	fix, fresh := r.Fix()
	require.True(t, fresh)

	assert.InDelta(t, 48.1173, fix.Latitude, 1e-4)
	assert.InDelta(t, 11.516667, fix.Longitude, 1e-5)
	assert.InDelta(t, 545.4, fix.Altitude, 1e-9)
	assert.InDelta(t, 22.4*knotsToMS, fix.Speed, 1e-9)
	assert.InDelta(t, 84.4, fix.Course, 1e-9)
	assert.Equal(t, 3, fix.FixType)
	assert.Equal(t, 8, fix.Satellites)
	assert.InDelta(t, 1.3, fix.HDOP, 1e-9)
	assert.True(t, fix.Has3D())

	_, fresh = r.Fix()
	assert.False(t, fresh)
}

func TestReceiverVoidRMCDropsFix(t *testing.T) {
	r := NewReceiver()
	require.NoError(t, r.HandleLine(gsaSample3))
	require.NoError(t, r.HandleLine(rmcVoid))
	fix, fresh := r.Fix()
	assert.True(t, fresh)
	assert.Equal(t, 0, fix.FixType)
}

func TestReceiverIgnoresNoise(t *testing.T) {
	r := NewReceiver()
	assert.NoError(t, r.HandleLine(""))
	assert.NoError(t, r.HandleLine("garbage"))
	assert.Error(t, r.HandleLine("$GPRMC,broken*00"))
}

func TestReceiverRunStopsAtEOF(t *testing.T) {
	r := NewReceiver()
	input := strings.Join([]string{"junk", ggaSample, gsaSample3, rmcValid, ""}, "\n")
	err := r.Run(context.Background(), strings.NewReader(input))
	assert.Error(t, err)
	assert.Equal(t, 1, r.Epochs())
}
