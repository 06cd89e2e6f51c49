// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package params

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	p := Defaults()
	cases := []struct {
		key  string
		want float64
	}{
		{"time", 3000},
		{"maxC", 5},
		{"maxD", 2},
		{"idle", 1176},
		{"ascy", 1},
		{"mgz", 1},
		{"rc21", 1520},
		{"rc73", 0},
		{"gb22", 0},
	}
	for _, tc := range cases {
		v, err := p.Get(tc.key)
		require.NoError(t, err, tc.key)
		assert.Equal(t, tc.want, v, tc.key)
	}
	v, err := p.Get("gbt1")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v))
}

func TestKeysFitWireFormat(t *testing.T) {
	keys := Keys()
	assert.Len(t, keys, 18+3+12+8+32)
	for _, k := range keys {
		assert.LessOrEqual(t, len(k), MaxKeyLen, k)
	}
}

func TestSetGetBindsTypedFields(t *testing.T) {
	p := Defaults()
	require.NoError(t, p.Set("rc22", 1900))
	require.NoError(t, p.Set("gb31", -0.01))
	require.NoError(t, p.Set("trmY", 0.05))
	assert.Equal(t, 1900.0, p.RC[2][RCMax])
	assert.Equal(t, -0.01, p.GyroTemp[0].Bias[2])
	assert.Equal(t, 0.05, p.Trim[2])

	_, err := p.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, p.Set("nope", 1), ErrNotFound)
}

func TestThrottleBounds(t *testing.T) {
	p := Defaults()
	assert.Equal(t, 1000.0, p.ThrottleStop())
	assert.Equal(t, 1980.0, p.ThrottleMax())

	p.RC[2] = [4]float64{1100, 1500, 2100, 0}
	assert.Equal(t, 1080.0, p.ThrottleStop())
	assert.Equal(t, 2000.0, p.ThrottleMax())

	p.PWMMin, p.PWMMax = 950, 1850
	assert.Equal(t, 950.0, p.ThrottleStop())
	assert.Equal(t, 1850.0, p.ThrottleMax())
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get("maxC")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Set("maxC", 3.5))
	assert.Error(t, s.Set("toolong", 1))

	p := Defaults()
	require.NoError(t, Load(s, &p))
	assert.Equal(t, 3.5, p.MaxClimb)
	assert.Equal(t, 2.0, p.MaxDescend)
}

func TestSQLiteStorePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	require.NoError(t, s.Set("maxD", 1.25))
	require.NoError(t, s.Set("tmax", math.NaN()))
	require.NoError(t, s.Set("mbx", -12.5))
	require.NoError(t, s.Persist())
	require.NoError(t, s.Set("mbx", -13))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Get("maxD")
	require.NoError(t, err)
	assert.Equal(t, 1.25, v)
	v, err = s.Get("tmax")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v))
	v, err = s.Get("mbx")
	require.NoError(t, err)
	assert.Equal(t, -13.0, v)

	_, err = s.Get("limV")
	assert.ErrorIs(t, err, ErrNotFound)
}
