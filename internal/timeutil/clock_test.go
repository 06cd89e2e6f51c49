// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClockTicker(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewMockClock(start)
	tk := c.NewTicker(10 * time.Millisecond)

	c.Advance(5 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(5 * time.Millisecond)
	select {
	case now := <-tk.C():
		assert.Equal(t, start.Add(10*time.Millisecond), now)
	default:
		t.Fatal("ticker did not fire")
	}

	tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMicros(t *testing.T) {
	assert.Equal(t, int64(1_000_000_500), Micros(time.Unix(1000, 500_000)))
}
