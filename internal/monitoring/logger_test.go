// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) { got = fmt.Sprintf(format, v...) })
	Logf("pilot: %s", "armed")
	assert.Equal(t, "pilot: armed", got)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("dropped %d", 1) })
	assert.Equal(t, "pilot: armed", got)
}
