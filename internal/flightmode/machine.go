// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package flightmode

import (
	"fmt"

	"github.com/relabs-tech/flight_computer/internal/monitoring"
)

// Machine owns the mode instances and the active mode.
type Machine struct {
	modes    map[Kind]Mode
	current  Kind
	onChange func(from, to Kind)
}

// NewMachine registers the given modes. The machine starts in Invalid.
func NewMachine(modes ...Mode) *Machine {
	m := &Machine{modes: make(map[Kind]Mode, len(modes)), current: Invalid}
	for _, md := range modes {
		m.modes[md.Kind()] = md
	}
	return m
}

// OnChange installs a callback invoked after every successful transition.
func (m *Machine) OnChange(fn func(from, to Kind)) { m.onChange = fn }

func (m *Machine) Current() Kind { return m.current }

// Active returns the running mode or nil in Invalid.
func (m *Machine) Active() Mode { return m.modes[m.current] }

// Set enters mode k. Setup runs first; on failure the previous mode stays
// active and the error is returned.
func (m *Machine) Set(k Kind) error {
	if k == m.current {
		return nil
	}
	if k != Invalid {
		md, ok := m.modes[k]
		if !ok {
			return fmt.Errorf("flightmode: %s not available", k)
		}
		if err := md.Setup(); err != nil {
			monitoring.Logf("flightmode: failed entering %s: %v", k, err)
			return fmt.Errorf("flightmode: setup %s: %w", k, err)
		}
	}
	from := m.current
	m.current = k
	monitoring.Logf("flightmode: new flight mode %s", k)
	if m.onChange != nil {
		m.onChange(from, k)
	}
	return nil
}

// Loop runs the active mode.
func (m *Machine) Loop(dt float64) {
	if md := m.Active(); md != nil {
		md.Loop(dt)
	}
}
