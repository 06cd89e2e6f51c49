// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import "github.com/relabs-tech/flight_computer/internal/gps"

// GPSReceiver adapts an NMEA receiver to the GPSReader contract.
type GPSReceiver struct {
	*gps.Receiver
}

func (g GPSReceiver) ReadGPS() (gps.Fix, Status) {
	fix, fresh := g.Fix()
	if fresh {
		return fix, Fresh
	}
	return fix, Stale
}
