// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"

	"github.com/relabs-tech/flight_computer/internal/geo"
	"github.com/relabs-tech/flight_computer/internal/monitoring"
)

// Worker runs magnetometer fits off the control loop. The loop submits an
// owned snapshot and polls for the result; neither side blocks.
type Worker struct {
	jobs    chan []geo.Vector3
	results chan MagResult
	fit     func([]geo.Vector3) MagResult
}

// NewWorker builds a worker with room for one pending job.
func NewWorker() *Worker {
	return &Worker{
		jobs:    make(chan []geo.Vector3, 1),
		results: make(chan MagResult, 1),
		fit:     FitMag,
	}
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pts := <-w.jobs:
			r := w.fit(pts)
			monitoring.Logf("calibration: mag fit result %d, %d points, bias %+v, scale %+v, residual %.4f/%.4f",
				r.Code, r.Points, r.Correction.Bias, r.Correction.Scale, r.Residual.Average, r.Residual.Max)
			select {
			case w.results <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Submit queues a fit. It reports false when a job is already pending.
func (w *Worker) Submit(points []geo.Vector3) bool {
	select {
	case w.jobs <- points:
		return true
	default:
		return false
	}
}

// Poll returns a finished result if one is available.
func (w *Worker) Poll() (MagResult, bool) {
	select {
	case r := <-w.results:
		return r, true
	default:
		return MagResult{}, false
	}
}
