// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package scheduler runs the periodic tasks of the flight core: the control
// loop, the IMU sampler and the log flusher.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/flight_computer/internal/monitoring"
	"github.com/relabs-tech/flight_computer/internal/timeutil"
)

var (
	ErrBadPeriod  = errors.New("period must be positive")
	ErrDuplicate  = errors.New("task already registered")
	ErrStarted    = errors.New("runner already started")
	ErrNotStarted = errors.New("runner not started")
)

// Handler runs one period of a task. now is the tick time in µs.
type Handler func(now int64)

type task struct {
	name    string
	period  time.Duration
	handler Handler
	ticker  timeutil.Ticker
	runs    atomic.Uint64
}

// TaskStats reports how often a task ran.
type TaskStats struct {
	Name   string        `json:"name"`
	Period time.Duration `json:"period"`
	Runs   uint64        `json:"runs"`
}

// Runner drives every registered task from its own ticker. Tasks never
// share a goroutine, so a slow log flush cannot delay the control tick.
type Runner struct {
	clock timeutil.Clock

	mu      sync.Mutex
	tasks   []*task
	started bool
	wg      sync.WaitGroup
}

func NewRunner(clock timeutil.Clock) *Runner {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Runner{clock: clock}
}

// RegisterPeriodic adds a task that runs h every period.
func (r *Runner) RegisterPeriodic(name string, period time.Duration, h Handler) error {
	if period <= 0 {
		return fmt.Errorf("scheduler: %s: %w", name, ErrBadPeriod)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrStarted
	}
	for _, t := range r.tasks {
		if t.name == name {
			return fmt.Errorf("scheduler: %s: %w", name, ErrDuplicate)
		}
	}
	r.tasks = append(r.tasks, &task{name: name, period: period, handler: h})
	return nil
}

// Start creates the tickers and launches one goroutine per task. The tasks
// stop when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrStarted
	}
	r.started = true
	for _, t := range r.tasks {
		t.ticker = r.clock.NewTicker(t.period)
	}
	for _, t := range r.tasks {
		r.wg.Add(1)
		go r.loop(ctx, t)
	}
	monitoring.Logf("scheduler: started %d tasks", len(r.tasks))
	return nil
}

func (r *Runner) loop(ctx context.Context, t *task) {
	defer r.wg.Done()
	defer t.ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.ticker.C():
			t.handler(timeutil.Micros(now))
			t.runs.Add(1)
		}
	}
}

// Wait blocks until every task has stopped.
func (r *Runner) Wait() error {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	r.wg.Wait()
	return nil
}

// Run starts the tasks and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	r.wg.Wait()
	return ctx.Err()
}

func (r *Runner) Stats() []TaskStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskStats, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = TaskStats{Name: t.name, Period: t.period, Runs: t.runs.Load()}
	}
	return out
}
