// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relabs-tech/flight_computer/internal/command"
	"github.com/relabs-tech/flight_computer/internal/monitoring"
	"github.com/relabs-tech/flight_computer/internal/scheduler"
	"github.com/relabs-tech/flight_computer/internal/telemetry"
)

const (
	commandTimeout = 2 * time.Second
	maxCommandBody = 4096
)

// TaskStatser reports the scheduler task counters.
type TaskStatser interface {
	Stats() []scheduler.TaskStats
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("web: json encode error: %v", err)
	}
}

// newWebMux builds the HTTP routes:
//
//	/api/status     latest flight state
//	/api/tasks      scheduler counters
//	/api/command    POST one protocol line, the reply is the body
//	/ws/command     protocol lines over a websocket
//	/ws/telemetry   state stream
//	/               static files from ./web
func newWebMux(q *command.Queue, status telemetry.StatusSource, tasks TaskStatser, interval time.Duration) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status.Status())
	})

	mux.HandleFunc("/api/tasks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, tasks.Stats())
	})

	mux.HandleFunc("/api/command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST a command line", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		line := strings.TrimSpace(string(body))
		if line == "" {
			http.Error(w, "empty command", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
		defer cancel()
		reply, err := q.Submit(ctx, line)
		if err != nil {
			http.Error(w, "control loop not responding", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, reply)
	})

	telemetry.NewHub(q, status, interval).Register(mux)

	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

// RunWeb serves the ground station endpoints on port until ctx ends.
func RunWeb(ctx context.Context, port int, q *command.Queue, status telemetry.StatusSource, tasks TaskStatser, interval time.Duration) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newWebMux(q, status, tasks, interval),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	monitoring.Logf("web: server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
