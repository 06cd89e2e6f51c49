// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/flight_computer/internal/command"
	"github.com/relabs-tech/flight_computer/internal/monitoring"
	"github.com/relabs-tech/flight_computer/internal/pilot"
)

// StatusSource yields the latest flight state snapshot.
type StatusSource interface {
	Status() pilot.Status
}

// Hub serves the websocket endpoints: /ws/command carries protocol lines
// to the control loop and /ws/telemetry streams the state snapshot.
type Hub struct {
	queue    *command.Queue
	status   StatusSource
	interval time.Duration
	upgrader websocket.Upgrader
}

// NewHub builds a hub pushing telemetry every interval.
func NewHub(q *command.Queue, s StatusSource, interval time.Duration) *Hub {
	return &Hub{
		queue:    q,
		status:   s,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // allow all origins
			},
		},
	}
}

// Register mounts the websocket handlers on mux.
func (h *Hub) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws/command", h.HandleCommand)
	mux.HandleFunc("/ws/telemetry", h.HandleTelemetry)
}

// HandleCommand reads text messages, one or more protocol lines each, and
// answers every line that has a reply with its own message.
func (h *Hub) HandleCommand(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("telemetry: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				monitoring.Logf("telemetry: command read error: %v", err)
			}
			return
		}
		for _, line := range strings.Split(strings.TrimRight(string(msg), "\r\n"), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			reply, err := h.queue.Submit(ctx, line)
			if err != nil {
				return
			}
			if reply == "" {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				monitoring.Logf("telemetry: command write error: %v", err)
				return
			}
		}
	}
}

// HandleTelemetry pushes the status as JSON until the client goes away.
func (h *Hub) HandleTelemetry(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("telemetry: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the reader only watches for the close frame
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		if err := conn.WriteJSON(h.status.Status()); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
