// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/flight_computer/internal/pilot"
	"github.com/relabs-tech/flight_computer/internal/telemetry"
)

// consoleFormatter turns telemetry payloads into console lines. Messages
// arrive on paho's callback goroutines, so writes are serialized.
type consoleFormatter struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *consoleFormatter) printf(format string, v ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, v...)
}

func (c *consoleFormatter) state(payload []byte) error {
	var s pilot.Status
	if err := json.Unmarshal(payload, &s); err != nil {
		return err
	}
	c.printf("[STATE] mode=%s armed=%t airborne=%t alt=%6.2f climb=%5.2f N=%7.2f E=%7.2f rc=%s bat=%4.1fV err=%s\n",
		s.Mode, s.Armed, s.Airborne, s.Altitude, s.Climb, s.North, s.East, s.RC, s.Voltage, s.Errors)
	return nil
}

func (c *consoleFormatter) attitude(payload []byte) error {
	var a telemetry.Attitude
	if err := json.Unmarshal(payload, &a); err != nil {
		return err
	}
	c.printf("[POSE]  ROLL=%6.2f  PITCH=%6.2f  YAW=%6.2f\n", a.Pose.Roll, a.Pose.Pitch, a.Pose.Yaw)
	return nil
}

func (c *consoleFormatter) event(payload []byte) error {
	// events.Event with the kind as its name
	var e struct {
		Kind string `json:"kind"`
		Arg  int    `json:"arg"`
		Time int64  `json:"time_us"`
	}
	if err := json.Unmarshal(payload, &e); err != nil {
		return err
	}
	c.printf("[EVENT] %10.3fs %s(%d)\n", float64(e.Time)/1e6, e.Kind, e.Arg)
	return nil
}

// RunConsole prints the flight state, attitude and events published under
// prefix until ctx ends.
func RunConsole(ctx context.Context, broker, clientID, prefix string, out io.Writer) error {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("console: connected to MQTT broker at %s", broker)

	topics := telemetry.NewTopics(prefix)
	f := &consoleFormatter{out: out}
	subs := []struct {
		topic  string
		handle func([]byte) error
	}{
		{topics.State, f.state},
		{topics.Attitude, f.attitude},
		{topics.Events, f.event},
	}
	for _, s := range subs {
		token := client.Subscribe(s.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			if err := s.handle(msg.Payload()); err != nil {
				log.Printf("console: %s unmarshal error: %v", s.topic, err)
			}
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("console: subscribed to %s", s.topic)
	}

	<-ctx.Done()
	log.Println("console: shutting down")
	return nil
}

// RunCommandConsole sends every line of in to the /ws/command endpoint at
// url and prints the replies.
func RunCommandConsole(ctx context.Context, url string, in io.Reader, out io.Writer) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("console: dial %s: %w", url, err)
	}
	defer conn.Close()

	done := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			fmt.Fprintf(out, "< %s\n", msg)
		}
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := conn.WriteMessage(websocket.TextMessage, scanner.Bytes()); err != nil {
			return fmt.Errorf("console: send: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	// input closed: say goodbye and wait for pending replies
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return nil
		}
		return err
	}
}
