// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/flight_computer/internal/gps"
	"github.com/relabs-tech/flight_computer/internal/telemetry"
)

const gpsPoll = 100 * time.Millisecond

func formatFix(f gps.Fix) string {
	return fmt.Sprintf("[GPS ] time=%s lat=%.6f lon=%.6f alt=%.1fm speed=%.1fm/s course=%.1f° fix=%dD sats=%d hdop=%.1f hacc=%.1fm",
		f.Time, f.Latitude, f.Longitude, f.Altitude, f.Speed, f.Course, f.FixType, f.Satellites, f.HDOP, f.HAcc)
}

// RunGPSMonitor parses NMEA from the serial port and prints every new fix.
// When client is not nil each fix is also published, retained, to the gps
// topic under prefix.
func RunGPSMonitor(ctx context.Context, port string, baud int, client mqtt.Client, prefix string, out io.Writer) error {
	rw, err := OpenSerial(port, baud)
	if err != nil {
		return err
	}
	log.Printf("gps: serial port opened on %s at %d baud", port, baud)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { rw.Close() })
	defer stop()

	rx := gps.NewReceiver()
	errc := make(chan error, 1)
	go func() { errc <- rx.Run(ctx, rw) }()

	topic := telemetry.NewTopics(prefix).GPS
	ticker := time.NewTicker(gpsPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case <-ticker.C:
		}
		fix, fresh := rx.Fix()
		if !fresh {
			continue
		}
		fmt.Fprintln(out, formatFix(fix))
		if client == nil {
			continue
		}
		payload, err := json.Marshal(fix)
		if err != nil {
			log.Printf("gps: json marshal error: %v", err)
			continue
		}
		if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
			log.Printf("gps: publish error: %v", token.Error())
		}
	}
}

// ConnectOptional connects to broker and returns nil when it cannot be
// reached.
func ConnectOptional(broker, clientID string) mqtt.Client {
	client, err := telemetry.Connect(broker, clientID, mqttTimeout)
	if err != nil {
		log.Printf("app: MQTT disabled: %v", err)
		return nil
	}
	return client
}
