// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/flight_computer/internal/app"
	"github.com/relabs-tech/flight_computer/internal/config"
)

func main() {
	configPath := flag.String("config", "flight_config.txt", "configuration file")
	publish := flag.Bool("publish", false, "also publish fixes to MQTT")
	flag.Parse()

	log.Println("starting GPS monitor")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()
	if cfg.GPSSerialPort == "" {
		log.Fatalf("GPS_SERIAL_PORT is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var client mqtt.Client
	if *publish {
		client = app.ConnectOptional(cfg.MQTTBroker, cfg.MQTTClientID+"-gps")
	}
	if client != nil {
		defer client.Disconnect(250)
	}

	if err := app.RunGPSMonitor(ctx, cfg.GPSSerialPort, cfg.GPSBaudRate, client, cfg.TopicPrefix, os.Stdout); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
