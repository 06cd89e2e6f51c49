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

	"github.com/relabs-tech/flight_computer/internal/app"
	"github.com/relabs-tech/flight_computer/internal/config"
)

func main() {
	configPath := flag.String("config", "flight_config.txt", "configuration file")
	wsURL := flag.String("cmd", "", "send stdin lines to this /ws/command URL instead of printing telemetry")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *wsURL != "" {
		log.Printf("console: sending commands to %s", *wsURL)
		if err := app.RunCommandConsole(ctx, *wsURL, os.Stdin, os.Stdout); err != nil {
			log.Fatalf("fatal: %v", err)
		}
		return
	}

	log.Println("starting flight console (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	if err := app.RunConsole(ctx, cfg.MQTTBroker, cfg.MQTTClientIDConsole, cfg.TopicPrefix, os.Stdout); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
