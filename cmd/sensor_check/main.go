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
	"time"

	"github.com/relabs-tech/flight_computer/internal/app"
	"github.com/relabs-tech/flight_computer/internal/config"
)

func main() {
	configPath := flag.String("config", "flight_config.txt", "configuration file")
	interval := flag.Duration("interval", time.Second, "report interval")
	flag.Parse()

	log.Println("starting sensor bench check (motors stay off)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunSensorCheck(ctx, config.Get(), *interval, os.Stdout); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
