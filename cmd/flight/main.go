// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/relabs-tech/flight_computer/internal/app"
	"github.com/relabs-tech/flight_computer/internal/config"
	"github.com/relabs-tech/flight_computer/internal/timeutil"
)

func main() {
	configPath := flag.String("config", "flight_config.txt", "configuration file")
	simulate := flag.Bool("sim", false, "fly the simulated vehicle instead of the hardware")
	flag.Parse()

	log.Println("starting flight core")

	// Load configuration. -sim is applied before validation so a bench
	// config without hardware keys is accepted.
	var cfg *config.Config
	if *simulate {
		file, err := os.Open(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg, err = config.Parse(io.MultiReader(file, strings.NewReader("\nSIMULATION=true\n")))
		file.Close()
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	} else {
		if err := config.InitGlobal(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = config.Get()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flight, err := app.NewFlight(cfg, timeutil.RealClock{})
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	runErr := flight.Run(ctx)
	if err := flight.Close(); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if runErr != nil {
		log.Fatalf("fatal: %v", runErr)
	}
	log.Println("flight core stopped")
}
