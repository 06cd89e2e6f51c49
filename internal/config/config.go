// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all process configuration values. Flight tuning lives in
// the parameter store, not here.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientID        string
	MQTTClientIDConsole string
	TopicPrefix         string
	LogDecimate         int // publish every n-th log record

	// Command link
	CommandSerialPort string // empty disables the serial link
	CommandBaudRate   int

	// GPS
	GPSSerialPort string // empty runs without GPS
	GPSBaudRate   int

	// Web Server
	WebServerPort     int
	TelemetryInterval int // milliseconds

	// Parameters
	ParamDBPath string

	// Simulation replaces every device with the simulated vehicle
	Simulation bool

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string
	MagI2CAddr   uint16

	// Baro Hardware
	BaroSPIDevice string

	// Motors and lights
	MotorPins     []string
	PWMRate       int      // Hz
	LEDPins       []string // red, green, blue; empty disables the indicator
	FlashlightPin string

	// Timing
	LogFlushPeriod     int // milliseconds
	ParamPersistPeriod int // milliseconds

	// Display
	DisplayI2CAddr        uint16 // 0 disables the display
	DisplayUpdateInterval int    // milliseconds
}

// Defaults returns the configuration used for keys the file omits.
func Defaults() *Config {
	return &Config{
		MQTTBroker:            "tcp://localhost:1883",
		MQTTClientID:          "flight-core",
		MQTTClientIDConsole:   "flight-console",
		TopicPrefix:           "flight",
		LogDecimate:           10,
		CommandBaudRate:       115200,
		GPSBaudRate:           9600,
		WebServerPort:         8080,
		TelemetryInterval:     100,
		ParamDBPath:           "params.db",
		MagI2CAddr:            0x0C,
		PWMRate:               400,
		LogFlushPeriod:        10,
		ParamPersistPeriod:    1000,
		DisplayUpdateInterval: 500,
	}
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: set once by InitGlobal, read through Get.
//   - configOnce: ensures InitGlobal() only runs once.
//   - configMu: RWMutex protects concurrent access.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines on top of the defaults.
func Parse(r io.Reader) (*Config, error) {
	cfg := Defaults()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parsePositive(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, value)
	}
	return v, nil
}

func parseAddr(key, value string) (uint16, error) {
	addr, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return uint16(addr), nil
}

func parsePins(value string) []string {
	var pins []string
	for _, pin := range strings.Split(value, ",") {
		if pin = strings.TrimSpace(pin); pin != "" {
			pins = append(pins, pin)
		}
	}
	return pins
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "TOPIC_PREFIX":
		c.TopicPrefix = strings.TrimSuffix(value, "/")
	case "LOG_DECIMATE":
		c.LogDecimate, err = parsePositive(key, value)

	// Command link
	case "COMMAND_SERIAL_PORT":
		c.CommandSerialPort = value
	case "COMMAND_BAUD_RATE":
		c.CommandBaudRate, err = parsePositive(key, value)

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		c.GPSBaudRate, err = parsePositive(key, value)

	// Web
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parsePositive(key, value)
		if err == nil && c.WebServerPort > 65535 {
			err = fmt.Errorf("invalid WEB_SERVER_PORT %q: out of range", value)
		}
	case "TELEMETRY_INTERVAL":
		c.TelemetryInterval, err = parsePositive(key, value)

	case "PARAM_DB_PATH":
		c.ParamDBPath = value
	case "SIMULATION":
		c.Simulation, err = strconv.ParseBool(value)
		if err != nil {
			err = fmt.Errorf("invalid SIMULATION %q: %w", value, err)
		}

	// Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "MAG_I2C_ADDR":
		c.MagI2CAddr, err = parseAddr(key, value)
	case "BARO_SPI_DEVICE":
		c.BaroSPIDevice = value
	case "MOTOR_PINS":
		c.MotorPins = parsePins(value)
	case "LED_PINS":
		c.LEDPins = parsePins(value)
		if len(c.LEDPins) != 0 && len(c.LEDPins) != 3 {
			err = fmt.Errorf("invalid LED_PINS %q: need red, green and blue", value)
		}
	case "FLASHLIGHT_PIN":
		c.FlashlightPin = value
	case "PWM_RATE":
		c.PWMRate, err = parsePositive(key, value)

	// Timing
	case "PARAM_PERSIST_PERIOD":
		c.ParamPersistPeriod, err = parsePositive(key, value)
	case "LOG_FLUSH_PERIOD":
		c.LogFlushPeriod, err = parsePositive(key, value)

	// Display
	case "DISPLAY_I2C_ADDR":
		c.DisplayI2CAddr, err = parseAddr(key, value)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parsePositive(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that the fields required by the selected mode are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicPrefix == "" {
		return fmt.Errorf("TOPIC_PREFIX is required")
	}
	if c.ParamDBPath == "" {
		return fmt.Errorf("PARAM_DB_PATH is required")
	}
	if c.Simulation {
		return nil
	}
	if c.IMUSPIDevice == "" {
		return fmt.Errorf("IMU_SPI_DEVICE is required")
	}
	if len(c.MotorPins) != 4 {
		return fmt.Errorf("MOTOR_PINS needs 4 pins, got %d", len(c.MotorPins))
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
