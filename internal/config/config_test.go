// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hardwareConfig = `
# flight core on the Pi
MQTT_BROKER=tcp://10.0.0.2:1883
TOPIC_PREFIX=quad/
IMU_SPI_DEVICE=/dev/spidev0.0
IMU_CS_PIN=GPIO8
MAG_I2C_ADDR=0x0C
BARO_SPI_DEVICE=/dev/spidev0.1
MOTOR_PINS=GPIO12, GPIO13,GPIO18,GPIO19
GPS_SERIAL_PORT=/dev/ttyAMA0
DISPLAY_I2C_ADDR=0x3C
LED_PINS=GPIO5,GPIO6,GPIO26
LOG_DECIMATE=5
`

func TestParseHardwareConfig(t *testing.T) {
	cfg, err := Parse(strings.NewReader(hardwareConfig))
	require.NoError(t, err)

	assert.Equal(t, "tcp://10.0.0.2:1883", cfg.MQTTBroker)
	assert.Equal(t, "quad", cfg.TopicPrefix)
	assert.Equal(t, []string{"GPIO12", "GPIO13", "GPIO18", "GPIO19"}, cfg.MotorPins)
	assert.Equal(t, []string{"GPIO5", "GPIO6", "GPIO26"}, cfg.LEDPins)
	assert.Equal(t, uint16(0x0C), cfg.MagI2CAddr)
	assert.Equal(t, uint16(0x3C), cfg.DisplayI2CAddr)
	assert.Equal(t, 5, cfg.LogDecimate)
	assert.False(t, cfg.Simulation)

	// untouched keys keep their defaults
	assert.Equal(t, 9600, cfg.GPSBaudRate)
	assert.Equal(t, 8080, cfg.WebServerPort)
	assert.Equal(t, "params.db", cfg.ParamDBPath)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"missing separator", "SIMULATION true", "invalid config line 1"},
		{"unknown key", "SIMULATION=true\nFOO=1", "config line 2: unknown config key"},
		{"bad number", "SIMULATION=true\nGPS_BAUD_RATE=fast", "invalid GPS_BAUD_RATE"},
		{"negative period", "SIMULATION=true\nLOG_FLUSH_PERIOD=-1", "must be positive"},
		{"port range", "SIMULATION=true\nWEB_SERVER_PORT=70000", "out of range"},
		{"bad bool", "SIMULATION=maybe", "invalid SIMULATION"},
		{"no imu", "MOTOR_PINS=a,b,c,d", "IMU_SPI_DEVICE is required"},
		{"two leds", "SIMULATION=true\nLED_PINS=GPIO5,GPIO6", "need red, green and blue"},
		{"three motors", "IMU_SPI_DEVICE=/dev/spidev0.0\nMOTOR_PINS=a,b,c", "MOTOR_PINS needs 4 pins"},
		{"empty broker", "SIMULATION=true\nMQTT_BROKER=", "MQTT_BROKER is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSimulationNeedsNoHardware(t *testing.T) {
	cfg, err := Parse(strings.NewReader("SIMULATION=true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Simulation)
}

func TestLoadAndGlobal(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "flight.conf")
	require.NoError(t, os.WriteFile(path, []byte("SIMULATION=1\nWEB_SERVER_PORT=9090\n"), 0o644))
	require.NoError(t, InitGlobal(path))
	require.NotNil(t, Get())
	assert.Equal(t, 9090, Get().WebServerPort)
}
