// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry streams the flight state, events and log records off
// the vehicle over MQTT and websockets.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/flight_computer/internal/events"
	"github.com/relabs-tech/flight_computer/internal/orientation"
	"github.com/relabs-tech/flight_computer/internal/pilot"
)

// Client is the part of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Topics names the MQTT topics under a common prefix.
type Topics struct {
	State    string
	Attitude string
	Events   string
	Log      string
	GPS      string
}

// NewTopics builds the topic set for prefix, e.g. "flight".
func NewTopics(prefix string) Topics {
	return Topics{
		State:    prefix + "/state",
		Attitude: prefix + "/attitude",
		Events:   prefix + "/events",
		Log:      prefix + "/log",
		GPS:      prefix + "/gps",
	}
}

// Attitude is the payload of the attitude topic.
type Attitude struct {
	Time int64            `json:"time_us"`
	Pose orientation.Pose `json:"pose"`
	Mode string           `json:"mode"`
}

// Publisher implements pilot.Sink on top of an MQTT client. Log records are
// decimated: only every Decimate-th record is sent.
type Publisher struct {
	client   Client
	topics   Topics
	Decimate int

	n int
}

var _ pilot.Sink = (*Publisher)(nil)

// NewPublisher wraps an already connected client.
func NewPublisher(c Client, topics Topics) *Publisher {
	return &Publisher{client: c, topics: topics, Decimate: 1}
}

// Connect opens an MQTT connection to broker.
func Connect(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(timeout).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("telemetry: connect %s: %w", broker, token.Error())
	}
	return client, nil
}

func (p *Publisher) publish(topic string, retained bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("telemetry: marshal %s: %w", topic, err)
	}
	if token := p.client.Publish(topic, 0, retained, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("telemetry: publish %s: %w", topic, token.Error())
	}
	return nil
}

// PublishRecord sends a log record to the log topic.
func (p *Publisher) PublishRecord(r pilot.Record) error {
	p.n++
	if p.Decimate > 1 && (p.n-1)%p.Decimate != 0 {
		return nil
	}
	return p.publish(p.topics.Log, false, r)
}

// PublishEvent sends an event to the events topic.
func (p *Publisher) PublishEvent(e events.Event) error {
	return p.publish(p.topics.Events, false, e)
}

// PublishStatus sends the state snapshot (retained) and the attitude.
func (p *Publisher) PublishStatus(s pilot.Status) error {
	if err := p.publish(p.topics.State, true, s); err != nil {
		return err
	}
	return p.publish(p.topics.Attitude, true, Attitude{Time: s.Time, Pose: s.Pose, Mode: s.Mode.String()})
}
