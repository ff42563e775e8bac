// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package publish forwards register readings to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/snapshot"
)

const (
	publishTimeout = 5 * time.Second
	connectTimeout = 5 * time.Second
	quiesce        = 250 // ms
)

var ErrPublishTimeout = errors.New("mqtt publish timeout")

// publisher is the part of mqtt.Client used to send readings.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Message is the JSON document published for each reading.
type Message struct {
	SlaveID byte      `json:"slave_id"`
	Start   uint16    `json:"start"`
	Values  []uint16  `json:"values"`
	Time    time.Time `json:"time"`
}

// Publisher sends every snapshot it consumes to one topic.
type Publisher struct {
	client   mqtt.Client
	pub      publisher
	topic    string
	qos      byte
	retained bool
}

// NewPublisher prepares a client for cfg.Broker. It does not connect.
func NewPublisher(cfg config.MQTTConfig) *Publisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		slog.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "broker", cfg.Broker, "err", err)
	})

	client := mqtt.NewClient(opts)
	p := newPublisher(client, cfg)
	p.client = client
	return p
}

func newPublisher(pub publisher, cfg config.MQTTConfig) *Publisher {
	return &Publisher{
		pub:      pub,
		topic:    cfg.Topic,
		qos:      cfg.QoS,
		retained: cfg.Retained,
	}
}

// Connect starts the connection. The client keeps retrying in the
// background if the broker is not reachable within the connect timeout.
func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		slog.Warn("mqtt broker not reachable yet, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Consume publishes s as a Message.
func (p *Publisher) Consume(ctx context.Context, s snapshot.Snapshot) error {
	payload, err := json.Marshal(Message{
		SlaveID: s.SlaveID,
		Start:   s.Start,
		Values:  s.Values,
		Time:    s.Time,
	})
	if err != nil {
		return err
	}

	token := p.pub.Publish(p.topic, p.qos, p.retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", p.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Disconnect(quiesce)
	}
}
