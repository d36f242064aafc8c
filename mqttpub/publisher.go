// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package mqttpub republishes fresh STK material to local consumers over
// MQTT. Publishing is fire-and-forget: a slow or disconnected broker must
// never block the orchestrator's rotation loop.
package mqttpub

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sage-x-project/kmngr/internal/kerr"
	"github.com/sage-x-project/kmngr/internal/logger"
)

// Topic is the fixed topic fresh STK bytes are republished on.
const Topic = "keymanager_stk/"

// Publisher is the minimal surface MasterOrchestrator/SlaveOrchestrator
// need to republish STK bytes; an in-memory fake satisfies it in tests.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Connected() bool
	Close()
}

// Client adapts github.com/eclipse/paho.mqtt.golang to Publisher, the
// direct Go counterpart of the original's paho.mqtt.client wrapper
// (client_mqtt.py's MQTTClient).
type Client struct {
	inst mqtt.Client
	log  logger.Logger
}

// Config carries the broker connection parameters from the [mqtt] section
// of the daemon's configuration.
type Config struct {
	User     string
	Password string
	Host     string
	Port     int
}

// NewClient constructs an unconnected Client; call Connect before Publish.
func NewClient(cfg Config, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	c := &Client{log: log}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		c.log.Info("mqtt client connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Error("mqtt client lost connection, will reconnect", logger.Error(err))
	})

	c.inst = mqtt.NewClient(opts)
	return c
}

// Connect dials the broker and blocks up to timeout for the handshake.
func (c *Client) Connect(timeout time.Duration) error {
	token := c.inst.Connect()
	if !token.WaitTimeout(timeout) {
		return kerr.New(kerr.CodeIO, "mqtt connect timed out", nil)
	}
	if err := token.Error(); err != nil {
		return kerr.New(kerr.CodeIO, "mqtt connect failed", err)
	}
	return nil
}

// Connected reports whether the underlying client currently holds a live
// connection to the broker.
func (c *Client) Connected() bool {
	return c.inst.IsConnected()
}

// Publish fire-and-forget publishes payload to topic at the library's
// default QoS. It does not wait for broker acknowledgement; a disconnected
// broker yields an I/O error the caller is expected to log and ignore, per
// spec §5/§7 (the client itself retries the connection in the background).
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.inst.IsConnected() {
		return kerr.New(kerr.CodeIO, "mqtt client not connected", nil)
	}
	token := c.inst.Publish(topic, 0, false, payload)
	go token.Wait()
	if err := token.Error(); err != nil {
		return kerr.New(kerr.CodeIO, "mqtt publish failed", err)
	}
	return nil
}

// Close disconnects the client, releasing its background goroutines. It is
// safe to call on an already-disconnected client.
func (c *Client) Close() {
	if c.inst.IsConnected() {
		c.inst.Disconnect(250)
	}
}

// PublishAsync fire-and-forget republishes payload on Topic from a fresh
// goroutine so a stalled broker can never delay the caller's rotation
// loop, matching spec §5's MQTT concurrency rule. Errors are logged, not
// returned, since there is no caller left to receive them once detached.
func PublishAsync(p Publisher, payload []byte, log logger.Logger) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	go func() {
		if err := p.Publish(Topic, payload); err != nil {
			log.Error("stk publish failed", logger.Error(err))
		}
	}()
}
