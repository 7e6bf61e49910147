// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package mqtt carries link envelopes over an MQTT 3.1.1 broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/config"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

var ErrNotConnected = errors.New("mqtt connection is not open")

const disconnectQuiesceMillis = 250

// Transport connects with a clean session and resubscribes on every
// (re)connect. The first connection is retried by Start's goroutine; later
// drops are recovered by the client's auto reconnect.
type Transport struct {
	cfg    config.LinkConfig
	logger *slog.Logger

	mu     sync.Mutex
	client pahomqtt.Client
	cancel context.CancelFunc
	done   chan struct{}

	// connCancel ends the subscribe goroutine of the current connection.
	connCancel context.CancelFunc
}

func New(cfg config.LinkConfig, logger *slog.Logger) *Transport {
	return &Transport{
		cfg:    cfg,
		logger: logger.With("component", "mqtt", "link", cfg.Name),
	}
}

func (t *Transport) Name() string { return t.cfg.Name }
func (t *Transport) Type() string { return config.TransportMQTT }

func (t *Transport) Start(ctx context.Context, cb core.TransportCallbacks) error {
	ctx, cancel := context.WithCancel(ctx)

	opts := pahomqtt.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(t.cfg.ClientID).
		SetUsername(t.cfg.Username).
		SetPassword(t.cfg.Password).
		SetKeepAlive(t.cfg.KeepAlive).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(t.cfg.ConnectRetry).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			t.onConnect(ctx, c, cb)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			t.onConnectionLost(err, cb)
		}).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			t.logger.Debug("mqtt reconnecting", "broker", t.cfg.Broker)
		})

	client := pahomqtt.NewClient(opts)
	done := make(chan struct{})

	t.mu.Lock()
	t.client = client
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go t.connect(ctx, client, cb, done)

	t.logger.Info("mqtt transport started",
		"broker", t.cfg.Broker,
		"client_id", t.cfg.ClientID,
		"publish_topic", t.cfg.PublishTopic,
		"subscribe_topics", t.cfg.SubscribeTopics,
	)
	return nil
}

// connect retries the initial connection until it succeeds or ctx ends.
func (t *Transport) connect(ctx context.Context, client pahomqtt.Client, cb core.TransportCallbacks, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("mqtt connect panic recovered", "error", r)
		}
	}()
	for {
		token := client.Connect()
		select {
		case <-ctx.Done():
			return
		case <-token.Done():
		}
		if token.Error() == nil {
			return
		}
		cb.OnConnectFailed(t.cfg.Name, token.Error())

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.cfg.ConnectRetry):
		}
	}
}

func (t *Transport) onConnect(ctx context.Context, c pahomqtt.Client, cb core.TransportCallbacks) {
	connCtx := t.beginConn(ctx)
	t.logger.Info("mqtt connected", "broker", t.cfg.Broker)
	cb.OnConnected(t.cfg.Name, len(t.cfg.SubscribeTopics))
	go t.subscribe(connCtx, c, cb)
}

func (t *Transport) onConnectionLost(err error, cb core.TransportCallbacks) {
	t.endConn()
	cb.OnDisconnected(t.cfg.Name, err)
}

// beginConn returns the context of a new connection and ends the previous
// one, so a subscribe goroutine never reports into a later connection.
func (t *Transport) beginConn(parent context.Context) context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connCancel != nil {
		t.connCancel()
	}
	ctx, cancel := context.WithCancel(parent)
	t.connCancel = cancel
	return ctx
}

func (t *Transport) endConn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connCancel != nil {
		t.connCancel()
		t.connCancel = nil
	}
}

func (t *Transport) subscribe(ctx context.Context, c pahomqtt.Client, cb core.TransportCallbacks) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("subscribe panic recovered", "error", r)
		}
	}()
	handler := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		cb.OnMessage(t.cfg.Name, msg.Payload())
	}
	for i, topic := range t.cfg.SubscribeTopics {
		token := c.Subscribe(topic, t.cfg.QoSLevel(), handler)
		select {
		case <-ctx.Done():
			return
		case <-token.Done():
		}
		if ctx.Err() != nil {
			return
		}
		if err := token.Error(); err != nil {
			t.logger.Warn("mqtt subscribe failed", "topic", topic, "error", err)
			return
		}
		cb.OnSuback(t.cfg.Name, len(t.cfg.SubscribeTopics)-i-1)
	}
}

// Publish hands payload to the client without waiting for the broker.
func (t *Transport) Publish(_ context.Context, payload []byte) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := client.Publish(t.cfg.PublishTopic, t.cfg.QoSLevel(), false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish: %w", err)
		}
	default:
	}
	return nil
}

func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	client, cancel, done := t.client, t.cancel, t.done
	t.client = nil
	t.mu.Unlock()
	if client == nil {
		return nil
	}
	cancel()
	t.endConn()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	client.Disconnect(disconnectQuiesceMillis)
	return nil
}
