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

// Package mqtt5 carries link envelopes over an MQTT v5 broker.
package mqtt5

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/autopaho/queue/memory"
	"github.com/eclipse/paho.golang/paho"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/config"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

var ErrNotConnected = errors.New("mqtt5 connection is not up")

// Transport publishes to one topic and subscribes to the link's inbound
// topics. autopaho owns reconnection; every new connection starts a clean
// session and resubscribes.
type Transport struct {
	cfg    config.LinkConfig
	logger *slog.Logger

	mu     sync.Mutex
	cm     *autopaho.ConnectionManager
	cancel context.CancelFunc
	up     atomic.Bool

	// connCancel ends the subscribe goroutine of the current connection.
	connCancel context.CancelFunc
}

func New(cfg config.LinkConfig, logger *slog.Logger) *Transport {
	return &Transport{
		cfg:    cfg,
		logger: logger.With("component", "mqtt5", "link", cfg.Name),
	}
}

func (t *Transport) Name() string { return t.cfg.Name }
func (t *Transport) Type() string { return config.TransportMQTT5 }

func (t *Transport) Start(ctx context.Context, cb core.TransportCallbacks) error {
	serverURL, err := url.Parse(t.cfg.Broker)
	if err != nil {
		return fmt.Errorf("mqtt5 invalid URL: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	clientCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     uint16(t.cfg.KeepAlive.Seconds()),
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         0,
		ConnectRetryDelay:             t.cfg.ConnectRetry,
		ConnectUsername:               t.cfg.Username,
		ConnectPassword:               []byte(t.cfg.Password),
		Queue:                         memory.New(),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			t.up.Store(true)
			t.logger.Info("mqtt5 connection up", "broker", t.cfg.Broker)
			connCtx := t.beginConn(ctx)
			cb.OnConnected(t.cfg.Name, len(t.cfg.SubscribeTopics))
			go t.subscribe(connCtx, cm, cb)
		},
		OnConnectError: func(err error) {
			cb.OnConnectFailed(t.cfg.Name, err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: t.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					cb.OnMessage(t.cfg.Name, pr.Packet.Payload)
					return true, nil
				},
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				t.lost(cb, fmt.Errorf("server disconnect, reason code %d", d.ReasonCode))
			},
			OnClientError: func(err error) {
				t.lost(cb, err)
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, clientCfg)
	if err != nil {
		cancel()
		return fmt.Errorf("mqtt5 connection: %w", err)
	}

	t.mu.Lock()
	t.cm = cm
	t.cancel = cancel
	t.mu.Unlock()

	t.logger.Info("mqtt5 transport started",
		"broker", t.cfg.Broker,
		"client_id", t.cfg.ClientID,
		"publish_topic", t.cfg.PublishTopic,
		"subscribe_topics", t.cfg.SubscribeTopics,
	)
	return nil
}

// subscribe subscribes one topic at a time so the link sees the count of
// outstanding subscriptions fall with each suback.
func (t *Transport) subscribe(ctx context.Context, cm *autopaho.ConnectionManager, cb core.TransportCallbacks) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("subscribe panic recovered", "error", r)
		}
	}()
	for i, topic := range t.cfg.SubscribeTopics {
		_, err := cm.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{
				{Topic: topic, QoS: t.cfg.QoSLevel()},
			},
		})
		if err != nil {
			if ctx.Err() == nil {
				t.logger.Warn("mqtt5 subscribe failed", "topic", topic, "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		cb.OnSuback(t.cfg.Name, len(t.cfg.SubscribeTopics)-i-1)
	}
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

func (t *Transport) lost(cb core.TransportCallbacks, err error) {
	t.endConn()
	if t.up.CompareAndSwap(true, false) {
		cb.OnDisconnected(t.cfg.Name, err)
	}
}

// Publish queues payload for delivery and returns without waiting for the
// broker.
func (t *Transport) Publish(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	cm := t.cm
	t.mu.Unlock()
	if cm == nil || !t.up.Load() {
		return ErrNotConnected
	}
	return cm.PublishViaQueue(ctx, &autopaho.QueuePublish{
		Publish: &paho.Publish{
			Topic:   t.cfg.PublishTopic,
			QoS:     t.cfg.QoSLevel(),
			Payload: payload,
		},
	})
}

func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	cm, cancel := t.cm, t.cancel
	t.cm = nil
	t.mu.Unlock()
	if cm == nil {
		return nil
	}
	t.up.Store(false)
	err := cm.Disconnect(ctx)
	cancel()
	return err
}
