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

// Package session fans link records out to observer sessions and to the
// sinks named by the routing table.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/internal/routing"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

const (
	DefaultSessionBuffer  = 64
	DefaultSinkQueueSize  = 256
	DefaultReconnectDelay = 5 * time.Second
	sendTimeout           = 10 * time.Second
)

type activeSession struct {
	session *core.Session
	cancel  context.CancelFunc
}

type sinkRelay struct {
	sink    core.Sink
	queue   chan core.Record
	healthy atomic.Bool
}

type Manager struct {
	sessions sync.Map
	routes   *routing.Table
	sinks    map[string]*sinkRelay
	logger   *slog.Logger

	reconnectDelay time.Duration
	dropped        atomic.Int64
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

func NewManager(routes *routing.Table, sinks map[string]core.Sink, logger *slog.Logger) *Manager {
	m := &Manager{
		routes:         routes,
		sinks:          make(map[string]*sinkRelay, len(sinks)),
		logger:         logger.With("component", "sessions"),
		reconnectDelay: DefaultReconnectDelay,
	}
	for name, s := range sinks {
		m.sinks[name] = &sinkRelay{sink: s, queue: make(chan core.Record, m.queueSize(name))}
	}
	return m
}

// queueSize is the largest channel_size among the routes that target sink.
func (m *Manager) queueSize(sink string) int {
	size := 0
	for _, r := range m.routes.All() {
		if r.Target == sink && r.ChannelSize > size {
			size = r.ChannelSize
		}
	}
	if size <= 0 {
		size = DefaultSinkQueueSize
	}
	return size
}

// Start connects every sink and starts its relay. A sink that fails to
// connect is retried by its relay; records routed to it meanwhile are
// dropped.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for name, relay := range m.sinks {
		if err := relay.sink.Connect(ctx); err != nil {
			m.logger.Warn("sink connect failed", "sink", name, "type", relay.sink.Type(), "error", err)
		} else {
			relay.healthy.Store(true)
			m.logger.Info("sink connected", "sink", name, "type", relay.sink.Type())
		}
		m.wg.Add(1)
		go m.relay(ctx, name, relay)
	}
}

func (m *Manager) relay(ctx context.Context, name string, r *sinkRelay) {
	defer m.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("sink relay panic recovered", "sink", name, "error", rec)
		}
	}()

	ticker := time.NewTicker(m.reconnectDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.healthy.Load() {
				continue
			}
			if err := r.sink.Connect(ctx); err != nil {
				m.logger.Debug("sink reconnect failed", "sink", name, "error", err)
				continue
			}
			r.healthy.Store(true)
			m.logger.Info("sink reconnected", "sink", name)
		case rec := <-r.queue:
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			err := r.sink.Send(sendCtx, rec)
			cancel()
			if err != nil && ctx.Err() == nil {
				m.dropped.Add(1)
				r.healthy.Store(false)
				m.logger.Error("sink send failed", "sink", name, "link", rec.Link, "kind", rec.Kind, "error", err)
			}
		}
	}
}

// Stop ends every session, stops the relays and disconnects the sinks.
func (m *Manager) Stop(ctx context.Context) {
	m.DestroyAll()
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	for name, relay := range m.sinks {
		if err := relay.sink.Disconnect(ctx); err != nil {
			m.logger.Warn("sink disconnect failed", "sink", name, "error", err)
		}
	}
}

// Publish hands rec to every interested session and routed sink. It never
// blocks; a full session or sink queue drops the record.
func (m *Manager) Publish(rec core.Record) {
	m.sessions.Range(func(_, val any) bool {
		sess := val.(*activeSession).session
		if sess.Link != "" && sess.Link != rec.Link {
			return true
		}
		select {
		case sess.Records <- rec:
		default:
			m.dropped.Add(1)
			m.logger.Debug("session buffer full, record dropped", "session_id", sess.ID, "link", rec.Link)
		}
		return true
	})

	for _, route := range m.routes.Targets(rec.Link) {
		relay, ok := m.sinks[route.Target]
		if !ok {
			m.dropped.Add(1)
			m.logger.Debug("route target missing", "link", rec.Link, "sink", route.Target)
			continue
		}
		if !relay.healthy.Load() {
			m.dropped.Add(1)
			continue
		}
		select {
		case relay.queue <- rec:
		default:
			m.dropped.Add(1)
			m.logger.Debug("sink queue full, record dropped", "sink", route.Target, "link", rec.Link)
		}
	}
}

// Dropped counts records that could not be delivered to a session or sink.
func (m *Manager) Dropped() int64 { return m.dropped.Load() }

// SinkHealthy reports whether the named sink is connected.
func (m *Manager) SinkHealthy(name string) bool {
	relay, ok := m.sinks[name]
	return ok && relay.healthy.Load()
}

func (m *Manager) CreateSession(
	ctx context.Context,
	entrypointName string,
	clientID string,
	link string,
) (*core.Session, error) {
	sessionCtx, sessionCancel := context.WithCancel(ctx)
	sessionID := uuid.New().String()

	sess := &core.Session{
		ID:             sessionID,
		ClientID:       clientID,
		EntrypointName: entrypointName,
		Link:           link,
		Records:        make(chan core.Record, DefaultSessionBuffer),
		Done:           sessionCtx.Done(),
		Cancel:         sessionCancel,
	}

	m.sessions.Store(sessionID, &activeSession{
		session: sess,
		cancel:  sessionCancel,
	})

	m.logger.Info("session created",
		"session_id", sessionID,
		"client_id", clientID,
		"entrypoint", entrypointName,
		"link", link,
	)

	return sess, nil
}

func (m *Manager) DestroySession(sessionID string) error {
	val, ok := m.sessions.LoadAndDelete(sessionID)
	if !ok {
		return fmt.Errorf("%w: id=%s", core.ErrSessionNotFound, sessionID)
	}

	as := val.(*activeSession)
	as.cancel()

	m.logger.Info("session destroyed",
		"session_id", sessionID,
		"client_id", as.session.ClientID,
	)

	return nil
}

func (m *Manager) DestroyAll() {
	m.sessions.Range(func(key, _ any) bool {
		_ = m.DestroySession(key.(string))
		return true
	})
}

func (m *Manager) ActiveCount() int {
	count := 0
	m.sessions.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

func (m *Manager) SessionByClientID(clientID string) (*core.Session, bool) {
	var found *core.Session
	m.sessions.Range(func(_, val any) bool {
		as := val.(*activeSession)
		if as.session.ClientID == clientID {
			found = as.session
			return false
		}
		return true
	})
	return found, found != nil
}
