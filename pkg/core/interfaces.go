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

package core

import "context"

// Transport is a best-effort publish/subscribe client bound to one link. It
// reports connectivity and inbound messages through TransportCallbacks and
// keeps retrying its connection until stopped.
type Transport interface {
	Name() string
	Type() string
	Start(ctx context.Context, cb TransportCallbacks) error
	Publish(ctx context.Context, payload []byte) error
	Stop(ctx context.Context) error
}

// TransportCallbacks receives transport signals. Implementations must not
// block the transport's goroutine.
type TransportCallbacks interface {
	OnConnected(link string, subscriptions int)
	OnConnectFailed(link string, err error)
	OnDisconnected(link string, err error)
	OnSuback(link string, remaining int)
	OnMessage(link string, payload []byte)
}

// Sink is an outbound destination for observability records.
type Sink interface {
	Name() string
	Type() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, rec Record) error
	Disconnect(ctx context.Context) error
}

// Entrypoint is an operator facing surface.
type Entrypoint interface {
	Name() string
	Type() string
	Start(ctx context.Context, links LinkService, sessions SessionManager) error
	Stop(ctx context.Context) error
}

// LinkService is what entrypoints may ask of the running links.
type LinkService interface {
	GenerateEvent(ctx context.Context, link, typ string, payload []byte) (string, error)
	Stats(ctx context.Context, link string) (LinkStats, error)
	Links(ctx context.Context) ([]LinkStats, error)
}

// SessionManager hands out observer sessions that stream records.
type SessionManager interface {
	CreateSession(ctx context.Context, entrypointName, clientID, link string) (*Session, error)
	DestroySession(sessionID string) error
}

// Session is one observer. Link filters records by link name; empty means
// every link.
type Session struct {
	ID             string
	ClientID       string
	EntrypointName string
	Link           string
	Records        chan Record
	Done           <-chan struct{}
	Cancel         context.CancelFunc
}

// EventHandler receives deduplicated events from a peer.
type EventHandler func(link string, env Envelope)
