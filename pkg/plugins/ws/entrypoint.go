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

package ws

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

const (
	writeWait   = 10 * time.Second
	maxReadSize = 1 << 20
)

// Entrypoint streams records to websocket clients and accepts events from
// them. Each inbound text message is a core.EventRequest naming its link;
// the reply is {"id": ...} or {"error": ...}.
type Entrypoint struct {
	name     string
	port     int
	upgrader websocket.Upgrader
	links    core.LinkService
	manager  core.SessionManager
	server   *http.Server
	logger   *slog.Logger
	sessions sync.Map
}

type reply struct {
	Kind  string `json:"kind"`
	ID    string `json:"id,omitempty"`
	Link  string `json:"link,omitempty"`
	Error string `json:"error,omitempty"`
}

func New(name string, port int, logger *slog.Logger) *Entrypoint {
	return &Entrypoint{
		name: name,
		port: port,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (e *Entrypoint) Name() string { return e.name }
func (e *Entrypoint) Type() string { return "websocket" }

func (e *Entrypoint) Start(ctx context.Context, links core.LinkService, manager core.SessionManager) error {
	e.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", e.port),
		Handler: e.Handler(links, manager),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.server.Shutdown(shutdownCtx)
	}()

	e.logger.Info("websocket entrypoint starting", "name", e.name, "port", e.port)
	if err := e.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (e *Entrypoint) Stop(ctx context.Context) error {
	e.sessions.Range(func(_, val any) bool {
		sess := val.(*core.Session)
		e.manager.DestroySession(sess.ID)
		return true
	})
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

func (e *Entrypoint) Handler(links core.LinkService, manager core.SessionManager) http.Handler {
	e.links = links
	e.manager = manager
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", e.handleConnection)
	return mux
}

func (e *Entrypoint) handleConnection(w http.ResponseWriter, r *http.Request) {
	link := r.URL.Query().Get("link")
	if link != "" {
		if _, err := e.links.Stats(r.Context(), link); err != nil {
			core.WriteError(w, err)
			return
		}
	}

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Error("ws upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxReadSize)

	clientID := core.ObserverID(r)
	sess, err := e.manager.CreateSession(r.Context(), e.name, clientID, link)
	if err != nil {
		e.logger.Error("session creation failed", "client_id", clientID, "error", err)
		conn.Close()
		return
	}

	e.sessions.Store(sess.ID, sess)
	out := make(chan *reply, 16)
	writerDone := make(chan struct{})

	defer func() {
		e.sessions.Delete(sess.ID)
		e.manager.DestroySession(sess.ID)
		<-writerDone
		e.logger.Info("ws client disconnected", "client_id", clientID)
	}()

	e.logger.Info("ws client connected", "client_id", clientID, "session_id", sess.ID, "link", link)

	go e.writeLoop(conn, sess, out, writerDone)
	e.readLoop(r.Context(), conn, sess, out)
}

// writeLoop is the only writer on conn. It closes conn on exit, which also
// ends readLoop.
func (e *Entrypoint) writeLoop(conn *websocket.Conn, sess *core.Session, out <-chan *reply, done chan<- struct{}) {
	defer close(done)
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("ws writer panic recovered", "client_id", sess.ClientID, "error", r)
		}
	}()
	for {
		var v any
		select {
		case <-sess.Done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case rec := <-sess.Records:
			v = rec
		case rep := <-out:
			v = rep
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			e.logger.Error("ws write failed", "client_id", sess.ClientID, "error", err)
			sess.Cancel()
			return
		}
	}
}

func (e *Entrypoint) readLoop(ctx context.Context, conn *websocket.Conn, sess *core.Session, out chan<- *reply) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				e.logger.Error("ws read error", "client_id", sess.ClientID, "error", err)
			}
			return
		}

		rep := e.submit(ctx, sess, payload)
		select {
		case out <- rep:
		case <-sess.Done:
			return
		}
	}
}

func (e *Entrypoint) submit(ctx context.Context, sess *core.Session, payload []byte) *reply {
	req, err := core.DecodeEventRequest(bytes.NewReader(payload), maxReadSize)
	if err == nil && req.Link == "" {
		req.Link = sess.Link
	}
	if err == nil && req.Link == "" {
		err = fmt.Errorf("%w: link is required", core.ErrInvalidEnvelope)
	}
	if err != nil {
		return &reply{Kind: "error", Error: err.Error()}
	}
	id, err := e.links.GenerateEvent(ctx, req.Link, req.Type, req.Payload)
	if err != nil {
		e.logger.Warn("ws event insertion failed", "client_id", sess.ClientID, "link", req.Link, "error", err)
		return &reply{Kind: "error", Link: req.Link, Error: err.Error()}
	}
	return &reply{Kind: "accepted", ID: id, Link: req.Link}
}
