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

package sse

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

const keepAliveInterval = 15 * time.Second

// Entrypoint streams records as server-sent events. GET /records streams
// every link; GET /records/{link} streams one.
type Entrypoint struct {
	name     string
	port     int
	links    core.LinkService
	manager  core.SessionManager
	server   *http.Server
	logger   *slog.Logger
	sessions sync.Map
}

func New(name string, port int, logger *slog.Logger) *Entrypoint {
	return &Entrypoint{name: name, port: port, logger: logger}
}

func (e *Entrypoint) Name() string { return e.name }
func (e *Entrypoint) Type() string { return "sse" }

func (e *Entrypoint) Start(ctx context.Context, links core.LinkService, manager core.SessionManager) error {
	e.server = &http.Server{Addr: fmt.Sprintf(":%d", e.port), Handler: e.Handler(links, manager)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.server.Shutdown(shutdownCtx)
	}()

	e.logger.Info("sse entrypoint starting", "name", e.name, "port", e.port)
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
	mux.HandleFunc("GET /records", e.handleSSE)
	mux.HandleFunc("GET /records/{link}", e.handleSSE)
	return mux
}

func (e *Entrypoint) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	link := r.PathValue("link")
	if link != "" {
		if _, err := e.links.Stats(r.Context(), link); err != nil {
			core.WriteError(w, err)
			return
		}
	}

	clientID := core.ObserverID(r)
	sess, err := e.manager.CreateSession(r.Context(), e.name, clientID, link)
	if err != nil {
		e.logger.Error("sse session creation failed", "error", err)
		http.Error(w, "session creation failed", http.StatusInternalServerError)
		return
	}

	e.sessions.Store(sess.ID, sess)
	defer func() {
		e.sessions.Delete(sess.ID)
		e.manager.DestroySession(sess.ID)
		e.logger.Info("sse client disconnected", "client_id", clientID)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	e.logger.Info("sse client connected", "client_id", clientID, "session_id", sess.ID, "link", link)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Done:
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case rec := <-sess.Records:
			data, err := rec.Encode()
			if err != nil {
				e.logger.Error("marshal sse record failed", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", rec.Kind, data)
			flusher.Flush()
		}
	}
}
