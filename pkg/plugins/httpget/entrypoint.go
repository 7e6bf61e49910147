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

package httpget

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

const (
	defaultPollTimeout = 30 * time.Second
	maxPollBatch       = 100
)

// Entrypoint serves link stats and long-poll record subscriptions.
//
//	GET    /links            stats for every link
//	GET    /links/{name}     stats for one link
//	POST   /subscribe        start a record subscription (?link= filters)
//	GET    /poll             wait for records
//	DELETE /unsubscribe      end the subscription
//
// Subscriptions are keyed by the X-Client-ID header.
type Entrypoint struct {
	name        string
	port        int
	links       core.LinkService
	manager     core.SessionManager
	server      *http.Server
	logger      *slog.Logger
	sessions    sync.Map
	pollTimeout time.Duration
}

func New(name string, port int, logger *slog.Logger) *Entrypoint {
	return &Entrypoint{name: name, port: port, logger: logger, pollTimeout: defaultPollTimeout}
}

func (e *Entrypoint) Name() string { return e.name }
func (e *Entrypoint) Type() string { return "http_get" }

func (e *Entrypoint) Start(ctx context.Context, links core.LinkService, manager core.SessionManager) error {
	e.server = &http.Server{Addr: fmt.Sprintf(":%d", e.port), Handler: e.Handler(links, manager)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.server.Shutdown(shutdownCtx)
	}()

	e.logger.Info("http_get entrypoint starting", "name", e.name, "port", e.port)
	if err := e.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (e *Entrypoint) Stop(ctx context.Context) error {
	e.sessions.Range(func(key, val any) bool {
		sess := val.(*core.Session)
		e.manager.DestroySession(sess.ID)
		e.sessions.Delete(key)
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
	mux.HandleFunc("GET /links", e.handleLinks)
	mux.HandleFunc("GET /links/{name}", e.handleLink)
	mux.HandleFunc("POST /subscribe", e.handleSubscribe)
	mux.HandleFunc("GET /poll", e.handlePoll)
	mux.HandleFunc("DELETE /unsubscribe", e.handleUnsubscribe)
	return mux
}

func (e *Entrypoint) handleLinks(w http.ResponseWriter, r *http.Request) {
	all, err := e.links.Links(r.Context())
	if err != nil {
		core.WriteError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, all)
}

func (e *Entrypoint) handleLink(w http.ResponseWriter, r *http.Request) {
	st, err := e.links.Stats(r.Context(), r.PathValue("name"))
	if err != nil {
		core.WriteError(w, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, st)
}

func (e *Entrypoint) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get("X-Client-ID")
	if clientID == "" {
		http.Error(w, "X-Client-ID header required", http.StatusBadRequest)
		return
	}
	link := r.URL.Query().Get("link")
	if link != "" {
		if _, err := e.links.Stats(r.Context(), link); err != nil {
			core.WriteError(w, err)
			return
		}
	}
	if old, ok := e.sessions.LoadAndDelete(clientID); ok {
		e.manager.DestroySession(old.(*core.Session).ID)
	}

	// The session outlives this request; it ends on unsubscribe or Stop.
	sess, err := e.manager.CreateSession(context.Background(), e.name, clientID, link)
	if err != nil {
		e.logger.Error("http_get subscribe failed", "error", err)
		http.Error(w, "subscription failed", http.StatusInternalServerError)
		return
	}

	e.sessions.Store(clientID, sess)
	core.WriteJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID, "client_id": clientID, "link": link})
}

// handlePoll waits for the first record then drains whatever else is queued.
func (e *Entrypoint) handlePoll(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get("X-Client-ID")
	val, ok := e.sessions.Load(clientID)
	if !ok {
		http.Error(w, "not subscribed, call /subscribe first", http.StatusNotFound)
		return
	}
	sess := val.(*core.Session)

	ctx, cancel := context.WithTimeout(r.Context(), e.pollTimeout)
	defer cancel()

	var batch []core.Record
	select {
	case rec := <-sess.Records:
		batch = append(batch, rec)
	case <-sess.Done:
		http.Error(w, "session closed", http.StatusGone)
		return
	case <-ctx.Done():
		w.WriteHeader(http.StatusNoContent)
		return
	}
drain:
	for len(batch) < maxPollBatch {
		select {
		case rec := <-sess.Records:
			batch = append(batch, rec)
		default:
			break drain
		}
	}
	core.WriteJSON(w, http.StatusOK, batch)
}

func (e *Entrypoint) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get("X-Client-ID")
	val, ok := e.sessions.LoadAndDelete(clientID)
	if !ok {
		http.Error(w, "not subscribed", http.StatusNotFound)
		return
	}

	sess := val.(*core.Session)
	e.manager.DestroySession(sess.ID)
	core.WriteJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}
