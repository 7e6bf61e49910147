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

package httppost

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

const defaultRequestTimeout = 10 * time.Second

// Entrypoint inserts events into a link: POST /links/{name}/events.
type Entrypoint struct {
	name    string
	port    int
	links   core.LinkService
	server  *http.Server
	logger  *slog.Logger
	maxBody int64
	timeout time.Duration
}

func New(name string, port int, logger *slog.Logger) *Entrypoint {
	return &Entrypoint{
		name:    name,
		port:    port,
		logger:  logger,
		maxBody: 1 << 20,
		timeout: defaultRequestTimeout,
	}
}

func (e *Entrypoint) Name() string { return e.name }
func (e *Entrypoint) Type() string { return "http_post" }

func (e *Entrypoint) Start(ctx context.Context, links core.LinkService, _ core.SessionManager) error {
	e.server = &http.Server{Addr: fmt.Sprintf(":%d", e.port), Handler: e.Handler(links)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.server.Shutdown(shutdownCtx)
	}()

	e.logger.Info("http_post entrypoint starting", "name", e.name, "port", e.port)
	if err := e.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (e *Entrypoint) Stop(ctx context.Context) error {
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

func (e *Entrypoint) Handler(links core.LinkService) http.Handler {
	e.links = links
	mux := http.NewServeMux()
	mux.HandleFunc("POST /links/{name}/events", e.handlePost)
	return mux
}

func (e *Entrypoint) handlePost(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	link := r.PathValue("name")

	req, err := core.DecodeEventRequest(r.Body, e.maxBody)
	if err != nil {
		core.WriteError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), e.timeout)
	defer cancel()
	id, err := e.links.GenerateEvent(ctx, link, req.Type, req.Payload)
	if err != nil {
		e.logger.Warn("event insertion failed",
			"link", link,
			"client_id", core.ObserverID(r),
			"error", err,
		)
		core.WriteError(w, err)
		return
	}

	e.logger.Debug("event inserted", "link", link, "id", id, "type", req.Type)
	core.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "id": id, "link": link})
}
