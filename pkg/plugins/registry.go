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

package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

// Registry holds the transports, sinks and entrypoints built from config,
// each keyed by its configured name.
type Registry struct {
	transports  map[string]core.Transport
	sinks       map[string]core.Sink
	entrypoints map[string]core.Entrypoint
	logger      *slog.Logger
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		transports:  make(map[string]core.Transport),
		sinks:       make(map[string]core.Sink),
		entrypoints: make(map[string]core.Entrypoint),
		logger:      logger.With("component", "plugins"),
	}
}

func (r *Registry) RegisterTransport(t core.Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transports[t.Name()]; exists {
		return fmt.Errorf("transport %s already registered", t.Name())
	}
	r.transports[t.Name()] = t
	r.logger.Info("registered transport", "name", t.Name(), "type", t.Type())
	return nil
}

func (r *Registry) RegisterSink(s core.Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sinks[s.Name()]; exists {
		return fmt.Errorf("sink %s already registered", s.Name())
	}
	r.sinks[s.Name()] = s
	r.logger.Info("registered sink", "name", s.Name(), "type", s.Type())
	return nil
}

func (r *Registry) RegisterEntrypoint(e core.Entrypoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entrypoints[e.Name()]; exists {
		return fmt.Errorf("entrypoint %s already registered", e.Name())
	}
	r.entrypoints[e.Name()] = e
	r.logger.Info("registered entrypoint", "name", e.Name(), "type", e.Type())
	return nil
}

func (r *Registry) Transport(link string) (core.Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[link]
	return t, ok
}

func (r *Registry) Sinks() map[string]core.Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make(map[string]core.Sink, len(r.sinks))
	for k, v := range r.sinks {
		cp[k] = v
	}
	return cp
}

func (r *Registry) Entrypoints() map[string]core.Entrypoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make(map[string]core.Entrypoint, len(r.entrypoints))
	for k, v := range r.entrypoints {
		cp[k] = v
	}
	return cp
}

// StartEntrypoints runs every entrypoint on its own goroutine until ctx ends.
func (r *Registry) StartEntrypoints(ctx context.Context, links core.LinkService, sessions core.SessionManager) {
	for name, ep := range r.Entrypoints() {
		r.wg.Add(1)
		go func(n string, e core.Entrypoint) {
			defer r.wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("entrypoint panic recovered", "name", n, "error", rec)
				}
			}()
			if err := e.Start(ctx, links, sessions); err != nil {
				r.logger.Error("entrypoint failed", "name", n, "error", err)
			}
		}(name, ep)
	}
}

func (r *Registry) StopEntrypoints(ctx context.Context) {
	for name, ep := range r.Entrypoints() {
		r.logger.Info("stopping entrypoint", "name", name)
		if err := ep.Stop(ctx); err != nil {
			r.logger.Warn("entrypoint stop failed", "name", name, "error", err)
		}
	}
	r.wg.Wait()
}
