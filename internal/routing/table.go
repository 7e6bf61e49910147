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

package routing

import (
	"slices"
	"strings"
	"sync"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

// Table maps a link name to the routes that carry its records to sinks.
// Lookups are lock free; writers are serialised by mu.
type Table struct {
	mu     sync.Mutex
	routes sync.Map
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) Add(route *core.Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	existing, _ := t.Lookup(route.Source)
	for _, r := range existing {
		if r.Target == route.Target {
			return
		}
	}
	t.routes.Store(route.Source, append(slices.Clone(existing), route))
}

// Remove drops every route for source.
func (t *Table) Remove(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes.Delete(source)
}

func (t *Table) Lookup(source string) ([]*core.Route, bool) {
	v, ok := t.routes.Load(source)
	if !ok {
		return nil, false
	}
	return v.([]*core.Route), true
}

// Targets returns the routes for link followed by the wildcard routes, with
// each sink listed once.
func (t *Table) Targets(link string) []*core.Route {
	own, _ := t.Lookup(link)
	wild, _ := t.Lookup(core.WildcardSource)
	if link == core.WildcardSource {
		wild = nil
	}
	out := make([]*core.Route, 0, len(own)+len(wild))
	for _, r := range append(slices.Clone(own), wild...) {
		if !slices.ContainsFunc(out, func(o *core.Route) bool { return o.Target == r.Target }) {
			out = append(out, r)
		}
	}
	return out
}

func (t *Table) ReplaceAll(routes []*core.Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes.Range(func(key, _ any) bool {
		t.routes.Delete(key)
		return true
	})
	grouped := make(map[string][]*core.Route)
	for _, r := range routes {
		grouped[r.Source] = append(grouped[r.Source], r)
	}
	for source, rs := range grouped {
		t.routes.Store(source, rs)
	}
}

// All returns every route ordered by source.
func (t *Table) All() []*core.Route {
	var out []*core.Route
	t.routes.Range(func(_, v any) bool {
		out = append(out, v.([]*core.Route)...)
		return true
	})
	slices.SortStableFunc(out, func(a, b *core.Route) int { return strings.Compare(a.Source, b.Source) })
	return out
}

func (t *Table) Len() int {
	n := 0
	t.routes.Range(func(_, v any) bool {
		n += len(v.([]*core.Route))
		return true
	})
	return n
}
