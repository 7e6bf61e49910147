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
    "sync"
    "testing"

    "github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

func targets(routes []*core.Route) []string {
    out := make([]string, 0, len(routes))
    for _, r := range routes {
        out = append(out, r.Target)
    }
    return out
}

func TestTableAddAndLookup(t *testing.T) {
    table := NewTable()
    table.Add(&core.Route{Source: "atn", Target: "kafka-main", ChannelSize: 1})
    table.Add(&core.Route{Source: "atn", Target: "audit-log"})

    got, ok := table.Lookup("atn")
    if !ok {
        t.Fatal("expected routes to be found")
    }
    if len(got) != 2 || got[0].Target != "kafka-main" || got[1].Target != "audit-log" {
        t.Fatalf("unexpected routes %v", targets(got))
    }
}

func TestTableAddIgnoresDuplicateTarget(t *testing.T) {
    table := NewTable()
    table.Add(&core.Route{Source: "atn", Target: "kafka-main"})
    table.Add(&core.Route{Source: "atn", Target: "kafka-main"})

    if n := table.Len(); n != 1 {
        t.Fatalf("expected 1 route, got %d", n)
    }
}

func TestTableLookupMiss(t *testing.T) {
    table := NewTable()
    _, ok := table.Lookup("nonexistent")
    if ok {
        t.Fatal("expected route not to be found")
    }
}

func TestTableRemove(t *testing.T) {
    table := NewTable()
    table.Add(&core.Route{Source: "atn", Target: "kafka-main"})
    table.Remove("atn")

    _, ok := table.Lookup("atn")
    if ok {
        t.Fatal("expected route to be removed")
    }
}

func TestTableTargetsIncludesWildcard(t *testing.T) {
    table := NewTable()
    table.Add(&core.Route{Source: "atn", Target: "kafka-main"})
    table.Add(&core.Route{Source: core.WildcardSource, Target: "audit-log"})
    table.Add(&core.Route{Source: core.WildcardSource, Target: "kafka-main"})

    got := targets(table.Targets("atn"))
    if len(got) != 2 || got[0] != "kafka-main" || got[1] != "audit-log" {
        t.Fatalf("unexpected targets %v", got)
    }

    got = targets(table.Targets("scada2"))
    if len(got) != 2 || got[0] != "audit-log" || got[1] != "kafka-main" {
        t.Fatalf("unexpected wildcard targets %v", got)
    }
}

func TestTableReplaceAll(t *testing.T) {
    table := NewTable()
    table.Add(&core.Route{Source: "old-link", Target: "old-target"})

    newRoutes := []*core.Route{
        {Source: "new-a", Target: "target-a"},
        {Source: "new-a", Target: "target-b"},
        {Source: "new-b", Target: "target-b"},
    }
    table.ReplaceAll(newRoutes)

    if _, ok := table.Lookup("old-link"); ok {
        t.Fatal("expected old route to be removed")
    }
    if got, _ := table.Lookup("new-a"); len(got) != 2 {
        t.Fatalf("expected two routes for new-a, got %d", len(got))
    }
    if _, ok := table.Lookup("new-b"); !ok {
        t.Fatal("expected new-b route to exist")
    }
    if n := table.Len(); n != 3 {
        t.Fatalf("expected 3 routes, got %d", n)
    }
}

func TestTableConcurrentAccess(t *testing.T) {
    table := NewTable()
    var wg sync.WaitGroup

    for i := 0; i < 100; i++ {
        wg.Add(1)
        go func(n int) {
            defer wg.Done()
            route := &core.Route{Source: "src", Target: "tgt", ChannelSize: n}
            table.Add(route)
            table.Lookup("src")
            table.Targets("src")
        }(i)
    }
    wg.Wait()

    if n := table.Len(); n != 1 {
        t.Fatalf("expected 1 route, got %d", n)
    }
}

func TestTableAllSortedBySource(t *testing.T) {
    table := NewTable()
    table.Add(&core.Route{Source: "scada2", Target: "b"})
    table.Add(&core.Route{Source: "atn", Target: "a"})
    table.Add(&core.Route{Source: "atn", Target: "c"})

    got := table.All()
    if len(got) != 3 {
        t.Fatalf("expected 3 routes, got %d", len(got))
    }
    if got[0].Source != "atn" || got[1].Source != "atn" || got[2].Source != "scada2" {
        t.Fatalf("unexpected order %v", targets(got))
    }
    if got[0].Target != "a" || got[1].Target != "c" {
        t.Fatalf("expected per-source order kept, got %v", targets(got))
    }
}
