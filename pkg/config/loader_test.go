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

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/internal/routing"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/persister"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/problems"
)

const sampleConfig = `
node:
  name: scada1
logging:
  level: debug
delivery:
  num_inflight_events: 4
  ack_timeout: 2s
persister:
  type: sqlite
  dir: /var/lib/linkd/events
links:
  - name: atn
    role: upstream
    broker: tcp://localhost:1883
    publish_topic: gw/scada1/to/atn
    subscribe_topics: [gw/atn/to/scada1]
  - name: scada2
    transport: mqtt
    broker: tcp://localhost:1883
    publish_topic: gw/scada1/to/scada2
    qos: 2
sinks:
  - name: audit
    type: kafka
    config:
      brokers: "localhost:9092"
      topic: linkd.records
routes:
  - source: atn
    target: audit
    channel_size: 5
  - source: "*"
    target: audit
entrypoints:
  - name: events-in
    type: http_post
    port: 8081
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Node.Name != "scada1" {
		t.Fatalf("expected scada1, got %s", cfg.Node.Name)
	}
	if len(cfg.Links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(cfg.Links))
	}
	if len(cfg.Routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(cfg.Routes))
	}

	route := cfg.Routes[0].ToRoute()
	if route.ChannelSize != 5 {
		t.Fatalf("expected channel size 5, got %d", route.ChannelSize)
	}
}

func TestLoadKeepsDefaultsForOmittedKeys(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := cfg.Delivery
	if d.NumInflightEvents != 4 || d.AckTimeout != 2*time.Second {
		t.Fatalf("expected configured window and timeout, got %d %s", d.NumInflightEvents, d.AckTimeout)
	}
	if d.NumInitialEventReuploads != 5 || d.LinkPollInterval != 60*time.Second {
		t.Fatalf("expected defaults, got %d %s", d.NumInitialEventReuploads, d.LinkPollInterval)
	}
	if !d.FlushInflightOnStop || !d.GenerateCommEvents {
		t.Fatal("expected boolean defaults to survive decoding")
	}
	if cfg.Persister.MaxBytes != persister.DefaultMaxBytes {
		t.Fatalf("expected default max bytes, got %d", cfg.Persister.MaxBytes)
	}
}

func TestApplyDefaultsPerLink(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	atn := cfg.Links[0]
	if atn.Transport != TransportMQTT5 {
		t.Fatalf("expected mqtt5 default, got %s", atn.Transport)
	}
	if atn.ClientID != "scada1-atn" {
		t.Fatalf("expected derived client id, got %s", atn.ClientID)
	}
	if atn.QoS == nil || atn.QoSLevel() != DefaultQoS {
		t.Fatalf("expected default qos %d, got %d", DefaultQoS, atn.QoSLevel())
	}
	scada2 := cfg.Links[1]
	if scada2.Role != "peer" || scada2.QoSLevel() != 2 {
		t.Fatalf("unexpected scada2 settings %+v", scada2)
	}
}

func TestExplicitQoSZeroIsKept(t *testing.T) {
	content := `
node:
  name: scada1
links:
  - name: atn
    role: upstream
    broker: tcp://localhost:1883
    publish_topic: out
    qos: 0
  - name: scada2
    broker: tcp://localhost:1883
    publish_topic: out
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Links[0].QoSLevel(); got != 0 {
		t.Fatalf("expected explicit qos 0, got %d", got)
	}
	if got := cfg.Links[1].QoSLevel(); got != DefaultQoS {
		t.Fatalf("expected default qos for omitted key, got %d", got)
	}
	if got := (LinkConfig{}).QoSLevel(); got != DefaultQoS {
		t.Fatalf("expected default qos before defaults are applied, got %d", got)
	}
}

func TestValidateRejectsQoSAboveTwo(t *testing.T) {
	content := `
node:
  name: scada1
links:
  - name: atn
    role: upstream
    broker: tcp://localhost:1883
    publish_topic: out
    qos: 3
`
	_, err := Load(writeConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "qos must be") {
		t.Fatalf("expected qos validation error, got %v", err)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	content := `
node:
  name: scada1
persister:
  type: cassandra
links:
  - name: atn
    role: sideways
    broker: tcp://localhost:1883
    publish_topic: out
  - name: atn
    broker: tcp://localhost:1883
    publish_topic: out
routes:
  - source: ghost
    target: nowhere
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("expected validation error")
	}
	probs, ok := problems.From(err)
	if !ok {
		t.Fatalf("expected problems, got %T", err)
	}
	if n := len(probs.Errors()); n != 5 {
		t.Fatalf("expected 5 errors, got %d: %v", n, probs.Errors())
	}
	for _, want := range []string{"persister.type", "unknown role", "duplicate link name", "unknown link", "sink not found"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestValidateWarningsDoNotFailLoad(t *testing.T) {
	content := `
node:
  name: scada1
links:
  - name: scada2
    broker: tcp://localhost:1883
    publish_topic: out
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !problems.OnlyWarnings(cfg.Validate()) {
		t.Fatal("expected a comm event warning without an upstream link")
	}
}

func TestPersisterFor(t *testing.T) {
	cfg := Default()
	cfg.Persister.Dir = "/data"
	cfg.Persister.RedisPrefix = "linkd"

	pc := cfg.PersisterFor("atn")
	if pc.Dir != filepath.Join("/data", "atn") {
		t.Fatalf("unexpected dir %s", pc.Dir)
	}
	if pc.RedisPrefix != "linkd:atn" {
		t.Fatalf("unexpected prefix %s", pc.RedisPrefix)
	}
	if cfg.Persister.Dir != "/data" {
		t.Fatal("expected node config to be unchanged")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{Logging: LoggingConfig{Level: tt.input}}
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/from/env.yaml")
	if got := ResolvePath("/from/flag.yaml"); got != "/from/flag.yaml" {
		t.Fatalf("expected flag path, got %s", got)
	}
	if got := ResolvePath(""); got != "/from/env.yaml" {
		t.Fatalf("expected env path, got %s", got)
	}
	t.Setenv(EnvConfigPath, "")
	if got := ResolvePath(""); got != DefaultConfigPath {
		t.Fatalf("expected default path, got %s", got)
	}
}

func TestWatcherReloadsRoutes(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	table := routing.NewTable()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w := NewWatcher(path, table, time.Millisecond, logger)

	if w.check() {
		t.Fatal("expected no reload for an unchanged file")
	}

	updated := strings.Replace(sampleConfig, "  - source: \"*\"\n    target: audit\n", "", 1)
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	if !w.check() {
		t.Fatal("expected routes to reload")
	}
	if n := table.Len(); n != 1 {
		t.Fatalf("expected 1 route, got %d", n)
	}
}

func TestWatcherKeepsRoutesOnBadReload(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	table := routing.NewTable()
	table.ReplaceAll((&Config{Routes: []RouteConfig{{Source: "atn", Target: "audit"}}}).ToRoutes())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w := NewWatcher(path, table, time.Millisecond, logger)

	if err := os.WriteFile(path, []byte("links: [oops"), 0644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	if w.check() {
		t.Fatal("expected reload to fail")
	}
	if n := table.Len(); n != 1 {
		t.Fatalf("expected the old route to survive, got %d", n)
	}
}
