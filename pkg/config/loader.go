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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/internal/delivery"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/persister"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/problems"
)

const (
	EnvConfigPath     = "CONFIG_PATH"
	DefaultConfigPath = "/etc/linkd/config.yaml"

	TransportMQTT5 = "mqtt5"
	TransportMQTT  = "mqtt"
)

type Config struct {
	Node        NodeConfig         `yaml:"node"`
	Logging     LoggingConfig      `yaml:"logging"`
	Delivery    DeliveryConfig     `yaml:"delivery"`
	Persister   persister.Config   `yaml:"persister"`
	Links       []LinkConfig       `yaml:"links"`
	Sinks       []SinkConfig       `yaml:"sinks"`
	Routes      []RouteConfig      `yaml:"routes"`
	Entrypoints []EntrypointConfig `yaml:"entrypoints"`
}

type NodeConfig struct {
	Name string `yaml:"name"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// Packets enables one debug line per envelope sent or received.
	Packets bool `yaml:"packets"`
}

type DeliveryConfig struct {
	delivery.Config    `yaml:",inline"`
	GenerateCommEvents bool `yaml:"generate_comm_events"`
	DedupCacheSize     int  `yaml:"dedup_cache_size"`
}

type LinkConfig struct {
	Name            string        `yaml:"name"`
	Role            string        `yaml:"role"`
	Transport       string        `yaml:"transport"`
	Broker          string        `yaml:"broker"`
	ClientID        string        `yaml:"client_id"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	PublishTopic    string        `yaml:"publish_topic"`
	SubscribeTopics []string      `yaml:"subscribe_topics"`
	QoS             *byte         `yaml:"qos"`
	KeepAlive       time.Duration `yaml:"keep_alive"`
	ConnectRetry    time.Duration `yaml:"connect_retry"`
}

// DefaultQoS applies when a link leaves qos unset. An explicit 0 is kept.
const DefaultQoS byte = 1

// QoSLevel returns the configured MQTT QoS, or DefaultQoS when unset.
func (l LinkConfig) QoSLevel() byte {
	if l.QoS == nil {
		return DefaultQoS
	}
	return *l.QoS
}

type SinkConfig struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"`
	Config map[string]string `yaml:"config"`
}

type RouteConfig struct {
	Source      string `yaml:"source"`
	Target      string `yaml:"target"`
	ChannelSize int    `yaml:"channel_size"`
}

type EntrypointConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Port int    `yaml:"port"`
}

// Default returns a configuration with every default filled in. Load decodes
// the file over it so omitted keys keep their defaults.
func Default() *Config {
	return &Config{
		Node:    NodeConfig{Name: hostname()},
		Logging: LoggingConfig{Level: "info"},
		Delivery: DeliveryConfig{
			Config:             delivery.DefaultConfig(),
			GenerateCommEvents: true,
			DedupCacheSize:     1024,
		},
		Persister: defaultPersister(),
	}
}

func defaultPersister() persister.Config {
	pc := persister.DefaultConfig()
	pc.Dir = "/var/lib/linkd/events"
	return pc
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "linkd"
	}
	return h
}

// ResolvePath picks the config file: the flag value, then CONFIG_PATH, then
// the default location.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultConfigPath
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil && !problems.OnlyWarnings(err) {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills per-link values that fall back to node level settings.
func (c *Config) ApplyDefaults() {
	for i := range c.Links {
		l := &c.Links[i]
		if l.Role == "" {
			l.Role = string(core.RolePeer)
		}
		if l.Transport == "" {
			l.Transport = TransportMQTT5
		}
		if l.ClientID == "" {
			l.ClientID = c.Node.Name + "-" + l.Name
		}
		if l.QoS == nil {
			qos := DefaultQoS
			l.QoS = &qos
		}
		if l.KeepAlive <= 0 {
			l.KeepAlive = 30 * time.Second
		}
		if l.ConnectRetry <= 0 {
			l.ConnectRetry = 5 * time.Second
		}
	}
}

var (
	validRoles      = []string{string(core.RoleUpstream), string(core.RoleDownstream), string(core.RolePeer)}
	validTransports = []string{TransportMQTT5, TransportMQTT}
	validPersisters = []string{
		persister.TypeStub, persister.TypeMemory, persister.TypeDirectory,
		persister.TypeRolling, persister.TypeSQLite, persister.TypeRedis,
	}
)

// Validate reports every problem found, not just the first. A result holding
// only warnings leaves the config usable.
func (c *Config) Validate() error {
	probs := problems.New(problems.WithMaxProblems(50))

	if c.Node.Name == "" {
		probs.AddError(fmt.Errorf("node.name is required"))
	}
	if !slices.Contains(validPersisters, c.Persister.Type) {
		probs.AddError(fmt.Errorf("persister.type %q is not one of %s", c.Persister.Type, strings.Join(validPersisters, ", ")))
	}
	if c.Persister.Type == persister.TypeRedis && c.Persister.RedisAddr == "" {
		probs.AddError(fmt.Errorf("persister.redis_addr is required for the redis persister"))
	}
	if needsDir(c.Persister.Type) && c.Persister.Dir == "" {
		probs.AddError(fmt.Errorf("persister.dir is required for the %s persister", c.Persister.Type))
	}
	d := c.Delivery
	if d.NumInflightEvents < 1 || d.NumInitialEventReuploads < 1 {
		probs.AddError(fmt.Errorf("delivery windows must be positive"))
	}
	if d.AckTimeout <= 0 || d.LinkPollInterval <= 0 {
		probs.AddError(fmt.Errorf("delivery timeouts must be positive"))
	}

	links := make(map[string]bool)
	upstreams := 0
	for i, l := range c.Links {
		switch {
		case l.Name == "":
			probs.AddError(fmt.Errorf("links[%d]: name is required", i))
			continue
		case l.Name == core.WildcardSource:
			probs.AddError(fmt.Errorf("links[%d]: %q is reserved", i, l.Name))
		case links[l.Name]:
			probs.AddError(fmt.Errorf("links[%d]: duplicate link name %q", i, l.Name))
		}
		links[l.Name] = true
		if !slices.Contains(validRoles, l.Role) {
			probs.AddError(fmt.Errorf("link %s: unknown role %q", l.Name, l.Role))
		}
		if l.Role == string(core.RoleUpstream) {
			upstreams++
		}
		if !slices.Contains(validTransports, l.Transport) {
			probs.AddError(fmt.Errorf("link %s: unknown transport %q", l.Name, l.Transport))
		}
		if l.Broker == "" || l.PublishTopic == "" {
			probs.AddError(fmt.Errorf("link %s: broker and publish_topic are required", l.Name))
		}
		if l.QoS != nil && *l.QoS > 2 {
			probs.AddError(fmt.Errorf("link %s: qos must be 0, 1 or 2", l.Name))
		}
	}
	if len(c.Links) == 0 {
		probs.AddError(fmt.Errorf("at least one link is required"))
	}
	if c.Delivery.GenerateCommEvents && upstreams == 0 && len(c.Links) > 0 {
		probs.AddWarning(fmt.Errorf("generate_comm_events is set but no link has role upstream"))
	}

	sinks := make(map[string]bool)
	for i, s := range c.Sinks {
		if s.Name == "" || sinks[s.Name] {
			probs.AddError(fmt.Errorf("sinks[%d]: missing or duplicate name %q", i, s.Name))
		}
		sinks[s.Name] = true
	}
	for i, r := range c.Routes {
		if r.Source != core.WildcardSource && !links[r.Source] {
			probs.AddError(fmt.Errorf("routes[%d]: %w: %q", i, core.ErrUnknownLink, r.Source))
		}
		if !sinks[r.Target] {
			probs.AddError(fmt.Errorf("routes[%d]: %w: %q", i, core.ErrSinkNotFound, r.Target))
		}
	}

	ports := make(map[int]string)
	for i, e := range c.Entrypoints {
		if e.Port <= 0 {
			probs.AddError(fmt.Errorf("entrypoints[%d]: port is required", i))
			continue
		}
		if other, taken := ports[e.Port]; taken {
			probs.AddError(fmt.Errorf("entrypoint %s: port %d already used by %s", e.Name, e.Port, other))
		}
		ports[e.Port] = e.Name
	}

	return probs.Err()
}

func needsDir(typ string) bool {
	switch typ {
	case persister.TypeDirectory, persister.TypeRolling, persister.TypeSQLite:
		return true
	}
	return false
}

// PersisterFor gives each link its own store: a subdirectory for file backed
// types and a key prefix for redis.
func (c *Config) PersisterFor(link string) persister.Config {
	pc := c.Persister
	if pc.Dir != "" {
		pc.Dir = filepath.Join(pc.Dir, link)
	}
	pc.RedisPrefix = pc.RedisPrefix + ":" + link
	return pc
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) ToRoutes() []*core.Route {
	routes := make([]*core.Route, 0, len(c.Routes))
	for _, rc := range c.Routes {
		routes = append(routes, rc.ToRoute())
	}
	return routes
}

func (rc RouteConfig) ToRoute() *core.Route {
	return &core.Route{
		Source:      rc.Source,
		Target:      rc.Target,
		ChannelSize: rc.ChannelSize,
	}
}
