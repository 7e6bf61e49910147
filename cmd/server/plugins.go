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

package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/config"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/plugins"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/plugins/httpget"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/plugins/httppost"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/plugins/jms"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/plugins/kafka"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/plugins/mqtt"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/plugins/mqtt5"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/plugins/rabbitmq"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/plugins/solace"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/plugins/sse"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/plugins/ws"
)

func newTransport(lc config.LinkConfig, logger *slog.Logger) (core.Transport, error) {
	switch lc.Transport {
	case config.TransportMQTT5:
		return mqtt5.New(lc, logger), nil
	case config.TransportMQTT:
		return mqtt.New(lc, logger), nil
	default:
		return nil, fmt.Errorf("link %s: unknown transport type %q", lc.Name, lc.Transport)
	}
}

func newSink(sc config.SinkConfig, logger *slog.Logger) (core.Sink, error) {
	c := sc.Config
	switch sc.Type {
	case "kafka":
		return kafka.New(sc.Name, strings.Split(c["brokers"], ","), c["topic"], logger), nil
	case "rabbitmq":
		return rabbitmq.New(sc.Name, c["url"], c["queue"], logger), nil
	case "jms":
		return jms.New(sc.Name, c["url"], c["queue"], logger), nil
	case "solace":
		return solace.New(sc.Name, c["host"], c["vpn"], c["username"], c["password"], c["topic_prefix"], logger), nil
	default:
		return nil, fmt.Errorf("sink %s: unknown type %q", sc.Name, sc.Type)
	}
}

func newEntrypoint(ec config.EntrypointConfig, logger *slog.Logger) (core.Entrypoint, error) {
	switch ec.Type {
	case "http_post":
		return httppost.New(ec.Name, ec.Port, logger), nil
	case "http_get":
		return httpget.New(ec.Name, ec.Port, logger), nil
	case "sse":
		return sse.New(ec.Name, ec.Port, logger), nil
	case "websocket":
		return ws.New(ec.Name, ec.Port, logger), nil
	default:
		return nil, fmt.Errorf("entrypoint %s: unknown type %q", ec.Name, ec.Type)
	}
}

// buildPlugins registers every configured transport, sink and entrypoint.
func buildPlugins(cfg *config.Config, logger *slog.Logger) (*plugins.Registry, error) {
	reg := plugins.NewRegistry(logger)
	for _, lc := range cfg.Links {
		t, err := newTransport(lc, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.RegisterTransport(t); err != nil {
			return nil, err
		}
	}
	for _, sc := range cfg.Sinks {
		s, err := newSink(sc, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.RegisterSink(s); err != nil {
			return nil, err
		}
	}
	for _, ec := range cfg.Entrypoints {
		e, err := newEntrypoint(ec, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.RegisterEntrypoint(e); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
