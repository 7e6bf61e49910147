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

package solace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"solace.dev/go/messaging"
	"solace.dev/go/messaging/pkg/solace"
	"solace.dev/go/messaging/pkg/solace/config"
	"solace.dev/go/messaging/pkg/solace/resource"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

const terminateTimeout = 5 * time.Second

// Sink publishes each record to <topic_prefix>/<link>/<kind> so subscribers
// can filter with Solace wildcards.
type Sink struct {
	name        string
	host        string
	vpn         string
	username    string
	password    string
	topicPrefix string
	service     solace.MessagingService
	publisher   solace.DirectMessagePublisher
	logger      *slog.Logger
}

func New(name, host, vpn, username, password, topicPrefix string, logger *slog.Logger) *Sink {
	return &Sink{
		name:        name,
		host:        host,
		vpn:         vpn,
		username:    username,
		password:    password,
		topicPrefix: topicPrefix,
		logger:      logger,
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "solace" }

func (s *Sink) Connect(ctx context.Context) error {
	if s.topicPrefix == "" {
		return errors.New("solace sink needs a topic prefix")
	}
	s.Disconnect(ctx)

	var err error
	s.service, err = messaging.NewMessagingServiceBuilder().
		FromConfigurationProvider(config.ServicePropertyMap{
			config.TransportLayerPropertyHost:                s.host,
			config.ServicePropertyVPNName:                    s.vpn,
			config.AuthenticationPropertySchemeBasicUserName: s.username,
			config.AuthenticationPropertySchemeBasicPassword: s.password,
		}).Build()
	if err != nil {
		return fmt.Errorf("solace build: %w", err)
	}
	if err = s.service.Connect(); err != nil {
		return fmt.Errorf("solace connect: %w", err)
	}
	s.publisher, err = s.service.CreateDirectMessagePublisherBuilder().Build()
	if err != nil {
		return fmt.Errorf("solace publisher build: %w", err)
	}
	if err = s.publisher.Start(); err != nil {
		return fmt.Errorf("solace publisher start: %w", err)
	}
	s.logger.Info("solace sink connected", "name", s.name, "host", s.host, "topic_prefix", s.topicPrefix)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.publisher != nil {
		s.publisher.Terminate(terminateTimeout)
		s.publisher = nil
	}
	if s.service != nil {
		err := s.service.Disconnect()
		s.service = nil
		return err
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, rec core.Record) error {
	if s.publisher == nil {
		return errors.New("solace sink is not connected")
	}
	body, err := rec.Encode()
	if err != nil {
		return err
	}
	msg, err := s.service.MessageBuilder().BuildWithByteArrayPayload(body)
	if err != nil {
		return err
	}
	return s.publisher.Publish(msg, resource.TopicOf(Topic(s.topicPrefix, rec)))
}

func Topic(prefix string, rec core.Record) string {
	return prefix + "/" + rec.Link + "/" + string(rec.Kind)
}
