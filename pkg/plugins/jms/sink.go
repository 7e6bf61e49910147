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

package jms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

// Sink sends records to an AMQP 1.0 queue, as exposed by JMS brokers such
// as ActiveMQ Artemis.
type Sink struct {
	name     string
	url      string
	queue    string
	conn     *amqp.Conn
	sendSess *amqp.Session
	sender   *amqp.Sender
	logger   *slog.Logger
}

func New(name, url, queue string, logger *slog.Logger) *Sink {
	return &Sink{
		name:   name,
		url:    url,
		queue:  queue,
		logger: logger,
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "jms" }

func (s *Sink) Connect(ctx context.Context) error {
	if s.queue == "" {
		return errors.New("jms sink needs a queue")
	}
	s.close(ctx)

	var err error
	s.conn, err = amqp.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("jms dial: %w", err)
	}
	s.sendSess, err = s.conn.NewSession(ctx, nil)
	if err != nil {
		return fmt.Errorf("jms send session: %w", err)
	}
	s.sender, err = s.sendSess.NewSender(ctx, s.queue, nil)
	if err != nil {
		return fmt.Errorf("jms sender: %w", err)
	}

	s.logger.Info("jms sink connected", "name", s.name, "url", s.url, "queue", s.queue)
	return nil
}

func (s *Sink) close(ctx context.Context) error {
	if s.sender != nil {
		s.sender.Close(ctx)
		s.sender = nil
	}
	if s.sendSess != nil {
		s.sendSess.Close(ctx)
		s.sendSess = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	return s.close(ctx)
}

func (s *Sink) Send(ctx context.Context, rec core.Record) error {
	if s.sender == nil {
		return errors.New("jms sink is not connected")
	}
	body, err := rec.Encode()
	if err != nil {
		return err
	}
	contentType := "application/json"
	return s.sender.Send(ctx, &amqp.Message{
		Data: [][]byte{body},
		Properties: &amqp.MessageProperties{
			MessageID:   uuid.New().String(),
			ContentType: &contentType,
		},
		ApplicationProperties: map[string]any{
			"link": rec.Link,
			"kind": string(rec.Kind),
		},
	}, nil)
}
