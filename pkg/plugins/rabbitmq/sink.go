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

package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

type Sink struct {
	name   string
	url    string
	queue  string
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	logger *slog.Logger
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
func (s *Sink) Type() string { return "rabbitmq" }

// Connect dials the broker and declares the durable queue. It is called
// again by the session manager after a failed send.
func (s *Sink) Connect(ctx context.Context) error {
	if s.queue == "" {
		return errors.New("rabbitmq sink needs a queue")
	}
	s.close()

	var err error
	s.conn, err = amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	s.pubCh, err = s.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq publish channel: %w", err)
	}

	if _, err := s.pubCh.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare %s: %w", s.queue, err)
	}

	s.logger.Info("rabbitmq sink connected", "name", s.name, "queue", s.queue)
	return nil
}

func (s *Sink) close() error {
	if s.pubCh != nil {
		s.pubCh.Close()
		s.pubCh = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	return s.close()
}

func (s *Sink) Send(ctx context.Context, rec core.Record) error {
	if s.pubCh == nil {
		return errors.New("rabbitmq sink is not connected")
	}
	body, err := rec.Encode()
	if err != nil {
		return err
	}
	return s.pubCh.PublishWithContext(ctx,
		"",
		s.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			MessageId:    uuid.New().String(),
			Type:         string(rec.Kind),
			Timestamp:    rec.Time,
			Headers:      amqp.Table{"link": rec.Link},
		},
	)
}
