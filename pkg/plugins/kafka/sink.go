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

package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

// Sink writes records to one topic keyed by link name, so the records of a
// link stay ordered within their partition.
type Sink struct {
	name    string
	brokers []string
	topic   string
	writer  *kafka.Writer
	logger  *slog.Logger
}

func New(name string, brokers []string, topic string, logger *slog.Logger) *Sink {
	return &Sink{
		name:    name,
		brokers: brokers,
		topic:   topic,
		logger:  logger,
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "kafka" }

func (s *Sink) Connect(ctx context.Context) error {
	if len(s.brokers) == 0 || s.topic == "" {
		return errors.New("kafka sink needs brokers and a topic")
	}
	conn, err := kafka.DialContext(ctx, "tcp", s.brokers[0])
	if err != nil {
		return fmt.Errorf("kafka dial: %w", err)
	}
	conn.Close()

	if s.writer == nil {
		s.writer = &kafka.Writer{
			Addr:         kafka.TCP(s.brokers...),
			Topic:        s.topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		}
	}
	s.logger.Info("kafka sink connected",
		"name", s.name,
		"brokers", strings.Join(s.brokers, ","),
		"topic", s.topic,
	)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.writer != nil {
		return s.writer.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, rec core.Record) error {
	if s.writer == nil {
		return errors.New("kafka sink is not connected")
	}
	value, err := rec.Encode()
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.Link),
		Value: value,
		Time:  rec.Time,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(rec.Kind)},
		},
	})
}
