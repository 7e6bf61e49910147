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

package logging

import (
	"context"
	"encoding/json"
	"log/slog"
)

// PacketLogger writes one debug line per envelope crossing a link.
type PacketLogger struct {
	logger *slog.Logger
}

func NewPacketLogger(logger *slog.Logger) *PacketLogger {
	return &PacketLogger{logger: logger.With("component", "packet")}
}

// envelopeHeader is the part of an envelope worth logging.
type envelopeHeader struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	Src         string `json:"src"`
	Type        string `json:"type"`
	AckRequired bool   `json:"ack_required"`
}

func (p *PacketLogger) Log(direction, link string, payload []byte) {
	if !p.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	var h envelopeHeader
	if err := json.Unmarshal(payload, &h); err != nil {
		p.logger.Debug("packet",
			"direction", direction,
			"link", link,
			"payload_size", len(payload),
			"decode_error", err,
		)
		return
	}
	p.logger.Debug("packet",
		"direction", direction,
		"link", link,
		"kind", h.Kind,
		"id", h.ID,
		"src", h.Src,
		"type", h.Type,
		"ack_required", h.AckRequired,
		"payload_size", len(payload),
	)
}
