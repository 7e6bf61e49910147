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

package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/google/uuid"
)

// ObserverIDHeader lets an operator tool name itself explicitly.
const ObserverIDHeader = "X-Linkd-Observer"

// DefaultEventType is used when an inserted event names no type.
const DefaultEventType = "linkd.inserted"

// ObserverID identifies the client behind an operator request. Without the
// header the id is derived from the remote host so reconnects keep the same
// id; requests without a usable address get a random one.
func ObserverID(r *http.Request) string {
	if id := r.Header.Get(ObserverIDHeader); id != "" {
		return id
	}
	if r.RemoteAddr == "" {
		return uuid.NewString()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		host = ip.String()
	}
	sum := sha256.Sum256([]byte(host))
	return "obs-" + hex.EncodeToString(sum[:6])
}

// EventRequest is the body accepted by the event insertion surfaces. Link is
// only read where the URL does not name one.
type EventRequest struct {
	Link    string          `json:"link,omitempty"`
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEventRequest reads one EventRequest from r, reading at most limit
// bytes.
func DecodeEventRequest(r io.Reader, limit int64) (EventRequest, error) {
	var req EventRequest
	dec := json.NewDecoder(io.LimitReader(r, limit))
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if len(req.Payload) == 0 {
		return req, fmt.Errorf("%w: payload is required", ErrInvalidEnvelope)
	}
	if req.Type == "" {
		req.Type = DefaultEventType
	}
	return req, nil
}

// StatusFor maps an engine error to the HTTP status reported to operators.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnknownLink), errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidEnvelope):
		return http.StatusBadRequest
	case errors.Is(err, ErrLoopStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes err as {"error": "..."} with the status StatusFor picks.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusFor(err), map[string]string{"error": err.Error()})
}
