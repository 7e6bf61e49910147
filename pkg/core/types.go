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
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EnvelopeKind tags every message exchanged over a link.
type EnvelopeKind string

const (
	KindEvent EnvelopeKind = "event"
	KindAck   EnvelopeKind = "ack"
	KindPing  EnvelopeKind = "ping"
)

// Envelope is the wire form of a link message. For acks, ID names the
// acknowledged message.
type Envelope struct {
	Kind        EnvelopeKind    `json:"kind"`
	ID          string          `json:"id"`
	Src         string          `json:"src"`
	AckRequired bool            `json:"ack_required,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	// Seq orders events generated by one node. Persisters place events by
	// it, so an event persisted again after a failed send keeps its place.
	Seq         uint64          `json:"seq,omitempty"`
	Type        string          `json:"type,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event envelope with a fresh id.
func NewEvent(src, typ string, payload []byte) Envelope {
	return Envelope{
		Kind:        KindEvent,
		ID:          uuid.NewString(),
		Src:         src,
		AckRequired: true,
		CreatedAt:   time.Now().UTC(),
		Seq:         NextSeq(),
		Type:        typ,
		Payload:     payload,
	}
}

var lastSeq atomic.Uint64

// NextSeq returns a generation stamp in microseconds since the epoch, bumped
// where needed so stamps taken by one process strictly increase.
func NextSeq() uint64 {
	for {
		last := lastSeq.Load()
		next := uint64(time.Now().UnixMicro())
		if next <= last {
			next = last + 1
		}
		if lastSeq.CompareAndSwap(last, next) {
			return next
		}
	}
}

func NewAck(src, id string) Envelope {
	return Envelope{Kind: KindAck, ID: id, Src: src, CreatedAt: time.Now().UTC()}
}

func NewPing(src string) Envelope {
	return Envelope{
		Kind:        KindPing,
		ID:          uuid.NewString(),
		Src:         src,
		AckRequired: true,
		CreatedAt:   time.Now().UTC(),
	}
}

func (e Envelope) Encode() ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := e.validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

func (e Envelope) validate() error {
	switch e.Kind {
	case KindEvent, KindAck, KindPing:
	default:
		return fmt.Errorf("%w: kind=%q", ErrInvalidEnvelope, e.Kind)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEnvelope)
	}
	return nil
}

type LinkRole string

const (
	RoleUpstream   LinkRole = "upstream"
	RoleDownstream LinkRole = "downstream"
	RolePeer       LinkRole = "peer"
)

// CommEventKind names the connectivity milestones surfaced to observers.
type CommEventKind string

const (
	CommConnect    CommEventKind = "connect"
	CommSubscribed CommEventKind = "subscribed"
	CommDisconnect CommEventKind = "disconnect"
	CommPeerActive CommEventKind = "peer_active"
)

// CommEventType is the envelope type used when comm events are generated as
// link events.
const CommEventType = "linkd.comm_event"

type RecordKind string

const (
	RecordTransition RecordKind = "transition"
	RecordCommEvent  RecordKind = "comm_event"
	RecordProblem    RecordKind = "problem"
	RecordEvent      RecordKind = "event"
)

// Record is an observability item published for each link activity.
type Record struct {
	Kind      RecordKind    `json:"kind"`
	Link      string        `json:"link"`
	Time      time.Time     `json:"time"`
	Input     string        `json:"input,omitempty"`
	From      string        `json:"from,omitempty"`
	To        string        `json:"to,omitempty"`
	CommEvent CommEventKind `json:"comm_event,omitempty"`
	Problem   string        `json:"problem,omitempty"`
	Event     *Envelope     `json:"event,omitempty"`
}

// Encode renders rec as the JSON document written to sinks and observers.
func (r Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Route sends the records of one link (or "*" for every link) to a sink.
type Route struct {
	Source      string `yaml:"source" json:"source"`
	Target      string `yaml:"target" json:"target"`
	ChannelSize int    `yaml:"channel_size" json:"channel_size,omitempty"`
}

// WildcardSource matches every link in a route.
const WildcardSource = "*"

// LinkStats is the operator view of one link.
type LinkStats struct {
	Name                 string                `json:"name"`
	Role                 LinkRole              `json:"role"`
	State                string                `json:"state"`
	ActiveForSend        bool                  `json:"active_for_send"`
	ActiveForRecv        bool                  `json:"active_for_recv"`
	NumInFlight          int                   `json:"num_in_flight"`
	NumPending           int                   `json:"num_pending"`
	Reuploading          bool                  `json:"reuploading"`
	NumReuploadPending   int                   `json:"num_reupload_pending"`
	NumReuploadedUnacked int                   `json:"num_reuploaded_unacked"`
	Timeouts             int                   `json:"timeouts"`
	Sent                 int                   `json:"sent"`
	Acked                int                   `json:"acked"`
	Persisted            int                   `json:"persisted"`
	Dropped              int                   `json:"dropped"`
	Received             int                   `json:"received"`
	Duplicates           int                   `json:"duplicates"`
	CommEvents           map[CommEventKind]int `json:"comm_events"`
}
