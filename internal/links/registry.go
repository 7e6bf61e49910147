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

// Package links composes one state machine and one delivery controller per
// named link and routes transport signals to them.
package links

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/internal/delivery"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/internal/linkstate"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/internal/logging"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/persister"
)

const DefaultDedupCacheSize = 1024

// RecordPublisher receives every observability record.
type RecordPublisher interface {
	Publish(rec core.Record)
}

type Settings struct {
	Name     string
	Role     core.LinkRole
	Delivery delivery.Config
}

type Options struct {
	// Node is the src stamped on every envelope this process sends.
	Node               string
	Clock              clock.Clock
	DedupCacheSize     int
	GenerateCommEvents bool
	Publisher          RecordPublisher
	Handler            core.EventHandler
	PacketLog          *logging.PacketLogger
	Logger             *slog.Logger
}

// Link is the runtime state of one named link.
type Link struct {
	settings   Settings
	machine    *linkstate.Machine
	ctrl       *delivery.Controller
	transport  core.Transport
	persister  persister.Persister
	dedup      *lru.Cache[string, struct{}]
	received   int
	duplicates int
	commEvents map[core.CommEventKind]int
}

func (l *Link) Name() string                     { return l.settings.Name }
func (l *Link) Machine() *linkstate.Machine      { return l.machine }
func (l *Link) Controller() *delivery.Controller { return l.ctrl }

// Registry owns every link. It is driven by a single goroutine, normally a
// Loop; none of its methods are safe for concurrent use.
type Registry struct {
	opts   Options
	logger *slog.Logger
	links  map[string]*Link
	order  []string
	ctx    context.Context
	post   func(fn func())
}

func NewRegistry(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DedupCacheSize <= 0 {
		opts.DedupCacheSize = DefaultDedupCacheSize
	}
	r := &Registry{
		opts:   opts,
		logger: opts.Logger.With("component", "links"),
		links:  make(map[string]*Link),
		ctx:    context.Background(),
	}
	r.post = func(fn func()) { fn() }
	return r
}

// Add registers a link with its transport and persister.
func (r *Registry) Add(s Settings, transport core.Transport, p persister.Persister) (*Link, error) {
	if _, exists := r.links[s.Name]; exists {
		return nil, fmt.Errorf("%w: link=%s", core.ErrLinkExists, s.Name)
	}
	if s.Role == "" {
		s.Role = core.RolePeer
	}
	dedup, err := lru.New[string, struct{}](r.opts.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	link := &Link{
		settings:   s,
		machine:    linkstate.New(s.Name),
		transport:  transport,
		persister:  p,
		dedup:      dedup,
		commEvents: make(map[core.CommEventKind]int),
	}
	name := s.Name
	link.ctrl = delivery.New(delivery.Params{
		Link:          name,
		Src:           r.opts.Node,
		Config:        s.Delivery,
		Persister:     p,
		Send:          func(payload []byte) error { return r.send(link, payload) },
		ActiveForSend: link.machine.ActiveForSend,
		Clock:         r.opts.Clock,
		Post:          func(fn func()) { r.post(fn) },
		OnTimeout: func(id string) {
			if link.ctrl.OnAckTimeout(id) {
				r.Apply(name, linkstate.ResponseTimeout())
			}
		},
		Report: func(err error) { r.publishProblem(name, err) },
		Logger: r.opts.Logger,
	})

	r.links[name] = link
	r.order = append(r.order, name)
	r.logger.Info("link registered",
		"link", name,
		"role", s.Role,
		"transport", transport.Type(),
		"num_pending", p.NumPending(),
	)
	return link, nil
}

func (r *Registry) Link(name string) (*Link, bool) {
	l, ok := r.links[name]
	return l, ok
}

func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

func (r *Registry) lookup(name string) (*Link, error) {
	l, ok := r.links[name]
	if !ok {
		return nil, fmt.Errorf("%w: link=%s", core.ErrUnknownLink, name)
	}
	return l, nil
}

func (r *Registry) send(l *Link, payload []byte) error {
	if r.opts.PacketLog != nil {
		r.opts.PacketLog.Log("out", l.settings.Name, payload)
	}
	return l.transport.Publish(r.ctx, payload)
}

// Start starts every transport and feeds start_called to every link.
func (r *Registry) Start(ctx context.Context, cb core.TransportCallbacks) error {
	r.ctx = ctx
	for _, name := range r.order {
		l := r.links[name]
		if _, err := r.Apply(name, linkstate.Start()); err != nil {
			return err
		}
		if err := l.transport.Start(ctx, cb); err != nil {
			return fmt.Errorf("failed to start transport for link %s: %w", name, err)
		}
	}
	return nil
}

// Stop drives every link to stopped and stops its transport.
func (r *Registry) Stop(ctx context.Context) {
	for _, name := range r.order {
		l := r.links[name]
		r.Apply(name, linkstate.Stop())
		if err := l.transport.Stop(ctx); err != nil {
			r.logger.Warn("transport stop failed", "link", name, "error", err)
		}
	}
}

// Apply is the single entry point for link inputs.
func (r *Registry) Apply(name string, in linkstate.Input) (linkstate.Transition, error) {
	l, err := r.lookup(name)
	if err != nil {
		return linkstate.Transition{}, err
	}
	t, err := l.machine.Apply(in)
	if err != nil {
		r.logger.Warn("rejected link input", "link", name, "state", l.machine.State(), "input", in.String())
		r.publishProblem(name, err)
		return t, err
	}

	l.ctrl.OnTransition(t)
	if t.Old != t.New {
		r.logger.Info("link transition",
			"link", name,
			"input", in.String(),
			"from", t.Old,
			"to", t.New,
		)
	}
	r.publish(core.Record{
		Kind:  core.RecordTransition,
		Link:  name,
		Time:  r.opts.Clock.Now(),
		Input: in.String(),
		From:  string(t.Old),
		To:    string(t.New),
	})
	for _, ce := range t.CommEvents() {
		r.commEvent(l, t, ce)
	}
	return t, nil
}

type commEventPayload struct {
	Link      string             `json:"link"`
	CommEvent core.CommEventKind `json:"comm_event"`
	State     string             `json:"state"`
	Time      time.Time          `json:"time"`
}

func (r *Registry) commEvent(l *Link, t linkstate.Transition, kind core.CommEventKind) {
	l.commEvents[kind]++
	now := r.opts.Clock.Now()
	r.publish(core.Record{
		Kind:      core.RecordCommEvent,
		Link:      l.settings.Name,
		Time:      now,
		CommEvent: kind,
		To:        string(t.New),
	})
	if !r.opts.GenerateCommEvents {
		return
	}

	payload, err := json.Marshal(commEventPayload{
		Link:      l.settings.Name,
		CommEvent: kind,
		State:     string(t.New),
		Time:      now,
	})
	if err != nil {
		return
	}
	for _, name := range r.order {
		up := r.links[name]
		if up.settings.Role != core.RoleUpstream {
			continue
		}
		env := core.NewEvent(r.opts.Node, core.CommEventType, payload)
		if err := up.ctrl.GenerateEvent(env); err != nil {
			r.logger.Warn("comm event not recorded", "link", name, "comm_event", kind, "error", err)
		}
	}
}

// HandleMessage processes one inbound transport message.
func (r *Registry) HandleMessage(name string, payload []byte) error {
	l, err := r.lookup(name)
	if err != nil {
		return err
	}
	if r.opts.PacketLog != nil {
		r.opts.PacketLog.Log("in", name, payload)
	}
	env, err := core.DecodeEnvelope(payload)
	if err != nil {
		r.logger.Warn("dropping undecodable message", "link", name, "size", len(payload), "error", err)
		r.publishProblem(name, err)
		return err
	}
	if _, err := r.Apply(name, linkstate.MessageFromPeer()); err != nil {
		return err
	}

	switch env.Kind {
	case core.KindAck:
		res := l.ctrl.OnAck(env.ID)
		r.logger.Debug("ack received", "link", name, "id", env.ID, "matched", res.String())
	case core.KindPing:
		if env.AckRequired {
			r.sendAck(l, env.ID)
		}
	case core.KindEvent:
		if env.AckRequired {
			r.sendAck(l, env.ID)
		}
		if seen, _ := l.dedup.ContainsOrAdd(env.ID, struct{}{}); seen {
			l.duplicates++
			return nil
		}
		l.received++
		r.publish(core.Record{
			Kind:  core.RecordEvent,
			Link:  name,
			Time:  r.opts.Clock.Now(),
			Event: &env,
		})
		if r.opts.Handler != nil {
			r.opts.Handler(name, env)
		}
	}
	return nil
}

func (r *Registry) sendAck(l *Link, id string) {
	payload, err := core.NewAck(r.opts.Node, id).Encode()
	if err == nil {
		err = r.send(l, payload)
	}
	if err != nil {
		r.logger.Warn("ack send failed", "link", l.settings.Name, "id", id, "error", err)
	}
}

// GenerateEvent builds an event and hands it to the link's controller.
func (r *Registry) GenerateEvent(name, typ string, payload []byte) (string, error) {
	l, err := r.lookup(name)
	if err != nil {
		return "", err
	}
	env := core.NewEvent(r.opts.Node, typ, payload)
	if err := l.ctrl.GenerateEvent(env); err != nil {
		return "", err
	}
	return env.ID, nil
}

// Poll pings every quiet link.
func (r *Registry) Poll(now time.Time) {
	for _, name := range r.order {
		r.links[name].ctrl.MaybePing(now)
	}
}

func (r *Registry) Stats(name string) (core.LinkStats, error) {
	l, err := r.lookup(name)
	if err != nil {
		return core.LinkStats{}, err
	}
	return l.stats(), nil
}

func (r *Registry) AllStats() []core.LinkStats {
	out := make([]core.LinkStats, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.links[name].stats())
	}
	return out
}

func (l *Link) stats() core.LinkStats {
	ds := l.ctrl.Stats()
	ce := make(map[core.CommEventKind]int, len(l.commEvents))
	for k, v := range l.commEvents {
		ce[k] = v
	}
	return core.LinkStats{
		Name:                 l.settings.Name,
		Role:                 l.settings.Role,
		State:                string(l.machine.State()),
		ActiveForSend:        l.machine.ActiveForSend(),
		ActiveForRecv:        l.machine.ActiveForRecv(),
		NumInFlight:          ds.NumInFlight,
		NumPending:           ds.NumPending,
		Reuploading:          ds.Reuploading,
		NumReuploadPending:   ds.NumReuploadPending,
		NumReuploadedUnacked: ds.NumReuploadedUnacked,
		Timeouts:             ds.Timeouts,
		Sent:                 ds.Sent,
		Acked:                ds.Acked,
		Persisted:            ds.Persisted,
		Dropped:              ds.Dropped,
		Received:             l.received,
		Duplicates:           l.duplicates,
		CommEvents:           ce,
	}
}

func (r *Registry) publish(rec core.Record) {
	if r.opts.Publisher != nil {
		r.opts.Publisher.Publish(rec)
	}
}

func (r *Registry) publishProblem(link string, err error) {
	r.publish(core.Record{
		Kind:    core.RecordProblem,
		Link:    link,
		Time:    r.opts.Clock.Now(),
		Problem: err.Error(),
	})
}
