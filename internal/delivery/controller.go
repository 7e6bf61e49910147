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

// Package delivery decides, for every event a link sends, whether it goes on
// the wire now or into the persister, and drains the persisted backlog once
// the peer can be reached again.
//
// A Controller is owned by the link's event loop. None of its methods are safe
// for concurrent use; ack timers hand their expiry back through Params.Post.
package delivery

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/internal/linkstate"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/persister"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/problems"
)

var ErrNotSendable = errors.New("link not active for send")

// AckResult says what an ack matched.
type AckResult int

const (
	AckUnknown AckResult = iota
	AckInFlight
	AckReupload
	AckPing
	AckPersisted
)

func (r AckResult) String() string {
	switch r {
	case AckInFlight:
		return "in_flight"
	case AckReupload:
		return "reupload"
	case AckPing:
		return "ping"
	case AckPersisted:
		return "persisted"
	}
	return "unknown"
}

// Params wires a Controller to its collaborators.
type Params struct {
	Link      string
	Src       string
	Config    Config
	Persister persister.Persister
	// Send puts an encoded envelope on the wire. It must not block.
	Send func(payload []byte) error
	// ActiveForSend reports the link's send gate.
	ActiveForSend func() bool
	Clock         clock.Clock
	// Post runs fn on the event loop that owns the controller.
	Post func(fn func())
	// OnTimeout is called on the loop when an ack timer expires. It defaults
	// to OnAckTimeout; the registry overrides it to also feed
	// response_timeout to the link's state machine.
	OnTimeout func(id string)
	// Report receives every problem the controller logs.
	Report func(err error)
	Logger *slog.Logger
}

type entryKind int

const (
	kindInFlight entryKind = iota
	kindReupload
	kindPing
)

type entry struct {
	id      string
	kind    entryKind
	payload []byte
	sentAt  time.Time
	gen     uint64
	timer   *clock.Timer
}

type Controller struct {
	p      Params
	cfg    Config
	logger *slog.Logger

	inflight      map[string]*entry
	inflightOrder []string
	pings         map[string]*entry
	session       *reupload

	gen      uint64
	lastSend time.Time
	stats    Stats
}

// Stats are the controller counters. NumPending is read from the persister.
type Stats struct {
	NumInFlight          int
	NumPending           int
	Reuploading          bool
	NumReuploadPending   int
	NumReuploadedUnacked int
	Timeouts             int
	Sent                 int
	Acked                int
	Persisted            int
	Dropped              int
}

func New(p Params) *Controller {
	cfg := p.Config
	cfg.applyDefaults()
	if p.Clock == nil {
		p.Clock = clock.New()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Post == nil {
		p.Post = func(fn func()) { fn() }
	}
	if p.Src == "" {
		p.Src = p.Link
	}
	c := &Controller{
		p:        p,
		cfg:      cfg,
		logger:   p.Logger.With("component", "delivery", "link", p.Link),
		inflight: make(map[string]*entry),
		pings:    make(map[string]*entry),
		lastSend: p.Clock.Now(),
	}
	if c.p.OnTimeout == nil {
		c.p.OnTimeout = func(id string) { c.OnAckTimeout(id) }
	}
	return c
}

func (c *Controller) Config() Config { return c.cfg }

// backlog reports whether anything is waiting ahead of a new event.
func (c *Controller) backlog() bool {
	return c.session != nil || c.p.Persister.NumPending() > 0
}

// GenerateEvent sends env now when there is in-flight room, the link is
// active for send and nothing is queued ahead of it. Otherwise env is
// persisted behind the backlog.
func (c *Controller) GenerateEvent(env core.Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	if c.inflight[env.ID] != nil {
		return nil
	}

	if len(c.inflight) < c.cfg.NumInflightEvents && c.p.ActiveForSend() && !c.backlog() {
		err := c.transmit(env.ID, kindInFlight, payload)
		if err == nil {
			return nil
		}
		c.logger.Warn("send failed, persisting event", "id", env.ID, "error", err)
	}
	return c.persist(env.ID, payload)
}

func (c *Controller) persist(id string, payload []byte) error {
	err := c.p.Persister.Persist(id, payload)
	if err == nil {
		c.stats.Persisted++
		return nil
	}
	if problems.OnlyWarnings(err) {
		if !errors.Is(err, persister.ErrUIDExists) {
			c.stats.Persisted++
		}
		return nil
	}
	c.stats.Dropped++
	c.report("event lost: persist failed", err, "id", id)
	return err
}

// transmit sends payload and tracks it under an ack timer.
func (c *Controller) transmit(id string, kind entryKind, payload []byte) error {
	if err := c.p.Send(payload); err != nil {
		return err
	}
	now := c.p.Clock.Now()
	c.lastSend = now
	e := &entry{id: id, kind: kind, payload: payload, sentAt: now}
	c.arm(e)

	switch kind {
	case kindInFlight:
		c.inflight[id] = e
		c.inflightOrder = append(c.inflightOrder, id)
		c.stats.Sent++
	case kindReupload:
		c.session.unacked[id] = e
		c.stats.Sent++
	case kindPing:
		c.pings[id] = e
	}
	return nil
}

func (c *Controller) arm(e *entry) {
	c.gen++
	gen := c.gen
	e.gen = gen
	id := e.id
	e.timer = c.p.Clock.AfterFunc(c.cfg.AckTimeout, func() {
		c.p.Post(func() {
			if cur := c.lookup(id); cur != nil && cur.gen == gen {
				c.p.OnTimeout(id)
			}
		})
	})
}

func (c *Controller) lookup(id string) *entry {
	if e, ok := c.inflight[id]; ok {
		return e
	}
	if c.session != nil {
		if e, ok := c.session.unacked[id]; ok {
			return e
		}
	}
	return c.pings[id]
}

func (c *Controller) removeInflight(id string) *entry {
	e, ok := c.inflight[id]
	if !ok {
		return nil
	}
	delete(c.inflight, id)
	for i, v := range c.inflightOrder {
		if v == id {
			c.inflightOrder = append(c.inflightOrder[:i], c.inflightOrder[i+1:]...)
			break
		}
	}
	e.timer.Stop()
	return e
}

// OnAck matches an ack from the peer against everything awaiting one.
func (c *Controller) OnAck(id string) AckResult {
	if e := c.removeInflight(id); e != nil {
		c.stats.Acked++
		c.promote()
		return AckInFlight
	}
	if c.session != nil {
		if e, ok := c.session.unacked[id]; ok {
			delete(c.session.unacked, id)
			e.timer.Stop()
			c.stats.Acked++
			c.clear(id)
			c.fill()
			return AckReupload
		}
	}
	if e, ok := c.pings[id]; ok {
		delete(c.pings, id)
		e.timer.Stop()
		return AckPing
	}
	if c.p.Persister.Contains(id) {
		// The peer already has it, most likely from a send that timed out
		// just before its ack arrived.
		c.clear(id)
		if c.session != nil {
			c.session.forget(id)
		}
		c.stats.Acked++
		c.fill()
		return AckPersisted
	}
	return AckUnknown
}

// OnAckTimeout handles an expired ack timer. It reports whether id was
// awaiting an ack, in which case the link should see response_timeout.
func (c *Controller) OnAckTimeout(id string) bool {
	if e := c.removeInflight(id); e != nil {
		c.stats.Timeouts++
		c.logger.Info("ack timeout, persisting event", "id", id)
		c.persist(id, e.payload)
		return true
	}
	if c.session != nil {
		if e, ok := c.session.unacked[id]; ok {
			delete(c.session.unacked, id)
			e.timer.Stop()
			c.stats.Timeouts++
			c.session.requeue(id)
			c.logger.Info("ack timeout during reupload", "id", id)
			return true
		}
	}
	if e, ok := c.pings[id]; ok {
		delete(c.pings, id)
		e.timer.Stop()
		c.stats.Timeouts++
		c.logger.Info("ping timeout", "id", id)
		return true
	}
	return false
}

// promote moves the oldest persisted events into the in-flight window while
// it has room and no reupload session owns the backlog.
func (c *Controller) promote() {
	for c.session == nil && c.p.ActiveForSend() && len(c.inflight) < c.cfg.NumInflightEvents {
		ids := c.p.Persister.PendingIDs()
		if len(ids) == 0 {
			return
		}
		id := ids[0]
		payload, ok := c.retrieve(id)
		if !ok {
			if c.p.Persister.Contains(id) {
				return
			}
			continue
		}
		if err := c.transmit(id, kindInFlight, payload); err != nil {
			c.logger.Warn("send failed during promotion", "id", id, "error", err)
			return
		}
		c.clear(id)
	}
}

// retrieve reads a persisted event. An id that cannot be read is dropped so
// it is not retried forever.
func (c *Controller) retrieve(id string) ([]byte, bool) {
	payload, err := c.p.Persister.Retrieve(id)
	if err == nil && payload != nil {
		return payload, true
	}
	if err != nil {
		c.report("retrieve failed, dropping event", err, "id", id)
	} else {
		c.logger.Warn("persisted event vanished", "id", id)
	}
	if c.p.Persister.Contains(id) {
		c.clear(id)
	}
	c.stats.Dropped++
	return nil, false
}

func (c *Controller) clear(id string) {
	if err := c.p.Persister.Clear(id); err != nil {
		c.report("clear failed", err, "id", id)
	}
}

// OnTransition reacts to the link's connectivity changes.
func (c *Controller) OnTransition(t linkstate.Transition) {
	switch {
	case t.New == linkstate.StateStopped:
		c.Stop()
	case t.SendDeactivated():
		c.deactivate(true)
	case t.SendActivated(), t.RecvActivated():
		c.resume()
	}
}

// resume restarts backlog draining once the peer may be reachable.
func (c *Controller) resume() {
	if !c.p.ActiveForSend() {
		return
	}
	if c.session == nil {
		if c.p.Persister.NumPending() == 0 {
			return
		}
		c.startReupload()
		return
	}
	c.fill()
}

// deactivate cancels every timer and drops the reupload session. Reupload
// entries are still persisted; in-flight entries are persisted when flush is
// set.
func (c *Controller) deactivate(flush bool) {
	for _, id := range append([]string(nil), c.inflightOrder...) {
		e := c.removeInflight(id)
		if flush {
			c.persist(id, e.payload)
		} else {
			c.stats.Dropped++
		}
	}
	for id, e := range c.pings {
		e.timer.Stop()
		delete(c.pings, id)
	}
	if c.session != nil {
		c.session.stop()
		c.session = nil
	}
}

// Stop abandons outstanding acks. In-flight events are flushed to the
// persister when FlushInflightOnStop is set.
func (c *Controller) Stop() {
	n := len(c.inflight)
	c.deactivate(c.cfg.FlushInflightOnStop)
	if n > 0 {
		c.logger.Info("stopped with events in flight",
			"count", n,
			"flushed", c.cfg.FlushInflightOnStop,
		)
	}
}

// Ping sends an ack-required ping outside the in-flight window.
func (c *Controller) Ping() error {
	if !c.p.ActiveForSend() {
		return ErrNotSendable
	}
	env := core.NewPing(c.p.Src)
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	return c.transmit(env.ID, kindPing, payload)
}

// MaybePing pings the peer when nothing was sent for LinkPollInterval and no
// ping is outstanding.
func (c *Controller) MaybePing(now time.Time) {
	if len(c.pings) > 0 || !c.p.ActiveForSend() {
		return
	}
	if now.Sub(c.lastSend) < c.cfg.LinkPollInterval {
		return
	}
	if err := c.Ping(); err != nil {
		c.logger.Warn("ping failed", "error", err)
	}
}

func (c *Controller) Stats() Stats {
	s := c.stats
	s.NumInFlight = len(c.inflight)
	s.NumPending = c.p.Persister.NumPending()
	if c.session != nil {
		s.Reuploading = true
		s.NumReuploadPending = len(c.session.remaining)
		s.NumReuploadedUnacked = len(c.session.unacked)
	}
	return s
}

// InFlight returns the in-flight ids in send order.
func (c *Controller) InFlight() []string {
	return append([]string(nil), c.inflightOrder...)
}

func (c *Controller) report(msg string, err error, args ...any) {
	c.logger.Warn(msg, append(args, "error", err)...)
	if c.p.Report != nil {
		c.p.Report(fmt.Errorf("%s: %w", msg, err))
	}
}
