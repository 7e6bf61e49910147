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

package delivery

import "slices"

// reupload walks the persisted backlog after the link regains contact with
// its peer. At most NumInitialEventReuploads events are unacknowledged at a
// time; events stay persisted until their ack arrives.
type reupload struct {
	remaining []string
	unacked   map[string]*entry
	// skipped holds ids that could not be read so a refresh does not
	// pick them up again.
	skipped map[string]bool
	// rank is the backlog position of every id the session has seen.
	rank     map[string]int
	nextRank int
}

func newReupload(ids []string) *reupload {
	r := &reupload{
		unacked: make(map[string]*entry),
		skipped: make(map[string]bool),
		rank:    make(map[string]int),
	}
	r.add(ids...)
	return r
}

func (r *reupload) add(ids ...string) {
	for _, id := range ids {
		if _, seen := r.rank[id]; !seen {
			r.rank[id] = r.nextRank
			r.nextRank++
		}
		r.remaining = append(r.remaining, id)
	}
}

// requeue puts id back among the remaining ids at its backlog position.
func (r *reupload) requeue(id string) {
	pos := len(r.remaining)
	for i, v := range r.remaining {
		if r.rank[v] > r.rank[id] {
			pos = i
			break
		}
	}
	r.remaining = slices.Insert(r.remaining, pos, id)
}

func (r *reupload) forget(id string) {
	for i, v := range r.remaining {
		if v == id {
			r.remaining = append(r.remaining[:i], r.remaining[i+1:]...)
			return
		}
	}
}

func (r *reupload) stop() {
	for _, e := range r.unacked {
		e.timer.Stop()
	}
	r.unacked = nil
	r.remaining = nil
}

func (r *reupload) done() bool {
	return len(r.remaining) == 0 && len(r.unacked) == 0
}

func (c *Controller) startReupload() {
	ids := c.p.Persister.PendingIDs()
	if len(ids) == 0 {
		return
	}
	c.session = newReupload(ids)
	c.logger.Info("reupload started",
		"pending", len(ids),
		"window", c.cfg.NumInitialEventReuploads,
	)
	c.fill()
}

// next pops the oldest id still to send. Once the snapshot is exhausted it
// picks up events persisted while the session was running.
func (c *Controller) next() (string, bool) {
	s := c.session
	if len(s.remaining) == 0 {
		for _, id := range c.p.Persister.PendingIDs() {
			if s.unacked[id] == nil && !s.skipped[id] {
				s.add(id)
			}
		}
	}
	if len(s.remaining) == 0 {
		return "", false
	}
	id := s.remaining[0]
	s.remaining = s.remaining[1:]
	return id, true
}

// fill tops the reupload window up and ends the session when the backlog is
// drained.
func (c *Controller) fill() {
	s := c.session
	if s == nil || !c.p.ActiveForSend() {
		return
	}
	for len(s.unacked) < c.cfg.NumInitialEventReuploads {
		id, ok := c.next()
		if !ok {
			break
		}
		if !c.p.Persister.Contains(id) {
			continue
		}
		payload, ok := c.retrieve(id)
		if !ok {
			s.skipped[id] = true
			continue
		}
		if err := c.transmit(id, kindReupload, payload); err != nil {
			s.requeue(id)
			c.logger.Warn("send failed during reupload", "id", id, "error", err)
			return
		}
	}
	if s.done() {
		c.session = nil
		c.logger.Info("reupload complete")
		// Anything persisted from here on drains through promotion.
		c.promote()
	}
}
