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

package persister

import (
	"fmt"
	"sync"
)

// Memory keeps events in a map. It honours max_bytes but is not durable.
type Memory struct {
	mu       sync.Mutex
	maxBytes int
	ix       index
	content  map[string][]byte
}

func NewMemory(maxBytes int) *Memory {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Memory{
		maxBytes: maxBytes,
		ix:       newIndex(),
		content:  make(map[string][]byte),
	}
}

func (m *Memory) Persist(uid string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkPersist(&m.ix, uid, content, m.maxBytes); err != nil {
		return err
	}
	if m.ix.currBytes+len(content) > m.maxBytes {
		return errorOf(newProblem(ErrContentTooLarge, uid).
			WithMsg(sizeMsg(m.ix.currBytes+len(content), m.maxBytes)))
	}
	m.content[uid] = append([]byte(nil), content...)
	m.ix.add(uid, orderKey(content, m.ix.nextSeq), len(content), "")
	return nil
}

func (m *Memory) Retrieve(uid string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.content[uid]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), c...), nil
}

func (m *Memory) Clear(uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ix.remove(uid); ok {
		delete(m.content, uid)
	}
	return nil
}

func (m *Memory) PendingIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ix.ordered()
}

func (m *Memory) NumPending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ix.records)
}

func (m *Memory) CurrBytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ix.currBytes
}

func (m *Memory) MaxBytes() int { return m.maxBytes }

func (m *Memory) Contains(uid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ix.records[uid]
	return ok
}

// Reindex recomputes the byte count from the stored content.
func (m *Memory) Reindex() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ix.currBytes = 0
	for uid, r := range m.ix.records {
		r.size = len(m.content[uid])
		m.ix.currBytes += r.size
	}
	return nil
}

func sizeMsg(size, limit int) string {
	return fmt.Sprintf("size %d exceeds max_bytes %d", size, limit)
}
