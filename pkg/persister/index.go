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
	"cmp"
	"slices"
	"strings"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/problems"
)

// record is the in-memory view of one stored event.
type record struct {
	seq  uint64
	size int
	// loc is backend specific: a file path, a bucket name or empty.
	loc string
}

// index tracks pending ids in creation order together with the byte count.
// Backends embed it and hold their own lock around every call.
type index struct {
	records   map[string]*record
	currBytes int
	nextSeq   uint64
}

func newIndex() index {
	return index{records: make(map[string]*record)}
}

func (ix *index) add(uid string, seq uint64, size int, loc string) {
	if old, ok := ix.records[uid]; ok {
		ix.currBytes -= old.size
	}
	ix.records[uid] = &record{seq: seq, size: size, loc: loc}
	ix.currBytes += size
	if seq >= ix.nextSeq {
		ix.nextSeq = seq + 1
	}
}

func (ix *index) remove(uid string) (*record, bool) {
	r, ok := ix.records[uid]
	if !ok {
		return nil, false
	}
	delete(ix.records, uid)
	ix.currBytes -= r.size
	return r, true
}

func (ix *index) reset() {
	ix.records = make(map[string]*record)
	ix.currBytes = 0
}

func (ix *index) ordered() []string {
	ids := make([]string, 0, len(ix.records))
	for uid := range ix.records {
		ids = append(ids, uid)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if c := cmp.Compare(ix.records[a].seq, ix.records[b].seq); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return ids
}

func errorOf(p *Problem) error {
	return problems.New(problems.WithErrors(p))
}

func warningOf(p *Problem) error {
	return problems.New(problems.WithWarnings(p))
}

// checkPersist applies the checks shared by every backend before a write.
func checkPersist(ix *index, uid string, content []byte, maxBytes int) error {
	if !validUID(uid) {
		return errorOf(newProblem(ErrInvalidUID, uid))
	}
	if _, ok := ix.records[uid]; ok {
		return warningOf(newProblem(ErrUIDExists, uid))
	}
	if len(content) == 0 {
		return errorOf(newProblem(ErrFileEmpty, uid).WithMsg("empty content"))
	}
	if maxBytes > 0 && len(content) > maxBytes {
		return errorOf(newProblem(ErrContentTooLarge, uid).
			WithMsg(sizeMsg(len(content), maxBytes)))
	}
	return nil
}
