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
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/problems"
)

const (
	bucketFileExt    = ".bucket"
	bucketNameLayout = "20060102T150405Z"

	opPut   = "put"
	opClear = "clear"
)

// rollingLine is one framed record in a bucket file.
type rollingLine struct {
	Op      string `json:"op"`
	ID      string `json:"id"`
	Seq     uint64 `json:"seq,omitempty"`
	Content []byte `json:"content,omitempty"`
}

type rollingOptions struct {
	maxBytes int
	bucket   time.Duration
	clock    clock.Clock
}

type RollingOption func(*rollingOptions)

func WithMaxBytes(n int) RollingOption {
	return func(o *rollingOptions) {
		if n > 0 {
			o.maxBytes = n
		}
	}
}

// WithBucket sets the span of time covered by one bucket file.
func WithBucket(d time.Duration) RollingOption {
	return func(o *rollingOptions) {
		if d > 0 {
			o.bucket = d
		}
	}
}

func WithClock(c clock.Clock) RollingOption {
	return func(o *rollingOptions) { o.clock = c }
}

// Rolling groups events into append-only bucket files, one per time span.
// A bucket holds put and clear records; it is deleted once every event it
// holds has been cleared. When a persist would overflow max_bytes the oldest
// pending events are dropped to make room.
type Rolling struct {
	mu       sync.Mutex
	dir      string
	maxBytes int
	bucket   time.Duration
	clock    clock.Clock

	ix      index
	offsets map[string]int64
	live    map[string]int
	trimmed int
}

func NewRolling(dir string, opts ...RollingOption) (*Rolling, error) {
	if dir == "" {
		return nil, fmt.Errorf("rolling persister requires a dir")
	}
	o := rollingOptions{maxBytes: DefaultMaxBytes, bucket: time.Hour, clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create persister dir %s: %w", dir, err)
	}
	return &Rolling{
		dir:      dir,
		maxBytes: o.maxBytes,
		bucket:   o.bucket,
		clock:    o.clock,
		ix:       newIndex(),
		offsets:  make(map[string]int64),
		live:     make(map[string]int),
	}, nil
}

func (r *Rolling) bucketFor(t time.Time) string {
	return t.UTC().Truncate(r.bucket).Format(bucketNameLayout) + bucketFileExt
}

func bucketStart(name string) (time.Time, bool) {
	if !strings.HasSuffix(name, bucketFileExt) {
		return time.Time{}, false
	}
	t, err := time.Parse(bucketNameLayout, strings.TrimSuffix(name, bucketFileExt))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (r *Rolling) Persist(uid string, content []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := checkPersist(&r.ix, uid, content, r.maxBytes); err != nil {
		return err
	}

	probs := problems.New()
	for r.ix.currBytes+len(content) > r.maxBytes && len(r.ix.records) > 0 {
		oldest := r.ix.ordered()[0]
		if err := r.clearLocked(oldest); err != nil {
			probs.Merge(err)
			break
		}
		r.trimmed++
	}
	if r.ix.currBytes+len(content) > r.maxBytes {
		return probs.AddError(newProblem(ErrContentTooLarge, uid).
			WithMsg(sizeMsg(r.ix.currBytes+len(content), r.maxBytes))).Err()
	}

	name := r.bucketFor(r.clock.Now())
	seq := orderKey(content, r.ix.nextSeq)
	off, err := r.appendLine(name, rollingLine{Op: opPut, ID: uid, Seq: seq, Content: content})
	if err != nil {
		return probs.AddError(newProblem(ErrWriteFailed, uid).
			WithPath(filepath.Join(r.dir, name)).WithCause(err)).Err()
	}
	r.ix.add(uid, seq, len(content), name)
	r.offsets[uid] = off
	r.live[name]++
	return probs.Err()
}

// appendLine appends one record to a bucket and returns the offset it was
// written at.
func (r *Rolling) appendLine(name string, line rollingLine) (int64, error) {
	data, err := json.Marshal(line)
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(filepath.Join(r.dir, name), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if _, err := f.Write(data); err != nil {
		return 0, err
	}
	if err := f.Sync(); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (r *Rolling) Retrieve(uid string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.ix.records[uid]
	if !ok {
		return nil, nil
	}
	path := filepath.Join(r.dir, rec.loc)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.dropBucketLocked(rec.loc)
			return nil, errorOf(newProblem(ErrFileMissing, uid).WithPath(path))
		}
		return nil, errorOf(newProblem(ErrReadFailed, uid).WithPath(path).WithCause(err))
	}
	defer f.Close()

	if _, err := f.Seek(r.offsets[uid], io.SeekStart); err != nil {
		return nil, errorOf(newProblem(ErrReadFailed, uid).WithPath(path).WithCause(err))
	}
	raw, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errorOf(newProblem(ErrReadFailed, uid).WithPath(path).WithCause(err))
	}
	var line rollingLine
	if err := json.Unmarshal(raw, &line); err != nil || line.Op != opPut || line.ID != uid {
		return nil, errorOf(newProblem(ErrByteDecoding, uid).WithPath(path).WithCause(err))
	}
	return line.Content, nil
}

func (r *Rolling) Clear(uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clearLocked(uid)
}

func (r *Rolling) clearLocked(uid string) error {
	rec, ok := r.ix.records[uid]
	if !ok {
		return nil
	}
	name := rec.loc
	if r.live[name] <= 1 {
		path := filepath.Join(r.dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errorOf(newProblem(ErrClearFailed, uid).WithPath(path).WithCause(err))
		}
		delete(r.live, name)
	} else {
		if _, err := r.appendLine(name, rollingLine{Op: opClear, ID: uid}); err != nil {
			return errorOf(newProblem(ErrClearFailed, uid).
				WithPath(filepath.Join(r.dir, name)).WithCause(err))
		}
		r.live[name]--
	}
	r.ix.remove(uid)
	delete(r.offsets, uid)
	return nil
}

// dropBucketLocked forgets every event stored in a bucket.
func (r *Rolling) dropBucketLocked(name string) int {
	n := 0
	for uid, rec := range r.ix.records {
		if rec.loc == name {
			r.ix.remove(uid)
			delete(r.offsets, uid)
			n++
		}
	}
	delete(r.live, name)
	return n
}

// TrimBefore removes every bucket whose whole time span ends at or before t.
func (r *Rolling) TrimBefore(t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	probs := problems.New()
	for _, name := range r.bucketNames() {
		start, ok := bucketStart(name)
		if !ok || start.Add(r.bucket).After(t) {
			continue
		}
		path := filepath.Join(r.dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			probs.AddError(newProblem(ErrTrimFailed, "").WithPath(path).WithCause(err))
			continue
		}
		r.trimmed += r.dropBucketLocked(name)
	}
	return probs.Err()
}

// Trimmed reports how many pending events were dropped to honour max_bytes
// or by TrimBefore.
func (r *Rolling) Trimmed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trimmed
}

func (r *Rolling) bucketNames() []string {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), bucketFileExt) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names
}

func (r *Rolling) PendingIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ix.ordered()
}

func (r *Rolling) NumPending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ix.records)
}

func (r *Rolling) CurrBytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ix.currBytes
}

func (r *Rolling) MaxBytes() int { return r.maxBytes }

func (r *Rolling) Contains(uid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ix.records[uid]
	return ok
}

// Reindex replays every bucket in name order. Undecodable lines are skipped
// with a warning; a torn final line is cut off so later appends start on a
// fresh line. Buckets with nothing left pending are removed.
func (r *Rolling) Reindex() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(r.dir); err != nil {
		return errorOf(newProblem(ErrReindexFailed, "").WithPath(r.dir).WithCause(err))
	}

	probs := problems.New()
	r.ix.reset()
	r.offsets = make(map[string]int64)
	r.live = make(map[string]int)

	for _, name := range r.bucketNames() {
		r.replayBucket(name, probs)
	}
	return probs.Err()
}

func (r *Rolling) replayBucket(name string, probs *problems.Problems) {
	path := filepath.Join(r.dir, name)
	if _, ok := bucketStart(name); !ok {
		probs.AddWarning(newProblem(ErrFileExists, "").WithPath(path).WithMsg("not a bucket file"))
		return
	}
	f, err := os.Open(path)
	if err != nil {
		probs.AddWarning(newProblem(ErrReadFailed, "").WithPath(path).WithCause(err))
		return
	}
	defer f.Close()

	var off int64
	lines := 0
	tornAt := int64(-1)
	reader := bufio.NewReader(f)
	for {
		raw, err := reader.ReadBytes('\n')
		if len(raw) > 0 {
			lines++
			var line rollingLine
			if derr := json.Unmarshal(raw, &line); derr != nil || line.ID == "" {
				probs.AddWarning(newProblem(ErrByteDecoding, "").WithPath(path).
					WithMsg(fmt.Sprintf("offset %d", off)).WithCause(derr))
				if raw[len(raw)-1] != '\n' {
					tornAt = off
				}
			} else {
				r.applyLine(name, off, line, probs)
			}
			off += int64(len(raw))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				probs.AddWarning(newProblem(ErrReadFailed, "").WithPath(path).WithCause(err))
			}
			break
		}
	}

	switch {
	case lines == 0:
		probs.AddWarning(newProblem(ErrFileEmpty, "").WithPath(path))
		_ = os.Remove(path)
	case r.live[name] == 0:
		delete(r.live, name)
		_ = os.Remove(path)
	case tornAt >= 0:
		if err := os.Truncate(path, tornAt); err != nil {
			probs.AddWarning(newProblem(ErrWriteFailed, "").WithPath(path).WithCause(err))
		}
	}
}

func (r *Rolling) applyLine(name string, off int64, line rollingLine, probs *problems.Problems) {
	switch line.Op {
	case opPut:
		if prev, ok := r.ix.records[line.ID]; ok {
			probs.AddWarning(newProblem(ErrUIDExists, line.ID).
				WithPath(filepath.Join(r.dir, name)).WithMsg("first copy in " + prev.loc))
			return
		}
		seq := line.Seq
		if seq == 0 {
			seq = r.ix.nextSeq
		}
		r.ix.add(line.ID, seq, len(line.Content), name)
		r.offsets[line.ID] = off
		r.live[name]++
	case opClear:
		if rec, ok := r.ix.records[line.ID]; ok && rec.loc == name {
			r.ix.remove(line.ID)
			delete(r.offsets, line.ID)
			r.live[name]--
		}
	default:
		probs.AddWarning(newProblem(ErrByteDecoding, line.ID).
			WithPath(filepath.Join(r.dir, name)).WithMsg("unknown op " + line.Op))
	}
}
