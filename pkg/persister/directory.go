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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/problems"
)

const (
	eventFileExt = ".evt"
	tempFileExt  = ".tmp"
)

// Directory stores one file per event, named <seq>.<uid>.evt. The sequence
// orders PendingIDs: the event's own seq when it carries one, otherwise the
// write time in microseconds.
type Directory struct {
	mu       sync.Mutex
	dir      string
	maxBytes int
	ix       index
	now      func() time.Time
}

func NewDirectory(dir string, maxBytes int) (*Directory, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory persister requires a dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create persister dir %s: %w", dir, err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Directory{
		dir:      dir,
		maxBytes: maxBytes,
		ix:       newIndex(),
		now:      time.Now,
	}, nil
}

func (d *Directory) fileName(seq uint64, uid string) string {
	return fmt.Sprintf("%020d.%s%s", seq, uid, eventFileExt)
}

func parseEventFile(name string) (uint64, string, bool) {
	if !strings.HasSuffix(name, eventFileExt) {
		return 0, "", false
	}
	seqPart, uid, ok := strings.Cut(strings.TrimSuffix(name, eventFileExt), ".")
	if !ok || uid == "" || len(seqPart) != 20 {
		return 0, "", false
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return seq, uid, true
}

func (d *Directory) Persist(uid string, content []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := checkPersist(&d.ix, uid, content, d.maxBytes); err != nil {
		return err
	}
	if d.ix.currBytes+len(content) > d.maxBytes {
		return errorOf(newProblem(ErrContentTooLarge, uid).
			WithMsg(sizeMsg(d.ix.currBytes+len(content), d.maxBytes)))
	}

	next := uint64(d.now().UnixMicro())
	if next < d.ix.nextSeq {
		next = d.ix.nextSeq
	}
	seq := orderKey(content, next)
	path := filepath.Join(d.dir, d.fileName(seq, uid))
	if err := writeFileAtomic(path, content); err != nil {
		return errorOf(newProblem(ErrWriteFailed, uid).WithPath(path).WithCause(err))
	}
	d.ix.add(uid, seq, len(content), path)
	return nil
}

func (d *Directory) Retrieve(uid string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.ix.records[uid]
	if !ok {
		return nil, nil
	}
	content, err := os.ReadFile(r.loc)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			d.ix.remove(uid)
			return nil, errorOf(newProblem(ErrFileMissing, uid).WithPath(r.loc))
		}
		return nil, errorOf(newProblem(ErrReadFailed, uid).WithPath(r.loc).WithCause(err))
	}
	if len(content) == 0 {
		return nil, warningOf(newProblem(ErrFileEmpty, uid).WithPath(r.loc))
	}
	return content, nil
}

func (d *Directory) Clear(uid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.ix.records[uid]
	if !ok {
		return nil
	}
	if err := os.Remove(r.loc); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errorOf(newProblem(ErrClearFailed, uid).WithPath(r.loc).WithCause(err))
	}
	d.ix.remove(uid)
	return nil
}

func (d *Directory) PendingIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ix.ordered()
}

func (d *Directory) NumPending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ix.records)
}

func (d *Directory) CurrBytes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ix.currBytes
}

func (d *Directory) MaxBytes() int { return d.maxBytes }

func (d *Directory) Contains(uid string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.ix.records[uid]
	return ok
}

// Reindex rebuilds the index from the directory listing. Temp files left by an
// interrupted write and empty event files are removed and reported as
// warnings; files that do not look like events are reported and left alone.
func (d *Directory) Reindex() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return errorOf(newProblem(ErrReindexFailed, "").WithPath(d.dir).WithCause(err))
	}

	probs := problems.New()
	d.ix.reset()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(d.dir, name)
		if strings.HasSuffix(name, tempFileExt) {
			probs.AddWarning(newProblem(ErrWriteFailed, "").WithPath(path).WithMsg("removing interrupted write"))
			_ = os.Remove(path)
			continue
		}
		seq, uid, ok := parseEventFile(name)
		if !ok {
			probs.AddWarning(newProblem(ErrFileExists, "").WithPath(path).WithMsg("not an event file"))
			continue
		}
		info, err := e.Info()
		if err != nil {
			probs.AddWarning(newProblem(ErrReadFailed, uid).WithPath(path).WithCause(err))
			continue
		}
		if info.Size() == 0 {
			probs.AddWarning(newProblem(ErrFileEmpty, uid).WithPath(path))
			_ = os.Remove(path)
			continue
		}
		if prev, dup := d.ix.records[uid]; dup {
			// Keep the older copy; the newer one is a duplicate write.
			if prev.seq < seq {
				probs.AddWarning(newProblem(ErrUIDExists, uid).WithPath(path))
				continue
			}
			probs.AddWarning(newProblem(ErrUIDExists, uid).WithPath(prev.loc))
		}
		d.ix.add(uid, seq, int(info.Size()), path)
	}
	return probs.Err()
}

// writeFileAtomic writes content to a temp file and renames it into place so
// a crash never leaves a partially written event under its final name.
func writeFileAtomic(path string, content []byte) error {
	tmp := path + tempFileExt
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
