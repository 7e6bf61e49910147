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
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/problems"
)

// SQLiteFileName is the database file created under the persister dir.
const SQLiteFileName = "events.sqlite"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	message_id TEXT PRIMARY KEY,
	seq        INTEGER NOT NULL,
	content    BLOB NOT NULL
);`

// SQLite stores events in a single table. The seq column orders PendingIDs.
type SQLite struct {
	mu       sync.Mutex
	db       *sql.DB
	path     string
	maxBytes int
	ix       index
}

func NewSQLite(dir string, maxBytes int) (*SQLite, error) {
	if dir == "" {
		return nil, fmt.Errorf("sqlite persister requires a dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create persister dir %s: %w", dir, err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	path := filepath.Join(dir, SQLiteFileName)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// One writer at a time avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{
		db:       db,
		path:     path,
		maxBytes: maxBytes,
		ix:       newIndex(),
	}, nil
}

func (s *SQLite) Persist(uid string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkPersist(&s.ix, uid, content, s.maxBytes); err != nil {
		return err
	}
	if s.ix.currBytes+len(content) > s.maxBytes {
		return errorOf(newProblem(ErrContentTooLarge, uid).
			WithMsg(sizeMsg(s.ix.currBytes+len(content), s.maxBytes)))
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errorOf(newProblem(ErrWriteFailed, uid).WithPath(s.path).WithCause(err))
	}
	seq := orderKey(content, s.ix.nextSeq)
	res, err := tx.Exec(`INSERT OR IGNORE INTO events (message_id, seq, content) VALUES (?, ?, ?)`, uid, int64(seq), content)
	if err != nil {
		tx.Rollback()
		return errorOf(newProblem(ErrWriteFailed, uid).WithPath(s.path).WithCause(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		// Present on disk but not indexed: another process wrote it.
		return warningOf(newProblem(ErrUIDExists, uid).WithPath(s.path))
	}
	if err := tx.Commit(); err != nil {
		return errorOf(newProblem(ErrWriteFailed, uid).WithPath(s.path).WithCause(err))
	}
	s.ix.add(uid, seq, len(content), "")
	return nil
}

func (s *SQLite) Retrieve(uid string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var content []byte
	err := s.db.QueryRow(`SELECT content FROM events WHERE message_id = ?`, uid).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		if _, ok := s.ix.remove(uid); ok {
			return nil, errorOf(newProblem(ErrUIDMissing, uid).WithPath(s.path))
		}
		return nil, nil
	}
	if err != nil {
		return nil, errorOf(newProblem(ErrReadFailed, uid).WithPath(s.path).WithCause(err))
	}
	if len(content) == 0 {
		return nil, warningOf(newProblem(ErrFileEmpty, uid).WithPath(s.path))
	}
	return content, nil
}

func (s *SQLite) Clear(uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errorOf(newProblem(ErrClearFailed, uid).WithPath(s.path).WithCause(err))
	}
	if _, err := tx.Exec(`DELETE FROM events WHERE message_id = ?`, uid); err != nil {
		tx.Rollback()
		return errorOf(newProblem(ErrClearFailed, uid).WithPath(s.path).WithCause(err))
	}
	if err := tx.Commit(); err != nil {
		return errorOf(newProblem(ErrClearFailed, uid).WithPath(s.path).WithCause(err))
	}
	s.ix.remove(uid)
	return nil
}

func (s *SQLite) PendingIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ix.ordered()
}

func (s *SQLite) NumPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ix.records)
}

func (s *SQLite) CurrBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ix.currBytes
}

func (s *SQLite) MaxBytes() int { return s.maxBytes }

func (s *SQLite) Contains(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ix.records[uid]
	return ok
}

// Reindex loads ids and content sizes from the table.
func (s *SQLite) Reindex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT seq, message_id, length(content) FROM events ORDER BY seq, rowid`)
	if err != nil {
		return errorOf(newProblem(ErrReindexFailed, "").WithPath(s.path).WithCause(err))
	}
	defer rows.Close()

	probs := problems.New()
	s.ix.reset()
	for rows.Next() {
		var (
			seq  int64
			uid  string
			size int
		)
		if err := rows.Scan(&seq, &uid, &size); err != nil {
			probs.AddWarning(newProblem(ErrByteDecoding, "").WithPath(s.path).WithCause(err))
			continue
		}
		if size == 0 {
			probs.AddWarning(newProblem(ErrFileEmpty, uid).WithPath(s.path))
			continue
		}
		s.ix.add(uid, uint64(seq), size, "")
	}
	if err := rows.Err(); err != nil {
		probs.AddError(newProblem(ErrReindexFailed, "").WithPath(s.path).WithCause(err))
	}
	return probs.Err()
}

// Vacuum compacts the database file.
func (s *SQLite) Vacuum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return errorOf(newProblem(ErrWriteFailed, "").WithPath(s.path).WithMsg("vacuum").WithCause(err))
	}
	return nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
