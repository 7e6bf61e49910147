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

// Package persister defines the durable event log used by the delivery
// engine as its overflow and recovery store, and the backends that satisfy it.
//
// Every backend honours the same contract:
//   - Persist is idempotent. Persisting a present uid yields a Problems value
//     holding one ErrUIDExists warning and changes nothing.
//   - Retrieve returns (nil, nil) for an absent uid.
//   - Clear of an absent uid is not an error.
//   - PendingIDs is ordered oldest first.
//   - Reindex rebuilds the counters from the backing store, tolerates records
//     left behind by a crash mid-write and is safe to call repeatedly.
//
// Failures are reported as *problems.Problems, never as panics.
package persister

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Persister is the event persistence contract.
type Persister interface {
	Persist(uid string, content []byte) error
	Retrieve(uid string) ([]byte, error)
	Clear(uid string) error
	PendingIDs() []string
	NumPending() int
	CurrBytes() int
	MaxBytes() int
	Contains(uid string) bool
	Reindex() error
}

// Vacuumer is implemented by backends that can compact their storage.
type Vacuumer interface {
	Vacuum() error
}

// Trimmer is implemented by backends that can drop whole storage buckets.
type Trimmer interface {
	TrimBefore(t time.Time) error
}

const (
	TypeStub      = "stub"
	TypeMemory    = "memory"
	TypeDirectory = "directory"
	TypeRolling   = "rolling"
	TypeSQLite    = "sqlite"
	TypeRedis     = "redis"
)

// DefaultMaxBytes is the advisory capacity used when none is configured.
const DefaultMaxBytes = 500 * 1024 * 1024

// Config selects and parameterises a backend.
type Config struct {
	Type        string        `yaml:"type"`
	Dir         string        `yaml:"dir"`
	MaxBytes    int           `yaml:"max_bytes"`
	Bucket      time.Duration `yaml:"bucket"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisPrefix string        `yaml:"redis_prefix"`
}

// DefaultConfig returns the configuration used when the persister section is
// omitted.
func DefaultConfig() Config {
	return Config{
		Type:        TypeRolling,
		MaxBytes:    DefaultMaxBytes,
		Bucket:      time.Hour,
		RedisPrefix: "linkd",
	}
}

// New builds the configured backend and reindexes it once. Reindex problems
// are logged, not returned: a store with a few damaged records is still
// usable.
func New(cfg Config, logger *slog.Logger) (Persister, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Bucket <= 0 {
		cfg.Bucket = time.Hour
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = "linkd"
	}

	var (
		p   Persister
		err error
	)
	switch cfg.Type {
	case TypeStub:
		p = NewStub()
	case TypeMemory:
		p = NewMemory(cfg.MaxBytes)
	case TypeDirectory:
		p, err = NewDirectory(cfg.Dir, cfg.MaxBytes)
	case TypeRolling, "":
		p, err = NewRolling(cfg.Dir, WithMaxBytes(cfg.MaxBytes), WithBucket(cfg.Bucket))
	case TypeSQLite:
		p, err = NewSQLite(cfg.Dir, cfg.MaxBytes)
	case TypeRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis_addr is required when persister type is redis")
		}
		p, err = NewRedis(cfg.RedisAddr, cfg.RedisPrefix, cfg.MaxBytes)
	default:
		return nil, fmt.Errorf("unknown persister type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := p.Reindex(); err != nil {
		logger.Warn("persister reindex reported problems", "type", cfg.Type, "problems", err)
	}
	logger.Info("persister ready",
		"type", cfg.Type,
		"dir", cfg.Dir,
		"num_pending", p.NumPending(),
		"curr_bytes", p.CurrBytes(),
		"max_bytes", p.MaxBytes(),
	)
	return p, nil
}

// validUID rejects uids that cannot be used as a file name component.
func validUID(uid string) bool {
	if uid == "" || strings.ContainsAny(uid, `/\`) || strings.Contains(uid, "..") {
		return false
	}
	for _, r := range uid {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
