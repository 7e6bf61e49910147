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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/problems"
)

const redisOpTimeout = 5 * time.Second

// Redis keeps the event order in a sorted set and the content in a hash, both
// under a common key prefix. Scores are the events' seq stamps; they stay
// below 2^53 so float64 scores keep their order.
type Redis struct {
	mu       sync.Mutex
	client   *redis.Client
	addr     string
	prefix   string
	maxBytes int
	ix       index
}

func NewRedis(addr, prefix string, maxBytes int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Redis{
		client:   client,
		addr:     addr,
		prefix:   prefix,
		maxBytes: maxBytes,
		ix:       newIndex(),
	}, nil
}

func (r *Redis) eventsKey() string  { return r.prefix + ":events" }
func (r *Redis) contentKey() string { return r.prefix + ":content" }

func (r *Redis) Persist(uid string, content []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := checkPersist(&r.ix, uid, content, r.maxBytes); err != nil {
		return err
	}
	if r.ix.currBytes+len(content) > r.maxBytes {
		return errorOf(newProblem(ErrContentTooLarge, uid).
			WithMsg(sizeMsg(r.ix.currBytes+len(content), r.maxBytes)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	seq := orderKey(content, r.ix.nextSeq)
	var added *redis.BoolCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.HSetNX(ctx, r.contentKey(), uid, content)
		pipe.ZAddNX(ctx, r.eventsKey(), redis.Z{Score: float64(seq), Member: uid})
		return nil
	})
	if err != nil {
		return errorOf(newProblem(ErrWriteFailed, uid).WithPath(r.addr).WithCause(err))
	}
	if !added.Val() {
		return warningOf(newProblem(ErrUIDExists, uid).WithPath(r.addr))
	}
	r.ix.add(uid, seq, len(content), "")
	return nil
}

func (r *Redis) Retrieve(uid string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	content, err := r.client.HGet(ctx, r.contentKey(), uid).Bytes()
	if errors.Is(err, redis.Nil) {
		if _, ok := r.ix.remove(uid); ok {
			return nil, errorOf(newProblem(ErrUIDMissing, uid).WithPath(r.addr))
		}
		return nil, nil
	}
	if err != nil {
		return nil, errorOf(newProblem(ErrReadFailed, uid).WithPath(r.addr).WithCause(err))
	}
	return content, nil
}

func (r *Redis) Clear(uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.eventsKey(), uid)
		pipe.HDel(ctx, r.contentKey(), uid)
		return nil
	})
	if err != nil {
		return errorOf(newProblem(ErrClearFailed, uid).WithPath(r.addr).WithCause(err))
	}
	r.ix.remove(uid)
	return nil
}

func (r *Redis) PendingIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ix.ordered()
}

func (r *Redis) NumPending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ix.records)
}

func (r *Redis) CurrBytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ix.currBytes
}

func (r *Redis) MaxBytes() int { return r.maxBytes }

func (r *Redis) Contains(uid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ix.records[uid]
	return ok
}

// Reindex loads the sorted set and the content sizes. Ids without content
// are removed from the set and reported.
func (r *Redis) Reindex() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	members, err := r.client.ZRangeWithScores(ctx, r.eventsKey(), 0, -1).Result()
	if err != nil {
		return errorOf(newProblem(ErrReindexFailed, "").WithPath(r.addr).WithCause(err))
	}

	sizes := make([]*redis.IntCmd, len(members))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			sizes[i] = pipe.HStrLen(ctx, r.contentKey(), m.Member.(string))
		}
		return nil
	})
	if err != nil {
		return errorOf(newProblem(ErrReindexFailed, "").WithPath(r.addr).WithCause(err))
	}

	probs := problems.New()
	r.ix.reset()
	for i, m := range members {
		uid := m.Member.(string)
		size := int(sizes[i].Val())
		if size == 0 {
			probs.AddWarning(newProblem(ErrFileEmpty, uid).WithPath(r.addr).WithMsg("no content"))
			r.client.ZRem(ctx, r.eventsKey(), uid)
			continue
		}
		r.ix.add(uid, uint64(m.Score), size, "")
	}
	return probs.Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
