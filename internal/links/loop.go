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

package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/internal/linkstate"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

// ErrTaskPanic is returned by Do when fn panics.
var ErrTaskPanic = errors.New("event loop task panicked")

const (
	DefaultQueueSize    = 1024
	DefaultPollInterval = time.Second
)

// Loop serialises all work on a Registry. Transport callbacks, timer expiry
// and operator requests are queued as funcs and run one at a time by Run.
type Loop struct {
	reg       *Registry
	queue     chan func()
	done      chan struct{}
	clock     clock.Clock
	pollEvery time.Duration
	logger    *slog.Logger
}

func NewLoop(reg *Registry, queueSize int, pollEvery time.Duration) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if pollEvery <= 0 {
		pollEvery = DefaultPollInterval
	}
	l := &Loop{
		reg:       reg,
		queue:     make(chan func(), queueSize),
		done:      make(chan struct{}),
		clock:     reg.opts.Clock,
		pollEvery: pollEvery,
		logger:    reg.opts.Logger.With("component", "loop"),
	}
	reg.post = l.Post
	return l
}

// Post queues fn without waiting for it to run. It is dropped once the loop
// has stopped.
func (l *Loop) Post(fn func()) {
	select {
	case l.queue <- fn:
	case <-l.done:
	}
}

// Do runs fn on the loop and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("loop task panic recovered", "error", r)
				errCh <- fmt.Errorf("%w: %v", ErrTaskPanic, r)
			}
		}()
		errCh <- fn()
	}
	select {
	case l.queue <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return core.ErrLoopStopped
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return core.ErrLoopStopped
	}
}

// Run starts every link and processes the queue until ctx is cancelled, then
// stops every link.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	if err := l.reg.Start(ctx, l); err != nil {
		l.reg.Stop(context.Background())
		return err
	}
	l.logger.Info("event loop started", "links", len(l.reg.order))

	ticker := l.clock.Ticker(l.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			l.reg.Stop(stopCtx)
			cancel()
			l.logger.Info("event loop stopped")
			return nil
		case fn := <-l.queue:
			l.run(fn)
		case now := <-ticker.C:
			l.run(func() { l.reg.Poll(now) })
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panic recovered", "error", r)
		}
	}()
	fn()
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) OnConnected(link string, subscriptions int) {
	l.Post(func() { l.reg.Apply(link, linkstate.Connected(subscriptions)) })
}

func (l *Loop) OnConnectFailed(link string, err error) {
	l.logger.Debug("connect failed", "link", link, "error", err)
	l.Post(func() { l.reg.Apply(link, linkstate.ConnectFailed()) })
}

func (l *Loop) OnDisconnected(link string, err error) {
	l.logger.Info("transport disconnected", "link", link, "error", err)
	l.Post(func() { l.reg.Apply(link, linkstate.Disconnected()) })
}

func (l *Loop) OnSuback(link string, remaining int) {
	l.Post(func() { l.reg.Apply(link, linkstate.Suback(remaining)) })
}

func (l *Loop) OnMessage(link string, payload []byte) {
	l.Post(func() { l.reg.HandleMessage(link, payload) })
}

func (l *Loop) GenerateEvent(ctx context.Context, link, typ string, payload []byte) (string, error) {
	var id string
	err := l.Do(ctx, func() error {
		var err error
		id, err = l.reg.GenerateEvent(link, typ, payload)
		return err
	})
	return id, err
}

func (l *Loop) Stats(ctx context.Context, link string) (core.LinkStats, error) {
	var st core.LinkStats
	err := l.Do(ctx, func() error {
		var err error
		st, err = l.reg.Stats(link)
		return err
	})
	return st, err
}

func (l *Loop) Links(ctx context.Context) ([]core.LinkStats, error) {
	var all []core.LinkStats
	err := l.Do(ctx, func() error {
		all = l.reg.AllStats()
		return nil
	})
	return all, err
}
