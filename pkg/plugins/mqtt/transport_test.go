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


package mqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/config"
)

type fakeToken struct {
	done chan struct{}
}

func (f *fakeToken) Wait() bool {
	<-f.done
	return true
}

func (f *fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (f *fakeToken) Done() <-chan struct{}           { return f.done }
func (f *fakeToken) Error() error                    { return nil }

// fakeClient answers subscriptions immediately, or holds them until pending
// is closed when held is set.
type fakeClient struct {
	pahomqtt.Client

	held    bool
	mu      sync.Mutex
	topics  []string
	pending chan struct{}
}

func newFakeClient(held bool) *fakeClient {
	return &fakeClient{held: held, pending: make(chan struct{})}
}

func (f *fakeClient) Subscribe(topic string, _ byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	f.topics = append(f.topics, topic)
	f.mu.Unlock()
	if f.held {
		return &fakeToken{done: f.pending}
	}
	done := make(chan struct{})
	close(done)
	return &fakeToken{done: done}
}

func (f *fakeClient) subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.topics...)
}

type recorder struct {
	mu           sync.Mutex
	connected    int
	disconnected int
	subacks      []int
}

func (r *recorder) OnConnected(string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected++
}

func (r *recorder) OnConnectFailed(string, error) {}

func (r *recorder) OnDisconnected(string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected++
}

func (r *recorder) OnSuback(_ string, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subacks = append(r.subacks, remaining)
}

func (r *recorder) OnMessage(string, []byte) {}

func (r *recorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.subacks...)
}

func TestSubackFromDroppedConnectionIsIgnored(t *testing.T) {
	cfg := config.LinkConfig{Name: "atn", SubscribeTopics: []string{"atn/in", "atn/ctl"}}
	tr := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	old := newFakeClient(true)
	tr.onConnect(ctx, old, rec)
	require.Eventually(t, func() bool { return len(old.subscribed()) == 1 }, time.Second, 5*time.Millisecond)

	tr.onConnectionLost(errors.New("connection reset"), rec)
	close(old.pending)

	fresh := newFakeClient(false)
	tr.onConnect(ctx, fresh, rec)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	assert.Never(t, func() bool { return len(rec.snapshot()) > 2 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, []int{1, 0}, rec.snapshot())
	assert.Equal(t, []string{"atn/in"}, old.subscribed())
	assert.Equal(t, []string{"atn/in", "atn/ctl"}, fresh.subscribed())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.connected)
	assert.Equal(t, 1, rec.disconnected)
}

func TestReconnectEndsPreviousSubscribe(t *testing.T) {
	cfg := config.LinkConfig{Name: "atn", SubscribeTopics: []string{"atn/in"}}
	tr := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := &recorder{}

	old := newFakeClient(true)
	tr.onConnect(context.Background(), old, rec)
	require.Eventually(t, func() bool { return len(old.subscribed()) == 1 }, time.Second, 5*time.Millisecond)

	// A new connection without a lost callback in between still ends the
	// old subscribe goroutine.
	tr.onConnect(context.Background(), newFakeClient(false), rec)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	close(old.pending)

	assert.Never(t, func() bool { return len(rec.snapshot()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	tr.endConn()
}
