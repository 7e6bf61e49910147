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

package plugins

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

type fakeEntrypoint struct {
	name    string
	panics  bool
	started atomic.Bool
	stopped atomic.Bool
}

func (f *fakeEntrypoint) Name() string { return f.name }
func (f *fakeEntrypoint) Type() string { return "fake" }

func (f *fakeEntrypoint) Start(ctx context.Context, _ core.LinkService, _ core.SessionManager) error {
	f.started.Store(true)
	if f.panics {
		panic("boom")
	}
	<-ctx.Done()
	return nil
}

func (f *fakeEntrypoint) Stop(context.Context) error {
	f.stopped.Store(true)
	return nil
}

type fakeSink struct{ name string }

func (f *fakeSink) Name() string                            { return f.name }
func (f *fakeSink) Type() string                            { return "fake" }
func (f *fakeSink) Connect(context.Context) error           { return nil }
func (f *fakeSink) Send(context.Context, core.Record) error { return nil }
func (f *fakeSink) Disconnect(context.Context) error        { return nil }

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newTestRegistry()

	require.NoError(t, r.RegisterSink(&fakeSink{name: "audit"}))
	assert.Error(t, r.RegisterSink(&fakeSink{name: "audit"}))
	require.NoError(t, r.RegisterEntrypoint(&fakeEntrypoint{name: "api"}))
	assert.Error(t, r.RegisterEntrypoint(&fakeEntrypoint{name: "api"}))

	assert.Len(t, r.Sinks(), 1)
	assert.Len(t, r.Entrypoints(), 1)
	_, ok := r.Transport("atn")
	assert.False(t, ok)
}

func TestSinksReturnsCopy(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.RegisterSink(&fakeSink{name: "audit"}))

	sinks := r.Sinks()
	delete(sinks, "audit")
	assert.Len(t, r.Sinks(), 1)
}

func TestStartAndStopEntrypoints(t *testing.T) {
	r := newTestRegistry()
	ok := &fakeEntrypoint{name: "api"}
	bad := &fakeEntrypoint{name: "broken", panics: true}
	require.NoError(t, r.RegisterEntrypoint(ok))
	require.NoError(t, r.RegisterEntrypoint(bad))

	ctx, cancel := context.WithCancel(context.Background())
	r.StartEntrypoints(ctx, nil, nil)
	require.Eventually(t, func() bool { return ok.started.Load() && bad.started.Load() }, time.Second, 5*time.Millisecond)

	cancel()
	r.StopEntrypoints(context.Background())
	assert.True(t, ok.stopped.Load())
	assert.True(t, bad.stopped.Load())
}
