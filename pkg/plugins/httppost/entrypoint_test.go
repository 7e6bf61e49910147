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

package httppost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
)

type generated struct {
	link, typ string
	payload   string
}

type fakeLinks struct {
	events []generated
	err    error
}

func (f *fakeLinks) GenerateEvent(_ context.Context, link, typ string, payload []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if link != "atn" {
		return "", fmt.Errorf("%w: link=%s", core.ErrUnknownLink, link)
	}
	f.events = append(f.events, generated{link: link, typ: typ, payload: string(payload)})
	return fmt.Sprintf("id-%d", len(f.events)), nil
}

func (f *fakeLinks) Stats(context.Context, string) (core.LinkStats, error) { return core.LinkStats{}, nil }
func (f *fakeLinks) Links(context.Context) ([]core.LinkStats, error)       { return nil, nil }

func newHandler(links *fakeLinks) http.Handler {
	e := New("api", 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return e.Handler(links)
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPostEventAccepted(t *testing.T) {
	links := &fakeLinks{}
	rec := post(newHandler(links), "/links/atn/events", `{"type":"alarm","payload":{"level":3}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "id-1", body["id"])
	assert.Equal(t, "atn", body["link"])

	require.Len(t, links.events, 1)
	assert.Equal(t, "alarm", links.events[0].typ)
	assert.JSONEq(t, `{"level":3}`, links.events[0].payload)
}

func TestPostEventDefaultsType(t *testing.T) {
	links := &fakeLinks{}
	rec := post(newHandler(links), "/links/atn/events", `{"payload":"x"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, core.DefaultEventType, links.events[0].typ)
}

func TestPostEventErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		err    error
		status int
	}{
		{name: "unknown link", path: "/links/nope/events", body: `{"payload":1}`, status: http.StatusNotFound},
		{name: "bad json", path: "/links/atn/events", body: `{`, status: http.StatusBadRequest},
		{name: "no payload", path: "/links/atn/events", body: `{"type":"x"}`, status: http.StatusBadRequest},
		{name: "loop stopped", path: "/links/atn/events", body: `{"payload":1}`, err: core.ErrLoopStopped, status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			links := &fakeLinks{err: tt.err}
			rec := post(newHandler(links), tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
			assert.Empty(t, links.events)
		})
	}
}

func TestPostRequiresPostMethod(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/links/atn/events", nil)
	rec := httptest.NewRecorder()
	newHandler(&fakeLinks{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
