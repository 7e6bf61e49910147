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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRolling(t *testing.T, dir string, maxBytes int) (*Rolling, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC))
	r, err := NewRolling(dir, WithMaxBytes(maxBytes), WithBucket(time.Hour), WithClock(clk))
	require.NoError(t, err)
	require.NoError(t, r.Reindex())
	return r, clk
}

func bucketFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*"+bucketFileExt))
	require.NoError(t, err)
	for i, m := range matches {
		matches[i] = filepath.Base(m)
	}
	return matches
}

func TestRollingBucketsByTime(t *testing.T) {
	dir := t.TempDir()
	r, clk := newTestRolling(t, dir, 1<<20)

	require.NoError(t, r.Persist("a", []byte("a")))
	clk.Add(time.Hour)
	require.NoError(t, r.Persist("b", []byte("b")))

	assert.Equal(t, []string{"20260301T100000Z.bucket", "20260301T110000Z.bucket"}, bucketFiles(t, dir))
	assert.Equal(t, []string{"a", "b"}, r.PendingIDs())
}

func TestRollingRemovesBucketOnceCleared(t *testing.T) {
	dir := t.TempDir()
	r, _ := newTestRolling(t, dir, 1<<20)

	require.NoError(t, r.Persist("a", []byte("a")))
	require.NoError(t, r.Persist("b", []byte("b")))
	require.NoError(t, r.Clear("a"))
	assert.Len(t, bucketFiles(t, dir), 1)

	require.NoError(t, r.Clear("b"))
	assert.Empty(t, bucketFiles(t, dir))
	assert.Zero(t, r.NumPending())
}

func TestRollingTrimsOldestToFit(t *testing.T) {
	dir := t.TempDir()
	r, clk := newTestRolling(t, dir, 10)

	require.NoError(t, r.Persist("a", []byte("aaaa")))
	clk.Add(time.Hour)
	require.NoError(t, r.Persist("b", []byte("bbbb")))
	require.NoError(t, r.Persist("c", []byte("cccc")))

	assert.Equal(t, []string{"b", "c"}, r.PendingIDs())
	assert.Equal(t, 8, r.CurrBytes())
	assert.Equal(t, 1, r.Trimmed())
	assert.Equal(t, []string{"20260301T110000Z.bucket"}, bucketFiles(t, dir))
}

func TestRollingTrimBefore(t *testing.T) {
	dir := t.TempDir()
	r, clk := newTestRolling(t, dir, 1<<20)

	require.NoError(t, r.Persist("old1", []byte("1")))
	require.NoError(t, r.Persist("old2", []byte("2")))
	clk.Add(2 * time.Hour)
	require.NoError(t, r.Persist("new", []byte("3")))

	require.NoError(t, r.TrimBefore(clk.Now().Add(-time.Hour)))
	assert.Equal(t, []string{"new"}, r.PendingIDs())
	assert.Equal(t, 2, r.Trimmed())
	assert.Len(t, bucketFiles(t, dir), 1)
}

func TestRollingReindexSkipsTornLine(t *testing.T) {
	dir := t.TempDir()
	r, _ := newTestRolling(t, dir, 1<<20)
	require.NoError(t, r.Persist("a", []byte("alpha")))

	name := bucketFiles(t, dir)[0]
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"op":"put","id":"b","cont`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = r.Reindex()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrByteDecoding)
	assert.Equal(t, []string{"a"}, r.PendingIDs())

	// The torn tail was cut, so the next record lands on its own line.
	require.NoError(t, r.Persist("c", []byte("gamma")))
	require.NoError(t, r.Reindex())
	assert.Equal(t, []string{"a", "c"}, r.PendingIDs())
	got, err := r.Retrieve("c")
	require.NoError(t, err)
	assert.Equal(t, []byte("gamma"), got)
}

func TestRollingReindexEmptyBucket(t *testing.T) {
	dir := t.TempDir()
	r, _ := newTestRolling(t, dir, 1<<20)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260301T090000Z.bucket"), nil, 0o644))

	err := r.Reindex()
	assert.ErrorIs(t, err, ErrFileEmpty)
	assert.Empty(t, bucketFiles(t, dir))
}
