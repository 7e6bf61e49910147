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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/problems"
)

func TestDirectoryFileNames(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDirectory(dir, 1<<20)
	require.NoError(t, err)
	require.NoError(t, d.Persist("evt-1", []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	seq, uid, ok := parseEventFile(entries[0].Name())
	require.True(t, ok)
	assert.Equal(t, "evt-1", uid)
	assert.NotZero(t, seq)
}

func TestDirectoryReindexWarnings(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	write("00000000000000000001.good.evt", []byte("ok"))
	write("00000000000000000002.empty.evt", nil)
	write("00000000000000000003.torn.evt.tmp", []byte("half"))
	write("notes.txt", []byte("operator notes"))

	d, err := NewDirectory(dir, 1<<20)
	require.NoError(t, err)
	err = d.Reindex()
	require.Error(t, err)

	probs, ok := problems.From(err)
	require.True(t, ok)
	assert.False(t, probs.HasErrors())
	assert.Len(t, probs.Warnings(), 3)
	assert.ErrorIs(t, err, ErrFileEmpty)
	assert.ErrorIs(t, err, ErrFileExists)

	assert.Equal(t, []string{"good"}, d.PendingIDs())
	assert.NoFileExists(t, filepath.Join(dir, "00000000000000000002.empty.evt"))
	assert.NoFileExists(t, filepath.Join(dir, "00000000000000000003.torn.evt.tmp"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestDirectoryRetrieveMissingFile(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDirectory(dir, 1<<20)
	require.NoError(t, err)
	require.NoError(t, d.Persist("gone", []byte("x")))
	require.NoError(t, os.Remove(d.ix.records["gone"].loc))

	got, err := d.Retrieve("gone")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrFileMissing)
	assert.False(t, d.Contains("gone"))
}
