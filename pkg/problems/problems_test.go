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

package problems

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uidError struct{ uid int }

func (e uidError) Error() string { return fmt.Sprintf("uid %d", e.uid) }

func uids(errs []error) []int {
	out := make([]int, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.(uidError).uid)
	}
	return out
}

func TestEmptyProblems(t *testing.T) {
	p := New()
	assert.True(t, p.Empty())
	assert.False(t, p.HasErrors())
	assert.Equal(t, "", p.Error())
	assert.Nil(t, p.Err())
	assert.Nil(t, p.Combined())
	assert.Equal(t, DefaultMaxProblems, p.MaxProblems())
}

func TestAddErrorAndWarning(t *testing.T) {
	p := New()
	p.AddError(uidError{1})
	require.False(t, p.Empty())
	assert.Len(t, p.Errors(), 1)
	assert.Len(t, p.Warnings(), 0)

	p.AddWarning(uidError{2})
	assert.Len(t, p.Errors(), 1)
	assert.Len(t, p.Warnings(), 1)
	assert.Equal(t, p.Error(), p.String())
	assert.NotNil(t, p.Err())
}

func TestBoundedEarliestFirst(t *testing.T) {
	p := New()
	p.AddError(uidError{1})
	p.AddWarning(uidError{2})

	p2 := New(
		WithErrors(uidError{3}, uidError{4}),
		WithWarnings(uidError{5}, uidError{6}),
		WithMaxProblems(4),
	)
	require.Equal(t, 4, p2.MaxProblems())
	assert.Len(t, p2.Errors(), 2)
	assert.Len(t, p2.Warnings(), 2)

	p2.AddProblems(p)
	assert.Len(t, p2.Errors(), 3)
	assert.Len(t, p2.Warnings(), 3)

	p3 := New(
		WithErrors(uidError{7}, uidError{8}),
		WithWarnings(uidError{9}, uidError{10}),
	)
	p2.AddProblems(p3)
	p2.AddError(uidError{11})
	p2.AddWarning(uidError{12})

	assert.Equal(t, []int{3, 4, 1, 7}, uids(p2.Errors()))
	assert.Equal(t, []int{5, 6, 2, 9}, uids(p2.Warnings()))
}

func TestAddErrorWhenFullIsNoop(t *testing.T) {
	p := New(WithMaxProblems(4), WithErrors(uidError{1}, uidError{2}, uidError{3}, uidError{4}))
	x := uidError{99}
	p.AddError(x)

	require.Len(t, p.Errors(), 4)
	assert.Equal(t, []int{1, 2, 3, 4}, uids(p.Errors()))
	assert.NotContains(t, p.Errors(), error(x))
}

func TestNilEntriesIgnored(t *testing.T) {
	p := New()
	p.AddError(nil).AddWarning(nil)
	assert.True(t, p.Empty())
}

func TestFromAndOnlyWarnings(t *testing.T) {
	sentinel := errors.New("uid exists")
	var err error = New(WithWarnings(fmt.Errorf("persist: %w", sentinel)))

	got, ok := From(fmt.Errorf("wrapped: %w", err))
	require.True(t, ok)
	assert.Len(t, got.Warnings(), 1)
	assert.True(t, OnlyWarnings(err))
	assert.ErrorIs(t, err, sentinel)

	withErr := New(WithErrors(errors.New("boom"))).Err()
	assert.False(t, OnlyWarnings(withErr))

	_, ok = From(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, OnlyWarnings(nil))
}

func TestMerge(t *testing.T) {
	p := New()
	p.Merge(nil)
	assert.True(t, p.Empty())

	p.Merge(errors.New("plain"))
	p.Merge(New(WithWarnings(errors.New("w"))))
	assert.Len(t, p.Errors(), 1)
	assert.Len(t, p.Warnings(), 1)
	assert.Error(t, p.Combined())
}
