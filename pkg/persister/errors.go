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
	"errors"
	"fmt"
	"strings"
)

// Problem kinds. A *Problem unwraps to its kind, so callers match with
// errors.Is(err, persister.ErrUIDExists) even through a Problems value.
var (
	ErrUIDExists       = errors.New("uid already persisted")
	ErrUIDMissing      = errors.New("uid not persisted")
	ErrFileExists      = errors.New("file already exists")
	ErrFileMissing     = errors.New("file missing")
	ErrFileEmpty       = errors.New("file empty")
	ErrByteDecoding    = errors.New("byte decoding failed")
	ErrContentTooLarge = errors.New("content too large")
	ErrWriteFailed     = errors.New("write failed")
	ErrReadFailed      = errors.New("read failed")
	ErrClearFailed     = errors.New("clear failed")
	ErrReindexFailed   = errors.New("reindex failed")
	ErrTrimFailed      = errors.New("trim failed")
	ErrInvalidUID      = errors.New("invalid uid")
	ErrClosed          = errors.New("persister closed")
)

// Problem is a single persistence error or warning.
type Problem struct {
	Kind  error
	UID   string
	Path  string
	Msg   string
	Cause error
}

func newProblem(kind error, uid string) *Problem {
	return &Problem{Kind: kind, UID: uid}
}

func (p *Problem) WithPath(path string) *Problem { p.Path = path; return p }
func (p *Problem) WithMsg(msg string) *Problem   { p.Msg = msg; return p }
func (p *Problem) WithCause(err error) *Problem  { p.Cause = err; return p }

func (p *Problem) Error() string {
	var b strings.Builder
	b.WriteString(p.Kind.Error())
	if p.Msg != "" {
		fmt.Fprintf(&b, ": %s", p.Msg)
	}
	if p.UID != "" {
		fmt.Fprintf(&b, " uid=%s", p.UID)
	}
	if p.Path != "" {
		fmt.Fprintf(&b, " path=%s", p.Path)
	}
	if p.Cause != nil {
		fmt.Fprintf(&b, ": %v", p.Cause)
	}
	return b.String()
}

func (p *Problem) Unwrap() []error {
	if p.Cause == nil {
		return []error{p.Kind}
	}
	return []error{p.Kind, p.Cause}
}
