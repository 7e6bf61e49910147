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

// Package problems collects the non-fatal errors and warnings produced by
// fallible persistence and delivery operations.
//
// A Problems value is bounded: each of its two lists keeps at most
// MaxProblems entries and keeps the earliest ones. Operations return it as a
// plain error (nil when nothing went wrong) so callers can use errors.As to
// inspect individual entries.
package problems

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// DefaultMaxProblems bounds each list when no explicit limit is given.
const DefaultMaxProblems = 10

type Problems struct {
	errs        []error
	warnings    []error
	maxProblems int
}

type options struct {
	max      int
	errs     []error
	warnings []error
}

type Option func(*options)

func WithMaxProblems(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.max = n
		}
	}
}

// WithErrors seeds the error list, subject to the bound.
func WithErrors(errs ...error) Option {
	return func(o *options) { o.errs = append(o.errs, errs...) }
}

// WithWarnings seeds the warning list, subject to the bound.
func WithWarnings(warnings ...error) Option {
	return func(o *options) { o.warnings = append(o.warnings, warnings...) }
}

func New(opts ...Option) *Problems {
	o := options{max: DefaultMaxProblems}
	for _, opt := range opts {
		opt(&o)
	}
	p := &Problems{maxProblems: o.max}
	for _, err := range o.errs {
		p.AddError(err)
	}
	for _, w := range o.warnings {
		p.AddWarning(w)
	}
	return p
}

func (p *Problems) MaxProblems() int { return p.maxProblems }

// AddError appends err unless the error list is already full.
func (p *Problems) AddError(err error) *Problems {
	if err != nil && len(p.errs) < p.maxProblems {
		p.errs = append(p.errs, err)
	}
	return p
}

// AddWarning appends w unless the warning list is already full.
func (p *Problems) AddWarning(w error) *Problems {
	if w != nil && len(p.warnings) < p.maxProblems {
		p.warnings = append(p.warnings, w)
	}
	return p
}

// AddProblems merges other into p. Each list is bounded independently.
func (p *Problems) AddProblems(other *Problems) *Problems {
	if other == nil {
		return p
	}
	for _, err := range other.errs {
		p.AddError(err)
	}
	for _, w := range other.warnings {
		p.AddWarning(w)
	}
	return p
}

// Merge folds an error returned by another operation into p. A Problems
// error is merged entry by entry; anything else is recorded as an error.
func (p *Problems) Merge(err error) *Problems {
	if err == nil {
		return p
	}
	if other, ok := From(err); ok {
		return p.AddProblems(other)
	}
	return p.AddError(err)
}

func (p *Problems) Errors() []error   { return append([]error(nil), p.errs...) }
func (p *Problems) Warnings() []error { return append([]error(nil), p.warnings...) }

func (p *Problems) Empty() bool     { return p == nil || (len(p.errs) == 0 && len(p.warnings) == 0) }
func (p *Problems) HasErrors() bool { return p != nil && len(p.errs) > 0 }

// Err returns p as an error, or nil when p holds nothing.
func (p *Problems) Err() error {
	if p.Empty() {
		return nil
	}
	return p
}

// Combined flattens every entry, errors first, into a single error.
func (p *Problems) Combined() error {
	if p.Empty() {
		return nil
	}
	return multierr.Combine(append(p.Errors(), p.warnings...)...)
}

func (p *Problems) Error() string {
	if p.Empty() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "problems: %d error(s), %d warning(s)", len(p.errs), len(p.warnings))
	for i, err := range p.errs {
		fmt.Fprintf(&b, "\n  error %d: %v", i, err)
	}
	for i, w := range p.warnings {
		fmt.Fprintf(&b, "\n  warning %d: %v", i, w)
	}
	return b.String()
}

func (p *Problems) String() string { return p.Error() }

// Unwrap exposes every entry so errors.Is matches against them.
func (p *Problems) Unwrap() []error {
	if p == nil {
		return nil
	}
	return append(p.Errors(), p.warnings...)
}

// From extracts a Problems from err.
func From(err error) (*Problems, bool) {
	var p *Problems
	if errors.As(err, &p) && p != nil {
		return p, true
	}
	return nil, false
}

// OnlyWarnings reports whether err carries warnings but no errors.
func OnlyWarnings(err error) bool {
	p, ok := From(err)
	return ok && !p.HasErrors() && len(p.warnings) > 0
}
