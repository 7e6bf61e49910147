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

// Stub discards every event. It is used when durability is not required.
type Stub struct{}

func NewStub() *Stub { return &Stub{} }

func (*Stub) Persist(string, []byte) error    { return nil }
func (*Stub) Retrieve(string) ([]byte, error) { return nil, nil }
func (*Stub) Clear(string) error              { return nil }
func (*Stub) PendingIDs() []string            { return nil }
func (*Stub) NumPending() int                 { return 0 }
func (*Stub) CurrBytes() int                  { return 0 }
func (*Stub) MaxBytes() int                   { return 0 }
func (*Stub) Contains(string) bool            { return false }
func (*Stub) Reindex() error                  { return nil }
