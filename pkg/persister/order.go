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

import "encoding/json"

// orderKey returns the position content takes in PendingIDs. JSON content
// with a positive top-level "seq" is placed by it, so an event persisted
// again after a failed send goes back ahead of newer events. Anything else
// takes next, the backend's arrival sequence.
func orderKey(content []byte, next uint64) uint64 {
	var stamp struct {
		Seq uint64 `json:"seq"`
	}
	if err := json.Unmarshal(content, &stamp); err != nil || stamp.Seq == 0 {
		return next
	}
	return stamp.Seq
}
