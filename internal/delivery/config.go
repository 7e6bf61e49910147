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

package delivery

import "time"

const (
	DefaultNumInflightEvents        = 10
	DefaultAckTimeout               = 5 * time.Second
	DefaultNumInitialEventReuploads = 5
	DefaultLinkPollInterval         = 60 * time.Second
)

// Config holds the per-link flow control settings.
type Config struct {
	NumInflightEvents        int           `yaml:"num_inflight_events"`
	AckTimeout               time.Duration `yaml:"ack_timeout"`
	NumInitialEventReuploads int           `yaml:"num_initial_event_reuploads"`
	LinkPollInterval         time.Duration `yaml:"link_poll_interval"`
	FlushInflightOnStop      bool          `yaml:"flush_inflight_on_stop"`
}

func DefaultConfig() Config {
	return Config{
		NumInflightEvents:        DefaultNumInflightEvents,
		AckTimeout:               DefaultAckTimeout,
		NumInitialEventReuploads: DefaultNumInitialEventReuploads,
		LinkPollInterval:         DefaultLinkPollInterval,
		FlushInflightOnStop:      true,
	}
}

func (c *Config) applyDefaults() {
	if c.NumInflightEvents <= 0 {
		c.NumInflightEvents = DefaultNumInflightEvents
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.NumInitialEventReuploads <= 0 {
		c.NumInitialEventReuploads = DefaultNumInitialEventReuploads
	}
	if c.LinkPollInterval <= 0 {
		c.LinkPollInterval = DefaultLinkPollInterval
	}
}
