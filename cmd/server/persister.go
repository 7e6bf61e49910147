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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/config"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/persister"
)

type persisterOptions struct {
	*rootOptions
	link   string
	before time.Duration
}

type persisterStats struct {
	Link       string `json:"link"`
	Type       string `json:"type"`
	NumPending int    `json:"num_pending"`
	CurrBytes  int    `json:"curr_bytes"`
	MaxBytes   int    `json:"max_bytes"`
	Oldest     string `json:"oldest,omitempty"`
}

func newPersisterCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &persisterOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "persister",
		Short: "Inspect and maintain the per-link event stores",
		Long: `Inspect and maintain the per-link event stores.

These commands open the stores directly. Stop linkd first when the
persister is file backed.`,
	}
	cmd.PersistentFlags().StringVar(&opts.link, "link", "", "only this link (default every configured link)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print pending events and bytes per link as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return eachPersister(opts, func(link string, cfg persister.Config, p persister.Persister) error {
				st := persisterStats{
					Link:       link,
					Type:       cfg.Type,
					NumPending: p.NumPending(),
					CurrBytes:  p.CurrBytes(),
					MaxBytes:   p.MaxBytes(),
				}
				if ids := p.PendingIDs(); len(ids) > 0 {
					st.Oldest = ids[0]
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(st)
			})
		},
	}

	vacuum := &cobra.Command{
		Use:   "vacuum",
		Short: "Reclaim free space in sqlite stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return eachPersister(opts, func(link string, cfg persister.Config, p persister.Persister) error {
				v, ok := p.(persister.Vacuumer)
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s persister does not support vacuum\n", link, cfg.Type)
					return nil
				}
				if err := v.Vacuum(); err != nil {
					return fmt.Errorf("%s: %w", link, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: vacuumed\n", link)
				return nil
			})
		},
	}

	trim := &cobra.Command{
		Use:   "trim",
		Short: "Drop rolling buckets older than --before",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.before <= 0 {
				return fmt.Errorf("--before must be positive")
			}
			cutoff := time.Now().Add(-opts.before)
			return eachPersister(opts, func(link string, cfg persister.Config, p persister.Persister) error {
				t, ok := p.(persister.Trimmer)
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s persister does not support trim\n", link, cfg.Type)
					return nil
				}
				pending := p.NumPending()
				if err := t.TrimBefore(cutoff); err != nil {
					return fmt.Errorf("%s: %w", link, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: trimmed %d events older than %s\n",
					link, pending-p.NumPending(), cutoff.UTC().Format(time.RFC3339))
				return nil
			})
		},
	}
	trim.Flags().DurationVar(&opts.before, "before", 72*time.Hour, "drop buckets whose events are all older than this")

	cmd.AddCommand(stats, vacuum, trim)
	return cmd
}

// eachPersister opens the store of every selected link, runs fn and closes
// the store again.
func eachPersister(opts *persisterOptions, fn func(link string, cfg persister.Config, p persister.Persister) error) error {
	cfg, err := config.Load(config.ResolvePath(opts.configPath))
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	found := false
	for _, lc := range cfg.Links {
		if opts.link != "" && lc.Name != opts.link {
			continue
		}
		found = true
		pc := cfg.PersisterFor(lc.Name)
		p, err := persister.New(pc, logger.With("link", lc.Name))
		if err != nil {
			return fmt.Errorf("link %s: %w", lc.Name, err)
		}
		err = fn(lc.Name, pc, p)
		if c, ok := p.(io.Closer); ok {
			c.Close()
		}
		if err != nil {
			return err
		}
	}
	if !found {
		return fmt.Errorf("no configured link named %q", opts.link)
	}
	return nil
}
