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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/internal/links"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/internal/logging"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/internal/routing"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/internal/session"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/config"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/link-engine/pkg/persister"
)

const shutdownTimeout = 10 * time.Second

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every configured link until SIGINT or SIGTERM",
		Long: `Run every configured link until SIGINT or SIGTERM.

On shutdown each link is stopped, events still awaiting an ack are
persisted, and the persisters are closed.

Example:
  linkd run --config /etc/linkd/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(opts)
		},
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

func runServer(opts *rootOptions) error {
	path := config.ResolvePath(opts.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if warnings := cfg.Validate(); warnings != nil {
		logger.Warn("config loaded with warnings", "path", path, "problems", warnings.Error())
	}

	var packetLog *logging.PacketLogger
	if cfg.Logging.Packets {
		packetLog = logging.NewPacketLogger(logger.With("component", "packet"))
	}

	plug, err := buildPlugins(cfg, logger)
	if err != nil {
		return err
	}

	routeTable := routing.NewTable()
	routeTable.ReplaceAll(cfg.ToRoutes())
	mgr := session.NewManager(routeTable, plug.Sinks(), logger)

	reg := links.NewRegistry(links.Options{
		Node:               cfg.Node.Name,
		DedupCacheSize:     cfg.Delivery.DedupCacheSize,
		GenerateCommEvents: cfg.Delivery.GenerateCommEvents,
		Publisher:          mgr,
		Handler: func(link string, env core.Envelope) {
			logger.Info("event received", "link", link, "id", env.ID, "src", env.Src, "type", env.Type)
		},
		PacketLog: packetLog,
		Logger:    logger,
	})

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("persister close failed", "error", err)
			}
		}
	}()
	for _, lc := range cfg.Links {
		p, err := persister.New(cfg.PersisterFor(lc.Name), logger.With("link", lc.Name))
		if err != nil {
			return fmt.Errorf("link %s: open persister: %w", lc.Name, err)
		}
		if c, ok := p.(io.Closer); ok {
			closers = append(closers, c)
		}
		t, _ := plug.Transport(lc.Name)
		settings := links.Settings{
			Name:     lc.Name,
			Role:     core.LinkRole(lc.Role),
			Delivery: cfg.Delivery.Config,
		}
		if _, err := reg.Add(settings, t, p); err != nil {
			return err
		}
	}

	loop := links.NewLoop(reg, 0, 0)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr.Start(ctx)
	go config.NewWatcher(path, routeTable, 0, logger).Watch(ctx)
	plug.StartEntrypoints(ctx, loop, mgr)

	logger.Info("link engine started", "config", path, "node", cfg.Node.Name, "links", len(cfg.Links))
	runErr := loop.Run(ctx)
	stop()

	logger.Info("shutting down link engine")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	plug.StopEntrypoints(shutdownCtx)
	mgr.Stop(shutdownCtx)

	for _, st := range reg.AllStats() {
		logger.Info("link stopped", "link", st.Name, "num_pending", st.NumPending, "sent", st.Sent, "acked", st.Acked)
	}
	logger.Info("link engine stopped")
	return runErr
}
