/*
 * cqld
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command cqld is a CQL wire-protocol query front end: it accepts client
// connections, dispatches each request to a pool of query processors backed
// by a shared cluster session, and serves latency metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/gravitational/cqld"
	"github.com/gravitational/cqld/lib/client"
	"github.com/gravitational/cqld/lib/config"
	"github.com/gravitational/cqld/lib/cql"
	"github.com/gravitational/cqld/lib/defaults"
	"github.com/gravitational/cqld/lib/srv"
)

func main() {
	app := kingpin.New("cqld", "CQL wire-protocol query front end.")
	app.Version(cqld.Version)

	start := app.Command("start", "Start the cqld server.")
	configPath := start.Flag("config", "Path to a configuration file.").Short('c').String()
	listenAddr := start.Flag("listen-addr", "Address to accept CQL client connections on.").String()
	clusterAddrs := start.Flag("cluster", "Backing cluster contact point, can be repeated.").Strings()
	poolSize := start.Flag("pool-size", "Initial query processor pool size.").Default("-1").Int()
	metricsAddr := start.Flag("metrics-addr", "Address to serve prometheus metrics on.").String()
	debug := start.Flag("debug", "Enable debug logging.").Short('d').Bool()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	switch command {
	case start.FullCommand():
		fc, err := fileConfig(*configPath)
		if err == nil {
			applyFlags(fc, *listenAddr, *clusterAddrs, *poolSize, *metricsAddr, *debug)
			err = run(fc)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "ERROR:", trace.UserMessage(err))
			os.Exit(1)
		}
	}
}

// fileConfig loads the configuration file when a path is given, otherwise
// starts from an empty config filled with defaults.
func fileConfig(path string) (*config.FileConfig, error) {
	if path == "" {
		return &config.FileConfig{}, nil
	}
	fc, err := config.ReadFile(path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return fc, nil
}

// applyFlags overlays command line flags on the file configuration.
func applyFlags(fc *config.FileConfig, listenAddr string, clusterAddrs []string, poolSize int, metricsAddr string, debug bool) {
	if listenAddr != "" {
		fc.ListenAddr = listenAddr
	}
	if len(clusterAddrs) > 0 {
		fc.Cluster.Addrs = clusterAddrs
	}
	if poolSize >= 0 {
		fc.Pool.InitialSize = &poolSize
	}
	if metricsAddr != "" {
		fc.MetricsAddr = metricsAddr
	}
	if debug {
		fc.Debug = true
	}
}

func run(fc *config.FileConfig) error {
	if err := fc.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}

	level := slog.LevelInfo
	if fc.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	log := slog.With(cqld.ComponentKey, "cqld")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	requestTimeout, err := fc.RequestTimeout()
	if err != nil {
		return trace.Wrap(err)
	}
	dialTimeout, err := fc.DialTimeout()
	if err != nil {
		return trace.Wrap(err)
	}

	session, err := client.New(ctx, client.Config{
		ClusterAddrs:   fc.Cluster.Addrs,
		RequestTimeout: requestTimeout,
		DialTimeout:    dialTimeout,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	defer session.Close()

	tableCache, err := client.NewTableCache(session)
	if err != nil {
		return trace.Wrap(err)
	}
	prepared, err := cql.NewPreparedCache()
	if err != nil {
		return trace.Wrap(err)
	}

	pool, err := cql.NewPool(ctx, cql.PoolConfig{
		NewProcessor: func(ctx context.Context) (cql.Processor, error) {
			return cql.NewQueryProcessor(cql.ProcessorConfig{
				Session:    session,
				TableCache: tableCache,
				Prepared:   prepared,
			})
		},
		InitialSize:     *fc.Pool.InitialSize,
		GrowthIncrement: defaults.ProcessorPoolGrowth,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	service, err := cql.NewService(cql.ServiceConfig{Pool: pool})
	if err != nil {
		return trace.Wrap(err)
	}

	listener, err := net.Listen("tcp", fc.ListenAddr)
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	server, err := srv.New(srv.Config{
		Listener: listener,
		Handler:  service,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	metricsServer := &http.Server{
		Addr:    fc.MetricsAddr,
		Handler: promhttp.Handler(),
	}

	log.InfoContext(ctx, "cqld is starting.",
		"version", cqld.Version,
		"listen_addr", fc.ListenAddr,
		"metrics_addr", fc.MetricsAddr,
		"cluster_addrs", fc.Cluster.Addrs,
		"pool_size", *fc.Pool.InitialSize)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(server.Serve)
	group.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return trace.Wrap(err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.InfoContext(ctx, "cqld is shutting down.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaults.ShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.WarnContext(ctx, "Metrics server shutdown failed.", "error", err)
		}
		return trace.Wrap(server.Close())
	})
	return trace.Wrap(group.Wait())
}
