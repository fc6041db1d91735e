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

// Package client implements the session layer cqld uses to talk to the
// backing Cassandra-compatible cluster. The session is built once at startup
// and shared read-only by all query processors.
package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
	"github.com/gravitational/trace"

	"github.com/gravitational/cqld"
	"github.com/gravitational/cqld/lib/defaults"
)

// Config is the session layer configuration.
type Config struct {
	// ClusterAddrs are the contact points of the backing cluster.
	ClusterAddrs []string
	// RequestTimeout caps a single request sent to the cluster.
	RequestTimeout time.Duration
	// DialTimeout caps establishing a connection to a cluster node.
	DialTimeout time.Duration
	// Log is the logger, one is created if not set.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if len(c.ClusterAddrs) == 0 {
		return trace.BadParameter("missing parameter ClusterAddrs")
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaults.DialTimeout
	}
	if c.Log == nil {
		c.Log = slog.With(cqld.ComponentKey, cqld.ComponentClient)
	}
	return nil
}

// Session wraps a gocql session to the backing cluster. Failure to construct
// the session is fatal to server startup; once constructed it is shared by
// all processors for the lifetime of the process.
type Session struct {
	*gocql.Session

	cfg Config
}

// New connects to the backing cluster and verifies connectivity with a probe
// query before returning.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	cluster := gocql.NewCluster(cfg.ClusterAddrs...)
	cluster.Timeout = cfg.RequestTimeout
	cluster.ConnectTimeout = cfg.DialTimeout

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, trace.Wrap(err, "connecting to cluster %v", cfg.ClusterAddrs)
	}

	var release string
	if err := session.Query("SELECT release_version FROM system.local").
		WithContext(ctx).Scan(&release); err != nil {
		session.Close()
		return nil, trace.Wrap(err, "probing cluster %v", cfg.ClusterAddrs)
	}
	cfg.Log.InfoContext(ctx, "Connected to backing cluster.",
		"addrs", cfg.ClusterAddrs, "release_version", release)

	return &Session{Session: session, cfg: cfg}, nil
}
