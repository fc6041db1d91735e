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

// Package defaults contains default constants set in various parts of the
// cqld codebase.
package defaults

import "time"

const (
	// CQLListenAddr is the default address cqld accepts CQL client
	// connections on. 9042 is the Cassandra native transport port.
	CQLListenAddr = "0.0.0.0:9042"

	// MetricsListenAddr is the default address the prometheus endpoint is
	// served on.
	MetricsListenAddr = "127.0.0.1:9180"

	// ClusterAddr is the default backing cluster contact point.
	ClusterAddr = "127.0.0.1"
)

const (
	// RequestTimeout is the default timeout for a single request sent to
	// the backing cluster.
	RequestTimeout = 60 * time.Second

	// DialTimeout is the default TCP dial timeout for connections to the
	// backing cluster.
	DialTimeout = 30 * time.Second

	// ShutdownTimeout is how long the server waits for in-flight calls to
	// drain on shutdown.
	ShutdownTimeout = 30 * time.Second
)

const (
	// ProcessorPoolSize is the number of query processors created at
	// startup. The pool grows on demand past this size and never shrinks.
	ProcessorPoolSize = 10

	// ProcessorPoolGrowth is the minimum capacity increment when the
	// processor pool has to grow past its current capacity. Growth reserves
	// max(2*cap, cap+ProcessorPoolGrowth) slots to amortize reallocation.
	ProcessorPoolGrowth = 10

	// TableCacheSize bounds the number of keyspace metadata entries kept by
	// the schema cache.
	TableCacheSize = 1024

	// PreparedCacheSize bounds the number of prepared statements retained
	// by the prepared statement registry.
	PreparedCacheSize = 4096
)
