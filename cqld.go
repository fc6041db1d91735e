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

// Package cqld contains constants shared across the cqld server codebase.
package cqld

// Version is the cqld release version.
const Version = "1.0.0-dev"

const (
	// ComponentKey is the name of a component field in log messages.
	ComponentKey = "component"

	// ComponentServer is the network front end accepting CQL client
	// connections.
	ComponentServer = "cql:server"

	// ComponentService is the dispatcher routing inbound calls to query
	// processors.
	ComponentService = "cql:service"

	// ComponentPool is the query processor pool.
	ComponentPool = "cql:pool"

	// ComponentClient is the backing cluster session layer.
	ComponentClient = "cql:client"

	// MetricNamespace is the prometheus namespace all cqld metrics are
	// registered under.
	MetricNamespace = "cqld"
)
