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

package client

import (
	"github.com/gocql/gocql"
	"github.com/gravitational/trace"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gravitational/cqld/lib/defaults"
)

// SchemaGetter fetches keyspace metadata from the backing cluster.
// *Session satisfies it through the embedded gocql session.
type SchemaGetter interface {
	KeyspaceMetadata(keyspace string) (*gocql.KeyspaceMetadata, error)
}

// TableCache caches keyspace metadata fetched through the session layer. It
// is built once at startup, wraps the shared session and is itself shared by
// all query processors.
type TableCache struct {
	getter SchemaGetter
	cache  *lru.Cache[string, *gocql.KeyspaceMetadata]
}

// NewTableCache returns a table cache backed by the given schema getter.
func NewTableCache(getter SchemaGetter) (*TableCache, error) {
	if getter == nil {
		return nil, trace.BadParameter("missing parameter getter")
	}
	cache, err := lru.New[string, *gocql.KeyspaceMetadata](defaults.TableCacheSize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &TableCache{getter: getter, cache: cache}, nil
}

// Keyspace returns metadata for the named keyspace, fetching it from the
// cluster on a cache miss.
func (c *TableCache) Keyspace(name string) (*gocql.KeyspaceMetadata, error) {
	if md, ok := c.cache.Get(name); ok {
		return md, nil
	}
	md, err := c.getter.KeyspaceMetadata(name)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	c.cache.Add(name, md)
	return md, nil
}

// Purge drops all cached metadata, forcing subsequent lookups to refetch.
// Called after a schema-altering statement, which may touch any keyspace.
func (c *TableCache) Purge() {
	c.cache.Purge()
}
