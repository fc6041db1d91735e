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

package cql

import (
	"crypto/md5"

	"github.com/gravitational/trace"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gravitational/cqld/lib/defaults"
)

// PreparedCache is the registry of prepared statements, shared by all
// processors. Statement ids are the MD5 of the query string, matching what
// Cassandra hands back from PREPARE, so re-preparing an identical statement
// yields the same id.
type PreparedCache struct {
	cache *lru.Cache[string, string]
}

// NewPreparedCache returns an empty bounded registry.
func NewPreparedCache() (*PreparedCache, error) {
	cache, err := lru.New[string, string](defaults.PreparedCacheSize)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &PreparedCache{cache: cache}, nil
}

// Put registers the statement and returns its id.
func (c *PreparedCache) Put(stmt string) []byte {
	id := md5.Sum([]byte(stmt))
	c.cache.Add(string(id[:]), stmt)
	return id[:]
}

// Get returns the statement registered under id.
func (c *PreparedCache) Get(id []byte) (string, bool) {
	return c.cache.Get(string(id))
}
