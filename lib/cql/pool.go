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
	"context"
	"log/slog"
	"sync"

	"github.com/gravitational/trace"

	"github.com/gravitational/cqld"
	"github.com/gravitational/cqld/lib/defaults"
)

// NewProcessorFunc constructs one query processor. It is invoked under the
// pool lock, so it must not perform long-running work; cqld processors only
// capture references to the shared session and caches.
type NewProcessorFunc func(ctx context.Context) (Processor, error)

// PoolConfig is the processor pool configuration.
type PoolConfig struct {
	// NewProcessor constructs pool processors.
	NewProcessor NewProcessorFunc
	// InitialSize is the number of processors created upfront.
	InitialSize int
	// GrowthIncrement is the minimum capacity increment K in the growth
	// policy max(2*cap, cap+K).
	GrowthIncrement int
	// Reporter receives pool size updates.
	Reporter Reporter
	// Log is the logger, one is created if not set.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *PoolConfig) CheckAndSetDefaults() error {
	if c.NewProcessor == nil {
		return trace.BadParameter("missing parameter NewProcessor")
	}
	if c.InitialSize < 0 {
		return trace.BadParameter("InitialSize must not be negative, got %v", c.InitialSize)
	}
	if c.GrowthIncrement <= 0 {
		c.GrowthIncrement = defaults.ProcessorPoolGrowth
	}
	if c.Reporter == nil {
		c.Reporter = NewPrometheusReporter()
	}
	if c.Log == nil {
		c.Log = slog.With(cqld.ComponentKey, cqld.ComponentPool)
	}
	return nil
}

// slot is one arena entry of the pool.
type slot struct {
	proc Processor
	busy bool
}

// Pool manages the lifecycle and availability of query processors. Each
// processor handles at most one call at a time. Acquire never blocks waiting
// for an idle processor: when none is idle a new one is created, so the pool
// only ever grows. A single mutex guards the arena, the free list and every
// slot's busy flag; it is held only to select or append a slot, never across
// a call's processing.
type Pool struct {
	cfg PoolConfig

	mu sync.Mutex
	// procs is the append-only processor arena.
	procs []*slot
	// idle is a LIFO free list of arena indices with the busy flag unset.
	idle []int
}

// NewPool creates a pool with cfg.InitialSize idle processors.
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	p := &Pool{
		cfg:   cfg,
		procs: make([]*slot, 0, max(cfg.InitialSize, 1)),
		idle:  make([]int, 0, max(cfg.InitialSize, 1)),
	}
	for i := 0; i < cfg.InitialSize; i++ {
		proc, err := cfg.NewProcessor(ctx)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		p.procs = append(p.procs, &slot{proc: proc})
		p.idle = append(p.idle, i)
	}
	cfg.Reporter.SetPoolSize(len(p.procs))
	return p, nil
}

// Lease is a borrowed, temporarily-exclusive reference to one processor. It
// must be returned to the pool with exactly one Release.
type Lease struct {
	proc  Processor
	index int
	// released is guarded by the pool mutex.
	released bool
}

// Processor returns the leased processor.
func (l *Lease) Processor() Processor {
	return l.proc
}

// Acquire returns a lease on an idle processor, creating a new one when none
// is idle. It only fails if processor construction fails; there is no "pool
// full" condition.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()

	// Reuse the most recently released processor if any is idle.
	if n := len(p.idle); n > 0 {
		index := p.idle[n-1]
		p.idle = p.idle[:n-1]
		s := p.procs[index]
		s.busy = true
		p.mu.Unlock()
		return &Lease{proc: s.proc, index: index}, nil
	}

	// No idle processor: create one and append it to the arena, growing
	// the backing storage by at least the configured increment.
	proc, err := p.cfg.NewProcessor(ctx)
	if err != nil {
		p.mu.Unlock()
		return nil, trace.Wrap(err)
	}
	if len(p.procs) == cap(p.procs) {
		grown := make([]*slot, len(p.procs), max(2*cap(p.procs), cap(p.procs)+p.cfg.GrowthIncrement))
		copy(grown, p.procs)
		p.procs = grown
	}
	p.procs = append(p.procs, &slot{proc: proc, busy: true})
	index := len(p.procs) - 1
	// Report under the lock so concurrent growth cannot publish sizes out
	// of order and leave the gauge understating the pool.
	p.cfg.Reporter.SetPoolSize(len(p.procs))
	p.mu.Unlock()

	return &Lease{proc: proc, index: index}, nil
}

// Release returns a leased processor to the idle set. Releasing a lease
// twice is a programming error and panics: continuing silently would risk
// handing the same processor to two callers.
func (p *Pool) Release(lease *Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.procs[lease.index]
	if lease.released || !s.busy {
		panic("cql: release of a processor that is not busy")
	}
	lease.released = true
	s.busy = false
	p.idle = append(p.idle, lease.index)
}

// Size returns the current number of processors in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.procs)
}

// IdleCount returns the current number of idle processors.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
