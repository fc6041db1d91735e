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
	"sync"
	"sync/atomic"
	"testing"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/cqld/lib/protocol"
)

// countingFactory builds fake processors and counts constructions.
type countingFactory struct {
	built atomic.Int64
}

func (f *countingFactory) new(ctx context.Context) (Processor, error) {
	f.built.Add(1)
	return &fakeProcessor{}, nil
}

// fakeProcessor answers every call with a void result.
type fakeProcessor struct {
	calls atomic.Int64
}

func (p *fakeProcessor) ProcessCall(ctx context.Context, request []byte) *frame.Frame {
	p.calls.Add(1)
	version, stream := protocol.RawVersionAndStream(request)
	return frame.NewFrame(version, stream, &message.VoidResult{})
}

func newTestPool(t *testing.T, initialSize int) (*Pool, *countingFactory) {
	t.Helper()
	factory := &countingFactory{}
	pool, err := NewPool(context.Background(), PoolConfig{
		NewProcessor: factory.new,
		InitialSize:  initialSize,
	})
	require.NoError(t, err)
	return pool, factory
}

func TestPoolAcquireIsExclusive(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(t, 0)

	// 50 concurrent acquisitions with no releases must hand out 50
	// distinct processors.
	const callers = 50
	leases := make([]*Lease, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			leases[i], errs[i] = pool.Acquire(context.Background())
		}(i)
	}
	wg.Wait()

	seen := make(map[Processor]bool)
	for i, lease := range leases {
		require.NoError(t, errs[i])
		require.NotNil(t, lease.Processor())
		require.False(t, seen[lease.Processor()], "processor handed out twice")
		seen[lease.Processor()] = true
	}
	require.Equal(t, callers, pool.Size())
	require.Equal(t, 0, pool.IdleCount())
}

func TestPoolReleaseMakesProcessorReusable(t *testing.T) {
	t.Parallel()
	pool, factory := newTestPool(t, 3)
	require.EqualValues(t, 3, factory.built.Load())

	// Two sequential calls against a pool of three idle processors must
	// not create any new processor.
	for i := 0; i < 2; i++ {
		lease, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		pool.Release(lease)
	}
	require.EqualValues(t, 3, factory.built.Load())
	require.Equal(t, 3, pool.Size())
	require.Equal(t, 3, pool.IdleCount())
}

func TestPoolGrowsUnderConcurrentLoadAndNeverShrinks(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(t, 0)

	const callers = 100
	leases := make(chan *Lease, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := pool.Acquire(context.Background())
			if err != nil {
				errs <- err
				return
			}
			leases <- lease
		}()
	}
	wg.Wait()
	close(leases)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, pool.Size(), callers)

	grownTo := pool.Size()
	for lease := range leases {
		pool.Release(lease)
	}
	require.Equal(t, grownTo, pool.Size())
	require.Equal(t, grownTo, pool.IdleCount())
}

func TestPoolGrowthReservesAmortizedCapacity(t *testing.T) {
	t.Parallel()
	factory := &countingFactory{}
	pool, err := NewPool(context.Background(), PoolConfig{
		NewProcessor:    factory.new,
		InitialSize:     0,
		GrowthIncrement: 10,
	})
	require.NoError(t, err)

	var leases []*Lease
	acquire := func(n int) {
		for i := 0; i < n; i++ {
			lease, err := pool.Acquire(context.Background())
			require.NoError(t, err)
			leases = append(leases, lease)
		}
	}

	// An empty pool reserves a single slot; the first acquire fills it
	// without growing.
	acquire(1)
	require.Equal(t, 1, cap(pool.procs))

	// Exhausting the capacity must reserve at least max(2*cap, cap+10)
	// slots.
	acquire(1)
	require.GreaterOrEqual(t, cap(pool.procs), 11)
	firstCap := cap(pool.procs)

	acquire(firstCap - 2)
	require.Equal(t, firstCap, cap(pool.procs))
	acquire(1)
	require.GreaterOrEqual(t, cap(pool.procs), max(2*firstCap, firstCap+10))

	for _, lease := range leases {
		pool.Release(lease)
	}
}

func TestPoolScenarioFiveConcurrentCallsFromEmpty(t *testing.T) {
	t.Parallel()
	pool, factory := newTestPool(t, 0)

	const callers = 5
	var wg sync.WaitGroup
	leases := make([]*Lease, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			leases[i], errs[i] = pool.Acquire(context.Background())
		}(i)
	}
	wg.Wait()

	seen := make(map[Processor]bool)
	for i, lease := range leases {
		require.NoError(t, errs[i])
		require.False(t, seen[lease.Processor()])
		seen[lease.Processor()] = true
		pool.Release(lease)
	}
	require.EqualValues(t, callers, factory.built.Load())
	require.Equal(t, callers, pool.Size())
	require.Equal(t, callers, pool.IdleCount())
}

func TestPoolReportsSizeInOrder(t *testing.T) {
	t.Parallel()
	factory := &countingFactory{}
	reporter := &fakeReporter{}
	pool, err := NewPool(context.Background(), PoolConfig{
		NewProcessor: factory.new,
		Reporter:     reporter,
	})
	require.NoError(t, err)

	const callers = 50
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Acquire(context.Background())
		}()
	}
	wg.Wait()

	// Sizes are published while the pool lock is held, so concurrent
	// growth must report strictly increasing sizes ending at the final
	// pool size.
	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	require.NotEmpty(t, reporter.poolSizes)
	for i := 1; i < len(reporter.poolSizes); i++ {
		require.Greater(t, reporter.poolSizes[i], reporter.poolSizes[i-1])
	}
	require.Equal(t, pool.Size(), reporter.poolSizes[len(reporter.poolSizes)-1])
}

func TestPoolDoubleReleasePanics(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(t, 1)

	lease, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(lease)
	require.Panics(t, func() { pool.Release(lease) })
}

func TestPoolPropagatesConstructionFailure(t *testing.T) {
	t.Parallel()
	pool, err := NewPool(context.Background(), PoolConfig{
		NewProcessor: func(ctx context.Context) (Processor, error) {
			return nil, trace.ConnectionProblem(nil, "cluster is unreachable")
		},
	})
	require.NoError(t, err)

	_, err = pool.Acquire(context.Background())
	require.Error(t, err)
	require.Equal(t, 0, pool.Size())
}

func TestPoolConfigRejectsNegativeInitialSize(t *testing.T) {
	t.Parallel()
	factory := &countingFactory{}
	_, err := NewPool(context.Background(), PoolConfig{
		NewProcessor: factory.new,
		InitialSize:  -1,
	})
	require.True(t, trace.IsBadParameter(err))
}
