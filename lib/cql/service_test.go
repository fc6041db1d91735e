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
	"testing"
	"time"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// fakeCall records responses written by the dispatcher.
type fakeCall struct {
	mu        sync.Mutex
	request   []byte
	responses []*frame.Frame
}

func (c *fakeCall) SerializedRequest() []byte {
	return c.request
}

func (c *fakeCall) WriteResponse(fr *frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, fr)
	return nil
}

func (c *fakeCall) responseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.responses)
}

// fakeReporter records emitted duration samples.
type fakeReporter struct {
	mu             sync.Mutex
	getProcessor   []time.Duration
	processRequest []time.Duration
	queueResponse  []time.Duration
	poolSizes      []int
}

func (r *fakeReporter) ObserveGetProcessor(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getProcessor = append(r.getProcessor, d)
}

func (r *fakeReporter) ObserveProcessRequest(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processRequest = append(r.processRequest, d)
}

func (r *fakeReporter) ObserveQueueResponse(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queueResponse = append(r.queueResponse, d)
}

func (r *fakeReporter) SetPoolSize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.poolSizes = append(r.poolSizes, n)
}

// funcProcessor runs the given function for every call.
type funcProcessor func(ctx context.Context, request []byte) *frame.Frame

func (p funcProcessor) ProcessCall(ctx context.Context, request []byte) *frame.Frame {
	return p(ctx, request)
}

func newTestService(t *testing.T, proc Processor, reporter Reporter, clock clockwork.Clock) (*Service, *Pool) {
	t.Helper()
	pool, err := NewPool(context.Background(), PoolConfig{
		NewProcessor: func(ctx context.Context) (Processor, error) { return proc, nil },
		Reporter:     reporter,
	})
	require.NoError(t, err)
	service, err := NewService(ServiceConfig{
		Pool:     pool,
		Reporter: reporter,
		Clock:    clock,
	})
	require.NoError(t, err)
	return service, pool
}

func TestServiceHandleRespondsExactlyOnce(t *testing.T) {
	t.Parallel()
	proc := funcProcessor(func(ctx context.Context, request []byte) *frame.Frame {
		return frame.NewFrame(primitive.ProtocolVersion4, 7, &message.VoidResult{})
	})
	service, pool := newTestService(t, proc, &fakeReporter{}, clockwork.NewRealClock())

	call := &fakeCall{}
	service.Handle(context.Background(), call)

	require.Equal(t, 1, call.responseCount())
	require.Equal(t, 1, pool.Size())
	require.Equal(t, 1, pool.IdleCount())
}

func TestServiceHandleFaultingProcessor(t *testing.T) {
	t.Parallel()
	// A processing failure must still produce a well-formed error response
	// and the processor must return to the idle set.
	proc := funcProcessor(func(ctx context.Context, request []byte) *frame.Frame {
		return frame.NewFrame(primitive.ProtocolVersion4, 1, &message.ServerError{
			ErrorMessage: "query execution failed",
		})
	})
	service, pool := newTestService(t, proc, &fakeReporter{}, clockwork.NewRealClock())

	call := &fakeCall{}
	service.Handle(context.Background(), call)

	require.Equal(t, 1, call.responseCount())
	require.IsType(t, &message.ServerError{}, call.responses[0].Body.Message)
	require.Equal(t, pool.Size(), pool.IdleCount())
}

func TestServiceHandleNilResponsePanics(t *testing.T) {
	t.Parallel()
	proc := funcProcessor(func(ctx context.Context, request []byte) *frame.Frame {
		return nil
	})
	service, _ := newTestService(t, proc, &fakeReporter{}, clockwork.NewRealClock())

	require.Panics(t, func() {
		service.Handle(context.Background(), &fakeCall{})
	})
}

func TestServiceHandleAcquireFailure(t *testing.T) {
	t.Parallel()
	// The peer still gets exactly one response when no processor could be
	// constructed.
	pool, err := NewPool(context.Background(), PoolConfig{
		NewProcessor: func(ctx context.Context) (Processor, error) {
			return nil, trace.ConnectionProblem(nil, "cluster is unreachable")
		},
		Reporter: &fakeReporter{},
	})
	require.NoError(t, err)
	service, err := NewService(ServiceConfig{Pool: pool, Reporter: &fakeReporter{}})
	require.NoError(t, err)

	call := &fakeCall{}
	service.Handle(context.Background(), call)

	require.Equal(t, 1, call.responseCount())
	require.IsType(t, &message.ServerError{}, call.responses[0].Body.Message)
}

func TestServiceHandleEmitsOrderedCheckpoints(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	proc := funcProcessor(func(ctx context.Context, request []byte) *frame.Frame {
		clock.Advance(3 * time.Millisecond)
		return frame.NewFrame(primitive.ProtocolVersion4, 1, &message.VoidResult{})
	})
	reporter := &fakeReporter{}
	service, _ := newTestService(t, proc, reporter, clock)

	service.Handle(context.Background(), &fakeCall{})

	require.Len(t, reporter.getProcessor, 1)
	require.Len(t, reporter.processRequest, 1)
	require.Len(t, reporter.queueResponse, 1)
	require.Equal(t, time.Duration(0), reporter.getProcessor[0])
	require.Equal(t, 3*time.Millisecond, reporter.processRequest[0])
	require.Equal(t, time.Duration(0), reporter.queueResponse[0])
}

func TestServiceHandleConcurrentLoad(t *testing.T) {
	t.Parallel()
	// 100 calls across 10 workers against a pool starting empty: every
	// call is answered exactly once and the pool size stays within the
	// peak concurrency bound.
	proc := funcProcessor(func(ctx context.Context, request []byte) *frame.Frame {
		return frame.NewFrame(primitive.ProtocolVersion4, 1, &message.VoidResult{})
	})
	reporter := &fakeReporter{}
	service, pool := newTestService(t, proc, reporter, clockwork.NewRealClock())

	const workers = 10
	const total = 100
	calls := make([]*fakeCall, total)
	for i := range calls {
		calls[i] = &fakeCall{}
	}

	work := make(chan *fakeCall)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for call := range work {
				service.Handle(context.Background(), call)
			}
		}()
	}
	for _, call := range calls {
		work <- call
	}
	close(work)
	wg.Wait()

	for _, call := range calls {
		require.Equal(t, 1, call.responseCount())
	}
	require.LessOrEqual(t, pool.Size(), total)
	require.Equal(t, pool.Size(), pool.IdleCount())

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	require.Len(t, reporter.processRequest, total)
}
