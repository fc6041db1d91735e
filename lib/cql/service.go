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

// Package cql implements the query dispatch core of cqld: the processor
// pool, the dispatcher routing each inbound call to a processor, and the
// query processor executing calls against the backing cluster.
package cql

import (
	"context"
	"log/slog"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/cqld"
	"github.com/gravitational/cqld/lib/protocol"
)

// Call is one inbound protocol request requiring exactly one response.
// *protocol.InboundCall implements it; tests substitute fakes.
type Call interface {
	// SerializedRequest returns the raw wire bytes of the request frame.
	SerializedRequest() []byte
	// WriteResponse serializes the response into the call's outbound
	// buffer and hands it to the transport, acknowledging delivery.
	WriteResponse(fr *frame.Frame) error
}

// ServiceConfig is the dispatcher configuration.
type ServiceConfig struct {
	// Pool is the processor pool calls are dispatched to.
	Pool *Pool
	// Reporter receives latency samples.
	Reporter Reporter
	// Clock provides the monotonic checkpoints. Durations derived from it
	// must come from a monotonic source, never a wall clock subject to
	// adjustment.
	Clock clockwork.Clock
	// Log is the logger, one is created if not set.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *ServiceConfig) CheckAndSetDefaults() error {
	if c.Pool == nil {
		return trace.BadParameter("missing parameter Pool")
	}
	if c.Reporter == nil {
		c.Reporter = NewPrometheusReporter()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.With(cqld.ComponentKey, cqld.ComponentService)
	}
	return nil
}

// Service dispatches inbound calls to pooled query processors. It is
// stateless and reentrant: any number of Handle invocations may run
// concurrently, pool acquisition being the only synchronized step.
type Service struct {
	cfg ServiceConfig
}

// NewService returns a new dispatcher.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{cfg: cfg}, nil
}

// Handle processes one inbound call to completion: acquire a processor,
// process, send the response, release the processor. The caller always
// receives exactly one response; failures below the transport are absorbed
// into an error-shaped response. Derived latencies are emitted after the
// call completes so the metrics sink stays off the hot path's locking.
func (s *Service) Handle(ctx context.Context, call Call) {
	start := s.cfg.Clock.Now()

	lease, err := s.cfg.Pool.Acquire(ctx)
	if err != nil {
		s.cfg.Log.ErrorContext(ctx, "Failed to acquire a query processor.", "error", err)
		s.respondError(ctx, call, err)
		return
	}
	acquired := s.cfg.Clock.Now()
	defer s.cfg.Pool.Release(lease)

	response := lease.Processor().ProcessCall(ctx, call.SerializedRequest())
	if response == nil {
		panic("cql: processor returned a nil response")
	}
	processed := s.cfg.Clock.Now()

	if err := call.WriteResponse(response); err != nil {
		s.cfg.Log.WarnContext(ctx, "Failed to send response.", "error", err)
	}
	sent := s.cfg.Clock.Now()

	s.cfg.Reporter.ObserveGetProcessor(acquired.Sub(start))
	s.cfg.Reporter.ObserveProcessRequest(sent.Sub(acquired))
	s.cfg.Reporter.ObserveQueueResponse(sent.Sub(processed))
}

// respondError sends a server error response addressed at the failed
// request, keeping the one-response-per-call contract even when no
// processor could be acquired.
func (s *Service) respondError(ctx context.Context, call Call, err error) {
	version, stream := protocol.RawVersionAndStream(call.SerializedRequest())
	fr := frame.NewFrame(version, stream, &message.ServerError{
		ErrorMessage: err.Error(),
	})
	if err := call.WriteResponse(fr); err != nil {
		s.cfg.Log.WarnContext(ctx, "Failed to send error response.", "error", err)
	}
}
