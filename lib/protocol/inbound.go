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

package protocol

import (
	"bytes"
	"sync/atomic"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/gravitational/trace"
)

// InboundCall is one client request read off a connection, requiring exactly
// one response. The call owns a response buffer the dispatcher serializes
// into; handing the buffer to the connection acknowledges delivery.
type InboundCall struct {
	pkt  *Packet
	conn *Conn

	// respBuf holds the serialized response before it is written out.
	respBuf bytes.Buffer
	// responded flips when the response has been sent. A second response
	// for the same call is a programming error.
	responded atomic.Bool
}

// NewInboundCall returns an inbound call for the given request packet.
func NewInboundCall(conn *Conn, pkt *Packet) *InboundCall {
	return &InboundCall{pkt: pkt, conn: conn}
}

// SerializedRequest returns the raw wire bytes of the request frame.
func (c *InboundCall) SerializedRequest() []byte {
	return c.pkt.Raw()
}

// Header returns the request frame header.
func (c *InboundCall) Header() *frame.Header {
	return c.pkt.Header()
}

// WriteResponse serializes the response frame into the call's response
// buffer and hands it to the connection. It must be called exactly once per
// call; a second invocation panics because it means the dispatch pipeline
// violated the one-response-per-call invariant.
func (c *InboundCall) WriteResponse(fr *frame.Frame) error {
	if !c.responded.CompareAndSwap(false, true) {
		panic("protocol: second response for inbound call")
	}
	if err := c.conn.codec.EncodeFrame(fr, &c.respBuf); err != nil {
		return trace.Wrap(err)
	}
	if _, err := c.conn.Write(c.respBuf.Bytes()); err != nil {
		return trace.Wrap(err)
	}
	return nil
}
