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

// Package protocol implements the CQL native protocol framing layer used by
// the cqld front end: reading request packets off a client connection,
// writing response frames back, and tracking the exactly-once response
// contract for each inbound call.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/gravitational/trace"
)

// Conn wraps a client network connection with the CQL native protocol frame
// codec. Reads happen from a single connection goroutine; writes are
// synchronized because responses for a multiplexed connection are sent from
// concurrent call handlers.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	codec  frame.Codec

	// wLock serializes writes so concurrently handled streams don't
	// interleave partial frames.
	wLock sync.Mutex
}

// NewConn returns a new CQL protocol connection wrapping conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		codec:  frame.NewCodec(),
	}
}

// ReadPacket reads and decodes a single frame from the connection. The raw
// wire bytes of the frame are retained so the request can be handed to a
// processor in serialized form.
func (c *Conn) ReadPacket() (*Packet, error) {
	var raw bytes.Buffer
	fr, err := c.codec.DecodeFrame(io.TeeReader(c.reader, &raw))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Packet{raw: raw.Bytes(), frame: fr}, nil
}

// WriteFrame encodes and writes the frame to the connection.
func (c *Conn) WriteFrame(fr *frame.Frame) error {
	var buf bytes.Buffer
	if err := c.codec.EncodeFrame(fr, &buf); err != nil {
		return trace.Wrap(err)
	}
	if _, err := c.Write(buf.Bytes()); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// Write writes raw bytes to the connection under the write lock.
func (c *Conn) Write(p []byte) (int, error) {
	c.wLock.Lock()
	defer c.wLock.Unlock()
	n, err := c.conn.Write(p)
	if err != nil {
		return n, trace.ConvertSystemError(err)
	}
	return n, nil
}

// Close closes the underlying network connection.
func (c *Conn) Close() error {
	return trace.Wrap(c.conn.Close())
}

// RemoteAddr returns the client address of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// rawHeaderSize is the fixed CQL frame header size: version, flags, stream
// id, opcode and body length.
const rawHeaderSize = 9

// RawVersionAndStream extracts the protocol version and stream id from the
// raw bytes of a request frame without decoding it. It is used to address an
// error response at a request that could not be decoded. When the bytes are
// too short to carry a header, the highest supported version and stream 0
// are returned.
func RawVersionAndStream(raw []byte) (primitive.ProtocolVersion, int16) {
	if len(raw) < rawHeaderSize {
		return primitive.ProtocolVersion4, 0
	}
	version := primitive.ProtocolVersion(raw[0] &^ 0b1000_0000)
	if version < primitive.ProtocolVersion3 || version > primitive.ProtocolVersion4 {
		version = primitive.ProtocolVersion4
	}
	stream := int16(binary.BigEndian.Uint16(raw[2:4]))
	return version, stream
}
