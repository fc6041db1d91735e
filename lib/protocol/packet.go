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

import "github.com/datastax/go-cassandra-native-protocol/frame"

// Packet is a single decoded CQL frame along with the raw wire bytes it was
// decoded from.
type Packet struct {
	raw   []byte
	frame *frame.Frame
}

// Header returns the frame header.
func (p *Packet) Header() *frame.Header {
	return p.frame.Header
}

// FrameBody returns the frame body.
func (p *Packet) FrameBody() *frame.Body {
	return p.frame.Body
}

// Frame returns the decoded frame.
func (p *Packet) Frame() *frame.Frame {
	return p.frame
}

// Raw returns the raw wire bytes of the frame, header included.
func (p *Packet) Raw() []byte {
	return p.raw
}
