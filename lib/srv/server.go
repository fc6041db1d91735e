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

// Package srv implements the network front end of cqld: it accepts CQL
// client connections, performs the connection handshake and reads request
// frames, handing each one to the dispatcher on its own goroutine.
package srv

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/gravitational/trace"

	"github.com/gravitational/cqld"
	"github.com/gravitational/cqld/lib/cql"
	"github.com/gravitational/cqld/lib/protocol"
)

// Handler handles one inbound call. *cql.Service implements it.
type Handler interface {
	Handle(ctx context.Context, call cql.Call)
}

// Config is the server configuration.
type Config struct {
	// Listener accepts client connections.
	Listener net.Listener
	// Handler dispatches inbound calls.
	Handler Handler
	// Log is the logger, one is created if not set.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Listener == nil {
		return trace.BadParameter("missing parameter Listener")
	}
	if c.Handler == nil {
		return trace.BadParameter("missing parameter Handler")
	}
	if c.Log == nil {
		c.Log = slog.With(cqld.ComponentKey, cqld.ComponentServer)
	}
	return nil
}

// Server accepts CQL client connections and feeds request frames to the
// dispatcher. Each connection gets its own read goroutine and each request
// its own handler goroutine; responses for a connection are serialized by
// the protocol layer.
type Server struct {
	cfg Config

	// closeContext signals the server is closing.
	closeContext context.Context
	closeFunc    context.CancelFunc

	// activeConns tracks connection goroutines for draining on close.
	activeConns sync.WaitGroup
}

// New returns a new server.
func New(cfg Config) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	closeContext, closeFunc := context.WithCancel(context.Background())
	return &Server{
		cfg:          cfg,
		closeContext: closeContext,
		closeFunc:    closeFunc,
	}, nil
}

// Serve accepts connections until the server is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.cfg.Listener.Accept()
		if err != nil {
			select {
			case <-s.closeContext.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return trace.Wrap(err)
		}
		s.activeConns.Add(1)
		go func() {
			defer s.activeConns.Done()
			s.handleConnection(conn)
		}()
	}
}

// Close stops accepting connections and waits for connection goroutines to
// finish their reads. In-flight calls already handed to the dispatcher run
// to completion.
func (s *Server) Close() error {
	s.closeFunc()
	err := s.cfg.Listener.Close()
	s.activeConns.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return trace.Wrap(err)
}

func (s *Server) handleConnection(conn net.Conn) {
	ctx := s.closeContext
	clientConn := protocol.NewConn(conn)
	defer clientConn.Close()

	log := s.cfg.Log.With("addr", conn.RemoteAddr().String())
	log.DebugContext(ctx, "Accepted connection.")

	if err := s.handleHandshake(ctx, clientConn); err != nil {
		if !isDisconnect(err) {
			log.WarnContext(ctx, "Handshake failed.", "error", err)
		}
		return
	}

	for {
		pkt, err := clientConn.ReadPacket()
		if err != nil {
			if !isDisconnect(err) {
				log.WarnContext(ctx, "Failed to read request.", "error", err)
			}
			return
		}
		call := protocol.NewInboundCall(clientConn, pkt)
		go s.cfg.Handler.Handle(ctx, call)
	}
}

// handleHandshake drives the connection setup exchange:
//
// Client -> Server: Options
// Client <- Server: Supported
// Client -> Server: Startup
// Client <- Server: Ready
//
// Requests with an unsupported protocol version are answered with a protocol
// error naming the supported versions, mirroring what Cassandra does.
func (s *Server) handleHandshake(ctx context.Context, clientConn *protocol.Conn) error {
	for {
		pkt, err := clientConn.ReadPacket()
		if err != nil {
			return trace.Wrap(err)
		}
		if pkt.Header().Version > primitive.ProtocolVersion4 {
			err := clientConn.WriteFrame(frame.NewFrame(
				primitive.ProtocolVersion4,
				pkt.Header().StreamId,
				&message.ProtocolError{
					ErrorMessage: "Invalid or unsupported protocol version; supported versions are (3/v3, 4/v4)",
				},
			))
			if err != nil {
				return trace.Wrap(err)
			}
			continue
		}
		switch pkt.Header().OpCode {
		case primitive.OpCodeOptions:
			fr := frame.NewFrame(
				pkt.Header().Version,
				pkt.Header().StreamId,
				&message.Supported{
					Options: map[string][]string{
						"CQL_VERSION": {"3.4.5"},
						"COMPRESSION": {},
					},
				},
			)
			if err := clientConn.WriteFrame(fr); err != nil {
				return trace.Wrap(err)
			}
		case primitive.OpCodeStartup:
			fr := frame.NewFrame(
				pkt.Header().Version,
				pkt.Header().StreamId,
				&message.Ready{},
			)
			if err := clientConn.WriteFrame(fr); err != nil {
				return trace.Wrap(err)
			}
			return nil
		default:
			fr := frame.NewFrame(
				pkt.Header().Version,
				pkt.Header().StreamId,
				&message.ProtocolError{
					ErrorMessage: "unexpected message " + pkt.Header().OpCode.String() + " before STARTUP",
				},
			)
			if err := clientConn.WriteFrame(fr); err != nil {
				return trace.Wrap(err)
			}
		}
	}
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
