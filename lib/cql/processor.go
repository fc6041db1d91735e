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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/gocql/gocql"
	"github.com/gravitational/trace"

	"github.com/gravitational/cqld"
	"github.com/gravitational/cqld/lib/client"
	"github.com/gravitational/cqld/lib/protocol"
)

// Processor executes exactly one call at a time to completion. The returned
// response is never nil: any processing failure is converted into a
// well-formed error response so the caller can always release the processor
// and answer the network peer.
type Processor interface {
	ProcessCall(ctx context.Context, request []byte) *frame.Frame
}

// ProcessorConfig is the query processor configuration.
type ProcessorConfig struct {
	// Session is the shared session to the backing cluster.
	Session *client.Session
	// TableCache is the shared keyspace metadata cache.
	TableCache *client.TableCache
	// Prepared is the shared prepared statement registry.
	Prepared *PreparedCache
	// Log is the logger, one is created if not set.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *ProcessorConfig) CheckAndSetDefaults() error {
	if c.Session == nil {
		return trace.BadParameter("missing parameter Session")
	}
	if c.TableCache == nil {
		return trace.BadParameter("missing parameter TableCache")
	}
	if c.Prepared == nil {
		return trace.BadParameter("missing parameter Prepared")
	}
	if c.Log == nil {
		c.Log = slog.With(cqld.ComponentKey, cqld.ComponentService)
	}
	return nil
}

// QueryProcessor executes CQL requests against the backing cluster through
// the shared session. Its codec is the per-processor execution context: it
// is owned exclusively by the in-flight call between acquisition and
// release.
type QueryProcessor struct {
	cfg   ProcessorConfig
	codec frame.Codec
}

// NewQueryProcessor returns a query processor sharing the given session and
// caches.
func NewQueryProcessor(cfg ProcessorConfig) (*QueryProcessor, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &QueryProcessor{cfg: cfg, codec: frame.NewCodec()}, nil
}

// ProcessCall decodes the serialized request and executes it. The response
// addresses the request's protocol version and stream id; a request that
// cannot be decoded is answered with a protocol error.
func (p *QueryProcessor) ProcessCall(ctx context.Context, request []byte) *frame.Frame {
	req, err := p.codec.DecodeFrame(bytes.NewReader(request))
	if err != nil {
		version, stream := protocol.RawVersionAndStream(request)
		return frame.NewFrame(version, stream, &message.ProtocolError{
			ErrorMessage: "cannot decode request frame: " + err.Error(),
		})
	}

	var response message.Message
	switch msg := req.Body.Message.(type) {
	case *message.Options:
		response = &message.Supported{
			Options: map[string][]string{
				"CQL_VERSION": {"3.4.5"},
				"COMPRESSION": {},
			},
		}
	case *message.Startup, *message.Register:
		response = &message.Ready{}
	case *message.Query:
		response = p.handleQuery(ctx, msg)
	case *message.Prepare:
		response = p.handlePrepare(ctx, msg)
	case *message.Execute:
		response = p.handleExecute(ctx, msg)
	case *message.Batch:
		response = p.handleBatch(ctx, msg)
	default:
		response = &message.ProtocolError{
			ErrorMessage: "unexpected message " + req.Header.OpCode.String(),
		}
	}

	return frame.NewFrame(req.Header.Version, req.Header.StreamId, response)
}

func (p *QueryProcessor) handleQuery(ctx context.Context, msg *message.Query) message.Message {
	if errMsg := rejectBoundValues(msg.Options); errMsg != nil {
		return errMsg
	}
	if keyspace, ok := useStatement(msg.Query); ok {
		return p.handleUse(ctx, keyspace)
	}
	return p.executeStatement(ctx, msg.Query, msg.Options)
}

func (p *QueryProcessor) handlePrepare(ctx context.Context, msg *message.Prepare) message.Message {
	if strings.Contains(msg.Query, "?") {
		return &message.Invalid{
			ErrorMessage: "prepared statements with bind variables are not supported",
		}
	}
	id := p.cfg.Prepared.Put(msg.Query)
	return &message.PreparedResult{
		PreparedQueryId:   id,
		VariablesMetadata: &message.VariablesMetadata{},
		ResultMetadata:    &message.RowsMetadata{},
	}
}

func (p *QueryProcessor) handleExecute(ctx context.Context, msg *message.Execute) message.Message {
	stmt, ok := p.cfg.Prepared.Get(msg.QueryId)
	if !ok {
		return &message.Unprepared{
			ErrorMessage: "unknown prepared statement id",
			Id:           msg.QueryId,
		}
	}
	if errMsg := rejectBoundValues(msg.Options); errMsg != nil {
		return errMsg
	}
	return p.executeStatement(ctx, stmt, msg.Options)
}

func (p *QueryProcessor) handleBatch(ctx context.Context, msg *message.Batch) message.Message {
	// Resolve every child statement before touching the session so a
	// malformed batch never reaches the cluster half-built.
	stmts := make([]string, 0, len(msg.Children))
	for _, child := range msg.Children {
		if len(child.Values) > 0 {
			return &message.Invalid{
				ErrorMessage: "batch statements with bind variables are not supported",
			}
		}
		switch {
		case child.Query != "":
			stmts = append(stmts, child.Query)
		case len(child.Id) > 0:
			stmt, ok := p.cfg.Prepared.Get(child.Id)
			if !ok {
				return &message.Unprepared{
					ErrorMessage: "unknown prepared statement id in batch",
					Id:           child.Id,
				}
			}
			stmts = append(stmts, stmt)
		default:
			return &message.ProtocolError{
				ErrorMessage: "malformed batch child statement",
			}
		}
	}

	batch := p.cfg.Session.NewBatch(gocql.BatchType(msg.Type)).WithContext(ctx)
	batch.Cons = gocql.Consistency(msg.Consistency)
	for _, stmt := range stmts {
		batch.Query(stmt)
	}
	if err := p.cfg.Session.ExecuteBatch(batch); err != nil {
		return errorMessage(err)
	}
	return &message.VoidResult{}
}

// handleUse validates the keyspace against the schema cache. Statements are
// executed through a shared session that has no per-connection keyspace, so
// USE cannot be honored; the error distinguishes a missing keyspace from the
// unsupported switch.
func (p *QueryProcessor) handleUse(ctx context.Context, keyspace string) message.Message {
	if _, err := p.cfg.TableCache.Keyspace(keyspace); err != nil {
		p.cfg.Log.DebugContext(ctx, "USE of unknown keyspace.", "keyspace", keyspace, "error", err)
		return &message.Invalid{
			ErrorMessage: "keyspace " + keyspace + " does not exist",
		}
	}
	return &message.Invalid{
		ErrorMessage: "USE is not supported, qualify table names with an explicit keyspace",
	}
}

// executeStatement runs one CQL statement via the shared session and shapes
// the result into a protocol message.
func (p *QueryProcessor) executeStatement(ctx context.Context, stmt string, opts *message.QueryOptions) message.Message {
	q := p.cfg.Session.Query(stmt).WithContext(ctx)
	if opts != nil {
		if opts.Consistency != 0 {
			q = q.Consistency(gocql.Consistency(opts.Consistency))
		}
		if opts.PageSize > 0 {
			q = q.PageSize(int(opts.PageSize))
		}
		if len(opts.PagingState) > 0 {
			q = q.PageState(opts.PagingState)
		}
	}

	iter := q.Iter()
	result, err := rowsResult(iter)
	if err != nil {
		return errorMessage(err)
	}
	if schemaChange(stmt) {
		p.cfg.TableCache.Purge()
	}
	return result
}

// schemaChange reports whether stmt alters the schema. The affected keyspace
// is not parsed out, so the whole metadata cache is refreshed.
func schemaChange(stmt string) bool {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return false
	}
	switch {
	case strings.EqualFold(fields[0], "CREATE"),
		strings.EqualFold(fields[0], "ALTER"),
		strings.EqualFold(fields[0], "DROP"):
		return true
	}
	return false
}

// rejectBoundValues refuses requests carrying bind variable values.
func rejectBoundValues(opts *message.QueryOptions) message.Message {
	if opts == nil {
		return nil
	}
	if len(opts.PositionalValues) > 0 || len(opts.NamedValues) > 0 {
		return &message.Invalid{
			ErrorMessage: "bind variables are not supported",
		}
	}
	return nil
}

// useStatement reports whether stmt is a USE statement and returns the
// target keyspace.
func useStatement(stmt string) (string, bool) {
	fields := strings.Fields(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))
	if len(fields) != 2 || !strings.EqualFold(fields[0], "USE") {
		return "", false
	}
	return strings.Trim(fields[1], `"`), true
}

// errorMessage converts a cluster-side error into a protocol error message,
// preserving the error code when the driver reports one.
func errorMessage(err error) message.Message {
	var reqErr gocql.RequestError
	if !errors.As(err, &reqErr) {
		return &message.ServerError{ErrorMessage: err.Error()}
	}
	switch primitive.ErrorCode(reqErr.Code()) {
	case primitive.ErrorCodeSyntaxError:
		return &message.SyntaxError{ErrorMessage: reqErr.Message()}
	case primitive.ErrorCodeInvalid:
		return &message.Invalid{ErrorMessage: reqErr.Message()}
	case primitive.ErrorCodeUnauthorized:
		return &message.Unauthorized{ErrorMessage: reqErr.Message()}
	case primitive.ErrorCodeOverloaded:
		return &message.Overloaded{ErrorMessage: reqErr.Message()}
	case primitive.ErrorCodeTruncateError:
		return &message.TruncateError{ErrorMessage: reqErr.Message()}
	case primitive.ErrorCodeConfigError:
		return &message.ConfigError{ErrorMessage: reqErr.Message()}
	default:
		return &message.ServerError{ErrorMessage: reqErr.Message()}
	}
}
