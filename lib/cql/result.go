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
	"reflect"

	"github.com/datastax/go-cassandra-native-protocol/datatype"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/gocql/gocql"
	"github.com/gravitational/trace"
)

// rowsResult drains the iterator into a protocol result message: a void
// result for statements without a result set, a rows result otherwise. Cell
// values are re-encoded into their wire representation with the driver's
// marshaller.
func rowsResult(iter *gocql.Iter) (message.Message, error) {
	columns := iter.Columns()
	if len(columns) == 0 {
		if err := iter.Close(); err != nil {
			return nil, trace.Wrap(err)
		}
		return &message.VoidResult{}, nil
	}

	metadata, err := rowsMetadata(columns)
	if err != nil {
		iter.Close()
		return nil, trace.Wrap(err)
	}

	var data message.RowSet
	for {
		rowData, err := iter.RowData()
		if err != nil {
			iter.Close()
			return nil, trace.Wrap(err)
		}
		if !iter.Scan(rowData.Values...) {
			break
		}
		row := make(message.Row, len(columns))
		for i, column := range columns {
			cell, err := gocql.Marshal(column.TypeInfo, reflect.Indirect(reflect.ValueOf(rowData.Values[i])).Interface())
			if err != nil {
				iter.Close()
				return nil, trace.Wrap(err, "encoding column %q", column.Name)
			}
			row[i] = cell
		}
		data = append(data, row)
	}
	if err := iter.Close(); err != nil {
		return nil, trace.Wrap(err)
	}

	metadata.PagingState = iter.PageState()
	return &message.RowsResult{Metadata: metadata, Data: data}, nil
}

// rowsMetadata maps driver column descriptions to protocol rows metadata.
func rowsMetadata(columns []gocql.ColumnInfo) (*message.RowsMetadata, error) {
	converted := make([]*message.ColumnMetadata, len(columns))
	for i, column := range columns {
		columnType, err := dataType(column.TypeInfo)
		if err != nil {
			return nil, trace.Wrap(err, "column %q", column.Name)
		}
		converted[i] = &message.ColumnMetadata{
			Keyspace: column.Keyspace,
			Table:    column.Table,
			Name:     column.Name,
			Index:    int32(i),
			Type:     columnType,
		}
	}
	return &message.RowsMetadata{
		ColumnCount: int32(len(converted)),
		Columns:     converted,
	}, nil
}

// dataType maps a driver type to its protocol data type. Tuples and user
// defined types are not mapped; queries selecting them fail with a server
// error rather than mislabeling the column.
func dataType(info gocql.TypeInfo) (datatype.DataType, error) {
	switch info.Type() {
	case gocql.TypeAscii:
		return datatype.Ascii, nil
	case gocql.TypeBigInt:
		return datatype.Bigint, nil
	case gocql.TypeBlob:
		return datatype.Blob, nil
	case gocql.TypeBoolean:
		return datatype.Boolean, nil
	case gocql.TypeCounter:
		return datatype.Counter, nil
	case gocql.TypeDate:
		return datatype.Date, nil
	case gocql.TypeDecimal:
		return datatype.Decimal, nil
	case gocql.TypeDouble:
		return datatype.Double, nil
	case gocql.TypeDuration:
		return datatype.Duration, nil
	case gocql.TypeFloat:
		return datatype.Float, nil
	case gocql.TypeInet:
		return datatype.Inet, nil
	case gocql.TypeInt:
		return datatype.Int, nil
	case gocql.TypeSmallInt:
		return datatype.Smallint, nil
	case gocql.TypeText, gocql.TypeVarchar:
		return datatype.Varchar, nil
	case gocql.TypeTime:
		return datatype.Time, nil
	case gocql.TypeTimestamp:
		return datatype.Timestamp, nil
	case gocql.TypeTimeUUID:
		return datatype.Timeuuid, nil
	case gocql.TypeTinyInt:
		return datatype.Tinyint, nil
	case gocql.TypeUUID:
		return datatype.Uuid, nil
	case gocql.TypeVarint:
		return datatype.Varint, nil
	case gocql.TypeList:
		collection, ok := info.(gocql.CollectionType)
		if !ok {
			return nil, trace.BadParameter("malformed list type %v", info)
		}
		elem, err := dataType(collection.Elem)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return datatype.NewList(elem), nil
	case gocql.TypeSet:
		collection, ok := info.(gocql.CollectionType)
		if !ok {
			return nil, trace.BadParameter("malformed set type %v", info)
		}
		elem, err := dataType(collection.Elem)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return datatype.NewSet(elem), nil
	case gocql.TypeMap:
		collection, ok := info.(gocql.CollectionType)
		if !ok {
			return nil, trace.BadParameter("malformed map type %v", info)
		}
		key, err := dataType(collection.Key)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		value, err := dataType(collection.Elem)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return datatype.NewMap(key, value), nil
	default:
		return nil, trace.NotImplemented("unsupported column type %v", info.Type())
	}
}
