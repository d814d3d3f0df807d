// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import "math"

// This file defines the contracts the flush path consumes: the mutation
// stream that yields partitions in partitioner order and the schema that
// supplies column definitions and table parameters. The engine does not
// interpret key or value bytes beyond ordering-by-contract; partition keys,
// clustering components and cell values arrive already serialized.

// MissingTimestamp marks a clustered row without a row marker.
const MissingTimestamp = math.MinInt64

// ColumnID identifies a column within its kind (static or regular).
type ColumnID uint32

// Tombstone records a deletion: the write timestamp and the local deletion
// time in seconds since the epoch.
type Tombstone struct {
	Timestamp    int64
	DeletionTime int32
}

// CellKind selects the atomic cell variant.
type CellKind uint8

const (
	// CellLive is a regular written value.
	CellLive CellKind = iota
	// CellDeleted is a cell-level tombstone.
	CellDeleted
	// CellExpiring is a live value with a TTL.
	CellExpiring
	// CellCounter is reserved; the writer surfaces it as not implemented.
	CellCounter
)

// AtomicCell is a single column value. Which fields are meaningful depends
// on Kind: Value for live and expiring cells, TTL and Expiry for expiring
// cells, DeletionTime for deleted cells.
type AtomicCell struct {
	Kind         CellKind
	Timestamp    int64
	Value        []byte
	TTL          uint32
	Expiry       int32
	DeletionTime int32
}

// CollectionCell is one element of a collection: the element key and its
// cell.
type CollectionCell struct {
	Key  []byte
	Cell AtomicCell
}

// CollectionMutation is the non-atomic cell variant: an optional tombstone
// over the whole collection plus the element cells in element-key order.
type CollectionMutation struct {
	Tombstone *Tombstone
	Cells     []CollectionCell
}

// ColumnCell pairs a column id with exactly one of an atomic cell or a
// collection mutation.
type ColumnCell struct {
	ID         ColumnID
	Atomic     *AtomicCell
	Collection *CollectionMutation
}

// Row is a clustered row: its clustering key components, an optional row
// marker timestamp (MissingTimestamp when absent), an optional row-level
// tombstone (not supported by the writer), and cells in column-id order.
type Row struct {
	ClusteringKey [][]byte
	CreatedAt     int64
	DeletedAt     *Tombstone
	Cells         []ColumnCell
}

// RangeTombstone deletes a clustering prefix.
type RangeTombstone struct {
	Prefix    [][]byte
	Tombstone Tombstone
}

// Partition is one unit of the mutation stream: a partition key, an
// optional partition-level tombstone, the static row, prefix-level range
// tombstones, and clustered rows in clustering order.
type Partition struct {
	Key             []byte
	Tombstone       *Tombstone
	StaticRow       []ColumnCell
	RangeTombstones []RangeTombstone
	Rows            []Row
}

// MutationReader yields partitions in partitioner order. It returns
// (nil, nil) when the stream is exhausted.
type MutationReader interface {
	Next() (*Partition, error)
}

// ColumnDefinition describes one column of the schema.
type ColumnDefinition struct {
	Name []byte
}

// CompressionParams selects the block compressor for the Data file. An
// empty Name disables compression (the table gets a CRC component
// instead). ChunkLength zero means the default.
type CompressionParams struct {
	Name        string
	ChunkLength uint32
}

// Schema supplies everything the writer needs to know about the table
// being flushed.
type Schema interface {
	// IsCompound reports whether column names are composites of the
	// clustering key and the column name.
	IsCompound() bool
	StaticColumn(id ColumnID) ColumnDefinition
	RegularColumn(id ColumnID) ColumnDefinition
	CompressionParams() CompressionParams
	// BloomFilterFPChance returns the filter's target false positive
	// chance; 1.0 disables the filter component.
	BloomFilterFPChance() float64
	PartitionerName() string
}
