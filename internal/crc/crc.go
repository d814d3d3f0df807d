// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package crc implements the checksum algorithm used throughout the
// casstable table format.
//
// The algorithm is plain CRC-32 with the IEEE polynomial, matching
// java.util.zip.CRC32 used by the original Cassandra "la" format. Unlike
// leveldb-style checksums, the value is not rotated or masked.
package crc

import "hash/crc32"

// CRC is a small convenience type for computing rolling CRC-32 checksums.
type CRC uint32

// New returns the checksum of b.
func New(b []byte) CRC {
	return CRC(0).Update(b)
}

// Update returns the checksum of the data seen so far followed by b.
func (c CRC) Update(b []byte) CRC {
	return CRC(crc32.Update(uint32(c), crc32.IEEETable, b))
}

// Value returns the checksum as a uint32.
func (c CRC) Value() uint32 {
	return uint32(c)
}
