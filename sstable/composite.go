// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import "encoding/binary"

// A composite is the length-prefixed concatenation of byte components used
// to form column names and range-tombstone bounds. Each component is
// written as a big-endian uint16 length, the component bytes, and one
// end-of-component byte. The end-of-component byte of the final component
// carries the marker.
type composite []byte

// compositeMarker is the trailing end-of-component byte of a composite.
type compositeMarker byte

const (
	markerStartRange compositeMarker = 0xff // signed -1 on disk
	markerNone       compositeMarker = 0x00
	markerEndRange   compositeMarker = 0x01
)

// compositeFromExploded builds a composite from the given components with
// the marker as the final end-of-component byte. With no components the
// result is the bare marker byte; write_column_name relies on that to
// splice the marker onto a clustering prefix.
func compositeFromExploded(components [][]byte, m compositeMarker) composite {
	if len(components) == 0 {
		return composite{byte(m)}
	}
	size := 0
	for _, c := range components {
		size += 2 + len(c) + 1
	}
	out := make(composite, 0, size)
	for _, c := range components {
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(c)))
		out = append(out, l[:]...)
		out = append(out, c...)
		out = append(out, 0)
	}
	out[len(out)-1] = byte(m)
	return out
}

// staticPrefix is the clustering prefix of static cells: the two-byte
// 0xffff static marker followed by a none end-of-component byte, so the
// usual marker-splicing rule applies to it unchanged.
func staticPrefix() composite {
	return composite{0xff, 0xff, 0x00}
}
