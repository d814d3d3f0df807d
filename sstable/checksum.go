// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

// The CRC component of an uncompressed table: the chunk length followed by
// a packed array of per-chunk CRC-32 values, one per Data file chunk. There
// is no count prefix; readers consume values to end of file.
//
// The Digest component stores the rolling checksum of the whole Data file
// as decimal ASCII with no trailing newline.

// checksumChunkSize is the chunk length used by the checksummed Data
// writer. Matches the Data stream buffer size.
const checksumChunkSize = 64 * 1024

type checksum struct {
	chunkSize uint32
	sums      []uint32
}

func (c *checksum) decode(r randomAccessReader) error {
	var err error
	if c.chunkSize, err = parseUint32(r); err != nil {
		return err
	}
	c.sums = c.sums[:0]
	for {
		v, err := parseUint32(r)
		if err != nil {
			if r.eof() {
				return nil
			}
			return err
		}
		c.sums = append(c.sums, v)
	}
}

func (c *checksum) encode(w fileWriter) error {
	if err := writeUint32(w, c.chunkSize); err != nil {
		return err
	}
	return writePackedUint32(w, c.sums)
}
