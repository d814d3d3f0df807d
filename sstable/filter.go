// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import "github.com/cockroachdb/casstable/bloom"

// filterComponent adapts the bloom filter's self-describing serialization
// to the component codec.
type filterComponent struct {
	filter *bloom.Filter
}

func (f *filterComponent) decode(r randomAccessReader) error {
	flt, err := bloom.Decode(r)
	if err != nil {
		return err
	}
	f.filter = flt
	return nil
}

func (f *filterComponent) encode(w fileWriter) error {
	return f.filter.Encode(w)
}
