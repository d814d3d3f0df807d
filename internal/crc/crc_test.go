// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package crc

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCRCMatchesStdlib(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	require.Equal(t, crc32.ChecksumIEEE(data), New(data).Value())
}

func TestCRCRolling(t *testing.T) {
	data := []byte("0123456789abcdef")
	rolling := CRC(0)
	for i := range data {
		rolling = rolling.Update(data[i : i+1])
	}
	require.Equal(t, New(data).Value(), rolling.Value())
}
