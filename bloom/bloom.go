// Copyright 2013 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package bloom implements the partition-key Bloom filter backing the
// Filter.db table component.
//
// The on-disk framing matches the "la" format: a big-endian uint32 hash
// count followed by a length-prefixed array of big-endian uint64 bitset
// words. The filter is self-describing; readers need no sizing parameters
// beyond the serialized bytes.
package bloom

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// Filter is an in-memory Bloom filter over partition keys.
//
// Probing uses double hashing over two xxhash64 values: probe i tests bit
// (h1 + i*h2) mod nbits. Note that probe placement is therefore not
// bit-compatible with filters produced by Cassandra's murmur3-based
// implementation, though the serialized framing is identical.
type Filter struct {
	hashes uint32
	words  []uint64
}

// NewFilter sizes a filter for the expected number of keys and the target
// false-positive chance. fpChance must be in (0, 1); a chance of 1.0 means
// the table carries no filter and is the caller's case to handle.
func NewFilter(expectedKeys uint64, fpChance float64) *Filter {
	if expectedKeys == 0 {
		expectedKeys = 1
	}
	if fpChance <= 0 || fpChance >= 1 {
		fpChance = 0.01
	}
	n := float64(expectedKeys)
	bits := math.Ceil(n * -math.Log(fpChance) / (math.Ln2 * math.Ln2))
	nwords := uint64(math.Ceil(bits / 64))
	if nwords == 0 {
		nwords = 1
	}
	hashes := uint32(math.Round(bits / n * math.Ln2))
	if hashes < 1 {
		hashes = 1
	}
	return &Filter{
		hashes: hashes,
		words:  make([]uint64, nwords),
	}
}

func (f *Filter) probe(key []byte) (h1, h2 uint64) {
	h1 = xxhash.Sum64(key)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], h1)
	h2 = xxhash.Sum64(b[:])
	return h1, h2
}

// Add inserts a key into the filter.
func (f *Filter) Add(key []byte) {
	h1, h2 := f.probe(key)
	nbits := uint64(len(f.words)) * 64
	for i := uint32(0); i < f.hashes; i++ {
		bit := (h1 + uint64(i)*h2) % nbits
		f.words[bit/64] |= 1 << (bit % 64)
	}
}

// MayContain reports whether the key may have been added to the filter.
// False positives are possible; false negatives are not.
func (f *Filter) MayContain(key []byte) bool {
	h1, h2 := f.probe(key)
	nbits := uint64(len(f.words)) * 64
	for i := uint32(0); i < f.hashes; i++ {
		bit := (h1 + uint64(i)*h2) % nbits
		if f.words[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// BitsetWords returns the number of 64-bit words backing the filter.
func (f *Filter) BitsetWords() int {
	return len(f.words)
}

// Encode writes the filter in its on-disk form.
func (f *Filter) Encode(w io.Writer) error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], f.hashes)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(f.words)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	buf := make([]byte, 8*len(f.words))
	for i, word := range f.words {
		binary.BigEndian.PutUint64(buf[i*8:], word)
	}
	_, err := w.Write(buf)
	return err
}

// Decode reads a filter in its on-disk form.
func Decode(r io.Reader) (*Filter, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	hashes := binary.BigEndian.Uint32(hdr[0:4])
	nwords := binary.BigEndian.Uint32(hdr[4:8])
	if hashes == 0 || nwords == 0 {
		return nil, errors.Newf("bloom: invalid filter header: hashes=%d words=%d", hashes, nwords)
	}
	buf := make([]byte, 8*int(nwords))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	f := &Filter{
		hashes: hashes,
		words:  make([]uint64, nwords),
	}
	for i := range f.words {
		f.words[i] = binary.BigEndian.Uint64(buf[i*8:])
	}
	return f, nil
}
