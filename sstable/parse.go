// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
)

// Codec primitives for the component files.
//
// All integers, enums and booleans are big-endian on disk. IEEE-754 doubles
// are written as the big-endian encoding of their bit pattern. Characters of
// a disk string follow a big-endian length prefix of the indicated width.
// The one exception to big-endian encoding is the Summary component, whose
// positions block and entry tails are in native byte order; see summary.go.
//
// Each composite record type carries its own decode/encode pair so that the
// field order is visible in one place. The primitives below fail with a
// corruption-marked error when the stream is short, and with ErrOverflow
// when a value does not fit its on-disk width.

// ErrOverflow is returned when a length does not fit in the width of its
// on-disk size prefix.
var ErrOverflow = errors.New("casstable: value does not fit in target width")

func parseUint8(r randomAccessReader) (uint8, error) {
	buf, err := r.readExactly(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func parseUint16(r randomAccessReader) (uint16, error) {
	buf, err := r.readExactly(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

func parseUint32(r randomAccessReader) (uint32, error) {
	buf, err := r.readExactly(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

func parseUint64(r randomAccessReader) (uint64, error) {
	buf, err := r.readExactly(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf), nil
}

func parseInt32(r randomAccessReader) (int32, error) {
	v, err := parseUint32(r)
	return int32(v), err
}

func parseInt64(r randomAccessReader) (int64, error) {
	v, err := parseUint64(r)
	return int64(v), err
}

func parseBool(r randomAccessReader) (bool, error) {
	v, err := parseUint8(r)
	return v != 0, err
}

func parseDouble(r randomAccessReader) (float64, error) {
	v, err := parseUint64(r)
	return math.Float64frombits(v), err
}

func parseBytes(r randomAccessReader, n int) ([]byte, error) {
	buf, err := r.readExactly(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf)
	return out, nil
}

// parseDiskStringU16 parses a disk_string<uint16>.
func parseDiskStringU16(r randomAccessReader) ([]byte, error) {
	n, err := parseUint16(r)
	if err != nil {
		return nil, err
	}
	return parseBytes(r, int(n))
}

// parseDiskStringU32 parses a disk_string<uint32>.
func parseDiskStringU32(r randomAccessReader) ([]byte, error) {
	n, err := parseUint32(r)
	if err != nil {
		return nil, err
	}
	return parseBytes(r, int(n))
}

// parsePackedUint32 parses count big-endian uint32 values with no length
// prefix.
func parsePackedUint32(r randomAccessReader, count int) ([]uint32, error) {
	buf, err := r.readExactly(4 * count)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, count)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(buf[4*i:])
	}
	return out, nil
}

// parsePackedUint64 parses count big-endian uint64 values with no length
// prefix.
func parsePackedUint64(r randomAccessReader, count int) ([]uint64, error) {
	buf, err := r.readExactly(8 * count)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, count)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(buf[8*i:])
	}
	return out, nil
}

// parseDiskArrayU32OfUint32 parses a disk_array<uint32, uint32>.
func parseDiskArrayU32OfUint32(r randomAccessReader) ([]uint32, error) {
	n, err := parseUint32(r)
	if err != nil {
		return nil, err
	}
	return parsePackedUint32(r, int(n))
}

// parseDiskArrayU32OfUint64 parses a disk_array<uint32, uint64>.
func parseDiskArrayU32OfUint64(r randomAccessReader) ([]uint64, error) {
	n, err := parseUint32(r)
	if err != nil {
		return nil, err
	}
	return parsePackedUint64(r, int(n))
}

// parseDiskArrayU32OfUint8 parses a disk_array<uint32, uint8>.
func parseDiskArrayU32OfUint8(r randomAccessReader) ([]byte, error) {
	n, err := parseUint32(r)
	if err != nil {
		return nil, err
	}
	return parseBytes(r, int(n))
}

// parseDiskArrayU32OfStringU16 parses a disk_array<uint32,
// disk_string<uint16>>. Elements have no fixed width, so each is parsed
// through its own codec.
func parseDiskArrayU32OfStringU16(r randomAccessReader) ([][]byte, error) {
	n, err := parseUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, n)
	for i := range out {
		if out[i], err = parseDiskStringU16(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeUint8(w fileWriter, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func writeUint16(w fileWriter, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeUint32(w fileWriter, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeUint64(w fileWriter, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeInt32(w fileWriter, v int32) error {
	return writeUint32(w, uint32(v))
}

func writeInt64(w fileWriter, v int64) error {
	return writeUint64(w, uint64(v))
}

func writeBool(w fileWriter, v bool) error {
	var b uint8
	if v {
		b = 1
	}
	return writeUint8(w, b)
}

func writeDouble(w fileWriter, v float64) error {
	return writeUint64(w, math.Float64bits(v))
}

// writeDiskStringU16 writes a disk_string<uint16>.
func writeDiskStringU16(w fileWriter, b []byte) error {
	if len(b) > math.MaxUint16 {
		return errors.Wrapf(ErrOverflow, "string of length %d", len(b))
	}
	if err := writeUint16(w, uint16(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// writeDiskStringU32 writes a disk_string<uint32>.
func writeDiskStringU32(w fileWriter, b []byte) error {
	if uint64(len(b)) > math.MaxUint32 {
		return errors.Wrapf(ErrOverflow, "string of length %d", len(b))
	}
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// writePackedUint32 writes big-endian uint32 values with no length prefix.
func writePackedUint32(w fileWriter, vals []uint32) error {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint32(buf[4*i:], v)
	}
	_, err := w.Write(buf)
	return err
}

// writePackedUint64 writes big-endian uint64 values with no length prefix.
func writePackedUint64(w fileWriter, vals []uint64) error {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint64(buf[8*i:], v)
	}
	_, err := w.Write(buf)
	return err
}

func writeDiskArrayU32OfUint32(w fileWriter, vals []uint32) error {
	if uint64(len(vals)) > math.MaxUint32 {
		return errors.Wrapf(ErrOverflow, "array of length %d", len(vals))
	}
	if err := writeUint32(w, uint32(len(vals))); err != nil {
		return err
	}
	return writePackedUint32(w, vals)
}

func writeDiskArrayU32OfUint64(w fileWriter, vals []uint64) error {
	if uint64(len(vals)) > math.MaxUint32 {
		return errors.Wrapf(ErrOverflow, "array of length %d", len(vals))
	}
	if err := writeUint32(w, uint32(len(vals))); err != nil {
		return err
	}
	return writePackedUint64(w, vals)
}

func writeDiskArrayU32OfUint8(w fileWriter, vals []byte) error {
	if uint64(len(vals)) > math.MaxUint32 {
		return errors.Wrapf(ErrOverflow, "array of length %d", len(vals))
	}
	if err := writeUint32(w, uint32(len(vals))); err != nil {
		return err
	}
	_, err := w.Write(vals)
	return err
}

func writeDiskArrayU32OfStringU16(w fileWriter, vals [][]byte) error {
	if uint64(len(vals)) > math.MaxUint32 {
		return errors.Wrapf(ErrOverflow, "array of length %d", len(vals))
	}
	if err := writeUint32(w, uint32(len(vals))); err != nil {
		return err
	}
	for _, v := range vals {
		if err := writeDiskStringU16(w, v); err != nil {
			return err
		}
	}
	return nil
}
