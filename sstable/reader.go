// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/cockroachdb/casstable/internal/base"
	"github.com/cockroachdb/pebble/vfs"
)

const (
	// Buffer size for the small metadata components.
	defaultReaderBufferSize = 4096
	// Buffer size for Data and Index streams.
	sstableBufferSize = 64 * 1024
)

// bufferUndersizeError reports a stream that ended before the requested
// number of bytes could be read. It is used every place a parser consumes a
// known quantity: anything other than the size asked for is either EOF or a
// bug, and the caller decides which (see SSTable.ReadIndexes).
type bufferUndersizeError struct {
	got, want int
}

func (e *bufferUndersizeError) Error() string {
	return fmt.Sprintf("buffer improperly sized to hold requested data. got: %d. expected: %d", e.got, e.want)
}

// randomAccessReader is the read side of the component codec: a single
// cursor with seek and read-exactly. Parsing is purely computational
// between reads.
type randomAccessReader interface {
	io.Reader
	// readExactly returns exactly n bytes, or a corruption-marked
	// bufferUndersizeError on a short read. The returned slice is only
	// valid until the next call.
	readExactly(n int) ([]byte, error)
	seek(pos uint64)
	eof() bool
}

// fileRandomAccessReader reads a component file through a re-seekable
// buffered stream. Seeking re-opens the stream at the requested position.
// The owning variant closes the file on Close; the shared variant leaves
// the file to its owner (the SSTable handle keeps one index file shared by
// all ReadIndexes cursors).
type fileRandomAccessReader struct {
	f       vfs.File
	bufSize int
	owns    bool
	pos     uint64
	rd      *bufio.Reader
	atEOF   bool
	scratch []byte
}

func newFileRandomAccessReader(f vfs.File, bufSize int) *fileRandomAccessReader {
	r := &fileRandomAccessReader{f: f, bufSize: bufSize, owns: true}
	r.seek(0)
	return r
}

func newSharedFileRandomAccessReader(f vfs.File, bufSize int) *fileRandomAccessReader {
	r := &fileRandomAccessReader{f: f, bufSize: bufSize}
	r.seek(0)
	return r
}

func (r *fileRandomAccessReader) seek(pos uint64) {
	r.pos = pos
	r.atEOF = false
	r.rd = bufio.NewReaderSize(io.NewSectionReader(r.f, int64(pos), math.MaxInt64-int64(pos)), r.bufSize)
}

func (r *fileRandomAccessReader) eof() bool {
	return r.atEOF
}

func (r *fileRandomAccessReader) Read(p []byte) (int, error) {
	n, err := r.rd.Read(p)
	if err == io.EOF {
		r.atEOF = true
	}
	return n, err
}

func (r *fileRandomAccessReader) readExactly(n int) ([]byte, error) {
	if cap(r.scratch) < n {
		r.scratch = make([]byte, n)
	}
	buf := r.scratch[:n]
	m, err := io.ReadFull(r.rd, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		r.atEOF = true
		return nil, base.MarkCorruptionError(&bufferUndersizeError{got: m, want: n})
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Close closes the underlying file for the owning variant.
func (r *fileRandomAccessReader) Close() error {
	if !r.owns {
		return nil
	}
	return r.f.Close()
}

// readFullAt reads up to len(buf) bytes at off, tolerating EOF.
func readFullAt(f vfs.File, buf []byte, off int64) (int, error) {
	n, err := f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return n, err
	}
	return n, nil
}
