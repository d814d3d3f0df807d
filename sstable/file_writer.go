// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bufio"
	"io"

	"github.com/cockroachdb/casstable/internal/crc"
	"github.com/cockroachdb/pebble/vfs"
)

// fileWriter is the write side of the component codec: buffered append with
// a monotonically increasing offset that counts bytes appended regardless
// of buffer state. close flushes, fsyncs and closes the underlying file;
// after close the writer no longer references the file.
type fileWriter interface {
	io.Writer
	offset() uint64
	flush() error
	close() error
}

type bufferedFileWriter struct {
	f   vfs.File
	w   *bufio.Writer
	off uint64
}

func newFileWriter(f vfs.File, bufSize int) *bufferedFileWriter {
	return &bufferedFileWriter{f: f, w: bufio.NewWriterSize(f, bufSize)}
}

func (w *bufferedFileWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.off += uint64(n)
	return n, err
}

func (w *bufferedFileWriter) offset() uint64 {
	return w.off
}

func (w *bufferedFileWriter) flush() error {
	return w.w.Flush()
}

func (w *bufferedFileWriter) close() error {
	if err := w.w.Flush(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return err
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// checksummedFileWriter computes a CRC-32 per fixed-size chunk plus a
// rolling checksum over the whole stream. It backs the Data file of
// uncompressed tables: the per-chunk CRCs seal into the CRC component and
// the rolling checksum into the Digest component.
type checksummedFileWriter struct {
	bufferedFileWriter
	chunkSize uint32
	chunkFill uint32
	chunkCRC  crc.CRC
	sums      []uint32
	full      crc.CRC
}

func newChecksummedFileWriter(f vfs.File, bufSize int) *checksummedFileWriter {
	return &checksummedFileWriter{
		bufferedFileWriter: bufferedFileWriter{f: f, w: bufio.NewWriterSize(f, bufSize)},
		chunkSize:          checksumChunkSize,
	}
}

func (w *checksummedFileWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		take := w.chunkSize - w.chunkFill
		if uint32(len(p)) < take {
			take = uint32(len(p))
		}
		n, err := w.bufferedFileWriter.Write(p[:take])
		written += n
		w.chunkCRC = w.chunkCRC.Update(p[:n])
		w.full = w.full.Update(p[:n])
		w.chunkFill += uint32(n)
		if err != nil {
			return written, err
		}
		if w.chunkFill == w.chunkSize {
			w.sums = append(w.sums, w.chunkCRC.Value())
			w.chunkCRC = 0
			w.chunkFill = 0
		}
		p = p[take:]
	}
	return written, nil
}

func (w *checksummedFileWriter) close() error {
	if w.chunkFill > 0 {
		w.sums = append(w.sums, w.chunkCRC.Value())
		w.chunkCRC = 0
		w.chunkFill = 0
	}
	return w.bufferedFileWriter.close()
}

// fullChecksum returns the rolling checksum over all bytes appended.
func (w *checksummedFileWriter) fullChecksum() uint32 {
	return w.full.Value()
}

// finalizeChecksum hands over the per-chunk CRCs for the CRC component.
func (w *checksummedFileWriter) finalizeChecksum() checksum {
	return checksum{chunkSize: w.chunkSize, sums: w.sums}
}
