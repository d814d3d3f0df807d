// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/casstable/internal/base"
	"github.com/cockroachdb/casstable/internal/crc"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
)

// Compressed Data files are a sequence of chunks. Each chunk holds
// chunk_length uncompressed bytes (the last may hold fewer), stored as the
// compressed payload followed by a big-endian CRC-32 of that payload. The
// CompressionInfo component records the compressor, the chunk length, the
// total uncompressed length, the options map and the offset of every chunk,
// which is what makes random access by uncompressed position possible.
// Tables with a CompressionInfo component carry no CRC component.

// Compressor class names as recorded in the CompressionInfo component.
const (
	snappyCompressorName  = "org.apache.cassandra.io.compress.SnappyCompressor"
	deflateCompressorName = "org.apache.cassandra.io.compress.DeflateCompressor"
	lz4CompressorName     = "org.apache.cassandra.io.compress.LZ4Compressor"
)

const defaultChunkLength = 64 * 1024

type compressionOption struct {
	key   []byte
	value []byte
}

// compression is the in-memory form of the CompressionInfo component.
type compression struct {
	name     []byte
	options  []compressionOption
	chunkLen uint32
	dataLen  uint64
	offsets  []uint64

	// Runtime state, not serialized.
	compressedFileLen uint64
	full              crc.CRC
}

func (c *compression) decode(r randomAccessReader) error {
	var err error
	if c.name, err = parseDiskStringU16(r); err != nil {
		return err
	}
	n, err := parseUint32(r)
	if err != nil {
		return err
	}
	c.options = make([]compressionOption, n)
	for i := range c.options {
		if c.options[i].key, err = parseDiskStringU16(r); err != nil {
			return err
		}
		if c.options[i].value, err = parseDiskStringU16(r); err != nil {
			return err
		}
	}
	if c.chunkLen, err = parseUint32(r); err != nil {
		return err
	}
	if c.chunkLen == 0 {
		return base.CorruptionErrorf("sstable: compression chunk length is zero")
	}
	if c.dataLen, err = parseUint64(r); err != nil {
		return err
	}
	c.offsets, err = parseDiskArrayU32OfUint64(r)
	return err
}

func (c *compression) encode(w fileWriter) error {
	if err := writeDiskStringU16(w, c.name); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(c.options))); err != nil {
		return err
	}
	for _, o := range c.options {
		if err := writeDiskStringU16(w, o.key); err != nil {
			return err
		}
		if err := writeDiskStringU16(w, o.value); err != nil {
			return err
		}
	}
	if err := writeUint32(w, c.chunkLen); err != nil {
		return err
	}
	if err := writeUint64(w, c.dataLen); err != nil {
		return err
	}
	return writeDiskArrayU32OfUint64(w, c.offsets)
}

// update records the compressed file size, which the reader needs to bound
// the final chunk and the collector needs for the compression ratio.
func (c *compression) update(compressedFileLen uint64) {
	c.compressedFileLen = compressedFileLen
}

func (c *compression) compressedFileLength() uint64   { return c.compressedFileLen }
func (c *compression) uncompressedFileLength() uint64 { return c.dataLen }
func (c *compression) fullChecksum() uint32           { return c.full.Value() }

// prepareCompression configures compression from the schema parameters at
// the start of a flush.
func prepareCompression(c *compression, params CompressionParams) {
	c.name = []byte(params.Name)
	c.chunkLen = params.ChunkLength
	if c.chunkLen == 0 {
		c.chunkLen = defaultChunkLength
	}
	c.dataLen = 0
	c.offsets = nil
	// Probability of verifying the checksum of a compressed chunk on read.
	c.options = append(c.options, compressionOption{
		key:   []byte("crc_check_chance"),
		value: []byte("1.0"),
	})
	c.full = 0
}

func compressChunk(name []byte, src []byte) ([]byte, error) {
	switch string(name) {
	case snappyCompressorName:
		return snappy.Encode(nil, src), nil
	case deflateCompressorName:
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(src); err != nil {
			return nil, err
		}
		if err := fw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case lz4CompressorName:
		return nil, errors.Wrap(ErrNotImplemented, lz4CompressorName)
	default:
		return nil, base.CorruptionErrorf("sstable: unknown compressor: %s", name)
	}
}

func decompressChunk(name []byte, src []byte) ([]byte, error) {
	switch string(name) {
	case snappyCompressorName:
		return snappy.Decode(nil, src)
	case deflateCompressorName:
		fr := flate.NewReader(bytes.NewReader(src))
		defer fr.Close()
		return io.ReadAll(fr)
	case lz4CompressorName:
		return nil, errors.Wrap(ErrNotImplemented, lz4CompressorName)
	default:
		return nil, base.CorruptionErrorf("sstable: unknown compressor: %s", name)
	}
}

// compressedFileWriter interposes the block compressor between the codec
// and the Data file. Its offset is the logical, uncompressed offset: data
// offsets recorded in the Index refer to uncompressed positions. Chunk
// offsets and the rolling full checksum are fed into the compression
// metadata as chunks seal; each chunk's CRC-32 is written to the Data file
// right after its compressed payload.
type compressedFileWriter struct {
	f  vfs.File
	w  *bufio.Writer
	c  *compression
	// buf accumulates uncompressed bytes for the current chunk.
	buf        []byte
	logicalOff uint64
	fileOff    uint64
}

func newCompressedFileWriter(f vfs.File, c *compression) *compressedFileWriter {
	return &compressedFileWriter{
		f:   f,
		w:   bufio.NewWriterSize(f, sstableBufferSize),
		c:   c,
		buf: make([]byte, 0, c.chunkLen),
	}
}

func (w *compressedFileWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		take := int(w.c.chunkLen) - len(w.buf)
		if len(p) < take {
			take = len(p)
		}
		w.buf = append(w.buf, p[:take]...)
		w.logicalOff += uint64(take)
		written += take
		p = p[take:]
		if len(w.buf) == int(w.c.chunkLen) {
			if err := w.sealChunk(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (w *compressedFileWriter) sealChunk() error {
	compressed, err := compressChunk(w.c.name, w.buf)
	if err != nil {
		return err
	}
	w.c.offsets = append(w.c.offsets, w.fileOff)
	w.c.full = w.c.full.Update(compressed)
	if _, err := w.w.Write(compressed); err != nil {
		return err
	}
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.New(compressed).Value())
	if _, err := w.w.Write(sum[:]); err != nil {
		return err
	}
	w.fileOff += uint64(len(compressed)) + 4
	w.buf = w.buf[:0]
	// Keep the metadata current: the statistics collector reads the
	// compression ratio before the writer closes.
	w.c.dataLen = w.logicalOff
	w.c.update(w.fileOff)
	return nil
}

func (w *compressedFileWriter) offset() uint64 {
	return w.logicalOff
}

func (w *compressedFileWriter) flush() error {
	return w.w.Flush()
}

func (w *compressedFileWriter) close() error {
	if len(w.buf) > 0 {
		if err := w.sealChunk(); err != nil {
			return err
		}
	}
	w.c.dataLen = w.logicalOff
	w.c.update(w.fileOff)
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

// compressedFileRandomAccessReader reads a compressed Data file as its
// uncompressed byte stream, locating chunks by uncompressed position,
// verifying each chunk's trailing checksum, and decompressing on demand.
type compressedFileRandomAccessReader struct {
	f     vfs.File
	c     *compression
	pos   uint64 // uncompressed position of the next read
	chunk []byte // decompressed current chunk
	// chunkIdx is the index of the chunk held in chunk, or -1.
	chunkIdx int
	atEOF    bool
	scratch  []byte
}

func newCompressedFileRandomAccessReader(f vfs.File, c *compression) *compressedFileRandomAccessReader {
	return &compressedFileRandomAccessReader{f: f, c: c, chunkIdx: -1}
}

func (r *compressedFileRandomAccessReader) seek(pos uint64) {
	r.pos = pos
	r.atEOF = false
}

func (r *compressedFileRandomAccessReader) eof() bool {
	return r.atEOF
}

func (r *compressedFileRandomAccessReader) loadChunk(i int) error {
	if i == r.chunkIdx {
		return nil
	}
	if i >= len(r.c.offsets) {
		return errors.Newf("sstable: chunk %d out of range", i)
	}
	start := r.c.offsets[i]
	end := r.c.compressedFileLen
	if i+1 < len(r.c.offsets) {
		end = r.c.offsets[i+1]
	}
	if end < start+4 {
		return base.CorruptionErrorf("sstable: compressed chunk %d spans %d bytes", i, end-start)
	}
	buf := make([]byte, end-start)
	if _, err := r.f.ReadAt(buf, int64(start)); err != nil {
		return err
	}
	payload, sum := buf[:len(buf)-4], binary.BigEndian.Uint32(buf[len(buf)-4:])
	if actual := crc.New(payload).Value(); actual != sum {
		return base.CorruptionErrorf(
			"sstable: compressed chunk %d checksum mismatch: got 0x%08x, want 0x%08x", i, actual, sum)
	}
	chunk, err := decompressChunk(r.c.name, payload)
	if err != nil {
		return err
	}
	r.chunk = chunk
	r.chunkIdx = i
	return nil
}

func (r *compressedFileRandomAccessReader) Read(p []byte) (int, error) {
	if r.pos >= r.c.dataLen {
		r.atEOF = true
		return 0, io.EOF
	}
	if err := r.loadChunk(int(r.pos / uint64(r.c.chunkLen))); err != nil {
		return 0, err
	}
	within := int(r.pos % uint64(r.c.chunkLen))
	if within >= len(r.chunk) {
		r.atEOF = true
		return 0, io.EOF
	}
	n := copy(p, r.chunk[within:])
	r.pos += uint64(n)
	return n, nil
}

func (r *compressedFileRandomAccessReader) readExactly(n int) ([]byte, error) {
	if cap(r.scratch) < n {
		r.scratch = make([]byte, n)
	}
	buf := r.scratch[:n]
	m, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		r.atEOF = true
		return nil, base.MarkCorruptionError(&bufferUndersizeError{got: m, want: n})
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}
