// Package ckpt implements the meldiff checkpoint container: a flat file of
// named float32 tensors with a JSON metadata blob, readable zero-copy via
// mmap.
//
// Layout (all integers little-endian):
//
//	header   magic "MDC1", version, meta offset/length, directory
//	         offset/count, file size
//	meta     raw JSON bytes
//	dir      per tensor: name length, name, rank, dims, payload offset
//	payload  float32 data, each tensor 64-byte aligned
package ckpt

import (
	"encoding/binary"
	"errors"
)

var (
	ErrCorruptFile        = errors.New("ckpt: corrupt file")
	ErrInvalidMagic       = errors.New("ckpt: invalid magic")
	ErrUnsupportedVersion = errors.New("ckpt: unsupported version")
	ErrTensorNotFound     = errors.New("ckpt: tensor not found")
)

const (
	magic      = "MDC1"
	version    = 1
	headerSize = 56
	dataAlign  = 64
	maxRank    = 4
)

type header struct {
	MetaOff  uint64
	MetaLen  uint64
	DirOff   uint64
	DirCount uint64
	FileSize uint64
}

func decodeHeader(b []byte) (header, bool) {
	var h header
	if len(b) < headerSize {
		return h, false
	}
	if string(b[:4]) != magic {
		return h, false
	}
	if binary.LittleEndian.Uint32(b[4:8]) != version {
		return h, false
	}
	h.MetaOff = binary.LittleEndian.Uint64(b[8:16])
	h.MetaLen = binary.LittleEndian.Uint64(b[16:24])
	h.DirOff = binary.LittleEndian.Uint64(b[24:32])
	h.DirCount = binary.LittleEndian.Uint64(b[32:40])
	h.FileSize = binary.LittleEndian.Uint64(b[40:48])
	return h, true
}

func encodeHeader(h header) []byte {
	b := make([]byte, headerSize)
	copy(b[:4], magic)
	binary.LittleEndian.PutUint32(b[4:8], version)
	binary.LittleEndian.PutUint64(b[8:16], h.MetaOff)
	binary.LittleEndian.PutUint64(b[16:24], h.MetaLen)
	binary.LittleEndian.PutUint64(b[24:32], h.DirOff)
	binary.LittleEndian.PutUint64(b[32:40], h.DirCount)
	binary.LittleEndian.PutUint64(b[40:48], h.FileSize)
	return b
}

// Entry describes one stored tensor.
type Entry struct {
	Name   string
	Dims   []int
	Offset uint64
}

// Numel returns the element count implied by Dims.
func (e *Entry) Numel() int {
	n := 1
	for _, d := range e.Dims {
		n *= d
	}
	return n
}

func align(off uint64) uint64 {
	if rem := off % dataAlign; rem != 0 {
		return off + dataAlign - rem
	}
	return off
}
