package ckpt

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	json "github.com/goccy/go-json"
	"golang.org/x/sys/unix"
)

// File is an open checkpoint.  The returned file must be closed to release
// any mapping; tensor reads copy out of the mapping, so decoded slices stay
// valid afterwards.
type File struct {
	data    []byte
	meta    []byte
	entries []Entry
	byName  map[string]int
	mmapped bool
}

// Open maps a checkpoint read-only and validates its structure.  If mmap is
// unavailable, it falls back to ReadAt-based loading.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < headerSize {
		return nil, ErrCorruptFile
	}
	if size64 > int64(int(^uint(0)>>1)) {
		// cannot index this file safely as []byte on this architecture.
		return nil, ErrCorruptFile
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		cf, parseErr := parseFileData(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return cf, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parseFileData(data []byte, mmapped bool) (*File, error) {
	hdr, ok := decodeHeader(data)
	if !ok {
		return nil, ErrInvalidMagic
	}
	if hdr.FileSize != uint64(len(data)) {
		return nil, ErrCorruptFile
	}
	metaEnd := hdr.MetaOff + hdr.MetaLen
	if hdr.MetaOff < headerSize || metaEnd < hdr.MetaOff || metaEnd > uint64(len(data)) {
		return nil, ErrCorruptFile
	}
	if hdr.DirOff < metaEnd || hdr.DirOff > uint64(len(data)) {
		return nil, ErrCorruptFile
	}

	entries := make([]Entry, 0, hdr.DirCount)
	byName := make(map[string]int, hdr.DirCount)
	off := hdr.DirOff
	for i := uint64(0); i < hdr.DirCount; i++ {
		e, next, err := decodeEntry(data, off)
		if err != nil {
			return nil, fmt.Errorf("%w: directory entry %d", err, i)
		}
		end := e.Offset + 4*uint64(e.Numel())
		if end < e.Offset || end > uint64(len(data)) {
			return nil, fmt.Errorf("%w: tensor %q out of bounds", ErrCorruptFile, e.Name)
		}
		if e.Offset%dataAlign != 0 {
			return nil, fmt.Errorf("%w: tensor %q not %d-byte aligned", ErrCorruptFile, e.Name, dataAlign)
		}
		if _, dup := byName[e.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tensor %q", ErrCorruptFile, e.Name)
		}
		byName[e.Name] = len(entries)
		entries = append(entries, e)
		off = next
	}

	return &File{
		data:    data,
		meta:    data[hdr.MetaOff:metaEnd],
		entries: entries,
		byName:  byName,
		mmapped: mmapped,
	}, nil
}

func decodeEntry(data []byte, off uint64) (Entry, uint64, error) {
	var e Entry
	if off+4 > uint64(len(data)) {
		return e, 0, ErrCorruptFile
	}
	nameLen := uint64(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if nameLen == 0 || off+nameLen > uint64(len(data)) {
		return e, 0, ErrCorruptFile
	}
	e.Name = string(data[off : off+nameLen])
	off += nameLen
	if off+4 > uint64(len(data)) {
		return e, 0, ErrCorruptFile
	}
	rank := uint64(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if rank == 0 || rank > maxRank {
		return e, 0, ErrCorruptFile
	}
	if off+8*rank+8 > uint64(len(data)) {
		return e, 0, ErrCorruptFile
	}
	e.Dims = make([]int, rank)
	for i := range e.Dims {
		d := binary.LittleEndian.Uint64(data[off : off+8])
		if d > uint64(len(data)) {
			return e, 0, ErrCorruptFile
		}
		e.Dims[i] = int(d)
		off += 8
	}
	e.Offset = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	return e, off, nil
}

// Meta unmarshals the checkpoint metadata blob into v.
func (f *File) Meta(v any) error {
	return json.Unmarshal(f.meta, v)
}

// Entries lists the stored tensors in file order.
func (f *File) Entries() []Entry {
	return f.entries
}

// ReadTensor decodes the named tensor into a fresh slice.
func (f *File) ReadTensor(name string) ([]float32, []int, error) {
	idx, ok := f.byName[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrTensorNotFound, name)
	}
	e := &f.entries[idx]
	n := e.Numel()
	out := make([]float32, n)
	raw := f.data[e.Offset : e.Offset+4*uint64(n)]
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out, e.Dims, nil
}

// Close releases file resources and any mmap backing.
func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	f.meta = nil
	f.entries = nil
	f.byName = nil
	f.mmapped = false
	return err
}
