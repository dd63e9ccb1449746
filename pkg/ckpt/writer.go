package ckpt

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	json "github.com/goccy/go-json"
)

// Writer accumulates tensors and writes the container in one pass on Close.
type Writer struct {
	path    string
	meta    []byte
	names   map[string]struct{}
	entries []Entry
	payload [][]float32
}

// NewWriter starts a checkpoint at path with the given metadata value, which
// is marshalled to JSON.
func NewWriter(path string, meta any) (*Writer, error) {
	blob, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("ckpt: marshal meta: %w", err)
	}
	return &Writer{
		path:  path,
		meta:  blob,
		names: make(map[string]struct{}),
	}, nil
}

// Add stages a named tensor.  The data slice is retained until Close.
func (w *Writer) Add(name string, dims []int, data []float32) error {
	if name == "" {
		return fmt.Errorf("ckpt: empty tensor name")
	}
	if len(dims) == 0 || len(dims) > maxRank {
		return fmt.Errorf("ckpt: tensor %q rank %d outside [1, %d]", name, len(dims), maxRank)
	}
	n := 1
	for _, d := range dims {
		if d <= 0 {
			return fmt.Errorf("ckpt: tensor %q has non-positive dim %d", name, d)
		}
		n *= d
	}
	if n != len(data) {
		return fmt.Errorf("ckpt: tensor %q dims imply %d elements, data has %d", name, n, len(data))
	}
	if _, dup := w.names[name]; dup {
		return fmt.Errorf("ckpt: duplicate tensor %q", name)
	}
	w.names[name] = struct{}{}
	w.entries = append(w.entries, Entry{Name: name, Dims: append([]int(nil), dims...)})
	w.payload = append(w.payload, data)
	return nil
}

// Close computes the layout and writes the file.
func (w *Writer) Close() error {
	dirOff := align(headerSize + uint64(len(w.meta)))
	dirSize := uint64(0)
	for i := range w.entries {
		dirSize += 4 + uint64(len(w.entries[i].Name)) + 4 + 8*uint64(len(w.entries[i].Dims)) + 8
	}

	off := align(dirOff + dirSize)
	for i := range w.entries {
		w.entries[i].Offset = off
		off = align(off + 4*uint64(w.entries[i].Numel()))
	}
	fileSize := off

	f, err := os.Create(w.path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)

	hdr := header{
		MetaOff:  headerSize,
		MetaLen:  uint64(len(w.meta)),
		DirOff:   dirOff,
		DirCount: uint64(len(w.entries)),
		FileSize: fileSize,
	}
	pos := uint64(0)
	write := func(b []byte) {
		if err == nil {
			_, err = bw.Write(b)
			pos += uint64(len(b))
		}
	}
	pad := func(to uint64) {
		for err == nil && pos < to {
			n := min(to-pos, uint64(len(zeros)))
			write(zeros[:n])
		}
	}

	write(encodeHeader(hdr))
	write(w.meta)
	pad(dirOff)
	var scratch [8]byte
	for i := range w.entries {
		e := &w.entries[i]
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(e.Name)))
		write(scratch[:4])
		write([]byte(e.Name))
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(e.Dims)))
		write(scratch[:4])
		for _, d := range e.Dims {
			binary.LittleEndian.PutUint64(scratch[:], uint64(d))
			write(scratch[:])
		}
		binary.LittleEndian.PutUint64(scratch[:], e.Offset)
		write(scratch[:])
	}
	for i := range w.entries {
		pad(w.entries[i].Offset)
		for _, v := range w.payload[i] {
			binary.LittleEndian.PutUint32(scratch[:4], math.Float32bits(v))
			write(scratch[:4])
		}
	}
	pad(fileSize)

	if err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var zeros [dataAlign]byte
