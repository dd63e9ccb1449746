package ckpt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type testMeta struct {
	Name   string `json:"name"`
	Layers int    `json:"layers"`
}

func writeTestFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mdc")

	w, err := NewWriter(path, testMeta{Name: "unit", Layers: 2})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Add("a.w", []int{2, 3}, []float32{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add("a.b", []int{2}, []float32{-1, -2}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t)
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	var meta testMeta
	if err := f.Meta(&meta); err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if meta.Name != "unit" || meta.Layers != 2 {
		t.Fatalf("unexpected meta: %+v", meta)
	}

	entries := f.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Name != "a.w" || entries[1].Name != "a.b" {
		t.Fatalf("unexpected entry order: %q, %q", entries[0].Name, entries[1].Name)
	}

	data, dims, err := f.ReadTensor("a.w")
	if err != nil {
		t.Fatalf("ReadTensor: %v", err)
	}
	if len(dims) != 2 || dims[0] != 2 || dims[1] != 3 {
		t.Fatalf("unexpected dims: %v", dims)
	}
	want := []float32{1, 2, 3, 4, 5, 6}
	for i, v := range data {
		if v != want[i] {
			t.Fatalf("element %d: got %v, want %v", i, v, want[i])
		}
	}

	if _, _, err := f.ReadTensor("missing"); !errors.Is(err, ErrTensorNotFound) {
		t.Fatalf("expected ErrTensorNotFound, got %v", err)
	}
}

func TestReadTensorSurvivesClose(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t)
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _, err := f.ReadTensor("a.b")
	if err != nil {
		t.Fatalf("ReadTensor: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if data[0] != -1 || data[1] != -2 {
		t.Fatalf("decoded data invalid after close: %v", data)
	}
}

func TestWriterValidation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.mdc")
	w, err := NewWriter(path, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Add("", []int{1}, []float32{0}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := w.Add("x", []int{2, 2}, []float32{0}); err == nil {
		t.Fatal("expected error for element count mismatch")
	}
	if err := w.Add("x", []int{1, 2, 3, 4, 5}, make([]float32, 120)); err == nil {
		t.Fatal("expected error for excessive rank")
	}
	if err := w.Add("x", []int{1}, []float32{0}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add("x", []int{1}, []float32{0}); err == nil {
		t.Fatal("expected error for duplicate name")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "garbage.mdc")
	blob := make([]byte, 256)
	for i := range blob {
		blob[i] = byte(i)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(path); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestOpenRejectsTruncated(t *testing.T) {
	t.Parallel()

	path := writeTestFile(t)
	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	short := filepath.Join(t.TempDir(), "short.mdc")
	if err := os.WriteFile(short, blob[:len(blob)-8], 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(short); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("expected ErrCorruptFile, got %v", err)
	}
}
