package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func TestNewAndBatch(t *testing.T) {
	t.Parallel()

	x := New(2, 3, 4)
	if len(x.Data) != 24 {
		t.Fatalf("expected 24 elements, got %d", len(x.Data))
	}

	b1 := x.Batch(1)
	if len(b1) != 12 {
		t.Fatalf("expected batch view of 12 elements, got %d", len(b1))
	}
	b1[0] = 7
	if x.Data[12] != 7 {
		t.Fatalf("batch view should alias underlying data")
	}
}

func TestFromDataMismatchPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on data length mismatch")
		}
	}()
	FromData(2, 2, 2, make([]float32, 7))
}

func TestClone(t *testing.T) {
	t.Parallel()

	x := FromData(1, 2, 2, []float32{1, 2, 3, 4})
	y := x.Clone()
	y.Data[0] = 9
	if x.Data[0] != 1 {
		t.Fatalf("clone should not share storage")
	}
	if !x.SameShape(y) {
		t.Fatalf("clone should preserve shape")
	}
}

func TestFillRandnDeterministic(t *testing.T) {
	t.Parallel()

	a := New(1, 4, 8)
	b := New(1, 4, 8)
	FillRandn(a, rand.New(rand.NewSource(99)))
	FillRandn(b, rand.New(rand.NewSource(99)))
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("identical seeds diverged at %d: %v vs %v", i, a.Data[i], b.Data[i])
		}
	}
}

func TestLinComb(t *testing.T) {
	t.Parallel()

	x := FromData(1, 1, 3, []float32{1, 2, 3})
	y := FromData(1, 1, 3, []float32{4, 5, 6})
	out := LinComb(2, x, -1, y)
	want := []float32{-2, -1, 0}
	for i, v := range out.Data {
		if math.Abs(float64(v-want[i])) > 1e-6 {
			t.Fatalf("element %d: got %v, want %v", i, v, want[i])
		}
	}
	if x.Data[0] != 1 || y.Data[0] != 4 {
		t.Fatal("inputs should be untouched")
	}
}

func TestWeightedSum(t *testing.T) {
	t.Parallel()

	a := FromData(1, 1, 2, []float32{1, 1})
	b := FromData(1, 1, 2, []float32{2, 2})
	c := FromData(1, 1, 2, []float32{4, 4})
	out := WeightedSum([]float64{1, 0.5, 0.25}, []*Tensor{a, b, c})
	for i, v := range out.Data {
		if math.Abs(float64(v)-3) > 1e-6 {
			t.Fatalf("element %d: got %v, want 3", i, v)
		}
	}
}

func TestAddScaleClamp(t *testing.T) {
	t.Parallel()

	x := FromData(1, 1, 4, []float32{-3, -0.5, 0.5, 3})
	y := FromData(1, 1, 4, []float32{1, 1, 1, 1})

	Add(x, y)
	Scale(x, 0.5)
	Clamp(x, -1, 1)

	want := []float32{-1, 0.25, 0.75, 1}
	for i, v := range x.Data {
		if math.Abs(float64(v-want[i])) > 1e-6 {
			t.Fatalf("element %d: got %v, want %v", i, v, want[i])
		}
	}
}

func TestAddShapeMismatchPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on shape mismatch")
		}
	}()
	Add(New(1, 2, 3), New(1, 3, 2))
}
