package tensor

import "math/rand"

// Tensor is a dense row-major (batch, channels, frames) float32 array.
//
// B, C and T are the batch size, channel count and frame count.  Data holds
// the flattened values with the frame index varying fastest.  Tensor does not
// perform any memory safety beyond the checks performed by Go's slice types;
// out-of-range indices will panic.
type Tensor struct {
	B, C, T int
	Data    []float32
}

// New allocates a zero-initialised tensor with the given shape.
func New(b, c, t int) *Tensor {
	if b < 0 || c < 0 || t < 0 {
		panic("negative dimension for tensor")
	}
	return &Tensor{
		B:    b,
		C:    c,
		T:    t,
		Data: make([]float32, b*c*t),
	}
}

// FromData creates a tensor backed by existing data.
// It checks that the data length matches b*c*t.
func FromData(b, c, t int, data []float32) *Tensor {
	if b*c*t != len(data) {
		panic("data length mismatch")
	}
	return &Tensor{B: b, C: c, T: t, Data: data}
}

// Clone returns a deep copy.
func (x *Tensor) Clone() *Tensor {
	out := &Tensor{B: x.B, C: x.C, T: x.T, Data: make([]float32, len(x.Data))}
	copy(out.Data, x.Data)
	return out
}

// Batch returns a view of the i-th batch element as a flat [C*T] slice.
// Modifications to the returned slice update the underlying tensor values.
func (x *Tensor) Batch(i int) []float32 {
	if i < 0 || i >= x.B {
		panic("batch index out of range")
	}
	n := x.C * x.T
	return x.Data[i*n : (i+1)*n]
}

// SameShape reports whether x and y have identical dimensions.
func (x *Tensor) SameShape(y *Tensor) bool {
	return x.B == y.B && x.C == y.C && x.T == y.T
}

// FillRandn fills the tensor with standard gaussian values drawn from rng.
// Multiple calls with an identically seeded rng produce identical tensors.
func FillRandn(x *Tensor, rng *rand.Rand) {
	for i := range x.Data {
		x.Data[i] = float32(rng.NormFloat64())
	}
}
