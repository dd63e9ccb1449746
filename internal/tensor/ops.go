package tensor

// Add adds src to dst element-wise.  Shapes must match.
func Add(dst, src *Tensor) {
	if !dst.SameShape(src) {
		panic("shape mismatch in Add")
	}
	for i := range dst.Data {
		dst.Data[i] += src.Data[i]
	}
}

// Scale multiplies every element of x by s in place.
func Scale(x *Tensor, s float64) {
	f := float32(s)
	for i := range x.Data {
		x.Data[i] *= f
	}
}

// LinComb returns a*x + b*y as a new tensor.  Shapes must match.
func LinComb(a float64, x *Tensor, b float64, y *Tensor) *Tensor {
	if !x.SameShape(y) {
		panic("shape mismatch in LinComb")
	}
	out := New(x.B, x.C, x.T)
	fa, fb := float32(a), float32(b)
	for i := range out.Data {
		out.Data[i] = fa*x.Data[i] + fb*y.Data[i]
	}
	return out
}

// WeightedSum returns sum_i coefs[i]*xs[i] as a new tensor.  All tensors must
// share one shape and len(coefs) must equal len(xs).
func WeightedSum(coefs []float64, xs []*Tensor) *Tensor {
	if len(coefs) != len(xs) || len(xs) == 0 {
		panic("coefficient count mismatch in WeightedSum")
	}
	out := New(xs[0].B, xs[0].C, xs[0].T)
	for j, x := range xs {
		if !x.SameShape(xs[0]) {
			panic("shape mismatch in WeightedSum")
		}
		f := float32(coefs[j])
		for i := range out.Data {
			out.Data[i] += f * x.Data[i]
		}
	}
	return out
}

// Clamp limits every element of x to [lo, hi] in place.
func Clamp(x *Tensor, lo, hi float64) {
	flo, fhi := float32(lo), float32(hi)
	for i, v := range x.Data {
		if v < flo {
			x.Data[i] = flo
		} else if v > fhi {
			x.Data[i] = fhi
		}
	}
}
