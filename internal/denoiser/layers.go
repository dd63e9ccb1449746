package denoiser

import (
	"math"
	"math/rand"
)

// linear is a dense y = Wx + b layer over [in] -> [out] vectors.
type linear struct {
	in, out int
	w       []float32 // [out*in]
	b       []float32 // [out]
}

func newLinear(in, out int, rng *rand.Rand) *linear {
	l := &linear{
		in:  in,
		out: out,
		w:   make([]float32, out*in),
		b:   make([]float32, out),
	}
	fillUniform(l.w, 1/math.Sqrt(float64(in)), rng)
	return l
}

func (l *linear) forward(dst, src []float32) {
	for o := 0; o < l.out; o++ {
		row := l.w[o*l.in : (o+1)*l.in]
		var sum float32
		for i, v := range src {
			sum += row[i] * v
		}
		dst[o] = sum + l.b[o]
	}
}

// conv1d is a same-padded dilated 1-D convolution over [in*frames] channel-major
// buffers.  bias may be nil.
type conv1d struct {
	in, out  int
	kernel   int
	dilation int
	w        []float32 // [out*in*kernel]
	b        []float32 // [out], nil for bias-free convs
}

func newConv1d(in, out, kernel, dilation int, bias bool, rng *rand.Rand) *conv1d {
	c := &conv1d{
		in:       in,
		out:      out,
		kernel:   kernel,
		dilation: dilation,
		w:        make([]float32, out*in*kernel),
	}
	if bias {
		c.b = make([]float32, out)
	}
	fillUniform(c.w, 1/math.Sqrt(float64(in*kernel)), rng)
	return c
}

func (c *conv1d) forward(dst, src []float32, frames int) {
	center := c.kernel / 2
	for o := 0; o < c.out; o++ {
		out := dst[o*frames : (o+1)*frames]
		var bias float32
		if c.b != nil {
			bias = c.b[o]
		}
		for t := 0; t < frames; t++ {
			sum := bias
			for i := 0; i < c.in; i++ {
				row := c.w[(o*c.in+i)*c.kernel : (o*c.in+i+1)*c.kernel]
				in := src[i*frames : (i+1)*frames]
				for k := 0; k < c.kernel; k++ {
					tt := t + (k-center)*c.dilation
					if tt < 0 || tt >= frames {
						continue
					}
					sum += row[k] * in[tt]
				}
			}
			out[t] = sum
		}
	}
}

func fillUniform(w []float32, scale float64, rng *rand.Rand) {
	s := float32(scale)
	for i := range w {
		w[i] = (rng.Float32()*2 - 1) * s
	}
}

func reluInPlace(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

func mishInPlace(x []float32) {
	for i, v := range x {
		// x * tanh(softplus(x))
		sp := math.Log1p(math.Exp(float64(v)))
		x[i] = v * float32(math.Tanh(sp))
	}
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(float64(-x))))
}

func tanh(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// sinusoidalEmbedding writes the classic transformer-style timestep embedding
// for t into dst: sin components in the first half, cos in the second, with
// frequencies spaced geometrically down from 1 to 1/10000.
func sinusoidalEmbedding(dst []float32, t int) {
	half := len(dst) / 2
	denom := float64(half - 1)
	if denom < 1 {
		denom = 1
	}
	for i := 0; i < half; i++ {
		freq := math.Exp(-math.Log(10000) * float64(i) / denom)
		angle := float64(t) * freq
		dst[i] = float32(math.Sin(angle))
		dst[half+i] = float32(math.Cos(angle))
	}
}
