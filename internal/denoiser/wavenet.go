// Package denoiser implements the reference mel-spectrogram noise-prediction
// network: a WaveNet-style stack of dilated gated residual blocks with
// sinusoidal timestep embeddings and frame-aligned conditioning.  It satisfies
// the diffusion.Denoiser capability; the diffusion core depends only on that
// interface, never on this package.
package denoiser

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/samcharles93/meldiff/internal/tensor"
)

var (
	ErrInvalidConfig = errors.New("denoiser: invalid config")
	ErrShapeMismatch = errors.New("denoiser: shape mismatch")
)

// Config describes a WaveNet denoiser.  Zero fields take the defaults below.
type Config struct {
	InChannels       int `json:"in_channels"`
	OutChannels      int `json:"out_channels"`
	KernelSize       int `json:"kernel_size"`
	Layers           int `json:"layers"`
	Stacks           int `json:"stacks"`
	ResidualChannels int `json:"residual_channels"`
	GateChannels     int `json:"gate_channels"`
	SkipChannels     int `json:"skip_channels"`
	AuxChannels      int `json:"aux_channels"`
}

func (c Config) withDefaults() Config {
	if c.InChannels == 0 {
		c.InChannels = 80
	}
	if c.OutChannels == 0 {
		c.OutChannels = 80
	}
	if c.KernelSize == 0 {
		c.KernelSize = 3
	}
	if c.Layers == 0 {
		c.Layers = 20
	}
	if c.Stacks == 0 {
		c.Stacks = 5
	}
	if c.ResidualChannels == 0 {
		c.ResidualChannels = 256
	}
	if c.GateChannels == 0 {
		c.GateChannels = 512
	}
	if c.SkipChannels == 0 {
		c.SkipChannels = 256
	}
	if c.AuxChannels == 0 {
		c.AuxChannels = 256
	}
	return c
}

// resBlock is one dilated gated residual block.  The gate conv expands to
// GateChannels, which are split into tanh/sigmoid halves.
type resBlock struct {
	conv     *conv1d // residual -> gate, dilated
	condConv *conv1d // aux -> gate, 1x1, bias-free
	outConv  *conv1d // gate/2 -> residual, 1x1
	skipConv *conv1d // gate/2 -> skip, 1x1
}

// WaveNet predicts the noise component of a noisy mel-spectrogram.
type WaveNet struct {
	cfg Config

	tFC1    *linear   // emb -> 4*emb
	tFC2    *linear   // 4*emb -> emb
	tLayers []*linear // per-block emb -> emb

	firstConv *conv1d // in -> residual, 1x1
	blocks    []*resBlock
	headConv1 *conv1d // skip -> skip, 1x1
	headConv2 *conv1d // skip -> out, 1x1, zero-initialised
}

// New builds a WaveNet with reproducible random parameters derived from seed.
func New(cfg Config, seed int64) (*WaveNet, error) {
	cfg = cfg.withDefaults()
	if cfg.Stacks < 1 || cfg.Layers%cfg.Stacks != 0 {
		return nil, fmt.Errorf("%w: layers %d not divisible by stacks %d", ErrInvalidConfig, cfg.Layers, cfg.Stacks)
	}
	if cfg.GateChannels%2 != 0 {
		return nil, fmt.Errorf("%w: gate channels %d must be even", ErrInvalidConfig, cfg.GateChannels)
	}
	if cfg.KernelSize%2 != 1 {
		return nil, fmt.Errorf("%w: kernel size %d must be odd", ErrInvalidConfig, cfg.KernelSize)
	}

	rng := rand.New(rand.NewSource(seed))
	d := cfg.ResidualChannels
	layersPerStack := cfg.Layers / cfg.Stacks

	m := &WaveNet{
		cfg:       cfg,
		tFC1:      newLinear(d, 4*d, rng),
		tFC2:      newLinear(4*d, d, rng),
		firstConv: newConv1d(cfg.InChannels, d, 1, 1, true, rng),
		headConv1: newConv1d(cfg.SkipChannels, cfg.SkipChannels, 1, 1, true, rng),
		headConv2: newConv1d(cfg.SkipChannels, cfg.OutChannels, 1, 1, true, rng),
	}
	// Zero-initialised head so a fresh model predicts zero noise.
	for i := range m.headConv2.w {
		m.headConv2.w[i] = 0
	}

	half := cfg.GateChannels / 2
	for layer := 0; layer < cfg.Layers; layer++ {
		dilation := 1 << (layer % layersPerStack)
		m.tLayers = append(m.tLayers, newLinear(d, d, rng))
		m.blocks = append(m.blocks, &resBlock{
			conv:     newConv1d(d, cfg.GateChannels, cfg.KernelSize, dilation, true, rng),
			condConv: newConv1d(cfg.AuxChannels, cfg.GateChannels, 1, 1, false, rng),
			outConv:  newConv1d(half, d, 1, 1, true, rng),
			skipConv: newConv1d(half, cfg.SkipChannels, 1, 1, true, rng),
		})
	}
	return m, nil
}

// Config returns the model configuration with defaults resolved.
func (m *WaveNet) Config() Config {
	return m.cfg
}

// Denoise predicts the noise in x at the given timesteps.  timesteps holds
// one entry per batch element or a single broadcast entry; cond may be nil,
// otherwise its frame count must match x.
func (m *WaveNet) Denoise(x *tensor.Tensor, timesteps []int, cond *tensor.Tensor) (*tensor.Tensor, error) {
	cfg := m.cfg
	if x.C != cfg.InChannels {
		return nil, fmt.Errorf("%w: input channels %d, model expects %d", ErrShapeMismatch, x.C, cfg.InChannels)
	}
	if len(timesteps) != x.B && len(timesteps) != 1 {
		return nil, fmt.Errorf("%w: %d timesteps for batch %d", ErrShapeMismatch, len(timesteps), x.B)
	}
	if cond != nil {
		if cond.T != x.T || cond.B != x.B {
			return nil, fmt.Errorf("%w: condition %dx%dx%d vs input %dx%dx%d",
				ErrShapeMismatch, cond.B, cond.C, cond.T, x.B, x.C, x.T)
		}
		if cond.C != cfg.AuxChannels {
			return nil, fmt.Errorf("%w: condition channels %d, model expects %d", ErrShapeMismatch, cond.C, cfg.AuxChannels)
		}
	}

	d := cfg.ResidualChannels
	frames := x.T
	out := tensor.New(x.B, cfg.OutChannels, frames)

	for b := 0; b < x.B; b++ {
		t := timesteps[0]
		if len(timesteps) > 1 {
			t = timesteps[b]
		}

		// Timestep embedding: sinusoidal, then a Mish MLP.
		emb := make([]float32, d)
		sinusoidalEmbedding(emb, t)
		hid := make([]float32, 4*d)
		m.tFC1.forward(hid, emb)
		mishInPlace(hid)
		temb := make([]float32, d)
		m.tFC2.forward(temb, hid)

		var condB []float32
		if cond != nil {
			condB = cond.Batch(b)
		}

		h := make([]float32, d*frames)
		m.firstConv.forward(h, x.Batch(b), frames)
		reluInPlace(h)

		// Collect per-block skip contributions, then fold them with the
		// 1/sqrt(layers) scaling as one explicit step.
		skips := make([][]float32, 0, len(m.blocks))
		proj := make([]float32, d)
		for j, blk := range m.blocks {
			m.tLayers[j].forward(proj, temb)
			for c := 0; c < d; c++ {
				row := h[c*frames : (c+1)*frames]
				pc := proj[c]
				for i := range row {
					row[i] += pc
				}
			}
			skips = append(skips, blk.forward(h, condB, frames, cfg))
		}

		acc := make([]float32, cfg.SkipChannels*frames)
		for _, s := range skips {
			for i, v := range s {
				acc[i] += v
			}
		}
		scale := float32(math.Sqrt(1 / float64(len(m.blocks))))
		for i := range acc {
			acc[i] *= scale
		}

		reluInPlace(acc)
		mid := make([]float32, cfg.SkipChannels*frames)
		m.headConv1.forward(mid, acc, frames)
		reluInPlace(mid)
		m.headConv2.forward(out.Batch(b), mid, frames)
	}
	return out, nil
}

// forward runs one gated residual block.  h is updated in place with the
// residual output; the returned slice is the skip contribution.
func (blk *resBlock) forward(h, cond []float32, frames int, cfg Config) []float32 {
	gate := cfg.GateChannels
	half := gate / 2

	z := make([]float32, gate*frames)
	blk.conv.forward(z, h, frames)
	if cond != nil {
		zc := make([]float32, gate*frames)
		blk.condConv.forward(zc, cond, frames)
		for i, v := range zc {
			z[i] += v
		}
	}

	g := make([]float32, half*frames)
	for i := range g {
		g[i] = tanh(z[i]) * sigmoid(z[half*frames+i])
	}

	res := make([]float32, cfg.ResidualChannels*frames)
	blk.outConv.forward(res, g, frames)
	const invSqrt2 = 0.70710678118654752
	for i := range h {
		h[i] = (h[i] + res[i]) * invSqrt2
	}

	skip := make([]float32, cfg.SkipChannels*frames)
	blk.skipConv.forward(skip, g, frames)
	return skip
}
