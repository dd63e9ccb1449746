// Package schedule derives the deterministic per-timestep noise-mixing
// coefficients used by both diffusion training and inference.
package schedule

import (
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/meldiff/internal/tensor"
)

// Kind names a beta schedule.
type Kind string

const (
	// KindLinear interpolates betas linearly between BetaStart and BetaEnd.
	KindLinear Kind = "linear"
	// KindSquaredCos is the squared-cosine schedule with capped betas.
	KindSquaredCos Kind = "squaredcos"
)

var (
	ErrUnknownKind   = errors.New("schedule: unknown beta schedule kind")
	ErrInvalidConfig = errors.New("schedule: invalid config")
	ErrShapeMismatch = errors.New("schedule: shape mismatch")
)

// Config describes a noise schedule.  Zero fields take the defaults below.
type Config struct {
	NumTrainTimesteps int
	BetaStart         float64
	BetaEnd           float64
	Kind              Kind
}

func (c Config) withDefaults() Config {
	if c.NumTrainTimesteps == 0 {
		c.NumTrainTimesteps = 1000
	}
	if c.BetaStart == 0 {
		c.BetaStart = 0.0001
	}
	if c.BetaEnd == 0 {
		c.BetaEnd = 0.02
	}
	if c.Kind == "" {
		c.Kind = KindSquaredCos
	}
	return c
}

// Schedule holds the derived per-timestep coefficients.  It is immutable
// after construction and safe to share read-only across samplers.
type Schedule struct {
	cfg           Config
	Betas         []float64
	Alphas        []float64
	AlphasCumprod []float64
}

// New derives the schedule coefficients for cfg.  An unknown schedule kind or
// an invalid beta range is a configuration error raised here, not at use.
func New(cfg Config) (*Schedule, error) {
	cfg = cfg.withDefaults()
	if cfg.NumTrainTimesteps < 1 {
		return nil, fmt.Errorf("%w: num train timesteps %d", ErrInvalidConfig, cfg.NumTrainTimesteps)
	}
	if cfg.BetaStart < 0 || cfg.BetaStart >= cfg.BetaEnd || cfg.BetaEnd >= 1 {
		return nil, fmt.Errorf("%w: beta range [%g, %g]", ErrInvalidConfig, cfg.BetaStart, cfg.BetaEnd)
	}

	n := cfg.NumTrainTimesteps
	betas := make([]float64, n)
	switch cfg.Kind {
	case KindLinear:
		if n == 1 {
			betas[0] = cfg.BetaStart
			break
		}
		step := (cfg.BetaEnd - cfg.BetaStart) / float64(n-1)
		for i := range betas {
			betas[i] = cfg.BetaStart + float64(i)*step
		}
	case KindSquaredCos:
		// Squared-cosine alpha-bar, with each derived beta capped at 0.999
		// to avoid singularities at the end of the schedule.
		for i := range betas {
			a0 := alphaBar(float64(i) / float64(n))
			a1 := alphaBar(float64(i+1) / float64(n))
			betas[i] = math.Min(1-a1/a0, 0.999)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}

	alphas := make([]float64, n)
	cumprod := make([]float64, n)
	prod := 1.0
	for i, b := range betas {
		alphas[i] = 1 - b
		prod *= alphas[i]
		cumprod[i] = prod
	}

	return &Schedule{
		cfg:           cfg,
		Betas:         betas,
		Alphas:        alphas,
		AlphasCumprod: cumprod,
	}, nil
}

const cosOffset = 0.008

func alphaBar(t float64) float64 {
	c := math.Cos((t + cosOffset) / (1 + cosOffset) * math.Pi / 2)
	return c * c
}

// NumTrainTimesteps returns the length of the schedule.
func (s *Schedule) NumTrainTimesteps() int {
	return s.cfg.NumTrainTimesteps
}

// AddNoise mixes a clean sample with fresh noise at the given timesteps,
// the closed-form marginal of the forward diffusion chain:
//
//	xt[b] = sqrt(ac[t_b])*x0[b] + sqrt(1-ac[t_b])*noise[b]
//
// timesteps must hold one entry per batch element, or a single entry that is
// broadcast across the batch.  Neither input is mutated.
func (s *Schedule) AddNoise(x0, noise *tensor.Tensor, timesteps []int) (*tensor.Tensor, error) {
	if !x0.SameShape(noise) {
		return nil, fmt.Errorf("%w: x0 %dx%dx%d vs noise %dx%dx%d",
			ErrShapeMismatch, x0.B, x0.C, x0.T, noise.B, noise.C, noise.T)
	}
	if len(timesteps) != x0.B && len(timesteps) != 1 {
		return nil, fmt.Errorf("%w: %d timesteps for batch %d", ErrShapeMismatch, len(timesteps), x0.B)
	}

	out := tensor.New(x0.B, x0.C, x0.T)
	for b := 0; b < x0.B; b++ {
		t := timesteps[0]
		if len(timesteps) > 1 {
			t = timesteps[b]
		}
		if t < 0 || t >= len(s.AlphasCumprod) {
			return nil, fmt.Errorf("%w: timestep %d outside [0, %d)", ErrShapeMismatch, t, len(s.AlphasCumprod))
		}
		ac := s.AlphasCumprod[t]
		ca := float32(math.Sqrt(ac))
		cb := float32(math.Sqrt(1 - ac))
		dst := out.Batch(b)
		src := x0.Batch(b)
		nse := noise.Batch(b)
		for i := range dst {
			dst[i] = ca*src[i] + cb*nse[i]
		}
	}
	return out, nil
}
