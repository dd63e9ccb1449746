// Package diffusion orchestrates the conditional Gaussian diffusion process:
// noised training pairs on the forward path and the configurable reverse
// denoising loop on the inference path.
package diffusion

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/samcharles93/meldiff/internal/sampler"
	"github.com/samcharles93/meldiff/internal/schedule"
	"github.com/samcharles93/meldiff/internal/tensor"
)

var (
	ErrShapeMismatch = errors.New("diffusion: shape mismatch")
	ErrInvalidConfig = errors.New("diffusion: invalid config")
)

// Denoiser is the noise-prediction capability the loop consumes.  Given a
// noisy sample, the timesteps it was noised to and an optional conditioning
// signal, it predicts the noise component with the sample's shape.  timesteps
// holds one entry per batch element, or a single entry broadcast across the
// batch.
type Denoiser interface {
	Denoise(sample *tensor.Tensor, timesteps []int, cond *tensor.Tensor) (*tensor.Tensor, error)
}

// Callback observes intermediate reverse-loop results.  It is invoked
// synchronously on the calling goroutine with strictly increasing index.
type Callback func(index, timestep, total int, sample *tensor.Tensor)

// Strength selects how much of the reverse trajectory to run when warm
// starting from a reference.  The zero value means unspecified.
type Strength struct {
	Set   bool
	Value float64
}

// StrengthOf returns an explicitly specified strength.
func StrengthOf(v float64) Strength {
	return Strength{Set: true, Value: v}
}

// Config describes a GaussianDiffusion instance.  Zero fields take the
// schedule package defaults.
type Config struct {
	NumTrainTimesteps int
	BetaStart         float64
	BetaEnd           float64
	BetaSchedule      schedule.Kind

	// NumMaxTimesteps caps the noise range used for training-pair timestep
	// draws and supplies the default warm-start strength.  0 means uncapped.
	NumMaxTimesteps int

	// Seed drives training-pair noise and timestep draws.
	Seed int64
}

// Options configures one Inference call.
type Options struct {
	// NumInferenceSteps is the nominal reverse step count (default 1000).
	NumInferenceSteps int
	// Strength overrides the warm-start trajectory fraction.  Out-of-range
	// values are treated as unspecified, falling back to
	// NumMaxTimesteps/NumTrainTimesteps when that cap is configured.
	Strength Strength
	// Sampler names the stepping algorithm (default "ddpm").
	Sampler string
	// Seed drives the sampler's noise draws.
	Seed int64
	// Callback, if set, observes intermediate samples.
	Callback Callback
	// CallbackSteps invokes the callback every Nth eligible step (default 1).
	CallbackSteps int
}

// Stats summarises one reverse pass.
type Stats struct {
	Steps       int
	Duration    time.Duration
	StepsPerSec float64
	SamplerKind string
	WarmStart   bool
}

// GaussianDiffusion binds a Denoiser to a noise schedule.
type GaussianDiffusion struct {
	denoiser Denoiser
	sched    *schedule.Schedule
	cfg      Config
	rng      *rand.Rand
}

// New validates cfg, derives the noise schedule and returns the bound model.
func New(denoiser Denoiser, cfg Config) (*GaussianDiffusion, error) {
	sched, err := schedule.New(schedule.Config{
		NumTrainTimesteps: cfg.NumTrainTimesteps,
		BetaStart:         cfg.BetaStart,
		BetaEnd:           cfg.BetaEnd,
		Kind:              cfg.BetaSchedule,
	})
	if err != nil {
		return nil, err
	}
	if cfg.NumTrainTimesteps == 0 {
		cfg.NumTrainTimesteps = sched.NumTrainTimesteps()
	}
	if cfg.NumMaxTimesteps < 0 || cfg.NumMaxTimesteps > cfg.NumTrainTimesteps {
		return nil, fmt.Errorf("%w: num max timesteps %d outside [0, %d]",
			ErrInvalidConfig, cfg.NumMaxTimesteps, cfg.NumTrainTimesteps)
	}
	return &GaussianDiffusion{
		denoiser: denoiser,
		sched:    sched,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Schedule exposes the derived noise schedule read-only.
func (g *GaussianDiffusion) Schedule() *schedule.Schedule {
	return g.sched
}

// TrainingPair noises x0 at per-batch random timesteps and runs the denoiser
// on the result.  It returns the denoiser's noise prediction and the noise
// that was mixed in; the caller computes a reconstruction loss between the
// two.  Timesteps are drawn uniformly from [0, NumMaxTimesteps) when the cap
// is configured, else from the full train range.
func (g *GaussianDiffusion) TrainingPair(x0, cond *tensor.Tensor) (pred, target *tensor.Tensor, err error) {
	if err := checkCondition(x0, cond); err != nil {
		return nil, nil, err
	}

	noise := tensor.New(x0.B, x0.C, x0.T)
	tensor.FillRandn(noise, g.rng)

	limit := g.cfg.NumTrainTimesteps
	if g.cfg.NumMaxTimesteps > 0 {
		limit = g.cfg.NumMaxTimesteps
	}
	timesteps := make([]int, x0.B)
	for i := range timesteps {
		timesteps[i] = g.rng.Intn(limit)
	}

	noisy, err := g.sched.AddNoise(x0, noise, timesteps)
	if err != nil {
		return nil, nil, err
	}
	pred, err = g.denoiser.Denoise(noisy, timesteps, cond)
	if err != nil {
		return nil, nil, err
	}
	return pred, noise, nil
}

// Inference runs the reverse denoising loop from noise, optionally warm
// started from a partially noised reference.
//
// With ref supplied, the trajectory is truncated by the resolved strength: an
// explicit in-range Strength wins, else NumMaxTimesteps/NumTrainTimesteps when
// the cap is configured, else the full sequence runs untruncated.  The start
// sample is then ref noised once at the first remaining timestep.  Callbacks
// fire on true step boundaries (every sampler.Order calls once past warmup)
// thinned by CallbackSteps, and always on the final iteration.
//
// The caller-owned noise, cond and ref tensors are never mutated.
func (g *GaussianDiffusion) Inference(noise, cond, ref *tensor.Tensor, opts Options) (*tensor.Tensor, Stats, error) {
	var stats Stats
	if err := checkCondition(noise, cond); err != nil {
		return nil, stats, err
	}
	if opts.NumInferenceSteps <= 0 {
		opts.NumInferenceSteps = 1000
	}
	if opts.Sampler == "" {
		opts.Sampler = "ddpm"
	}
	if opts.CallbackSteps <= 0 {
		opts.CallbackSteps = 1
	}
	stats.SamplerKind = opts.Sampler

	smp, err := sampler.New(opts.Sampler, g.sched, sampler.Options{Seed: opts.Seed})
	if err != nil {
		return nil, stats, err
	}
	if err := smp.SetTimesteps(opts.NumInferenceSteps); err != nil {
		return nil, stats, err
	}

	numSteps := opts.NumInferenceSteps
	timesteps := smp.Timesteps()
	sample := noise

	if ref != nil {
		if !ref.SameShape(noise) {
			return nil, stats, fmt.Errorf("%w: ref %dx%dx%d vs noise %dx%dx%d",
				ErrShapeMismatch, ref.B, ref.C, ref.T, noise.B, noise.C, noise.T)
		}
		strength := opts.Strength
		if strength.Set && (strength.Value < 0 || strength.Value > 1) {
			strength = Strength{}
		}
		if !strength.Set && g.cfg.NumMaxTimesteps > 0 {
			strength = StrengthOf(float64(g.cfg.NumMaxTimesteps) / float64(g.cfg.NumTrainTimesteps))
		}
		if strength.Set {
			initTimestep := min(int(float64(numSteps)*strength.Value), numSteps)
			tStart := max(numSteps-initTimestep, 0)
			full := timesteps
			timesteps = timesteps[tStart:]
			numSteps -= tStart

			// Single-shot warm noising of the reference at the first
			// remaining timestep.  A fully truncated sequence clamps to the
			// boundary timestep and skips the loop entirely.
			warmT := full[len(full)-1]
			if len(timesteps) > 0 {
				warmT = timesteps[0]
			}
			sample, err = g.sched.AddNoise(ref, noise, []int{warmT})
			if err != nil {
				return nil, stats, err
			}
			stats.WarmStart = true
		}
	}

	numWarmup := len(timesteps) - numSteps*smp.Order()

	start := time.Now()
	for i, t := range timesteps {
		sample = smp.ScaleModelInput(sample, t)

		noisePred, err := g.denoiser.Denoise(sample, []int{t}, cond)
		if err != nil {
			return nil, stats, fmt.Errorf("denoise at step %d (t=%d): %w", i, t, err)
		}

		sample, err = smp.Step(noisePred, t, sample)
		if err != nil {
			return nil, stats, fmt.Errorf("sampler step %d (t=%d): %w", i, t, err)
		}
		stats.Steps++

		if i == len(timesteps)-1 || (i+1 > numWarmup && (i+1)%smp.Order() == 0) {
			if opts.Callback != nil && i%opts.CallbackSteps == 0 {
				opts.Callback(i, t, len(timesteps), sample)
			}
		}
	}

	stats.Duration = time.Since(start)
	if secs := stats.Duration.Seconds(); secs > 0 {
		stats.StepsPerSec = float64(stats.Steps) / secs
	}
	return sample, stats, nil
}

// checkCondition enforces the condition/sample alignment contract before any
// computation begins: the trailing (frame) dimensions must match.
func checkCondition(x, cond *tensor.Tensor) error {
	if cond == nil {
		return nil
	}
	if cond.T != x.T {
		return fmt.Errorf("%w: condition frames %d vs sample frames %d", ErrShapeMismatch, cond.T, x.T)
	}
	if cond.B != x.B {
		return fmt.Errorf("%w: condition batch %d vs sample batch %d", ErrShapeMismatch, cond.B, x.B)
	}
	return nil
}
