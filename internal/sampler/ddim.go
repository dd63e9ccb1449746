package sampler

import (
	"math"

	"github.com/samcharles93/meldiff/internal/schedule"
	"github.com/samcharles93/meldiff/internal/tensor"
)

// ddim is the deterministic single-step sampler.  It shares the ddpm timestep
// spacing but replaces the stochastic posterior draw with the deterministic
// denoising direction (eta = 0).
type ddim struct {
	sched     *schedule.Schedule
	timesteps []int
	numSteps  int
}

func newDDIM(s *schedule.Schedule, _ Options) Sampler {
	return &ddim{sched: s}
}

func (d *ddim) SetTimesteps(n int) error {
	ts, err := spacedTimesteps(d.sched.NumTrainTimesteps(), n)
	if err != nil {
		return err
	}
	d.timesteps = reversed(ts)
	d.numSteps = n
	return nil
}

func (d *ddim) Timesteps() []int { return d.timesteps }

func (d *ddim) ScaleModelInput(x *tensor.Tensor, t int) *tensor.Tensor { return x }

func (d *ddim) Order() int { return 1 }

func (d *ddim) Step(noisePred *tensor.Tensor, t int, sample *tensor.Tensor) (*tensor.Tensor, error) {
	if d.timesteps == nil {
		return nil, ErrNotInitialized
	}

	ac := d.sched.AlphasCumprod
	prevT := t - d.sched.NumTrainTimesteps()/d.numSteps

	alphaProdT := ac[t]
	alphaProdPrev := 1.0
	if prevT >= 0 {
		alphaProdPrev = ac[prevT]
	}
	betaProdT := 1 - alphaProdT

	predX0 := tensor.LinComb(1/math.Sqrt(alphaProdT), sample, -math.Sqrt(betaProdT)/math.Sqrt(alphaProdT), noisePred)
	tensor.Clamp(predX0, -1, 1)

	// prev = sqrt(ac_prev)*x0 + sqrt(1-ac_prev)*eps
	return tensor.LinComb(math.Sqrt(alphaProdPrev), predX0, math.Sqrt(1-alphaProdPrev), noisePred), nil
}
