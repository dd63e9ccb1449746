package sampler

import (
	"math"
	"math/rand"

	"github.com/samcharles93/meldiff/internal/schedule"
	"github.com/samcharles93/meldiff/internal/tensor"
)

// ddpm is the single-step ancestral sampler.  Each Step computes the
// closed-form posterior mean from the predicted noise and, for all but the
// final timestep, adds fresh gaussian noise scaled by the posterior variance.
type ddpm struct {
	sched     *schedule.Schedule
	rng       *rand.Rand
	timesteps []int
	numSteps  int
}

func newDDPM(s *schedule.Schedule, opts Options) Sampler {
	return &ddpm{
		sched: s,
		rng:   rand.New(rand.NewSource(opts.Seed)),
	}
}

func (d *ddpm) SetTimesteps(n int) error {
	ts, err := spacedTimesteps(d.sched.NumTrainTimesteps(), n)
	if err != nil {
		return err
	}
	d.timesteps = reversed(ts)
	d.numSteps = n
	return nil
}

func (d *ddpm) Timesteps() []int { return d.timesteps }

func (d *ddpm) ScaleModelInput(x *tensor.Tensor, t int) *tensor.Tensor { return x }

func (d *ddpm) Order() int { return 1 }

func (d *ddpm) Step(noisePred *tensor.Tensor, t int, sample *tensor.Tensor) (*tensor.Tensor, error) {
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
	betaProdPrev := 1 - alphaProdPrev
	currentAlpha := alphaProdT / alphaProdPrev
	currentBeta := 1 - currentAlpha

	// Predicted x0 from the epsilon parameterization, clipped to the value
	// range the model was trained on.
	predX0 := tensor.LinComb(1/math.Sqrt(alphaProdT), sample, -math.Sqrt(betaProdT)/math.Sqrt(alphaProdT), noisePred)
	tensor.Clamp(predX0, -1, 1)

	x0Coeff := math.Sqrt(alphaProdPrev) * currentBeta / betaProdT
	sampleCoeff := math.Sqrt(currentAlpha) * betaProdPrev / betaProdT
	prev := tensor.LinComb(x0Coeff, predX0, sampleCoeff, sample)

	if t > 0 {
		variance := betaProdPrev / betaProdT * currentBeta
		if variance < 1e-20 {
			variance = 1e-20
		}
		std := float32(math.Sqrt(variance))
		for i := range prev.Data {
			prev.Data[i] += std * float32(d.rng.NormFloat64())
		}
	}
	return prev, nil
}
