// Package sampler implements the reverse-diffusion stepping algorithms.
//
// A Sampler advances a noisy sample one reverse step at a time given the
// denoiser's noise prediction.  Single-step variants (ddpm, ddim) compute the
// closed-form posterior directly; the multi-step variant (pndm) interpolates
// across its recent noise predictions and only reaches a true step boundary
// every Order calls.
package sampler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samcharles93/meldiff/internal/schedule"
	"github.com/samcharles93/meldiff/internal/tensor"
)

var (
	ErrUnknownKind    = errors.New("sampler: unknown sampler kind")
	ErrNotInitialized = errors.New("sampler: SetTimesteps has not been called")
	ErrTooManySteps   = errors.New("sampler: more inference steps than train timesteps")
)

// Sampler is one reverse-stepping algorithm bound to a noise schedule.
//
// The lifecycle is SetTimesteps once, then repeated Step calls walking the
// Timesteps sequence in order.  ScaleModelInput must be applied to the sample
// immediately before every denoiser invocation; for the samplers here it is
// the identity, but the hook is part of the contract.
type Sampler interface {
	// SetTimesteps derives the descending inference timestep sequence of
	// (nominally) n steps and resets any internal history.
	SetTimesteps(n int) error
	// Timesteps returns the active descending timestep sequence.
	Timesteps() []int
	// ScaleModelInput rescales the sample for the denoiser at timestep t.
	ScaleModelInput(x *tensor.Tensor, t int) *tensor.Tensor
	// Step consumes the noise prediction at timestep t and produces the next
	// (less noisy) sample.
	Step(noisePred *tensor.Tensor, t int, sample *tensor.Tensor) (*tensor.Tensor, error)
	// Order is the number of internal sub-steps consumed before a true step
	// boundary is reached: 1 for single-step samplers, 4 for pndm.
	Order() int
}

// Options carries construction parameters shared by all sampler kinds.
type Options struct {
	// Seed controls the ancestral sampler's noise draws.
	Seed int64
}

type factory func(s *schedule.Schedule, opts Options) Sampler

// Closed registry of sampler kinds.  Unknown kinds are rejected at New, never
// resolved by reflection.
var registry = map[string]factory{
	"ddpm": newDDPM,
	"ddim": newDDIM,
	"pndm": newPNDM,
}

// New constructs the named sampler kind bound to sched.  Kind matching is
// case-insensitive; an unknown kind is a configuration error.
func New(kind string, sched *schedule.Schedule, opts Options) (Sampler, error) {
	f, ok := registry[strings.ToLower(kind)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return f(sched, opts), nil
}

// Kinds lists the registered sampler kinds in sorted order.
func Kinds() []string {
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// spacedTimesteps returns n evenly spaced timesteps across [0, numTrain),
// ascending.  The spacing matches floor division of the train range.
func spacedTimesteps(numTrain, n int) ([]int, error) {
	if n < 1 {
		return nil, fmt.Errorf("sampler: inference steps %d < 1", n)
	}
	if n > numTrain {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManySteps, n, numTrain)
	}
	ratio := numTrain / n
	ts := make([]int, n)
	for i := range ts {
		ts[i] = i * ratio
	}
	return ts, nil
}

func reversed(ts []int) []int {
	out := make([]int, len(ts))
	for i, t := range ts {
		out[len(ts)-1-i] = t
	}
	return out
}
