package schedule

import (
	"errors"
	"math"
	"testing"

	"github.com/samcharles93/meldiff/internal/tensor"
)

func TestSquaredCosMonotone(t *testing.T) {
	t.Parallel()

	s, err := New(Config{NumTrainTimesteps: 1000, Kind: KindSquaredCos})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(s.Betas) != 1000 || len(s.AlphasCumprod) != 1000 {
		t.Fatalf("unexpected lengths: %d, %d", len(s.Betas), len(s.AlphasCumprod))
	}
	if s.AlphasCumprod[0] > 1 || s.AlphasCumprod[0] <= 0 {
		t.Fatalf("alpha cumprod at t=0 out of range: %v", s.AlphasCumprod[0])
	}
	for i := 1; i < len(s.AlphasCumprod); i++ {
		if s.AlphasCumprod[i] > s.AlphasCumprod[i-1] {
			t.Fatalf("alpha cumprod increased at %d: %v > %v", i, s.AlphasCumprod[i], s.AlphasCumprod[i-1])
		}
	}
	for i, b := range s.Betas {
		if b <= 0 || b > 0.999 {
			t.Fatalf("beta %d outside (0, 0.999]: %v", i, b)
		}
	}
}

func TestLinearEndpoints(t *testing.T) {
	t.Parallel()

	s, err := New(Config{NumTrainTimesteps: 100, BetaStart: 0.0001, BetaEnd: 0.02, Kind: KindLinear})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if math.Abs(s.Betas[0]-0.0001) > 1e-12 {
		t.Fatalf("first beta: got %v, want 0.0001", s.Betas[0])
	}
	if math.Abs(s.Betas[99]-0.02) > 1e-12 {
		t.Fatalf("last beta: got %v, want 0.02", s.Betas[99])
	}
}

func TestUnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Kind: "sigmoid"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestInvalidBetaRange(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{BetaStart: 0.5, BetaEnd: 0.1, Kind: KindLinear}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestAddNoiseEndpoints(t *testing.T) {
	t.Parallel()

	s, err := New(Config{NumTrainTimesteps: 1000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	x0 := tensor.FromData(1, 1, 2, []float32{1, -1})
	noise := tensor.FromData(1, 1, 2, []float32{0.5, 0.5})

	// At t=0 nearly all signal survives.
	early, err := s.AddNoise(x0, noise, []int{0})
	if err != nil {
		t.Fatalf("AddNoise: %v", err)
	}
	if math.Abs(float64(early.Data[0]-x0.Data[0])) > 0.05 {
		t.Fatalf("t=0 should be near-clean: got %v, want ~%v", early.Data[0], x0.Data[0])
	}

	// At the final timestep nearly all signal is noise.
	late, err := s.AddNoise(x0, noise, []int{999})
	if err != nil {
		t.Fatalf("AddNoise: %v", err)
	}
	if math.Abs(float64(late.Data[0]-noise.Data[0])) > 0.1 {
		t.Fatalf("final t should be near-noise: got %v, want ~%v", late.Data[0], noise.Data[0])
	}

	if x0.Data[0] != 1 || noise.Data[0] != 0.5 {
		t.Fatal("inputs should be untouched")
	}
}

func TestAddNoisePerBatchTimesteps(t *testing.T) {
	t.Parallel()

	s, err := New(Config{NumTrainTimesteps: 1000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	x0 := tensor.FromData(2, 1, 1, []float32{1, 1})
	noise := tensor.FromData(2, 1, 1, []float32{0, 0})
	out, err := s.AddNoise(x0, noise, []int{0, 999})
	if err != nil {
		t.Fatalf("AddNoise: %v", err)
	}
	if out.Data[0] <= out.Data[1] {
		t.Fatalf("earlier timestep should retain more signal: %v vs %v", out.Data[0], out.Data[1])
	}
}

func TestAddNoiseShapeErrors(t *testing.T) {
	t.Parallel()

	s, err := New(Config{NumTrainTimesteps: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	x0 := tensor.New(2, 1, 3)
	if _, err := s.AddNoise(x0, tensor.New(2, 1, 4), []int{0}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for shape, got %v", err)
	}
	if _, err := s.AddNoise(x0, tensor.New(2, 1, 3), []int{0, 1, 2}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for timestep count, got %v", err)
	}
	if _, err := s.AddNoise(x0, tensor.New(2, 1, 3), []int{10}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for out-of-range timestep, got %v", err)
	}
}
