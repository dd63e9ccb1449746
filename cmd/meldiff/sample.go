package main

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/meldiff/internal/diffusion"
	"github.com/samcharles93/meldiff/internal/tensor"
)

func sampleCmd() *cli.Command {
	var (
		frames        int64
		batch         int64
		steps         int64
		samplerKind   string
		strength      float64
		seed          int64
		referencePath string
		conditionPath string
		outPath       string
	)

	flags := append(commonModelFlags(), commonScheduleFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "frames",
			Aliases:     []string{"f"},
			Usage:       "output frame count",
			Value:       128,
			Destination: &frames,
		},
		&cli.Int64Flag{
			Name:        "batch",
			Aliases:     []string{"b"},
			Usage:       "batch size",
			Value:       1,
			Destination: &batch,
		},
		&cli.Int64Flag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "inference step count",
			Value:       50,
			Destination: &steps,
		},
		&cli.StringFlag{
			Name:        "sampler",
			Usage:       "stepping algorithm (ddpm, ddim, pndm)",
			Value:       "ddpm",
			Destination: &samplerKind,
		},
		&cli.Float64Flag{
			Name:        "strength",
			Usage:       "warm-start trajectory fraction in [0,1] (requires --reference)",
			Destination: &strength,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "random seed",
			Destination: &seed,
		},
		&cli.StringFlag{
			Name:        "reference",
			Usage:       "raw f32 reference mel for warm start (batch x mel-channels x frames)",
			Destination: &referencePath,
		},
		&cli.StringFlag{
			Name:        "condition",
			Usage:       "raw f32 conditioning signal (batch x aux-channels x frames)",
			Destination: &conditionPath,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "output path (raw little-endian float32)",
			Value:       "sample.f32",
			Destination: &outPath,
		},
	)

	return &cli.Command{
		Name:  "sample",
		Usage: "Run the reverse denoising loop and write a mel tensor",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			var strengthSet bool
			applySampleConfig(cmd, cfg, &samplerKind, &steps, &strength, &strengthSet, &seed)
			log := buildLogger()

			model, err := loadDenoiser(log, seed)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			engine, err := buildEngine(model, seed)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build engine: %v", err), 1)
			}

			b, f := int(batch), int(frames)
			channels := model.Config().InChannels

			noise := tensor.New(b, channels, f)
			tensor.FillRandn(noise, rand.New(rand.NewSource(seed)))

			var ref, cond *tensor.Tensor
			if referencePath != "" {
				ref, err = readTensorFile(referencePath, b, channels, f)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: read reference: %v", err), 1)
				}
			}
			if conditionPath != "" {
				cond, err = readTensorFile(conditionPath, b, model.Config().AuxChannels, f)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: read condition: %v", err), 1)
				}
			}

			opts := diffusion.Options{
				NumInferenceSteps: int(steps),
				Sampler:           samplerKind,
				Seed:              seed,
				Callback: func(index, timestep, total int, _ *tensor.Tensor) {
					log.Info("denoising", "step", index+1, "total", total, "timestep", timestep)
				},
			}
			if strengthSet || cmd.IsSet("strength") {
				opts.Strength = diffusion.StrengthOf(strength)
			}

			result, stats, err := engine.Inference(noise, cond, ref, opts)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: inference: %v", err), 1)
			}
			if err := writeTensorFile(outPath, result); err != nil {
				return cli.Exit(fmt.Sprintf("error: write output: %v", err), 1)
			}

			log.Info("sampling complete",
				"output", outPath,
				"shape", fmt.Sprintf("%dx%dx%d", result.B, result.C, result.T),
				"sampler", stats.SamplerKind,
				"steps", stats.Steps,
				"duration", stats.Duration,
				"steps_per_sec", fmt.Sprintf("%.2f", stats.StepsPerSec),
				"warm_start", stats.WarmStart,
			)
			return nil
		},
	}
}
