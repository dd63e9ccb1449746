package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/meldiff/internal/denoiser"
)

func packCmd() *cli.Command {
	var (
		outPath          string
		seed             int64
		layers           int64
		stacks           int64
		kernelSize       int64
		residualChannels int64
		gateChannels     int64
		skipChannels     int64
		auxChannels      int64
	)

	flags := append(commonModelFlags(), loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "output checkpoint path",
			Value:       "model.mdc",
			Destination: &outPath,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "weight init seed",
			Destination: &seed,
		},
		&cli.Int64Flag{
			Name:        "layers",
			Usage:       "residual block count",
			Value:       20,
			Destination: &layers,
		},
		&cli.Int64Flag{
			Name:        "stacks",
			Usage:       "dilation stack count",
			Value:       5,
			Destination: &stacks,
		},
		&cli.Int64Flag{
			Name:        "kernel-size",
			Usage:       "dilated conv kernel size (odd)",
			Value:       3,
			Destination: &kernelSize,
		},
		&cli.Int64Flag{
			Name:        "residual-channels",
			Usage:       "residual channel count",
			Value:       256,
			Destination: &residualChannels,
		},
		&cli.Int64Flag{
			Name:        "gate-channels",
			Usage:       "gate channel count (even)",
			Value:       512,
			Destination: &gateChannels,
		},
		&cli.Int64Flag{
			Name:        "skip-channels",
			Usage:       "skip channel count",
			Value:       256,
			Destination: &skipChannels,
		},
		&cli.Int64Flag{
			Name:        "aux-channels",
			Usage:       "conditioning channel count",
			Value:       256,
			Destination: &auxChannels,
		},
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Write a seed-initialised denoiser checkpoint",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := buildLogger()

			model, err := denoiser.New(denoiser.Config{
				InChannels:       int(melChannels),
				OutChannels:      int(melChannels),
				KernelSize:       int(kernelSize),
				Layers:           int(layers),
				Stacks:           int(stacks),
				ResidualChannels: int(residualChannels),
				GateChannels:     int(gateChannels),
				SkipChannels:     int(skipChannels),
				AuxChannels:      int(auxChannels),
			}, seed)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build model: %v", err), 1)
			}
			if err := denoiser.Save(model, outPath); err != nil {
				return cli.Exit(fmt.Sprintf("error: write checkpoint: %v", err), 1)
			}

			log.Info("checkpoint written", "path", outPath, "layers", layers, "seed", seed)
			return nil
		},
	}
}
