package main

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/meldiff/internal/logger"
)

var (
	checkpointPath    string
	melChannels       int64
	numTrainTimesteps int64
	betaStart         float64
	betaEnd           float64
	betaSchedule      string
	numMaxTimesteps   int64
	logLevel          string
	logFormat         string
	debug             bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "checkpoint",
			Aliases:     []string{"m"},
			Usage:       "path to .mdc checkpoint (omit for a seed-initialised model)",
			Destination: &checkpointPath,
		},
		&cli.Int64Flag{
			Name:        "mel-channels",
			Usage:       "mel channel count",
			Value:       80,
			Destination: &melChannels,
		},
	}
}

func commonScheduleFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "train-timesteps",
			Usage:       "training timestep count",
			Value:       1000,
			Destination: &numTrainTimesteps,
		},
		&cli.Float64Flag{
			Name:        "beta-start",
			Usage:       "schedule beta at t=0",
			Value:       0.0001,
			Destination: &betaStart,
		},
		&cli.Float64Flag{
			Name:        "beta-end",
			Usage:       "schedule beta at the final timestep",
			Value:       0.02,
			Destination: &betaEnd,
		},
		&cli.StringFlag{
			Name:        "beta-schedule",
			Usage:       "beta schedule kind (linear, squaredcos)",
			Value:       "squaredcos",
			Destination: &betaSchedule,
		},
		&cli.Int64Flag{
			Name:        "max-timesteps",
			Usage:       "noise-range cap; 0 means uncapped",
			Destination: &numMaxTimesteps,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func buildLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	default:
		return logger.Pretty(os.Stderr, level)
	}
}
