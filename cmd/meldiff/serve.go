package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/meldiff/internal/api"
	"github.com/samcharles93/meldiff/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		seed        int64
		readTimeout time.Duration
	)

	flags := append(commonModelFlags(), commonScheduleFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "weight init seed when no checkpoint is supplied",
			Destination: &seed,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the denoise REST API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyServeConfig(cmd, cfg, &addr)
			log := buildLogger()
			ctx = logger.WithContext(ctx, log)

			model, err := loadDenoiser(log, seed)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			engine, err := buildEngine(model, seed)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build engine: %v", err), 1)
			}

			server := api.NewServer(engine, model.Config().InChannels, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
