package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/meldiff/internal/schedule"
)

func scheduleCmd() *cli.Command {
	var rows int64

	flags := append(commonScheduleFlags(),
		&cli.Int64Flag{
			Name:        "rows",
			Usage:       "table rows to print (evenly spaced)",
			Value:       11,
			Destination: &rows,
		},
	)

	return &cli.Command{
		Name:  "schedule",
		Usage: "Print the derived noise schedule",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sched, err := schedule.New(schedule.Config{
				NumTrainTimesteps: int(numTrainTimesteps),
				BetaStart:         betaStart,
				BetaEnd:           betaEnd,
				Kind:              schedule.Kind(betaSchedule),
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			n := sched.NumTrainTimesteps()
			if rows < 2 {
				rows = 2
			}
			if rows > int64(n) {
				rows = int64(n)
			}

			fmt.Printf("schedule:  %s\n", betaSchedule)
			fmt.Printf("timesteps: %d\n\n", n)
			fmt.Printf("%8s  %12s  %14s\n", "t", "beta", "alpha_cumprod")
			for i := int64(0); i < rows; i++ {
				t := int(i * int64(n-1) / (rows - 1))
				fmt.Printf("%8d  %12.6g  %14.6g\n", t, sched.Betas[t], sched.AlphasCumprod[t])
			}
			return nil
		},
	}
}
