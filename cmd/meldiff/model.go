package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/samcharles93/meldiff/internal/denoiser"
	"github.com/samcharles93/meldiff/internal/diffusion"
	"github.com/samcharles93/meldiff/internal/logger"
	"github.com/samcharles93/meldiff/internal/schedule"
	"github.com/samcharles93/meldiff/internal/tensor"
)

func loadDenoiser(log logger.Logger, seed int64) (*denoiser.WaveNet, error) {
	if checkpointPath != "" {
		log.Info("loading checkpoint", "path", checkpointPath)
		return denoiser.Load(checkpointPath)
	}
	log.Warn("no checkpoint supplied, using seed-initialised weights", "seed", seed)
	return denoiser.New(denoiser.Config{
		InChannels:  int(melChannels),
		OutChannels: int(melChannels),
	}, seed)
}

func buildEngine(model diffusion.Denoiser, seed int64) (*diffusion.GaussianDiffusion, error) {
	return diffusion.New(model, diffusion.Config{
		NumTrainTimesteps: int(numTrainTimesteps),
		BetaStart:         betaStart,
		BetaEnd:           betaEnd,
		BetaSchedule:      schedule.Kind(betaSchedule),
		NumMaxTimesteps:   int(numMaxTimesteps),
		Seed:              seed,
	})
}

// readTensorFile loads a raw little-endian float32 file with the exact
// element count implied by the shape.
func readTensorFile(path string, batch, channels, frames int) (*tensor.Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	want := batch * channels * frames
	if len(data) != 4*want {
		return nil, fmt.Errorf("%s: %d bytes, expected %d (%dx%dx%d float32)",
			path, len(data), 4*want, batch, channels, frames)
	}
	out := tensor.New(batch, channels, frames)
	for i := range out.Data {
		out.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out, nil
}

// writeTensorFile stores x as raw little-endian float32.
func writeTensorFile(path string, x *tensor.Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	var scratch [4]byte
	for _, v := range x.Data {
		binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(v))
		if _, err := bw.Write(scratch[:]); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
