// Package api serves the denoising engine over HTTP: POST /v1/denoise runs
// the reverse loop (JSON result or SSE progress stream), GET /v1/samplers
// lists the registered stepping algorithms.
package api

import (
	"errors"
	"math/rand"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/meldiff/internal/diffusion"
	"github.com/samcharles93/meldiff/internal/logger"
	"github.com/samcharles93/meldiff/internal/sampler"
	"github.com/samcharles93/meldiff/internal/tensor"
)

// defaultSteps caps API requests that leave the step count unset; the engine
// default of a full trajectory is too slow for an interactive endpoint.
const defaultSteps = 50

type Server struct {
	engine   *diffusion.GaussianDiffusion
	channels int
	log      logger.Logger
	clock    func() time.Time
}

// NewServer binds the engine; channels is the mel channel count used when
// drawing the initial noise tensor.
func NewServer(engine *diffusion.GaussianDiffusion, channels int, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		engine:   engine,
		channels: channels,
		log:      log,
		clock:    time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/denoise", s.handleDenoise)
	e.GET("/v1/samplers", s.handleListSamplers)
}

func (s *Server) handleListSamplers(c *echo.Context) error {
	kinds := sampler.Kinds()
	sort.Strings(kinds)
	data := make([]SamplerInfo, 0, len(kinds))
	for _, k := range kinds {
		data = append(data, SamplerInfo{ID: k, Object: "sampler"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
	})
}

func (s *Server) handleDenoise(c *echo.Context) error {
	if s.engine == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "denoising engine not configured", "", "")
	}
	req, err := decodeJSON[DenoiseRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Frames < 1 {
		return writeBadRequest(c, "frames must be at least 1")
	}
	if req.Batch == 0 {
		req.Batch = 1
	}
	if req.Batch < 1 {
		return writeBadRequest(c, "batch must be at least 1")
	}
	if req.Steps == 0 {
		req.Steps = defaultSteps
	}
	if req.Steps < 1 {
		return writeBadRequest(c, "steps must be at least 1")
	}

	var cond, ref *tensor.Tensor
	if req.Condition != nil {
		cond, err = tensorFromJSON("condition", req.Condition, req.Batch, req.Frames)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
	}
	if req.Reference != nil {
		ref, err = tensorFromJSON("reference", req.Reference, req.Batch, req.Frames)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
	}

	opts := diffusion.Options{
		NumInferenceSteps: req.Steps,
		Sampler:           req.Sampler,
		Seed:              req.Seed,
		CallbackSteps:     req.CallbackSteps,
	}
	if req.Strength != nil {
		opts.Strength = diffusion.StrengthOf(*req.Strength)
	}

	noise := tensor.New(req.Batch, s.channels, req.Frames)
	tensor.FillRandn(noise, rand.New(rand.NewSource(req.Seed)))

	id := "den_" + uuid.NewString()
	log := s.log.With("id", id, "sampler", opts.Sampler, "steps", req.Steps, "frames", req.Frames)

	if req.Stream {
		return s.streamDenoise(c, id, log, noise, cond, ref, opts)
	}

	result, stats, err := s.engine.Inference(noise, cond, ref, opts)
	if err != nil {
		log.Error("denoise failed", "error", err)
		if isRequestError(err) {
			return writeBadRequest(c, err.Error())
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	log.Info("denoise completed", "duration", stats.Duration, "steps_per_sec", stats.StepsPerSec)

	return c.JSON(http.StatusOK, s.buildResponse(id, result, stats))
}

func (s *Server) streamDenoise(c *echo.Context, id string, log logger.Logger, noise, cond, ref *tensor.Tensor, opts diffusion.Options) error {
	writer, err := NewSSEStreamWriter(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	opts.Callback = func(index, timestep, total int, _ *tensor.Tensor) {
		if err := writer.Progress(id, index, timestep, total); err != nil {
			log.Warn("progress event dropped", "error", err)
		}
	}

	result, stats, err := s.engine.Inference(noise, cond, ref, opts)
	if err != nil {
		log.Error("denoise failed", "error", err)
		return writer.Failed(id, err)
	}
	log.Info("denoise completed", "duration", stats.Duration, "steps_per_sec", stats.StepsPerSec)

	return writer.Completed(s.buildResponse(id, result, stats))
}

func (s *Server) buildResponse(id string, result *tensor.Tensor, stats diffusion.Stats) DenoiseResponse {
	return DenoiseResponse{
		ID:      id,
		Object:  "denoise.result",
		Created: s.clock().Unix(),
		Sampler: stats.SamplerKind,
		Steps:   stats.Steps,
		Shape:   [3]int{result.B, result.C, result.T},
		Mel:     tensorToJSON(result),
		Stats: DenoiseStats{
			DurationMS:  float64(stats.Duration.Microseconds()) / 1000,
			StepsPerSec: stats.StepsPerSec,
			WarmStart:   stats.WarmStart,
		},
	}
}

// isRequestError reports whether the failure is attributable to the request
// rather than the server.
func isRequestError(err error) bool {
	return errors.Is(err, diffusion.ErrShapeMismatch) ||
		errors.Is(err, sampler.ErrUnknownKind) ||
		errors.Is(err, sampler.ErrTooManySteps)
}
