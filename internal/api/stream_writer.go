package api

import (
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// SSEStreamWriter emits denoise progress as server-sent events: a
// denoise.progress event per reported step, then denoise.completed with the
// full result, or denoise.failed.
type SSEStreamWriter struct {
	w       io.Writer
	flusher func()
	seq     int
}

func NewSSEStreamWriter(c *echo.Context) (*SSEStreamWriter, error) {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	return &SSEStreamWriter{
		w:       res,
		flusher: flusher.Flush,
		seq:     1,
	}, nil
}

func (s *SSEStreamWriter) Progress(id string, index, timestep, total int) error {
	return s.send(map[string]any{
		"type":            "denoise.progress",
		"id":              id,
		"index":           index,
		"timestep":        timestep,
		"total":           total,
		"sequence_number": s.seq,
	})
}

func (s *SSEStreamWriter) Completed(resp DenoiseResponse) error {
	return s.send(map[string]any{
		"type":            "denoise.completed",
		"response":        resp,
		"sequence_number": s.seq,
	})
}

func (s *SSEStreamWriter) Failed(id string, err error) error {
	return s.send(map[string]any{
		"type": "denoise.failed",
		"id":   id,
		"error": ResponseError{
			Message: err.Error(),
			Type:    "server_error",
		},
		"sequence_number": s.seq,
	})
}

func (s *SSEStreamWriter) send(payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", string(b)); err != nil {
		return err
	}
	s.flusher()
	s.seq++
	return nil
}
