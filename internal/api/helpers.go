package api

import (
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/meldiff/internal/tensor"
)

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// tensorFromJSON converts a [batch][channels][frames] nested array into a
// tensor, enforcing rectangular dims and the expected batch and frame counts.
func tensorFromJSON(name string, data [][][]float32, batch, frames int) (*tensor.Tensor, error) {
	if len(data) != batch {
		return nil, fmt.Errorf("%s: batch %d, expected %d", name, len(data), batch)
	}
	if len(data[0]) == 0 {
		return nil, fmt.Errorf("%s: empty channel dimension", name)
	}
	channels := len(data[0])

	out := tensor.New(batch, channels, frames)
	for b, mat := range data {
		if len(mat) != channels {
			return nil, fmt.Errorf("%s: batch %d has %d channels, expected %d", name, b, len(mat), channels)
		}
		dst := out.Batch(b)
		for ch, row := range mat {
			if len(row) != frames {
				return nil, fmt.Errorf("%s: batch %d channel %d has %d frames, expected %d", name, b, ch, len(row), frames)
			}
			copy(dst[ch*frames:(ch+1)*frames], row)
		}
	}
	return out, nil
}

func tensorToJSON(x *tensor.Tensor) [][][]float32 {
	out := make([][][]float32, x.B)
	for b := range out {
		src := x.Batch(b)
		mat := make([][]float32, x.C)
		for ch := range mat {
			row := make([]float32, x.T)
			copy(row, src[ch*x.T:(ch+1)*x.T])
			mat[ch] = row
		}
		out[b] = mat
	}
	return out
}
