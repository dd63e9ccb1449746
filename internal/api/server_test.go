package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/meldiff/internal/diffusion"
	"github.com/samcharles93/meldiff/internal/tensor"
)

// zeroDenoiser predicts zero noise, which keeps the reverse loop cheap and
// deterministic for handler tests.
type zeroDenoiser struct{}

func (zeroDenoiser) Denoise(x *tensor.Tensor, _ []int, cond *tensor.Tensor) (*tensor.Tensor, error) {
	if cond != nil && cond.C != 4 {
		return nil, diffusion.ErrShapeMismatch
	}
	return tensor.New(x.B, x.C, x.T), nil
}

func newTestEcho(t *testing.T) *echo.Echo {
	t.Helper()
	engine, err := diffusion.New(zeroDenoiser{}, diffusion.Config{NumTrainTimesteps: 100})
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	e := echo.New()
	NewServer(engine, 4, nil).Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestDenoise(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	rec := doJSON(t, e, http.MethodPost, "/v1/denoise", `{"frames":6,"batch":2,"steps":5,"sampler":"ddim","seed":42}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}

	var resp DenoiseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(resp.ID, "den_") {
		t.Fatalf("unexpected id: %q", resp.ID)
	}
	if resp.Object != "denoise.result" {
		t.Fatalf("unexpected object: %q", resp.Object)
	}
	if resp.Shape != [3]int{2, 4, 6} {
		t.Fatalf("unexpected shape: %v", resp.Shape)
	}
	if resp.Steps != 5 {
		t.Fatalf("expected 5 steps, got %d", resp.Steps)
	}
	if len(resp.Mel) != 2 || len(resp.Mel[0]) != 4 || len(resp.Mel[0][0]) != 6 {
		t.Fatalf("mel dims: %dx%dx%d", len(resp.Mel), len(resp.Mel[0]), len(resp.Mel[0][0]))
	}
}

func TestDenoiseValidationErrors(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/denoise", `{"steps":5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing frames: expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "invalid_request_error") {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/denoise", `{"frames":6,"steps":5,"sampler":"heun"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown sampler: expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/denoise", `{"frames":6,"steps":500}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("too many steps: expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}

	// condition frame count disagrees with frames
	rec = doJSON(t, e, http.MethodPost, "/v1/denoise", `{"frames":6,"steps":5,"condition":[[[1,2,3]]]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ragged condition: expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestDenoiseStreaming(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	rec := doJSON(t, e, http.MethodPost, "/v1/denoise", `{"frames":6,"steps":5,"sampler":"ddpm","stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("unexpected content type: %q", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "data: ") {
		t.Fatal("expected SSE data events in streaming response")
	}
	if !strings.Contains(body, "denoise.progress") {
		t.Fatal("expected denoise.progress events in streaming response")
	}
	if !strings.Contains(body, "denoise.completed") {
		t.Fatal("expected denoise.completed event in streaming response")
	}
}

func TestListSamplers(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t)
	rec := doJSON(t, e, http.MethodGet, "/v1/samplers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Object string        `json:"object"`
		Data   []SamplerInfo `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Object != "list" {
		t.Fatalf("unexpected object: %q", resp.Object)
	}
	want := map[string]bool{"ddpm": false, "ddim": false, "pndm": false}
	for _, s := range resp.Data {
		want[s.ID] = true
	}
	for kind, seen := range want {
		if !seen {
			t.Fatalf("sampler %q missing from list", kind)
		}
	}
}
