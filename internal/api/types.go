package api

// DenoiseRequest asks the engine to run the reverse loop and return a mel
// tensor.  Condition and reference, when present, are [batch][channels][frames]
// nested arrays; reference enables a warm start.
type DenoiseRequest struct {
	Frames        int           `json:"frames"`
	Batch         int           `json:"batch,omitempty"`
	Steps         int           `json:"steps,omitempty"`
	Sampler       string        `json:"sampler,omitempty"`
	Strength      *float64      `json:"strength,omitempty"`
	Seed          int64         `json:"seed,omitempty"`
	Condition     [][][]float32 `json:"condition,omitempty"`
	Reference     [][][]float32 `json:"reference,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
	CallbackSteps int           `json:"callback_steps,omitempty"`
}

// DenoiseResponse is the non-streaming result.
type DenoiseResponse struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Sampler string        `json:"sampler"`
	Steps   int           `json:"steps"`
	Shape   [3]int        `json:"shape"`
	Mel     [][][]float32 `json:"mel"`
	Stats   DenoiseStats  `json:"stats"`
}

type DenoiseStats struct {
	DurationMS  float64 `json:"duration_ms"`
	StepsPerSec float64 `json:"steps_per_second"`
	WarmStart   bool    `json:"warm_start"`
}

// SamplerInfo describes one registered stepping algorithm.
type SamplerInfo struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
