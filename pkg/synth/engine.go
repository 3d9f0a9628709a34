package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request describes one synthesis invocation. ReferencePath is always a
// local filesystem path by the time the engine sees it; the Processor
// resolves URLs beforehand.
type Request struct {
	Text          string `json:"text"`
	Language      string `json:"language"`
	ReferencePath string `json:"reference_path"`
	OutputPath    string `json:"output_path"`
}

// Engine is the opaque speech-synthesis capability. Implementations write
// the generated artifact to req.OutputPath. An Engine instance owns its own
// model lifecycle; it is injected into the Processor so tests can substitute
// a stub.
type Engine interface {
	Synthesize(ctx context.Context, req Request) error
}

// HTTPEngine calls an inference sidecar over HTTP. The sidecar shares the
// worker's filesystem, so reference and output paths are passed by name.
//
// A 422 response with error_code AUDIO_TOO_QUIET is mapped to
// *QuietAudioError; any other non-2xx response becomes a generic error.
type HTTPEngine struct {
	endpoint string
	client   *http.Client
}

// NewHTTPEngine creates an engine client for the given synthesize endpoint,
// e.g. "http://127.0.0.1:5005/synthesize".
func NewHTTPEngine(endpoint string, timeout time.Duration) *HTTPEngine {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPEngine{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// engineError is the sidecar's structured error body.
type engineError struct {
	ErrorCode string  `json:"error_code"`
	Message   string  `json:"message"`
	RMSLevel  float64 `json:"rms_level"`
	Threshold float64 `json:"threshold"`
}

func (e *HTTPEngine) Synthesize(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("synthesis engine call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var engErr engineError
	if json.Unmarshal(respBody, &engErr) == nil && engErr.ErrorCode == ErrCodeAudioTooQuiet {
		return &QuietAudioError{RMSLevel: engErr.RMSLevel, Threshold: engErr.Threshold}
	}
	if engErr.Message != "" {
		return fmt.Errorf("synthesis engine returned %d: %s", resp.StatusCode, engErr.Message)
	}
	return fmt.Errorf("synthesis engine returned %d", resp.StatusCode)
}
