package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/coverline/coverline/pkg/logger"
)

// HTTPClient talks to an OpenAI-compatible embeddings endpoint. Calls are
// throttled by a local token bucket so a busy worker cannot trip the
// provider's rate limit on its own.
type HTTPClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	model        string
	modelVersion string
	dimension    int
	limiter      *rate.Limiter
	log          *slog.Logger
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	ModelVersion string
	Dimension    int
	Timeout      time.Duration
	// RequestsPerSecond caps outbound calls; zero disables throttling.
	RequestsPerSecond float64
	Burst             int
}

// NewHTTPClient creates a provider client.
func NewHTTPClient(cfg HTTPClientConfig, log *slog.Logger) *HTTPClient {
	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &HTTPClient{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		modelVersion: cfg.ModelVersion,
		dimension:    dimension,
		limiter:      limiter,
		log:          log.With(logger.Scope("embeddings")),
	}
}

func (c *HTTPClient) Model() string        { return c.model }
func (c *HTTPClient) ModelVersion() string { return c.modelVersion }
func (c *HTTPClient) Dimension() int       { return c.dimension }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch embeds one batch. The response is re-ordered by the provider's
// index field and verified to have one vector per input; any shape mismatch
// is returned as an *Error so the caller can dead-letter the job.
func (c *HTTPClient) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	start := time.Now()

	body, err := json.Marshal(embedRequest{Model: c.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Error{
				Message:    "embedding request timed out",
				StatusCode: http.StatusRequestTimeout,
			}
		}
		return nil, &Error{
			Message:    fmt.Sprintf("embedding provider unavailable at %s", c.baseURL),
			Detail:     err.Error(),
			StatusCode: http.StatusServiceUnavailable,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(resp.StatusCode, raw)
	}

	var out embedResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	if len(out.Data) != len(inputs) {
		return nil, &Error{
			Message:           fmt.Sprintf("provider returned %d vectors for %d inputs", len(out.Data), len(inputs)),
			StatusCode:        http.StatusBadGateway,
			ContractViolation: true,
		}
	}

	vectors := make([][]float32, len(inputs))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(inputs) {
			return nil, &Error{
				Message:           fmt.Sprintf("provider returned out-of-range index %d", d.Index),
				StatusCode:        http.StatusBadGateway,
				ContractViolation: true,
			}
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, &Error{
				Message:           fmt.Sprintf("provider returned no vector for input %d", i),
				StatusCode:        http.StatusBadGateway,
				ContractViolation: true,
			}
		}
	}

	c.log.Debug("batch embedded",
		slog.Int("inputs", len(inputs)),
		slog.Duration("duration", time.Since(start)),
	)

	return vectors, nil
}

func (c *HTTPClient) handleErrorResponse(statusCode int, body []byte) *Error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	message := ""
	if err := json.Unmarshal(body, &errResp); err == nil {
		message = errResp.Error.Message
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = "embedding provider error"
	}

	c.log.Warn("embedding provider error",
		slog.Int("status_code", statusCode),
		slog.String("message", message),
	)

	return &Error{
		Message:    message,
		StatusCode: statusCode,
	}
}
