// Package embeddings provides the embedding provider client used by the
// embed stage. The provider contract is strict: one vector per input, in
// input order, all of the declared dimension. Violations are surfaced as
// typed errors so the stage can classify them.
package embeddings

import (
	"context"
	"fmt"
	"net/http"
)

// DefaultDimension is the vector dimension stored in document_chunks.
const DefaultDimension = 1536

// Client generates embedding vectors for ordered batches of inputs.
type Client interface {
	// EmbedBatch returns exactly one vector per input, in input order.
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)

	// Model and ModelVersion identify the vectors produced; both are
	// stamped on every committed embedding.
	Model() string
	ModelVersion() string

	// Dimension is the vector length the provider is configured for.
	Dimension() int
}

// Error represents an embedding provider error.
type Error struct {
	Message    string
	Detail     string
	StatusCode int
	// ContractViolation marks a malformed provider response: wrong vector
	// count, out-of-range or missing index. The same request would produce
	// the same malformed answer, so these are never retried.
	ContractViolation bool
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// RateLimited reports whether the provider asked us to back off.
func (e *Error) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Transient reports whether the error is worth retrying.
func (e *Error) Transient() bool {
	if e.ContractViolation {
		return false
	}
	return e.RateLimited() || e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout
}

// NoopClient returns nil vectors. Used when embeddings are disabled.
type NoopClient struct{}

// NewNoopClient creates a new NoopClient.
func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

func (c *NoopClient) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	return nil, nil
}

func (c *NoopClient) Model() string        { return "noop" }
func (c *NoopClient) ModelVersion() string { return "0" }
func (c *NoopClient) Dimension() int       { return DefaultDimension }
