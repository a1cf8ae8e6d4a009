package embeddings

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *HTTPClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewHTTPClient(HTTPClientConfig{
		BaseURL:      srv.URL,
		Model:        "test-embed",
		ModelVersion: "1",
		Dimension:    4,
		Timeout:      2 * time.Second,
	}, slog.Default())
	return srv, c
}

func TestEmbedBatch(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-embed", req.Model)
		assert.Equal(t, []string{"alpha", "beta"}, req.Input)

		// Out of order on purpose; the client re-orders by index.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{2, 2, 2, 2}},
				{"index": 0, "embedding": []float32{1, 1, 1, 1}},
			},
		})
	})

	got, err := c.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []float32{1, 1, 1, 1}, got[0])
	assert.Equal(t, []float32{2, 2, 2, 2}, got[1])
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty input")
	})

	got, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEmbedBatch_LengthMismatch(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float32{1, 1, 1, 1}},
			},
		})
	})

	_, err := c.EmbedBatch(context.Background(), []string{"a", "b"})

	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, http.StatusBadGateway, eerr.StatusCode)
	assert.True(t, eerr.ContractViolation)
	assert.False(t, eerr.Transient())
}

func TestEmbedBatch_DuplicateIndex(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float32{1, 1, 1, 1}},
				{"index": 0, "embedding": []float32{2, 2, 2, 2}},
			},
		})
	})

	_, err := c.EmbedBatch(context.Background(), []string{"a", "b"})

	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	assert.Contains(t, eerr.Message, "no vector for input")
	assert.True(t, eerr.ContractViolation)
	assert.False(t, eerr.Transient())
}

func TestEmbedBatch_RateLimited(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limit exceeded"},
		})
	})

	_, err := c.EmbedBatch(context.Background(), []string{"a"})

	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	assert.True(t, eerr.RateLimited())
	assert.True(t, eerr.Transient())
	assert.Equal(t, "rate limit exceeded", eerr.Message)
}

func TestEmbedBatch_BadRequestIsPermanent(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "input exceeds maximum tokens"},
		})
	})

	_, err := c.EmbedBatch(context.Background(), []string{"a"})

	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	assert.False(t, eerr.Transient())
}

func TestEmbedBatch_Throttled(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float32{1}},
			},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{
		BaseURL:           srv.URL,
		Model:             "test-embed",
		Dimension:         1,
		Timeout:           2 * time.Second,
		RequestsPerSecond: 20,
		Burst:             1,
	}, slog.Default())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.EmbedBatch(context.Background(), []string{"x"})
		require.NoError(t, err)
	}

	// Burst 1 at 20 rps: the second and third calls each wait ~50ms.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, 3, calls)
}

func TestNoopClient(t *testing.T) {
	c := NewNoopClient()

	got, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, "noop", c.Model())
	assert.Equal(t, DefaultDimension, c.Dimension())
}
