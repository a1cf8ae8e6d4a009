// Package parser provides an HTTP client for the external document-to-markdown
// parsing service. Parsing is asynchronous: a submit call returns a parser job
// handle and the caller polls until the parser reports done or failed. Partial
// results are never accepted.
package parser

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

	"go.uber.org/fx"

	"github.com/coverline/coverline/internal/config"
	"github.com/coverline/coverline/pkg/logger"
)

// Module provides the parser client as an fx module.
var Module = fx.Module("parser",
	fx.Provide(NewClient),
)

// Status is the parser-side job status.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// SubmitRequest describes one document handed to the parser. The parser
// fetches the raw bytes itself through the signed URL.
type SubmitRequest struct {
	SourceURL string `json:"source_url"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
}

// PollResult is the parser's answer to one poll.
type PollResult struct {
	Status   Status `json:"status"`
	Markdown string `json:"markdown,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Error represents a parser service error.
type Error struct {
	// Message is the human-friendly error message
	Message string
	// Detail is the technical error detail
	Detail string
	// StatusCode is the HTTP status code
	StatusCode int
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// RateLimited reports whether the parser asked us to back off.
func (e *Error) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Timeout reports whether the call exceeded its deadline.
func (e *Error) Timeout() bool {
	return e.StatusCode == http.StatusRequestTimeout
}

// Transient reports whether the error is worth retrying at all.
func (e *Error) Transient() bool {
	return e.RateLimited() || e.Timeout() || e.StatusCode >= 500
}

// humanFriendlyMessages maps technical parser errors to user-facing messages.
var humanFriendlyMessages = map[string]string{
	"Invalid PDF":             "This PDF file appears to be corrupted or invalid.",
	"Invalid file":            "This file appears to be corrupted or in an unrecognized format.",
	"Unsupported file format": "This file format is not supported for text extraction.",
	"Empty content":           "No text content could be extracted from this file.",
	"File too large":          "This file exceeds the maximum size limit for processing.",
	"Processing timeout":      "The file took too long to process.",
	"Password protected":      "This file is password protected and cannot be parsed.",
	"Scanned without OCR":     "This document is scanned and OCR did not produce readable text.",
}

func getHumanFriendlyMessage(technical, detail string) string {
	for pattern, friendly := range humanFriendlyMessages {
		if strings.Contains(technical, pattern) || strings.Contains(detail, pattern) {
			return friendly
		}
	}
	if detail != "" {
		return fmt.Sprintf("%s (%s)", technical, detail)
	}
	return technical
}

// Client is an HTTP client for the parsing service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	log        *slog.Logger
}

// NewClient creates a new parser client.
func NewClient(cfg *config.Config, log *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Parser.Timeout(),
		},
		baseURL: strings.TrimRight(cfg.Parser.ServiceURL, "/"),
		apiKey:  cfg.Parser.APIKey,
		timeout: cfg.Parser.Timeout(),
		log:     log.With(logger.Scope("parser")),
	}
}

// Submit hands a document to the parser and returns the parser's job handle.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/parse", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", c.transportError(ctx, err, req.Filename)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read submit response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", c.handleErrorResponse(resp.StatusCode, raw, req.Filename)
	}

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if out.JobID == "" {
		return "", &Error{
			Message:    "parser returned no job handle",
			StatusCode: http.StatusBadGateway,
		}
	}

	c.log.Debug("parse job submitted",
		slog.String("filename", req.Filename),
		slog.String("parser_job_id", out.JobID),
	)
	return out.JobID, nil
}

// Poll asks the parser for the state of one job. A done result carries the
// markdown; a failed result carries the parser's error text.
func (c *Client) Poll(ctx context.Context, parserJobID string) (*PollResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/parse/"+parserJobID, nil)
	if err != nil {
		return nil, fmt.Errorf("create poll request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err, parserJobID)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read poll response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(resp.StatusCode, raw, parserJobID)
	}

	var result PollResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}

	switch result.Status {
	case StatusQueued, StatusRunning, StatusDone, StatusFailed:
	default:
		return nil, &Error{
			Message:    fmt.Sprintf("parser returned unknown status %q", result.Status),
			StatusCode: http.StatusBadGateway,
		}
	}

	return &result, nil
}

func (c *Client) transportError(ctx context.Context, err error, subject string) *Error {
	if ctx.Err() == context.DeadlineExceeded {
		return &Error{
			Message:    fmt.Sprintf("parser request timed out for %s", subject),
			StatusCode: http.StatusRequestTimeout,
		}
	}
	return &Error{
		Message:    fmt.Sprintf("parser service unavailable at %s", c.baseURL),
		Detail:     err.Error(),
		StatusCode: http.StatusServiceUnavailable,
	}
}

// handleErrorResponse converts HTTP error responses to Error.
func (c *Client) handleErrorResponse(statusCode int, body []byte, subject string) *Error {
	var errResp struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}

	var message, detail string
	if err := json.Unmarshal(body, &errResp); err == nil {
		message = errResp.Error
		if message == "" {
			message = errResp.Message
		}
		detail = errResp.Detail
	} else {
		message = string(body)
	}
	if message == "" {
		message = fmt.Sprintf("parser error for %s", subject)
	}

	c.log.Warn("parser error",
		slog.String("subject", subject),
		slog.Int("status_code", statusCode),
		slog.String("message", message),
		slog.String("detail", detail),
	)

	return &Error{
		Message:    getHumanFriendlyMessage(message, detail),
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// HealthCheck probes the parser's health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("parser unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("parser unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
