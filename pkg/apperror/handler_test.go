package apperror

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlerContext(t *testing.T, method string) (echo.HTTPErrorHandler, echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	handler := HTTPErrorHandler(slog.Default())

	req := httptest.NewRequest(method, "/", nil)
	rec := httptest.NewRecorder()
	return handler, e.NewContext(req, rec), rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok, "response has no error object: %s", rec.Body.String())
	return errObj
}

func TestHTTPErrorHandler_AppError(t *testing.T) {
	handler, c, rec := newHandlerContext(t, http.MethodGet)

	handler(NewBadRequest("invalid input"), c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errObj := errorBody(t, rec)
	assert.Equal(t, "bad_request", errObj["code"])
	assert.Equal(t, "invalid input", errObj["message"])
}

func TestHTTPErrorHandler_EchoError(t *testing.T) {
	handler, c, rec := newHandlerContext(t, http.MethodGet)

	handler(echo.NewHTTPError(http.StatusNotFound, "resource not found"), c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	errObj := errorBody(t, rec)
	assert.Equal(t, "not_found", errObj["code"])
	assert.Equal(t, "resource not found", errObj["message"])
}

func TestHTTPErrorHandler_EchoError_AllStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode string
	}{
		{"unauthorized", http.StatusUnauthorized, "unauthorized"},
		{"forbidden", http.StatusForbidden, "forbidden"},
		{"not_found", http.StatusNotFound, "not_found"},
		{"bad_request", http.StatusBadRequest, "bad_request"},
		{"conflict", http.StatusConflict, "conflict"},
		{"unprocessable_entity", http.StatusUnprocessableEntity, "validation_error"},
		{"unsupported_media_type", http.StatusUnsupportedMediaType, "unsupported_media_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, c, rec := newHandlerContext(t, http.MethodGet)

			handler(echo.NewHTTPError(tt.status, "test message"), c)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantCode, errorBody(t, rec)["code"])
		})
	}
}

func TestHTTPErrorHandler_StructuredMessage(t *testing.T) {
	handler, c, rec := newHandlerContext(t, http.MethodGet)

	// Structured error map, as produced by the admin key middleware.
	structuredMsg := map[string]any{
		"error": map[string]any{
			"code":    "invalid_api_key",
			"message": "Invalid admin API key",
		},
	}
	handler(echo.NewHTTPError(http.StatusForbidden, structuredMsg), c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	errObj := errorBody(t, rec)
	assert.Equal(t, "invalid_api_key", errObj["code"])
	assert.Equal(t, "Invalid admin API key", errObj["message"])
}

func TestHTTPErrorHandler_InternalError(t *testing.T) {
	handler, c, rec := newHandlerContext(t, http.MethodGet)

	handler(echo.NewHTTPError(http.StatusInternalServerError, "something went wrong"), c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHTTPErrorHandler_HeadRequest(t *testing.T) {
	handler, c, rec := newHandlerContext(t, http.MethodHead)

	handler(NewNotFound("resource", "123"), c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, rec.Body.Len(), "HEAD response must have no body")
}

func TestHTTPErrorHandler_CommittedResponse(t *testing.T) {
	handler, c, rec := newHandlerContext(t, http.MethodGet)

	c.Response().WriteHeader(http.StatusOK)
	c.Response().Write([]byte("already written"))

	// A committed response must not be rewritten.
	handler(NewBadRequest("should not appear"), c)

	assert.Equal(t, http.StatusOK, rec.Code)
}
