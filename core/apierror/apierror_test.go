package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite_APIError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/apps/1/resources/test/1", nil)

	Write(w, r, fmt.Errorf("lookup: %w", ErrResourceNotFound))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{
		"statusCode": float64(404),
		"error":      "Not Found",
		"message":    "Resource not found",
	}, body)
}

func TestWrite_Data(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodDelete, "/apps/1/resources/test/1", nil)

	Write(w, r, BadRequest("Cannot delete resource %d.", 1).WithData(map[string]any{"referencer": "child"}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"statusCode":400,"error":"Bad Request","message":"Cannot delete resource 1.","data":{"referencer":"child"}}`, w.Body.String())
}

func TestWrite_Internal(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	Write(w, r, errors.New("connection refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"statusCode":500,"error":"Internal Server Error","message":"Error 4700"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, StatusCode(ErrNotAMember))
	assert.Equal(t, http.StatusUnauthorized, StatusCode(fmt.Errorf("wrapped: %w", ErrNotLoggedIn)))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("boom")))
}
