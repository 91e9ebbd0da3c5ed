// Package apierror provides the error values returned by the resource API
// and renders them as JSON.
package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/tenantkit/core/logger"
)

// Error is an error which is reported to API consumers with its status code.
//
// It renders as
//
//	{"statusCode": 404, "error": "Not Found", "message": "Resource not found"}
//
// with an optional "data" object carrying machine readable details.
type Error struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
	Internal   error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}
	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithData returns a copy of the error with data attached
func (e *Error) WithData(data any) *Error {
	cpy := *e
	cpy.Data = data
	return &cpy
}

// MarshalJSON adds the reason phrase as "error"
func (e *Error) MarshalJSON() ([]byte, error) {
	type body struct {
		StatusCode int    `json:"statusCode"`
		Error      string `json:"error"`
		Message    string `json:"message"`
		Data       any    `json:"data,omitempty"`
	}
	return json.Marshal(body{
		StatusCode: e.StatusCode,
		Error:      http.StatusText(e.StatusCode),
		Message:    e.Message,
		Data:       e.Data,
	})
}

// New builds a new error with the provided status code and message
func New(statusCode int, message string) *Error {
	return &Error{StatusCode: statusCode, Message: message}
}

// NotFound returns a 404 error
func NotFound(format string, a ...any) *Error {
	return New(http.StatusNotFound, fmt.Sprintf(format, a...))
}

// BadRequest returns a 400 error
func BadRequest(format string, a ...any) *Error {
	return New(http.StatusBadRequest, fmt.Sprintf(format, a...))
}

// Unauthorized returns a 401 error
func Unauthorized(format string, a ...any) *Error {
	return New(http.StatusUnauthorized, fmt.Sprintf(format, a...))
}

// Forbidden returns a 403 error
func Forbidden(format string, a ...any) *Error {
	return New(http.StatusForbidden, fmt.Sprintf(format, a...))
}

// Conflict returns a 409 error
func Conflict(format string, a ...any) *Error {
	return New(http.StatusConflict, fmt.Sprintf(format, a...))
}

// Internal returns a 500 error. The code is a stable identifier like "Error 4721"
// which is also written to the log together with err.
func Internal(code string, err error) *Error {
	return &Error{StatusCode: http.StatusInternalServerError, Message: code, Internal: err}
}

// Messages asserted by API consumers
var (
	ErrAppNotFound         = NotFound("App not found")
	ErrNoResources         = NotFound("App does not have any resources defined")
	ErrResourceNotFound    = NotFound("Resource not found")
	ErrAssetNotFound       = NotFound("Asset not found")
	ErrNotLoggedIn         = Unauthorized("User is not logged in")
	ErrNotAMember          = Forbidden("User is not a member of the app.")
	ErrInsufficientRoles   = Forbidden("User does not have sufficient permissions.")
	ErrMissingID           = BadRequest("List of resources contained a resource without an ID.")
	ErrResourcesNotFound   = BadRequest("One or more resources could not be found.")
	ErrEmptyPayload        = BadRequest("No resources were provided.")
	ErrUnsupportedMimeType = New(http.StatusUnsupportedMediaType, "Unsupported content type")
)

// StatusCode returns the HTTP status code for err
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Write renders err as JSON. Errors which are not of type *Error are logged and
// reported as internal server error without details.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = Internal("Error 4700", err)
	}
	if e.StatusCode >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).WithError(e.Internal).Errorf("%s: %s %s", e.Message, r.Method, r.URL)
	}
	jsonData, _ := json.MarshalWithOption(e, json.DisableHTMLEscape())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	w.Write(jsonData)
}
