package directory

import (
	"fmt"
	"net/http"
)

// APIError is a directory failure with an HTTP-style status code
type APIError struct {
	Code    int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("directory error %d", e.Code)
	}
	return fmt.Sprintf("directory error %d: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// StatusCode returns the status code
func (e *APIError) StatusCode() int {
	return e.Code
}

// NotFound returns a 404 APIError
func NotFound(format string, args ...any) *APIError {
	return &APIError{Code: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a 409 APIError
func Conflict(format string, args ...any) *APIError {
	return &APIError{Code: http.StatusConflict, Message: fmt.Sprintf(format, args...)}
}
