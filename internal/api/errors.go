package api

import (
	"errors"
	"net/http"
)

// AppError is an error with an HTTP status and an optional classification
// code echoed to the client.
type AppError struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"error"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest         = &AppError{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "bad request"}
	ErrNotFound           = &AppError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "not found"}
	ErrInternalServer     = &AppError{Status: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal server error"}
	ErrServiceUnavailable = &AppError{Status: http.StatusServiceUnavailable, Code: "UNAVAILABLE", Message: "service unavailable"}
	ErrValidation         = &AppError{Status: http.StatusBadRequest, Code: "VALIDATION", Message: "validation error"}
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: msg}
}

func NewNotFoundError(msg string) *AppError {
	return &AppError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: msg}
}

func NewValidationError(msg string) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: "VALIDATION", Message: msg}
}

// NewUpstreamError reports a failure of an upstream provider with its
// classification code.
func NewUpstreamError(code, msg string) *AppError {
	status := http.StatusBadGateway
	switch code {
	case "RATE_LIMIT":
		status = http.StatusTooManyRequests
	case "TIMEOUT":
		status = http.StatusGatewayTimeout
	}
	return &AppError{Status: status, Code: code, Message: msg}
}

func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.Status, Response{Error: appErr.Message, Code: appErr.Code})
		return
	}
	writeJSON(w, http.StatusInternalServerError, Response{Error: "internal server error", Code: "INTERNAL"})
}
