package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnexpectedShape  = errors.New("unexpected payload shape")
	ErrTriggerFailed    = errors.New("trigger failed")
	ErrRecordFetch      = errors.New("record fetch failed")
	ErrRecordNotFound   = errors.New("record not found")
	ErrRefreshInFlight  = errors.New("refresh already in flight")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRefreshInFlight):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrMalformedPayload), errors.Is(err, ErrUnexpectedShape):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTriggerFailed), errors.Is(err, ErrRecordFetch):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
