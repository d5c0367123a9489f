package api

import (
	"errors"
	"fmt"
)

var (
	ErrTransport   = errors.New("babel api request failed")
	ErrProtocol    = errors.New("babel api returned unexpected HTTP status")
	ErrApplication = errors.New("babel api returned error code")
	ErrShape       = errors.New("babel api response has unexpected shape")
)

// StatusError reports a non-200 HTTP response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: got %d", ErrProtocol, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrProtocol }

// APIError is a decoded envelope whose code is not "0".
type APIError struct {
	Code string
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%v: %s - %s", ErrApplication, e.Code, e.Msg)
}

func (e *APIError) Unwrap() error { return ErrApplication }

// ShapeError reports a body that could not be mapped onto the expected envelope.
type ShapeError struct {
	Field  string
	Detail string
}

func (e *ShapeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrShape, e.Detail)
	}
	return fmt.Sprintf("%v: %s: %s", ErrShape, e.Field, e.Detail)
}

func (e *ShapeError) Unwrap() error { return ErrShape }

// Failure categories as they appear in logs and metrics.
const (
	CategoryTransport   = "transport"
	CategoryProtocol    = "protocol"
	CategoryApplication = "application"
	CategoryShape       = "shape"
	CategoryUnknown     = "unknown"
)

// Category names the failure class of err.
func Category(err error) string {
	switch {
	case errors.Is(err, ErrTransport):
		return CategoryTransport
	case errors.Is(err, ErrProtocol):
		return CategoryProtocol
	case errors.Is(err, ErrApplication):
		return CategoryApplication
	case errors.Is(err, ErrShape):
		return CategoryShape
	default:
		return CategoryUnknown
	}
}
