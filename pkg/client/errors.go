package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// The request was rejected locally before any network call
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("resource not found")
	// Timeouts, connection failures and 5xx responses, the call may be retried
	ErrTransient = errors.New("transient failure")
	ErrConflict  = errors.New("conflict")
	// Definitive rejection by the provider, retrying will not help
	ErrRejected = errors.New("rejected by provider")
)

// RemoteAPIError describes a failed call to the provider api.
// It matches both its Kind and the underlying error with errors.Is.
type RemoteAPIError struct {
	Kind       error
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteAPIError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(", status code %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteAPIError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Classify a failed round trip. Everything below the http layer is transient.
func transportError(req *http.Request, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		err = fmt.Errorf("timeout: %w", err)
	}
	return &RemoteAPIError{Kind: ErrTransient, Method: req.Method, URL: req.URL.String(), Err: err}
}

// Map the status code of a merge or status endpoint to an error kind.
// Returns nil for successful responses.
func rejectionKind(statusCode int) error {
	switch {
	case statusCode < 400:
		return nil
	case statusCode == http.StatusNotFound:
		return ErrNotFound
	case statusCode == http.StatusConflict:
		return ErrConflict
	case statusCode == http.StatusUnprocessableEntity:
		return ErrValidation
	case statusCode >= 500:
		return ErrTransient
	default:
		return ErrRejected
	}
}
