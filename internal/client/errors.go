package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"dms-go/internal/dms"
)

// ErrTransient marks a request whose outcome is unknown: the server did not
// answer in time or could not be reached. The remote state may or may not
// have changed.
var ErrTransient = errors.New("still waiting for the server")

// APIError is a response the server answered with a non-2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Unwrap maps the status back to the matching dms sentinel so callers can
// use errors.Is on either side of the wire.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return dms.ErrAuthRequired
	case http.StatusNotFound:
		return dms.ErrNotFound
	}
	return nil
}

// IsTransient reports whether err leaves the remote state unknown.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// classify wraps transport failures in ErrTransient. A cancelled parent
// context is returned as is.
func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

func transientStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
