package syftsdk

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"

	"github.com/openmined/syftsync/internal/syftmsg"
)

var (
	ErrNoRefreshToken = errors.New("sdk: refresh token missing")
	ErrNoServerURL    = errors.New("sdk: server url missing")
	ErrInvalidEmail   = errors.New("sdk: invalid email")

	// sentinels for the wire error kinds the consumer branches on
	ErrUnauthorized     = errors.New("sdk: unauthorized")
	ErrPermissionDenied = errors.New("sdk: permission denied")
	ErrNotFound         = errors.New("sdk: not found")
	ErrAlreadyExists    = errors.New("sdk: already exists")
	ErrHashMismatch     = errors.New("sdk: hash mismatch")
)

// sentinelFor maps a wire error kind to its sentinel so callers can use
// errors.Is across the HTTP boundary.
func sentinelFor(kind syftmsg.ErrorKind) error {
	switch kind {
	case syftmsg.ErrUnauthorized:
		return ErrUnauthorized
	case syftmsg.ErrPermissionDenied:
		return ErrPermissionDenied
	case syftmsg.ErrNotFound:
		return ErrNotFound
	case syftmsg.ErrAlreadyExists:
		return ErrAlreadyExists
	case syftmsg.ErrHashMismatch:
		return ErrHashMismatch
	default:
		return nil
	}
}

// handleAPIError normalizes transport failures and non-2xx envelopes.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*syftmsg.APIError); ok && apiErr.Kind != "" {
			if sentinel := sentinelFor(apiErr.Kind); sentinel != nil {
				return fmt.Errorf("%s: %w: %s", operation, sentinel, apiErr.Message)
			}
			return fmt.Errorf("%s: %w", operation, apiErr)
		}
		return fmt.Errorf("api error: %s: status %d", operation, resp.StatusCode)
	}

	return nil
}
