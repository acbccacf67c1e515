package adminauth

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/omborsaas/go-session-client/gateway"
	interrors "github.com/omborsaas/go-session-client/internal/errors"
)

// LockError is a server-side lock (423) or throttle (429) response. Message
// is the server's human-readable text, surfaced verbatim — the client
// computes no retry countdown of its own.
type LockError struct {
	StatusCode int
	Message    string
}

func (e *LockError) Error() string {
	return e.Message
}

// AsLockError unwraps a *LockError from an error chain.
func AsLockError(err error) (*LockError, bool) {
	var lockErr *LockError
	if errors.As(err, &lockErr) {
		return lockErr, true
	}
	return nil, false
}

// mapStepError translates backend responses into the flow's error taxonomy:
// 423/429 become LockError, 401 becomes ErrInvalidCredentials with the
// server's message, everything else passes through unchanged.
func mapStepError(err error) error {
	if err == nil {
		return nil
	}
	apiErr, ok := gateway.AsAPIError(err)
	if !ok {
		return err
	}
	switch apiErr.StatusCode {
	case http.StatusLocked, http.StatusTooManyRequests:
		return &LockError{StatusCode: apiErr.StatusCode, Message: apiErr.Detail}
	case http.StatusUnauthorized:
		if apiErr.Detail != "" {
			return errors.Wrap(interrors.ErrInvalidCredentials, apiErr.Detail)
		}
		return interrors.ErrInvalidCredentials
	}
	return err
}
