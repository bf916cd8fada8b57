package dispatch

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/florianilch/authkeeper/internal/autherr"
)

// RemoteError is an error reported by the server for a single procedure call.
type RemoteError struct {
	Procedure  string
	Code       string // tRPC error code, e.g. UNAUTHORIZED
	HTTPStatus int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Procedure, e.Code, e.HTTPStatus, e.Message)
}

// IsCode returns true if err (or any wrapped error) is a RemoteError with the given code.
func IsCode(err error, code string) bool {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Code == code
	}
	return false
}

// classify wraps a RemoteError with the matching error kind.
func classify(remoteErr *RemoteError) error {
	kind := autherr.KindRemote
	switch {
	case remoteErr.Code == "UNAUTHORIZED", remoteErr.Code == "FORBIDDEN":
		kind = autherr.KindAuthRejected
	case remoteErr.HTTPStatus == http.StatusUnauthorized, remoteErr.HTTPStatus == http.StatusForbidden:
		kind = autherr.KindAuthRejected
	}
	return autherr.E(kind, "trpc "+remoteErr.Procedure, remoteErr)
}
