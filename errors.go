package kiln

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by container operations.
var (
	// ErrAlreadyStarted is returned by Start on a container that already left
	// the created state.
	ErrAlreadyStarted = errors.New("container already started")

	// ErrNotRunning is returned when work is spawned on a container that is
	// not accepting it (not started yet, stopping, or terminal).
	ErrNotRunning = errors.New("container is not accepting work")

	// ErrDuplicateService is returned when a service name is registered twice
	// with a runner.
	ErrDuplicateService = errors.New("service already registered")
)

// RemoteError is a call error that originated on the far side of a transport,
// re-raised locally by an entrypoint or injection provider. The worker logs it
// with a distinct classification; control flow treats it like any other call
// error.
type RemoteError struct {
	// ExcType names the remote error type as reported by the transport.
	ExcType string

	// Value is the remote error message.
	Value string
}

// NewRemoteError creates a RemoteError for the given remote type and message.
func NewRemoteError(excType, value string) *RemoteError {
	return &RemoteError{ExcType: excType, Value: value}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s %s", e.ExcType, e.Value)
}
