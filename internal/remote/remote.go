// Package remote defines the port to the compute-instance API. The real
// client (AWS SDK or otherwise) lives outside this core; tests plug in
// fakes.
package remote

import (
	"context"
	"fmt"
	"time"
)

// RawState is what the remote API reports for one resource, before the
// gateway normalizes it into a domain snapshot.
type RawState struct {
	ResourceID    string
	Status        string
	PublicAddress string
	InstanceClass string
	LaunchTime    *time.Time
	Tags          map[string]string
}

// Client is implemented by the remote compute adapter. Start, Stop and
// Reboot are idempotent against already-desired state on the remote side.
type Client interface {
	Describe(ctx context.Context, resourceID string) (RawState, error)
	ListByTag(ctx context.Context, key, value string) ([]string, error)
	Start(ctx context.Context, resourceID string) error
	Stop(ctx context.Context, resourceID string) error
	Reboot(ctx context.Context, resourceID string) error
}

// Error is a classified remote-API failure. Transient errors (throttling,
// timeouts, 5xx-equivalents) are retried; permanent ones (bad credentials,
// unknown resource) are not.
type Error struct {
	Op         string
	ResourceID string
	Code       string
	Transient  bool
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote %s %s: %s: %v", e.Op, e.ResourceID, e.Code, e.Err)
}

func (e *Error) Unwrap() error   { return e.Err }
func (e *Error) Retryable() bool { return e.Transient }

// TransientErr builds a retryable remote error.
func TransientErr(op, resourceID, code string, err error) *Error {
	return &Error{Op: op, ResourceID: resourceID, Code: code, Transient: true, Err: err}
}

// PermanentErr builds a non-retryable remote error.
func PermanentErr(op, resourceID, code string, err error) *Error {
	return &Error{Op: op, ResourceID: resourceID, Code: code, Transient: false, Err: err}
}
