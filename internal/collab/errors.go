package collab

import (
	"errors"
	"fmt"
)

// Kind discriminates the engine's failure modes. The REST and websocket
// edges map kinds onto status codes; engine code branches on them with
// KindOf.
type Kind string

const (
	// KindPermissionDenied: the actor's role does not allow the mutation.
	KindPermissionDenied Kind = "permission_denied"
	// KindDependencyPending: an operation names dependencies that have not
	// arrived yet; it is buffered, not applied.
	KindDependencyPending Kind = "dependency_pending"
	// KindStaleOperation: buffered too long, dependencies never arrived.
	KindStaleOperation Kind = "stale_operation"
	// KindAppendFailed: the durable log rejected the append after retries.
	KindAppendFailed Kind = "append_failed"
	// KindSyncError: the session cannot reconcile and has detached.
	KindSyncError Kind = "sync_error"
	// KindSnapshotUnavailable: bootstrap found neither snapshot nor log.
	KindSnapshotUnavailable Kind = "snapshot_unavailable"

	KindNotFound Kind = "not_found"
	KindInvalid  Kind = "invalid"
	KindConflict Kind = "conflict"
)

// Error is the engine's error type: a kind plus a human-readable message,
// optionally wrapping a cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the engine kind from err; unknown errors count as sync
// errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSyncError
}
