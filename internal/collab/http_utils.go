package collab

import (
	"encoding/json"
	"errors"
	"net/http"
)

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEngineError maps an engine error onto an HTTP status. Unknown
// errors are reported as plain 500s without leaking internals.
func writeEngineError(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch e.Kind {
	case KindPermissionDenied:
		status = http.StatusForbidden
	case KindDependencyPending, KindStaleOperation, KindConflict:
		status = http.StatusConflict
	case KindAppendFailed, KindSnapshotUnavailable:
		status = http.StatusServiceUnavailable
	case KindNotFound:
		status = http.StatusNotFound
	case KindInvalid:
		status = http.StatusBadRequest
	case KindSyncError:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": e.Msg,
		"kind":  string(e.Kind),
	})
}
