package realtime

import (
	"encoding/json"
	"net/http"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/collab"
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

func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch collab.KindOf(err) {
	case collab.KindPermissionDenied:
		status = http.StatusForbidden
	case collab.KindNotFound:
		status = http.StatusNotFound
	case collab.KindInvalid:
		status = http.StatusBadRequest
	case collab.KindSnapshotUnavailable, collab.KindAppendFailed:
		status = http.StatusServiceUnavailable
	case collab.KindDependencyPending, collab.KindStaleOperation, collab.KindConflict:
		status = http.StatusConflict
	}
	writeError(w, status, err.Error())
}
