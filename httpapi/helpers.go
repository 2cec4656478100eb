package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sdv-edge/dtcore/graph"
	"github.com/sdv-edge/dtcore/managedsubscribe"
)

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, graph.ErrNotFound), errors.Is(err, managedsubscribe.ErrUnknownEntity), errors.Is(err, managedsubscribe.ErrUnknownTopic):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrUnavailable), errors.Is(err, managedsubscribe.ErrBrokerUnavailable), errors.Is(err, managedsubscribe.ErrProviderUnreachable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
