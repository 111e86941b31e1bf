package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// maxJobIDLength bounds ids accepted in paths.
const maxJobIDLength = 128

// getPathID extracts a job id from the URL path parameters.
func getPathID(r *http.Request, paramName string) (string, error) {
	id := chi.URLParam(r, paramName)
	if id == "" {
		return "", fmt.Errorf("%w: %s is required", errInvalidPathID, paramName)
	}
	if len(id) > maxJobIDLength {
		return "", fmt.Errorf("%w: %s is too long", errInvalidPathID, paramName)
	}
	return id, nil
}
