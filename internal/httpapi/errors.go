package httpapi

import (
	"encoding/json"
	"net/http"

	"orchestd/internal/transport"
	"orchestd/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeTransportError maps the transport error taxonomy onto HTTP statuses:
// validation 400, unauthorized 401, not found 404, timeout 504 and
// server/malformed 502 (the failure belongs to the upstream backend).
func writeTransportError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case transport.IsValidation(err):
		status = http.StatusBadRequest
	case transport.IsUnauthorized(err):
		status = http.StatusUnauthorized
	case transport.IsNotFound(err):
		status = http.StatusNotFound
	case transport.IsTimeout(err):
		status = http.StatusGatewayTimeout
	}
	writeJSONError(w, status, err.Error())
}
