package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"twingate/internal/domain"
)

type errorBody struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// statusFor maps the error taxonomy onto HTTP statuses. Backend-side
// failures surface as 502 so callers can tell a broken plugin from a
// broken gateway.
func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeBackendRejected, domain.CodeBackendUnreachable, domain.CodeProtocolViolation:
		return http.StatusBadGateway
	case domain.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := domain.CodeFrom(err)
	writeErrorStatus(w, statusFor(code), code, err.Error())
}

func writeErrorStatus(w http.ResponseWriter, status int, code domain.ErrorCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:     msg,
		Code:      string(code),
		Timestamp: time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
