package collector

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pulsekit/telemetry-go/internal/delivery"
)

// requestID echoes the client's correlation id, minting one when absent.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeData[T any](w http.ResponseWriter, r *http.Request, status int, data *T) {
	env := delivery.Envelope[T]{
		Success: true,
		Data:    data,
		Metadata: delivery.Metadata{
			Timestamp: time.Now().UTC(),
			RequestID: requestID(r),
			Version:   Version,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	env := delivery.Envelope[struct{}]{
		Success: false,
		Error:   &delivery.WireError{Code: code, Message: message},
		Metadata: delivery.Metadata{
			Timestamp: time.Now().UTC(),
			RequestID: requestID(r),
			Version:   Version,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
