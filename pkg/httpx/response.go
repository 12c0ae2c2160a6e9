package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// ErrorResponse is the terminal error shape for authentication failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RateLimitedResponse is returned when the throttle engine blocks a request.
// RetryAfter is the remaining block window in whole seconds.
type RateLimitedResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"`
}

// WriteJSON writes a JSON response with the given status code.
// It automatically sets the Content-Type and Cache-Control headers.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the unauthorized/client-error shape.
func WriteError(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, ErrorResponse{Error: msg})
}

// WriteRateLimited writes the too-many-requests shape along with the
// standard Retry-After header.
func WriteRateLimited(w http.ResponseWriter, msg string, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	WriteJSON(w, http.StatusTooManyRequests, RateLimitedResponse{
		Error:      msg,
		RetryAfter: secs,
	})
}

// NoCache sets the Cache-Control and Pragma headers to prevent caching.
// This is required for sensitive responses like token-setting ones.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
