package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/perchboard/perch/pkg/httpx"
)

// Error codes shared between server responses and client-side error mapping.
const (
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeInvalidToken       = "invalid_token"
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeTooManyAttempts    = "too_many_attempts"
	ErrorCodeServerError        = "server_error"
)

// APIError is a terminal error the server writes as JSON and the client
// reconstructs from a response body.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WriteError writes this APIError to an HTTP response writer.
func (e *APIError) WriteError(w http.ResponseWriter) {
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	_ = json.NewEncoder(w).Encode(e)
}

var (
	// ErrInvalidCredentials is returned when the submitted username or
	// password is wrong. Deliberately doesn't say which.
	ErrInvalidCredentials = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidCredentials,
		Description: "invalid username or password",
	}

	// ErrInvalidToken is returned when the access token is missing, malformed,
	// or expired with no usable refresh token.
	ErrInvalidToken = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidToken,
		Description: "invalid or expired token",
	}

	// ErrInvalidRequest is returned for unparseable request bodies.
	ErrInvalidRequest = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "malformed request",
	}

	// ErrServerError is returned when the server encountered an unexpected
	// condition that prevented it from fulfilling the request.
	ErrServerError = &APIError{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}
)

// ErrSessionExpired is reported by the SessionStore when a request failed
// with 401 and the follow-up refresh couldn't recover the session.
var ErrSessionExpired = errors.New("authsdk: session expired")

// RateLimitedError is reconstructed client-side from a 429 response.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("authsdk: rate limited, retry after %s", e.RetryAfter)
}
