package authsdk

// LoginRequest is the JSON body for POST /v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Identity describes the authenticated user.
type Identity struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// SessionResponse is returned by login, refresh, and the session probe.
// Tokens travel in HTTP-only cookies, never in the body.
type SessionResponse struct {
	User Identity `json:"user"`

	// AccessExpiresIn is the remaining access token lifetime in seconds,
	// so clients can schedule refreshes without parsing the token.
	AccessExpiresIn int64 `json:"access_expires_in"`
}

// HealthChecks reports per-dependency readiness.
type HealthChecks struct {
	Database string `json:"database"`
}

// HealthResponse is returned by the /livez and /readyz endpoints.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}
