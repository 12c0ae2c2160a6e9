package http

import (
	"net/http"

	"github.com/perchboard/perch/pkg/httpx"
)

type LogoutHandler struct {
	Cookies httpx.CookieConfig
}

// ServeHTTP clears the token cookies. Idempotent: logging out of a session
// that doesn't exist is still a success.
func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Cookies.ClearTokenCookies(w)
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}
