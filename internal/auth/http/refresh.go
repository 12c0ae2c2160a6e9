package http

import (
	"net/http"

	"github.com/perchboard/perch/internal/auth/service"
	"github.com/perchboard/perch/pkg/authsdk"
	"github.com/perchboard/perch/pkg/httpx"
	"github.com/perchboard/perch/pkg/tokenx"
)

type RefreshHandler struct {
	AuthService *service.AuthService
	Cookies     httpx.CookieConfig
}

// ServeHTTP handles explicit token rotation. Unlike the interceptor's silent
// path, pairs minted here are not marked auto-refreshed. A dead refresh
// token clears both cookies so the client stops retrying.
func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	refresh := h.Cookies.RefreshToken(r)
	if refresh == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	user, pair, err := h.AuthService.Refresh(ctx, refresh, tokenx.IssueContext{
		Origin: httpx.IPKeyExtractor(r),
		Agent:  r.UserAgent(),
	})
	if err != nil {
		h.Cookies.ClearTokenCookies(w)
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	h.Cookies.SetTokenCookies(w, pair)
	httpx.WriteJSON(w, http.StatusOK, sessionResponse(user, pair.AccessExpiresAt))
}
