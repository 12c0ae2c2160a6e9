package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/perchboard/perch/internal/auth/domain"
	"github.com/perchboard/perch/internal/auth/service"
	"github.com/perchboard/perch/pkg/authsdk"
	"github.com/perchboard/perch/pkg/httpx"
	"github.com/perchboard/perch/pkg/slogx"
	"github.com/perchboard/perch/pkg/tokenx"
)

type LoginHandler struct {
	AuthService *service.AuthService
	Cookies     httpx.CookieConfig
}

// ServeHTTP handles the password login endpoint. On success the token pair
// is written as HTTP-only cookies and the body carries the session view.
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	// The audit middleware normally extracted the credentials already; fall
	// back to parsing the body for routes bound without a policy.
	identifier, secret, ok := httpx.CredentialsFromContext(ctx)
	if !ok {
		var req authsdk.LoginRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodyBytes)).Decode(&req); err != nil {
			authsdk.ErrInvalidRequest.WriteError(w)
			return
		}
		identifier, secret = req.Username, req.Password
	}

	if identifier == "" || secret == "" {
		authsdk.ErrInvalidCredentials.WriteError(w)
		return
	}

	user, pair, err := h.AuthService.Login(ctx, identifier, secret, tokenx.IssueContext{
		Origin: httpx.IPKeyExtractor(r),
		Agent:  r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			authsdk.ErrInvalidCredentials.WriteError(w)
			return
		}
		log.Error("login failed", "error", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	h.Cookies.SetTokenCookies(w, pair)
	httpx.WriteJSON(w, http.StatusOK, sessionResponse(user, pair.AccessExpiresAt))
}

func sessionResponse(user domain.User, accessExpiresAt time.Time) authsdk.SessionResponse {
	return authsdk.SessionResponse{
		User: authsdk.Identity{
			UserID:      user.ID,
			Username:    user.Username,
			DisplayName: user.DisplayName,
			Role:        user.Role,
		},
		AccessExpiresIn: int64(time.Until(accessExpiresAt).Seconds()),
	}
}
