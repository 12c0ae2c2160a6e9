package http

import (
	"errors"
	"net/http"

	"github.com/perchboard/perch/internal/auth/service"
	"github.com/perchboard/perch/internal/auth/store"
	"github.com/perchboard/perch/pkg/authsdk"
	"github.com/perchboard/perch/pkg/httpx"
	"github.com/perchboard/perch/pkg/slogx"
)

type MeHandler struct {
	AuthService *service.AuthService
}

// ServeHTTP returns the authenticated user's session view. Sits behind the
// session interceptor, so reaching it means the claims in context are valid.
func (h *MeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	claims, ok := httpx.ClaimsFromContext(ctx)
	if !ok {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	user, err := h.AuthService.Identity(ctx, claims)
	if err != nil {
		// The token outlived the account.
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			authsdk.ErrInvalidToken.WriteError(w)
			return
		}
		log.Error("failed to load session user", "error", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, sessionResponse(user, claims.ExpiresAt.Time))
}
