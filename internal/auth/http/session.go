package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/perchboard/perch/internal/auth/service"
	"github.com/perchboard/perch/pkg/authsdk"
	"github.com/perchboard/perch/pkg/httpx"
	"github.com/perchboard/perch/pkg/slogx"
	"github.com/perchboard/perch/pkg/tokenx"
)

// RotatedHeader is set on responses where the interceptor silently replaced
// the token pair, so clients can observe rotation without comparing cookies.
const RotatedHeader = "X-Token-Rotated"

// SessionMiddleware is the session interceptor for authenticated routes.
//
// A valid access token passes straight through with its claims attached to
// the context; a missing one passes through without claims and the handler
// decides. An expired access token is not a failure: if the refresh cookie
// still validates, a fresh pair is minted and injected into the response just
// before the handler's status line is written, and the request proceeds as
// authenticated. Only when an expired token can't be rotated does the request
// terminate with 401.
//
// Login, refresh, and logout are wired without this middleware; an expired
// session must always be able to reach them.
func SessionMiddleware(auth *service.AuthService, cookies httpx.CookieConfig) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			access := cookies.AccessToken(r)
			if access == "" {
				access = bearerToken(r)
			}

			// No access token at all: pass through untouched and let the
			// handler's own authorization decide. Rotation is only for
			// tokens that were presented and have aged out.
			if access == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := auth.Codec.Validate(access)
			switch {
			case err == nil:
				if tokenx.AssertType(claims, tokenx.TypeAccess) != nil {
					// A refresh token in the access slot is never
					// acceptable, even if it validates.
					log.Warn("wrong token type in access slot", "subject", claims.Subject)
					authsdk.ErrInvalidToken.WriteError(w)
					return
				}
				next.ServeHTTP(w, r.WithContext(httpx.WithClaims(ctx, claims)))
				return
			case !errors.Is(err, tokenx.ErrExpired):
				authsdk.ErrInvalidToken.WriteError(w)
				return
			}
			// Expired: fall through to silent rotation.

			refresh := cookies.RefreshToken(r)
			if refresh == "" {
				authsdk.ErrInvalidToken.WriteError(w)
				return
			}

			user, pair, err := auth.Refresh(ctx, refresh, tokenx.IssueContext{
				Origin:        httpx.IPKeyExtractor(r),
				Agent:         r.UserAgent(),
				AutoRefreshed: true,
			})
			if err != nil {
				authsdk.ErrInvalidToken.WriteError(w)
				return
			}

			claims, err = auth.Codec.Validate(pair.Access)
			if err != nil {
				authsdk.ErrServerError.WriteError(w)
				return
			}

			log.Debug("silent token rotation", "user_id", user.ID)

			rw := &rotationWriter{ResponseWriter: w, cookies: cookies, pair: pair}
			next.ServeHTTP(rw, r.WithContext(httpx.WithClaims(ctx, claims)))

			// A handler that wrote nothing still gets its rotation delivered.
			if !rw.wroteHeader {
				rw.WriteHeader(http.StatusOK)
			}
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// rotationWriter injects the rotated cookie pair and the rotation marker
// header just before the first byte of the response is committed. Headers
// can't be touched after WriteHeader, which is why this hooks the writer
// instead of running after the handler.
type rotationWriter struct {
	http.ResponseWriter

	cookies     httpx.CookieConfig
	pair        tokenx.Pair
	wroteHeader bool
}

func (rw *rotationWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
		rw.cookies.SetTokenCookies(rw.ResponseWriter, rw.pair)
		rw.Header().Set(RotatedHeader, "1")
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *rotationWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
