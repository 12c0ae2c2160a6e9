package httpx

import (
	"net/http"
	"time"

	"github.com/perchboard/perch/pkg/tokenx"
)

// Default cookie names for the credential pair. Browser-opaque: HTTP-only,
// never exposed to script-readable storage.
const (
	DefaultAccessCookie  = "perch_access"
	DefaultRefreshCookie = "perch_refresh"
)

// CookieConfig describes how the token cookies are written. Path scopes the
// cookies to the API so they are not sent with static asset requests.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	Path        string
	Secure      bool
}

// DefaultCookieConfig returns the standard transport configuration scoped to
// the versioned API path.
func DefaultCookieConfig(secure bool) CookieConfig {
	return CookieConfig{
		AccessName:  DefaultAccessCookie,
		RefreshName: DefaultRefreshCookie,
		Path:        "/v1",
		Secure:      secure,
	}
}

// SetTokenCookies writes both halves of the pair. Each cookie expires with
// its token so the browser drops them in step with validity.
func (c CookieConfig) SetTokenCookies(w http.ResponseWriter, pair tokenx.Pair) {
	http.SetCookie(w, c.cookie(c.AccessName, pair.Access, pair.AccessExpiresAt))
	http.SetCookie(w, c.cookie(c.RefreshName, pair.Refresh, pair.RefreshExpiresAt))
}

// ClearTokenCookies expires both cookies immediately.
func (c CookieConfig) ClearTokenCookies(w http.ResponseWriter) {
	http.SetCookie(w, c.expired(c.AccessName))
	http.SetCookie(w, c.expired(c.RefreshName))
}

// AccessToken reads the raw access token from the request, or "" if absent.
func (c CookieConfig) AccessToken(r *http.Request) string {
	return c.readCookie(r, c.AccessName)
}

// RefreshToken reads the raw refresh token from the request, or "" if absent.
func (c CookieConfig) RefreshToken(r *http.Request) string {
	return c.readCookie(r, c.RefreshName)
}

func (c CookieConfig) readCookie(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

func (c CookieConfig) cookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.Path,
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (c CookieConfig) expired(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     c.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}
