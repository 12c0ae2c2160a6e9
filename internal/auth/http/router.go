package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/perchboard/perch/internal/auth/domain"
	"github.com/perchboard/perch/internal/auth/service"
	"github.com/perchboard/perch/internal/auth/store"
	"github.com/perchboard/perch/pkg/httpx"
	"github.com/perchboard/perch/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store   store.Store
	cookies httpx.CookieConfig

	AuthService     *service.AuthService
	ThrottleService *service.ThrottleService

	// LoginPolicy is bound explicitly to the password login route below.
	// Routes without a bound policy are never audited or blocked; there is
	// no implicit catch-all.
	LoginPolicy domain.LoginPolicy
}

func NewRouter(
	buildVersion string,
	st store.Store,
	cookies httpx.CookieConfig,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		cookies:      cookies,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	// POST /auth/login - strict IP rate limit up front, then the policy-bound
	// audit middleware making the ledger-driven throttle decision. The rate
	// limiter is coarse transport protection; the audit middleware is the one
	// that knows about identifiers.
	login := &LoginHandler{AuthService: r.AuthService, Cookies: r.cookies}
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(login,
			httpx.RateLimitByIP(httpx.StrictLimit),
			LoginAudit(r.LoginPolicy, r.ThrottleService),
		),
	)

	// POST /auth/refresh - explicit rotation. Not behind the session
	// interceptor: an expired access token is the normal case here.
	refresh := &RefreshHandler{AuthService: r.AuthService, Cookies: r.cookies}
	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(refresh,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /auth/logout - clears cookies unconditionally, so it must not sit
	// behind the interceptor either.
	logout := &LogoutHandler{Cookies: r.cookies}
	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(logout,
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	// GET /auth/me - session probe behind the interceptor, which silently
	// rotates an expired access token when the refresh half still validates.
	me := &MeHandler{AuthService: r.AuthService}
	r.Mux.Handle("GET /v1/auth/me",
		httpx.Chain(me,
			httpx.RateLimitByIP(httpx.LenientLimit),
			SessionMiddleware(r.AuthService, r.cookies),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
