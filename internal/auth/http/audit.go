package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/perchboard/perch/internal/auth/domain"
	"github.com/perchboard/perch/internal/auth/service"
	"github.com/perchboard/perch/pkg/authsdk"
	"github.com/perchboard/perch/pkg/httpx"
	"github.com/perchboard/perch/pkg/slogx"
)

// maxLoginBodyBytes bounds how much of a login body we will buffer. Login
// payloads are tiny; anything larger is abuse.
const maxLoginBodyBytes = 1 << 16

// LoginAudit returns the middleware that audits and throttles a credential
// route according to its bound policy.
//
// Pre-phase: the credential fields named by the policy are pulled out of the
// JSON body and stashed in the request context, then the throttle decides
// whether the attempt may proceed at all. A blocked attempt short-circuits
// with 429 and is itself recorded as a failure, so hammering a blocked
// account keeps the window open.
//
// Post-phase: once the handler has responded, the outcome is recorded in the
// attempt ledger, subject to the policy's success/failure log filters.
func LoginAudit(policy domain.LoginPolicy, throttle *service.ThrottleService) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		if !policy.Enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			body, err := io.ReadAll(io.LimitReader(r.Body, maxLoginBodyBytes))
			if err != nil {
				authsdk.ErrInvalidRequest.WriteError(w)
				return
			}
			// Hand the handler an untouched body.
			r.Body = io.NopCloser(bytes.NewReader(body))

			var fields map[string]any
			if err := json.Unmarshal(body, &fields); err != nil {
				authsdk.ErrInvalidRequest.WriteError(w)
				return
			}

			identifier := service.NormalizeIdentifier(stringField(fields, policy.UsernameField))
			secret := stringField(fields, policy.PasswordField)
			origin := httpx.IPKeyExtractor(r)
			agent := r.UserAgent()

			ctx = httpx.WithCredentials(ctx, identifier, secret)

			decision, err := throttle.Check(ctx, policy, identifier, origin)
			if err != nil {
				log.Error("throttle check failed", "error", err)
				authsdk.ErrServerError.WriteError(w)
				return
			}

			if decision.Blocked() {
				// The blocked attempt counts as a failure too.
				if err := throttle.Record(ctx, policy, identifier, origin, agent, false); err != nil {
					log.Error("failed to record blocked attempt", "error", err)
				}
				log.Warn("login attempt blocked",
					"state", decision.State.String(),
					"identifier", identifier,
					"origin", origin,
				)
				httpx.WriteRateLimited(w, authsdk.ErrorCodeTooManyAttempts, decision.RetryAfter)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			success := rec.status >= http.StatusOK && rec.status < http.StatusMultipleChoices
			if err := throttle.Record(ctx, policy, identifier, origin, agent, success); err != nil {
				log.Error("failed to record login attempt", "error", err)
			}
		})
	}
}

func stringField(fields map[string]any, name string) string {
	if name == "" {
		return ""
	}
	s, _ := fields[name].(string)
	return s
}

// statusRecorder captures the status code the handler wrote so the
// post-phase can classify the attempt.
type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}
