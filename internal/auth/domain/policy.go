package domain

import "time"

// LoginPolicy configures attempt auditing and blocking for a single route.
// A route with no bound policy is never audited or blocked; there is no
// implicit default.
type LoginPolicy struct {
	// Enabled turns attempt recording on for the bound route.
	Enabled bool

	// LogSuccessOnly limits recording to successful attempts. Independent of
	// LogFailureOnly: an attempt is recorded when it matches any enabled
	// filter, so enabling both records every outcome.
	LogSuccessOnly bool

	// LogFailureOnly limits recording to failed attempts.
	LogFailureOnly bool

	// UsernameField and PasswordField name the JSON body fields holding the
	// submitted credentials.
	UsernameField string
	PasswordField string

	// CheckBlocking enables the sliding-window throttle for the route.
	// Recording and blocking are separate switches: a route may audit
	// without ever blocking.
	CheckBlocking bool

	// MaxAttemptsByOrigin is the failure count per origin within
	// OriginBlockDuration that triggers a block. Zero disables the
	// origin window.
	MaxAttemptsByOrigin int

	// MaxAttemptsByIdentifier is the failure count per identifier within
	// IdentifierBlockDuration that triggers a block. Zero disables the
	// identifier window.
	MaxAttemptsByIdentifier int

	OriginBlockDuration     time.Duration
	IdentifierBlockDuration time.Duration
}

// DefaultLoginPolicy returns the policy bound to the password login route
// when no overrides are configured.
func DefaultLoginPolicy() LoginPolicy {
	return LoginPolicy{
		Enabled:                 true,
		UsernameField:           "username",
		PasswordField:           "password",
		CheckBlocking:           true,
		MaxAttemptsByOrigin:     10,
		MaxAttemptsByIdentifier: 5,
		OriginBlockDuration:     15 * time.Minute,
		IdentifierBlockDuration: 15 * time.Minute,
	}
}
