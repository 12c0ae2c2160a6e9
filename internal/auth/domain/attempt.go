package domain

import "time"

// LoginAttempt is an append-only record of a single login outcome. Records
// are never mutated after insert; blocking decisions are derived by counting
// recent failures.
type LoginAttempt struct {
	ID         string // ULID
	Identifier string // submitted username, lowercased
	Origin     string // client IP
	Agent      string // User-Agent header
	Success    bool
	At         time.Time
}
