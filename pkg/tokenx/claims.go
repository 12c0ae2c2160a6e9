package tokenx

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTL constants for the access/refresh cookie pair.
// These provide sensible security defaults but can be overridden per-service.
const (
	// DefaultAccessTTL is the default lifetime for access tokens.
	// Short-lived for security - typical range is 15m to 1h.
	DefaultAccessTTL = 15 * time.Minute

	// DefaultRefreshTTL is the default lifetime for refresh tokens.
	// Longer-lived for user convenience - typical range is 7d to 30d.
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Type tags a token as either half of the credential pair. A refresh token
// must never be accepted where an access token is required, and vice versa.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Claims are the signed claims carried by both tokens of a pair. We keep
// changes additive to preserve compatibility for already-issued cookies.
type Claims struct {
	jwt.RegisteredClaims

	// TokenType distinguishes access from refresh tokens ("typ").
	TokenType Type `json:"typ"`

	// Origin is the network source the pair was issued to (client IP).
	Origin string `json:"ip,omitempty"`

	// Agent is the client user-agent recorded at issuance.
	Agent string `json:"agent,omitempty"`

	// AutoRefreshed marks pairs minted by the interceptor's silent
	// rotation rather than an explicit user-initiated flow.
	AutoRefreshed bool `json:"auto,omitempty"`

	// Extra carries optional scalar claims attached at issuance.
	Extra map[string]string `json:"extra,omitempty"`
}

// SubjectID returns the numeric subject identity, or ErrMalformed if the
// subject claim is missing or not an integer.
func (c *Claims) SubjectID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrMalformed
	}
	return id, nil
}

// Pair is an access/refresh token pair, generated atomically together. Both
// tokens carry the same subject and issuance context.
type Pair struct {
	Access  string
	Refresh string

	// AccessExpiresAt is when the access token stops validating; clients
	// can use it to schedule refreshes ahead of time.
	AccessExpiresAt time.Time

	// RefreshExpiresAt bounds how long the pair can be silently rotated.
	RefreshExpiresAt time.Time
}

// IssueContext is the shared issuance context stamped into both tokens.
type IssueContext struct {
	Origin        string
	Agent         string
	AutoRefreshed bool
	Extra         map[string]string
}

func newClaims(subjectID int64, typ Type, issuer string, ttl time.Duration, issue IssueContext, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(subjectID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		TokenType:     typ,
		Origin:        issue.Origin,
		Agent:         issue.Agent,
		AutoRefreshed: issue.AutoRefreshed,
		Extra:         issue.Extra,
	}
}
