package tokenx

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSigningKey is returned when the codec has no secret configured.
	ErrNoSigningKey = errors.New("tokenx: signing key unavailable")

	// ErrMalformed covers structurally invalid tokens and bad signatures.
	// Always fatal to the current validation call, never retried.
	ErrMalformed = errors.New("tokenx: malformed token")

	// ErrExpired is the expected failure mode for aged access tokens and
	// triggers the refresh flow rather than being surfaced to callers.
	ErrExpired = errors.New("tokenx: token expired")

	// ErrWrongTokenType reports a refresh token presented as an access
	// token or the reverse. Treated as a security violation by callers.
	ErrWrongTokenType = errors.New("tokenx: wrong token type")
)

// Codec creates and verifies the signed, time-bounded credential pair. It is
// stateless: every operation is derived solely from its inputs and the
// process-wide secret, so concurrent use needs no synchronisation.
type Codec struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// IssuePair mints a fresh access/refresh pair for the subject. Both tokens
// are built from the same instant and issuance context. Tokens are immutable
// once issued; rotation always produces a brand-new pair.
func (c *Codec) IssuePair(subjectID int64, issue IssueContext) (Pair, error) {
	return c.issuePairAt(subjectID, issue, time.Now().UTC())
}

func (c *Codec) issuePairAt(subjectID int64, issue IssueContext, now time.Time) (Pair, error) {
	if len(c.Secret) == 0 {
		return Pair{}, ErrNoSigningKey
	}

	accessTTL := c.AccessTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	refreshTTL := c.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}

	access, err := c.sign(newClaims(subjectID, TypeAccess, c.Issuer, accessTTL, issue, now))
	if err != nil {
		return Pair{}, fmt.Errorf("tokenx: sign access token: %w", err)
	}

	refresh, err := c.sign(newClaims(subjectID, TypeRefresh, c.Issuer, refreshTTL, issue, now))
	if err != nil {
		return Pair{}, fmt.Errorf("tokenx: sign refresh token: %w", err)
	}

	return Pair{
		Access:           access,
		Refresh:          refresh,
		AccessExpiresAt:  now.Add(accessTTL),
		RefreshExpiresAt: now.Add(refreshTTL),
	}, nil
}

func (c *Codec) sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(c.Secret)
}

// Validate verifies signature and expiry and returns the parsed claims.
// Expired tokens fail with ErrExpired; anything structurally wrong or with a
// bad signature fails with ErrMalformed. Side-effect free: validating the
// same token twice yields identical claims.
func (c *Codec) Validate(token string) (Claims, error) {
	if len(c.Secret) == 0 {
		return Claims{}, ErrNoSigningKey
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return c.Secret, nil
	})
	if err != nil {
		// The expired case is expected control flow for the refresh
		// path, so keep it distinguishable from garbage input.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, ErrMalformed
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrMalformed
	}

	if c.Issuer != "" && claims.Issuer != c.Issuer {
		return Claims{}, ErrMalformed
	}

	return *claims, nil
}

// AssertType enforces that claims carry the token type the consumer expects.
func AssertType(claims Claims, expected Type) error {
	if claims.TokenType != expected {
		return ErrWrongTokenType
	}
	return nil
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
