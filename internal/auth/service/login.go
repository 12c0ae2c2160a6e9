package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/perchboard/perch/internal/auth/domain"
	"github.com/perchboard/perch/internal/auth/store"
	"github.com/perchboard/perch/pkg/cryptox"
	"github.com/perchboard/perch/pkg/slogx"
	"github.com/perchboard/perch/pkg/tokenx"
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidRefresh     = errors.New("invalid_refresh_token")
)

// dummyHash is verified against when the username doesn't exist, so the
// not-found path costs the same as a real password check.
const dummyHash = "$argon2id$v=19$m=19456,t=2,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

type AuthService struct {
	Codec *tokenx.Codec
	Store store.Store
}

// NormalizeIdentifier canonicalizes a submitted username for lookup and for
// attempt records, so "Alice" and "alice " throttle as one identity.
func NormalizeIdentifier(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Login validates the credentials and mints a fresh token pair. Returns
// ErrInvalidCredentials for both unknown usernames and wrong passwords so
// the response doesn't reveal which half was wrong.
func (s *AuthService) Login(
	ctx context.Context,
	username, password string,
	issue tokenx.IssueContext,
) (domain.User, tokenx.Pair, error) {
	l := slogx.FromContext(ctx)

	user, err := s.Store.Users().GetUserByUsername(ctx, NormalizeIdentifier(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = cryptox.VerifyPassword(password, dummyHash)
			return domain.User{}, tokenx.Pair{}, ErrInvalidCredentials
		}
		return domain.User{}, tokenx.Pair{}, err
	}

	if cryptox.VerifyPassword(password, user.PasswordHash) != nil {
		l.Info("password verification failed", slog.Int64("user_id", user.ID))
		return domain.User{}, tokenx.Pair{}, ErrInvalidCredentials
	}

	pair, err := s.Codec.IssuePair(user.ID, issue)
	if err != nil {
		return domain.User{}, tokenx.Pair{}, err
	}
	return user, pair, nil
}

// Refresh exchanges a valid refresh token for a new pair. The subject must
// still exist; deleted accounts can't refresh their way back in.
func (s *AuthService) Refresh(
	ctx context.Context,
	refreshToken string,
	issue tokenx.IssueContext,
) (domain.User, tokenx.Pair, error) {
	claims, err := s.Codec.Validate(refreshToken)
	if err != nil {
		return domain.User{}, tokenx.Pair{}, ErrInvalidRefresh
	}
	if err := tokenx.AssertType(claims, tokenx.TypeRefresh); err != nil {
		return domain.User{}, tokenx.Pair{}, ErrInvalidRefresh
	}

	userID, err := claims.SubjectID()
	if err != nil {
		return domain.User{}, tokenx.Pair{}, ErrInvalidRefresh
	}

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, tokenx.Pair{}, ErrInvalidRefresh
		}
		return domain.User{}, tokenx.Pair{}, err
	}

	pair, err := s.Codec.IssuePair(user.ID, issue)
	if err != nil {
		return domain.User{}, tokenx.Pair{}, err
	}
	return user, pair, nil
}

// Identity resolves the user behind a validated access token's claims.
func (s *AuthService) Identity(ctx context.Context, claims tokenx.Claims) (domain.User, error) {
	userID, err := claims.SubjectID()
	if err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return s.Store.Users().GetUserByID(ctx, userID)
}
