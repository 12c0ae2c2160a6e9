package service

import (
	"context"
	"time"

	"github.com/perchboard/perch/internal/auth/domain"
	"github.com/perchboard/perch/internal/auth/store"
	"github.com/perchboard/perch/pkg/idx"
)

// BlockState classifies a throttle decision.
type BlockState int

const (
	Allowed BlockState = iota
	BlockedByOrigin
	BlockedByIdentifier
)

func (s BlockState) String() string {
	switch s {
	case BlockedByOrigin:
		return "blocked_by_origin"
	case BlockedByIdentifier:
		return "blocked_by_identifier"
	default:
		return "allowed"
	}
}

// Decision is the outcome of a throttle check. RetryAfter is only set for
// blocked states and equals the configured block duration for the window
// that tripped.
type Decision struct {
	State      BlockState
	RetryAfter time.Duration
}

func (d Decision) Blocked() bool { return d.State != Allowed }

// ThrottleService decides whether a login attempt may proceed, based on
// recent failures counted over two independent sliding windows: one keyed
// by origin, one by identifier. It also owns attempt recording so the
// policy's log filters apply in one place.
type ThrottleService struct {
	Store store.Store

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *ThrottleService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Check evaluates both windows. The origin window is checked first: when an
// origin and an identifier are both over their limits, the origin block wins.
// A zero max disables that window entirely.
func (s *ThrottleService) Check(
	ctx context.Context,
	policy domain.LoginPolicy,
	identifier, origin string,
) (Decision, error) {
	if !policy.Enabled || !policy.CheckBlocking {
		return Decision{State: Allowed}, nil
	}

	now := s.now()

	if policy.MaxAttemptsByOrigin > 0 && origin != "" {
		since := now.Add(-policy.OriginBlockDuration)
		count, err := s.Store.LoginAttempts().CountFailuresByOrigin(ctx, origin, since)
		if err != nil {
			return Decision{}, err
		}
		if count >= int64(policy.MaxAttemptsByOrigin) {
			return Decision{
				State:      BlockedByOrigin,
				RetryAfter: policy.OriginBlockDuration,
			}, nil
		}
	}

	if policy.MaxAttemptsByIdentifier > 0 && identifier != "" {
		since := now.Add(-policy.IdentifierBlockDuration)
		count, err := s.Store.LoginAttempts().CountFailuresByIdentifier(ctx, identifier, since)
		if err != nil {
			return Decision{}, err
		}
		if count >= int64(policy.MaxAttemptsByIdentifier) {
			return Decision{
				State:      BlockedByIdentifier,
				RetryAfter: policy.IdentifierBlockDuration,
			}, nil
		}
	}

	return Decision{State: Allowed}, nil
}

// Record appends an attempt if the policy's filters allow it. Attempts
// rejected by the throttle are recorded as failures too, which extends the
// window while an attacker keeps hammering.
func (s *ThrottleService) Record(
	ctx context.Context,
	policy domain.LoginPolicy,
	identifier, origin, agent string,
	success bool,
) error {
	if !policy.Enabled {
		return nil
	}
	// Each enabled filter admits one outcome; an attempt is skipped only when
	// it matches no enabled filter. Both filters on means every outcome lands.
	if policy.LogSuccessOnly || policy.LogFailureOnly {
		matched := (success && policy.LogSuccessOnly) || (!success && policy.LogFailureOnly)
		if !matched {
			return nil
		}
	}

	at := s.now().UTC()
	return s.Store.LoginAttempts().RecordAttempt(ctx, domain.LoginAttempt{
		ID:         idx.NewAt(at).String(),
		Identifier: identifier,
		Origin:     origin,
		Agent:      agent,
		Success:    success,
		At:         at,
	})
}
