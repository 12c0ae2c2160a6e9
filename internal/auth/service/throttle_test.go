package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/perchboard/perch/internal/auth/domain"
	"github.com/perchboard/perch/internal/auth/store"
	"github.com/perchboard/perch/internal/auth/store/drivers/sqlite"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	dsn := "file:svc_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	s, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func testPolicy() domain.LoginPolicy {
	return domain.LoginPolicy{
		Enabled:                 true,
		UsernameField:           "username",
		PasswordField:           "password",
		CheckBlocking:           true,
		MaxAttemptsByOrigin:     4,
		MaxAttemptsByIdentifier: 3,
		OriginBlockDuration:     10 * time.Minute,
		IdentifierBlockDuration: 5 * time.Minute,
	}
}

func TestThrottleAllowsUnderLimit(t *testing.T) {
	svc := &ThrottleService{Store: newTestStore(t)}
	ctx := context.Background()
	policy := testPolicy()

	for range policy.MaxAttemptsByIdentifier - 1 {
		require.NoError(t, svc.Record(ctx, policy, "alice", "10.0.0.1", "ua", false))
	}

	d, err := svc.Check(ctx, policy, "alice", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, Allowed, d.State)
	require.False(t, d.Blocked())
	require.Zero(t, d.RetryAfter)
}

func TestThrottleBlocksByIdentifier(t *testing.T) {
	svc := &ThrottleService{Store: newTestStore(t)}
	ctx := context.Background()
	policy := testPolicy()

	// Spread failures over distinct origins so only the identifier window trips.
	origins := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	for _, origin := range origins {
		require.NoError(t, svc.Record(ctx, policy, "alice", origin, "ua", false))
	}

	d, err := svc.Check(ctx, policy, "alice", "10.0.0.9")
	require.NoError(t, err)
	require.Equal(t, BlockedByIdentifier, d.State)
	require.Equal(t, policy.IdentifierBlockDuration, d.RetryAfter)

	// A different identifier from the same origin is still fine.
	d, err = svc.Check(ctx, policy, "bob", "10.0.0.9")
	require.NoError(t, err)
	require.Equal(t, Allowed, d.State)
}

func TestThrottleBlocksByOrigin(t *testing.T) {
	svc := &ThrottleService{Store: newTestStore(t)}
	ctx := context.Background()
	policy := testPolicy()

	// Same origin probing distinct accounts trips the origin window.
	for _, ident := range []string{"a", "b", "c", "d"} {
		require.NoError(t, svc.Record(ctx, policy, ident, "10.0.0.1", "ua", false))
	}

	d, err := svc.Check(ctx, policy, "fresh-account", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, BlockedByOrigin, d.State)
	require.Equal(t, policy.OriginBlockDuration, d.RetryAfter)
}

func TestThrottleOriginTakesPrecedence(t *testing.T) {
	svc := &ThrottleService{Store: newTestStore(t)}
	ctx := context.Background()
	policy := testPolicy()

	// Trip both windows with the same identifier+origin.
	for range policy.MaxAttemptsByOrigin {
		require.NoError(t, svc.Record(ctx, policy, "alice", "10.0.0.1", "ua", false))
	}

	d, err := svc.Check(ctx, policy, "alice", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, BlockedByOrigin, d.State)
	require.Equal(t, policy.OriginBlockDuration, d.RetryAfter)
}

func TestThrottleWindowExpiry(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	svc := &ThrottleService{Store: st, Now: func() time.Time { return now }}
	ctx := context.Background()
	policy := testPolicy()

	for range policy.MaxAttemptsByIdentifier {
		require.NoError(t, svc.Record(ctx, policy, "alice", "10.0.0.1", "ua", false))
	}

	d, err := svc.Check(ctx, policy, "alice", "10.0.0.2")
	require.NoError(t, err)
	require.Equal(t, BlockedByIdentifier, d.State)

	// Step past the identifier window; the failures age out.
	svc.Now = func() time.Time { return now.Add(policy.IdentifierBlockDuration + time.Second) }
	d, err = svc.Check(ctx, policy, "alice", "10.0.0.2")
	require.NoError(t, err)
	require.Equal(t, Allowed, d.State)
}

func TestThrottleSuccessesDontCount(t *testing.T) {
	svc := &ThrottleService{Store: newTestStore(t)}
	ctx := context.Background()
	policy := testPolicy()

	for range 10 {
		require.NoError(t, svc.Record(ctx, policy, "alice", "10.0.0.1", "ua", true))
	}

	d, err := svc.Check(ctx, policy, "alice", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, Allowed, d.State)
}

func TestThrottleDisabledWindows(t *testing.T) {
	svc := &ThrottleService{Store: newTestStore(t)}
	ctx := context.Background()

	policy := testPolicy()
	policy.MaxAttemptsByOrigin = 0
	policy.MaxAttemptsByIdentifier = 0

	for range 20 {
		require.NoError(t, svc.Record(ctx, policy, "alice", "10.0.0.1", "ua", false))
	}

	d, err := svc.Check(ctx, policy, "alice", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, Allowed, d.State)
}

func TestThrottleCheckBlockingOff(t *testing.T) {
	svc := &ThrottleService{Store: newTestStore(t)}
	ctx := context.Background()

	policy := testPolicy()
	policy.CheckBlocking = false

	for range 20 {
		require.NoError(t, svc.Record(ctx, policy, "alice", "10.0.0.1", "ua", false))
	}

	// Still audited, never blocked.
	d, err := svc.Check(ctx, policy, "alice", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, Allowed, d.State)

	count, err := svc.Store.LoginAttempts().CountFailuresByIdentifier(ctx, "alice", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 20, count)
}

func TestRecordFilters(t *testing.T) {
	ctx := context.Background()

	countAll := func(t *testing.T, s store.Store, identifier string) int64 {
		t.Helper()
		failures, err := s.LoginAttempts().CountFailuresByIdentifier(ctx, identifier, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		return failures
	}

	t.Run("disabled policy records nothing", func(t *testing.T) {
		st := newTestStore(t)
		svc := &ThrottleService{Store: st}
		policy := testPolicy()
		policy.Enabled = false

		require.NoError(t, svc.Record(ctx, policy, "alice", "10.0.0.1", "ua", false))
		require.Zero(t, countAll(t, st, "alice"))
	})

	t.Run("failure only drops successes", func(t *testing.T) {
		st := newTestStore(t)
		svc := &ThrottleService{Store: st}
		policy := testPolicy()
		policy.LogFailureOnly = true

		require.NoError(t, svc.Record(ctx, policy, "alice", "10.0.0.1", "ua", true))
		require.NoError(t, svc.Record(ctx, policy, "alice", "10.0.0.1", "ua", false))

		last, err := st.LoginAttempts().LastAttemptByIdentifier(ctx, "alice")
		require.NoError(t, err)
		require.False(t, last.Success)
		require.EqualValues(t, 1, countAll(t, st, "alice"))
	})

	t.Run("success only drops failures", func(t *testing.T) {
		st := newTestStore(t)
		svc := &ThrottleService{Store: st}
		policy := testPolicy()
		policy.LogSuccessOnly = true

		require.NoError(t, svc.Record(ctx, policy, "alice", "10.0.0.1", "ua", false))
		require.Zero(t, countAll(t, st, "alice"))

		require.NoError(t, svc.Record(ctx, policy, "alice", "10.0.0.1", "ua", true))
		last, err := st.LoginAttempts().LastAttemptByIdentifier(ctx, "alice")
		require.NoError(t, err)
		require.True(t, last.Success)
	})

	t.Run("both filters record everything", func(t *testing.T) {
		st := newTestStore(t)
		svc := &ThrottleService{Store: st}
		policy := testPolicy()
		policy.LogSuccessOnly = true
		policy.LogFailureOnly = true

		// Every outcome matches one of the enabled filters, so both land.
		require.NoError(t, svc.Record(ctx, policy, "alice", "10.0.0.1", "ua", true))
		require.NoError(t, svc.Record(ctx, policy, "alice", "10.0.0.1", "ua", false))

		require.EqualValues(t, 1, countAll(t, st, "alice"))
		last, err := st.LoginAttempts().LastAttemptByIdentifier(ctx, "alice")
		require.NoError(t, err)
		require.False(t, last.Success)
	})
}
