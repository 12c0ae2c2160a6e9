package authsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeAuthServer mimics the auth service's cookie behavior closely enough
// to exercise the store: login/refresh mint opaque session cookies, me
// validates them.
type fakeAuthServer struct {
	mu           sync.Mutex
	validAccess  map[string]bool
	validRefresh map[string]bool
	refreshCount atomic.Int64
	refreshDelay time.Duration
	nextToken    int

	user Identity
}

func newFakeAuthServer() *fakeAuthServer {
	return &fakeAuthServer{
		validAccess:  make(map[string]bool),
		validRefresh: make(map[string]bool),
		user:         Identity{UserID: 7, Username: "alice", DisplayName: "Alice", Role: "member"},
	}
}

func (f *fakeAuthServer) mint(w http.ResponseWriter) {
	f.nextToken++
	access := "access-" + string(rune('a'+f.nextToken%26)) + "-" + time.Now().Format("150405.000000000")
	refresh := "refresh-" + access
	f.validAccess[access] = true
	f.validRefresh[refresh] = true

	http.SetCookie(w, &http.Cookie{Name: "perch_access", Value: access, Path: "/v1"})
	http.SetCookie(w, &http.Cookie{Name: "perch_refresh", Value: refresh, Path: "/v1"})
}

func (f *fakeAuthServer) writeSession(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(SessionResponse{User: f.user, AccessExpiresIn: 900})
}

func (f *fakeAuthServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		defer f.mu.Unlock()

		if req.Username != "alice" || req.Password != "hunter2hunter2" {
			ErrInvalidCredentials.WriteError(w)
			return
		}
		f.mint(w)
		f.writeSession(w)
	})

	mux.HandleFunc("POST /v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(f.refreshDelay)
		f.refreshCount.Add(1)

		f.mu.Lock()
		defer f.mu.Unlock()

		ck, err := r.Cookie("perch_refresh")
		if err != nil || !f.validRefresh[ck.Value] {
			ErrInvalidToken.WriteError(w)
			return
		}
		f.mint(w)
		f.writeSession(w)
	})

	mux.HandleFunc("POST /v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "perch_access", Value: "", Path: "/v1", MaxAge: -1})
		http.SetCookie(w, &http.Cookie{Name: "perch_refresh", Value: "", Path: "/v1", MaxAge: -1})
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		ck, err := r.Cookie("perch_access")
		if err != nil || !f.validAccess[ck.Value] {
			ErrInvalidToken.WriteError(w)
			return
		}
		f.writeSession(w)
	})

	return mux
}

// expireAccess invalidates every live access token, leaving refresh tokens
// usable. Simulates access expiry between requests.
func (f *fakeAuthServer) expireAccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validAccess = make(map[string]bool)
}

// expireAll kills the whole session server-side.
func (f *fakeAuthServer) expireAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validAccess = make(map[string]bool)
	f.validRefresh = make(map[string]bool)
}

func newTestSessionStore(t *testing.T, srv *httptest.Server, opts ...Option) *SessionStore {
	t.Helper()
	s, err := NewSessionStore(srv.URL, opts...)
	require.NoError(t, err)
	return s
}

func TestSessionLoginAndState(t *testing.T) {
	fake := newFakeAuthServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	var transitions []State
	s := newTestSessionStore(t, srv, WithOnChange(func(st State) {
		transitions = append(transitions, st)
	}))

	require.False(t, s.State().LoggedIn())

	require.NoError(t, s.Login(context.Background(), "alice", "hunter2hunter2"))

	st := s.State()
	require.True(t, st.LoggedIn())
	require.True(t, st.Initialized)
	require.False(t, st.Loading)
	require.NoError(t, st.LastError)
	require.Equal(t, "alice", st.User.Username)

	// Loading flickered on and back off around the request.
	require.GreaterOrEqual(t, len(transitions), 2)
	require.True(t, transitions[0].Loading)
	require.False(t, transitions[len(transitions)-1].Loading)
}

func TestSessionLoginBadPassword(t *testing.T) {
	fake := newFakeAuthServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestSessionStore(t, srv)

	err := s.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, ErrorCodeInvalidCredentials, apiErr.Code)

	st := s.State()
	require.False(t, st.LoggedIn())
	require.Error(t, st.LastError)
}

func TestSessionInitWithoutCookies(t *testing.T) {
	fake := newFakeAuthServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestSessionStore(t, srv)

	require.NoError(t, s.Init(context.Background()))
	st := s.State()
	require.True(t, st.Initialized)
	require.False(t, st.LoggedIn())
}

func TestSessionInitRecoversViaRefresh(t *testing.T) {
	fake := newFakeAuthServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	first := newTestSessionStore(t, srv)
	require.NoError(t, first.Login(context.Background(), "alice", "hunter2hunter2"))
	fake.expireAccess()

	// Same jar, fresh store: a restart with persisted cookies where only the
	// refresh half is still alive server-side.
	s := newTestSessionStore(t, srv, WithHTTPClient(first.http))
	require.NoError(t, s.Init(context.Background()))
	require.True(t, s.State().LoggedIn())
	require.EqualValues(t, 1, fake.refreshCount.Load())
}

func TestSessionRefreshRotates(t *testing.T) {
	fake := newFakeAuthServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestSessionStore(t, srv)
	require.NoError(t, s.Login(context.Background(), "alice", "hunter2hunter2"))

	require.NoError(t, s.Refresh(context.Background()))
	require.True(t, s.State().LoggedIn())
	require.EqualValues(t, 1, fake.refreshCount.Load())
}

func TestSessionRefreshSingleFlight(t *testing.T) {
	fake := newFakeAuthServer()
	fake.refreshDelay = 100 * time.Millisecond
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestSessionStore(t, srv)
	require.NoError(t, s.Login(context.Background(), "alice", "hunter2hunter2"))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Refresh(context.Background())
		}()
	}
	wg.Wait()

	// All eight callers shared one request.
	require.EqualValues(t, 1, fake.refreshCount.Load())
}

func TestSessionDoRetriesOnceAfter401(t *testing.T) {
	fake := newFakeAuthServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestSessionStore(t, srv)
	require.NoError(t, s.Login(context.Background(), "alice", "hunter2hunter2"))

	// Access dies server-side; refresh can still recover it.
	fake.expireAccess()

	user, err := s.Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)
	require.EqualValues(t, 1, fake.refreshCount.Load())
	require.True(t, s.State().LoggedIn())
}

func TestSessionExpiredForcesLogout(t *testing.T) {
	fake := newFakeAuthServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	var lastState State
	s := newTestSessionStore(t, srv, WithOnChange(func(st State) { lastState = st }))
	require.NoError(t, s.Login(context.Background(), "alice", "hunter2hunter2"))

	// The whole session dies server-side: retry-once cannot save it.
	fake.expireAll()

	_, err := s.Me(context.Background())
	require.ErrorIs(t, err, ErrSessionExpired)

	st := s.State()
	require.False(t, st.LoggedIn())
	require.ErrorIs(t, st.LastError, ErrSessionExpired)
	require.False(t, lastState.LoggedIn())
}

func TestSessionLogout(t *testing.T) {
	fake := newFakeAuthServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestSessionStore(t, srv)
	require.NoError(t, s.Login(context.Background(), "alice", "hunter2hunter2"))

	require.NoError(t, s.Logout(context.Background()))
	st := s.State()
	require.False(t, st.LoggedIn())
	require.False(t, st.Initialized)
	require.NoError(t, st.LastError)
}

func TestSessionBackgroundRefresh(t *testing.T) {
	fake := newFakeAuthServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestSessionStore(t, srv, WithRefreshInterval(50*time.Millisecond))
	require.NoError(t, s.Login(context.Background(), "alice", "hunter2hunter2"))

	s.Start()
	require.Eventually(t, func() bool {
		return fake.refreshCount.Load() >= 2
	}, 2*time.Second, 20*time.Millisecond)
	s.Stop()

	// No further refreshes after Stop.
	count := fake.refreshCount.Load()
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, count, fake.refreshCount.Load())

	require.True(t, s.State().LoggedIn())
}

func TestSessionBackgroundRefreshSkipsWhenLoggedOut(t *testing.T) {
	fake := newFakeAuthServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestSessionStore(t, srv, WithRefreshInterval(30*time.Millisecond))
	s.Start()
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	require.Zero(t, fake.refreshCount.Load())
}

func TestSessionStopWithoutStart(t *testing.T) {
	fake := newFakeAuthServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestSessionStore(t, srv)
	s.Stop() // must not block
}

func TestRateLimitedErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "300")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "too_many_attempts", "retry_after": 300})
	}))
	defer srv.Close()

	s, err := NewSessionStore(srv.URL)
	require.NoError(t, err)

	err = s.Login(context.Background(), "alice", "hunter2hunter2")
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	require.Equal(t, 300*time.Second, rl.RetryAfter)
}
