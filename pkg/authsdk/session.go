package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultRefreshInterval is how often the background worker rotates the
// token pair while a session is active. Well inside the default access TTL
// so the pair never actually lapses during normal operation.
const DefaultRefreshInterval = 5 * time.Minute

// State is a snapshot of the session. Snapshots are values: mutating one
// has no effect on the store.
type State struct {
	// User is the authenticated identity, nil when logged out.
	User *Identity

	// Loading is true while a login or refresh is in flight.
	Loading bool

	// Initialized becomes true after the first session probe completes,
	// successfully or not. UIs gate their first render on this.
	Initialized bool

	// LastError holds the most recent session-level failure, cleared by the
	// next successful operation.
	LastError error
}

// LoggedIn reports whether the snapshot carries an authenticated identity.
func (s State) LoggedIn() bool { return s.User != nil }

// Option configures a SessionStore.
type Option func(*SessionStore)

// WithRefreshInterval overrides the background refresh cadence.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *SessionStore) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithOnChange registers the state subscriber. Called synchronously after
// every state transition with a snapshot; keep it fast.
func WithOnChange(fn func(State)) Option {
	return func(s *SessionStore) { s.onChange = fn }
}

// WithHTTPClient swaps the underlying HTTP client. A cookie jar is installed
// on it if it doesn't have one, since the tokens only travel in cookies.
func WithHTTPClient(c *http.Client) Option {
	return func(s *SessionStore) { s.http = c }
}

// SessionStore maintains a client-side session against the auth service.
//
// Tokens live in HTTP-only cookies managed by the client's jar; the store
// never sees them. It tracks who is logged in, keeps the pair fresh with a
// background worker, collapses concurrent refreshes into one request, and
// retries a request once after a 401 before declaring the session dead.
type SessionStore struct {
	baseURL  string
	http     *http.Client
	onChange func(State)
	interval time.Duration

	mu       sync.Mutex
	state    State
	inflight *refreshCall

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

type refreshCall struct {
	done chan struct{}
	err  error
}

// NewSessionStore creates a session store for the service at baseURL.
func NewSessionStore(baseURL string, opts ...Option) (*SessionStore, error) {
	s := &SessionStore{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		interval: DefaultRefreshInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.http == nil {
		s.http = &http.Client{Timeout: 10 * time.Second}
	}
	if s.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("authsdk: cookie jar: %w", err)
		}
		s.http.Jar = jar
	}

	return s, nil
}

// State returns the current snapshot.
func (s *SessionStore) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState mutates under lock, then notifies outside it so subscribers can
// call back into the store.
func (s *SessionStore) setState(mutate func(*State)) {
	s.mu.Lock()
	mutate(&s.state)
	snapshot := s.state
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
}

// Init probes the session endpoint to discover whether the jar already holds
// a usable pair (e.g. after a process restart with a persistent jar). When the
// probe comes back anonymous, one explicit refresh is attempted in case only
// the access half lapsed. Always leaves the store Initialized, logged in or
// not.
func (s *SessionStore) Init(ctx context.Context) error {
	s.setState(func(st *State) { st.Loading = true })

	user, err := s.probe(ctx)
	if err == nil && user == nil {
		if rErr := s.Refresh(ctx); rErr == nil {
			user, err = s.probe(ctx)
		}
	}

	s.setState(func(st *State) {
		st.Loading = false
		st.Initialized = true
		st.User = user
		st.LastError = nil
	})
	return err
}

// Login authenticates with a username and password. On success the server's
// cookies land in the jar and the state flips to logged in.
func (s *SessionStore) Login(ctx context.Context, username, password string) error {
	s.setState(func(st *State) { st.Loading = true })

	body, err := json.Marshal(LoginRequest{Username: username, Password: password})
	if err != nil {
		s.setState(func(st *State) { st.Loading = false; st.LastError = err })
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		s.setState(func(st *State) { st.Loading = false; st.LastError = err })
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		s.setState(func(st *State) { st.Loading = false; st.LastError = err })
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := readError(resp)
		s.setState(func(st *State) { st.Loading = false; st.LastError = apiErr })
		return apiErr
	}

	var session SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		s.setState(func(st *State) { st.Loading = false; st.LastError = err })
		return err
	}

	s.setState(func(st *State) {
		st.Loading = false
		st.Initialized = true
		st.User = &session.User
		st.LastError = nil
	})
	return nil
}

// Refresh rotates the token pair. Concurrent callers share one in-flight
// request and its result. A refresh the server refuses with 401, and a
// refresh that never reaches the server, both force the session out: a pair
// that can't be rotated is as good as dead, and pretending otherwise only
// defers the 401 to an arbitrary later request.
func (s *SessionStore) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if call := s.inflight; call != nil {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	s.inflight = call
	s.mu.Unlock()

	call.err = s.doRefresh(ctx)

	s.mu.Lock()
	s.inflight = nil
	s.mu.Unlock()
	close(call.done)

	return call.err
}

func (s *SessionStore) doRefresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/auth/refresh", nil)
	if err != nil {
		return err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		s.ForceLogout(err)
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var session SessionResponse
		if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
			return err
		}
		s.setState(func(st *State) {
			st.User = &session.User
			st.LastError = nil
		})
		return nil

	case http.StatusUnauthorized:
		s.ForceLogout(ErrSessionExpired)
		return ErrSessionExpired

	default:
		apiErr := readError(resp)
		s.setState(func(st *State) { st.LastError = apiErr })
		return apiErr
	}
}

// Logout tells the server to drop the cookies and clears local state. Local
// state clears even when the request fails; the user asked to leave.
func (s *SessionStore) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/auth/logout", nil)
	if err != nil {
		return err
	}

	resp, err := s.http.Do(req)
	if err == nil {
		resp.Body.Close()
	}

	s.setState(func(st *State) {
		st.User = nil
		st.Initialized = false
		st.LastError = nil
	})
	return err
}

// ForceLogout drops the session locally without a server round-trip, keeping
// reason as the state's LastError. Used when the server has already decided
// the session is dead.
func (s *SessionStore) ForceLogout(reason error) {
	s.setState(func(st *State) {
		st.User = nil
		st.LastError = reason
	})
}

// Do performs an authenticated request. On 401 it refreshes once and retries
// the request a single time; a second 401 means the session is truly gone
// and surfaces as ErrSessionExpired after a forced logout.
//
// Requests with a body must have GetBody set (http.NewRequest does this for
// common body types), otherwise the retry is not possible.
func (s *SessionStore) Do(req *http.Request) (*http.Response, error) {
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	if err := s.Refresh(req.Context()); err != nil {
		return nil, ErrSessionExpired
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}

	resp, err = s.http.Do(retry)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		s.ForceLogout(ErrSessionExpired)
		return nil, ErrSessionExpired
	}
	return resp, nil
}

// Me fetches the current identity through Do, so it participates in the
// retry-once flow.
func (s *SessionStore) Me(ctx context.Context) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/auth/me", nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var session SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, err
	}
	return &session.User, nil
}

// Start launches the background refresh worker. Safe to call once; use Stop
// to shut it down. The worker only refreshes while logged in.
func (s *SessionStore) Start() {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
		go s.run()
	})
}

// Stop shuts the background worker down and waits for it to exit. A no-op
// when the worker was never started.
func (s *SessionStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.doneCh
	}
}

func (s *SessionStore) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.State().LoggedIn() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = s.Refresh(ctx)
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// probe asks the session endpoint who we are. A 401 simply means "nobody".
func (s *SessionStore) probe(ctx context.Context) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/auth/me", nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var session SessionResponse
		if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
			return nil, err
		}
		return &session.User, nil
	case http.StatusUnauthorized:
		return nil, nil
	default:
		return nil, readError(resp)
	}
}

// readError reconstructs a typed error from a non-2xx response.
func readError(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		if secs < 1 {
			secs = 1
		}
		return &RateLimitedError{RetryAfter: time.Duration(secs) * time.Second}
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = ErrorCodeServerError
		apiErr.Description = resp.Status
	}
	return apiErr
}
