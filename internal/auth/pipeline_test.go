package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priya8975/gh-bridge/internal/domain"
	"github.com/Priya8975/gh-bridge/internal/requester"
)

const tokenURL = "https://github.test/login/oauth/access_token"

type fakeRequester struct {
	mu     sync.Mutex
	calls  []requester.Request
	handle func(req requester.Request) (*requester.Response, error)
}

func (f *fakeRequester) Do(ctx context.Context, req requester.Request) (*requester.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.handle(req)
}

func (f *fakeRequester) Calls() []requester.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]requester.Request(nil), f.calls...)
}

type fakeTokenStore struct {
	mu      sync.Mutex
	err     error
	loadErr error
	stored  map[int64]domain.Identity
	updates [][2]string
}

func (s *fakeTokenStore) GetIdentity(ctx context.Context, id int64) (*domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	identity, ok := s.stored[id]
	if !ok {
		return nil, nil
	}
	return &identity, nil
}

func (s *fakeTokenStore) UpdateTokens(ctx context.Context, identityID int64, access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.stored == nil {
		s.stored = make(map[int64]domain.Identity)
	}
	s.stored[identityID] = domain.Identity{ID: identityID, AccessToken: access, RefreshToken: refresh}
	s.updates = append(s.updates, [2]string{access, refresh})
	return nil
}

type recordingAuthorizer struct {
	mu       sync.Mutex
	messages []string
}

var errAuthorizeCalled = errors.New("authorize called")

func (a *recordingAuthorizer) Authorize(ctx context.Context, identity *domain.Identity, message string) (*requester.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, message)
	return nil, errAuthorizeCalled
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestPipeline(req requester.Requester, tokens TokenStore, authorizer Authorizer) *Pipeline {
	return NewPipeline(Config{
		ClientID:       "client-id",
		ClientSecret:   "client-secret",
		TokenURL:       tokenURL,
		BaseURL:        "https://api.github.test",
		RequestTimeout: 5 * time.Second,
	}, req, tokens, authorizer, testLogger())
}

func unauthorized(req requester.Request) error {
	return &requester.StatusError{Method: req.Method, URL: req.URL, StatusCode: http.StatusUnauthorized, Message: "Bad credentials"}
}

func tokenBody(access, refresh string) *requester.Response {
	return &requester.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"access_token":"` + access + `","refresh_token":"` + refresh + `","token_type":"bearer","expires_in":28800}`),
	}
}

func TestRequest_NoTokenNeverCallsNetwork(t *testing.T) {
	fr := &fakeRequester{handle: func(req requester.Request) (*requester.Response, error) {
		t.Errorf("unexpected request to %s", req.URL)
		return nil, nil
	}}
	authz := &recordingAuthorizer{}
	p := newTestPipeline(fr, &fakeTokenStore{}, authz)

	for _, identity := range []*domain.Identity{nil, {ID: 1}, {ID: 2, RefreshToken: "R1"}} {
		_, err := p.Request(context.Background(), http.MethodGet, "/user", identity, nil, nil)
		require.ErrorIs(t, err, errAuthorizeCalled)
	}

	assert.Empty(t, fr.Calls())
	assert.Equal(t, []string{MessageUnauthenticated, MessageUnauthenticated, MessageUnauthenticated}, authz.messages)
}

func TestRequest_RefreshesOnceAndRetries(t *testing.T) {
	fr := &fakeRequester{}
	fr.handle = func(req requester.Request) (*requester.Response, error) {
		switch {
		case req.URL == tokenURL:
			return tokenBody("A2", "R2"), nil
		case req.Headers["authorization"] == "token A1":
			return nil, unauthorized(req)
		default:
			return &requester.Response{StatusCode: http.StatusOK, Body: []byte(`{"login":"octocat"}`)}, nil
		}
	}
	store := &fakeTokenStore{}
	authz := &recordingAuthorizer{}
	p := newTestPipeline(fr, store, authz)

	identity := &domain.Identity{ID: 7, AccessToken: "A1", RefreshToken: "R1"}
	resp, err := p.Request(context.Background(), http.MethodGet, "/user", identity, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"login":"octocat"}`, string(resp.Body))

	calls := fr.Calls()
	require.Len(t, calls, 3)

	assert.Equal(t, "https://api.github.test/user", calls[0].URL)
	assert.Equal(t, "token A1", calls[0].Headers["authorization"])
	assert.Equal(t, "application/vnd.github.v3+json", calls[0].Headers["accept"])
	assert.Equal(t, 5*time.Second, calls[0].Timeout)

	tokenCall := calls[1]
	assert.Equal(t, http.MethodPost, tokenCall.Method)
	assert.Equal(t, "application/json", tokenCall.Headers["accept"])
	form, ok := tokenCall.Body.(url.Values)
	require.True(t, ok, "token request body should be form values")
	assert.Equal(t, "R1", form.Get("refresh_token"))
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "client-id", form.Get("client_id"))
	assert.Equal(t, "client-secret", form.Get("client_secret"))

	assert.Equal(t, "token A2", calls[2].Headers["authorization"])

	assert.Equal(t, "A2", identity.AccessToken)
	assert.Equal(t, "R2", identity.RefreshToken)
	assert.Equal(t, [][2]string{{"A2", "R2"}}, store.updates)
	assert.Empty(t, authz.messages)
}

func TestRequest_RetryFailureIsReturnedAsIs(t *testing.T) {
	retryErr := &requester.StatusError{StatusCode: http.StatusUnauthorized, Message: "still bad"}
	fr := &fakeRequester{}
	fr.handle = func(req requester.Request) (*requester.Response, error) {
		switch {
		case req.URL == tokenURL:
			return tokenBody("A2", "R2"), nil
		case req.Headers["authorization"] == "token A1":
			return nil, unauthorized(req)
		default:
			return nil, retryErr
		}
	}
	authz := &recordingAuthorizer{}
	p := newTestPipeline(fr, &fakeTokenStore{}, authz)

	identity := &domain.Identity{ID: 7, AccessToken: "A1", RefreshToken: "R1"}
	_, err := p.Request(context.Background(), http.MethodGet, "/user", identity, nil, nil)

	assert.Same(t, retryErr, err)
	assert.Len(t, fr.Calls(), 3, "a 401 on the retry must not trigger another refresh")
	assert.Empty(t, authz.messages)
}

func TestRequest_RefreshFailureAuthorizes(t *testing.T) {
	tests := []struct {
		name     string
		token    func(req requester.Request) (*requester.Response, error)
		storeErr error
		loadErr  error
		refresh  string
		calls    int
	}{
		{
			name: "token endpoint error",
			token: func(req requester.Request) (*requester.Response, error) {
				return nil, &requester.StatusError{StatusCode: http.StatusBadGateway}
			},
			refresh: "R1",
			calls:   2,
		},
		{
			name: "oauth error body",
			token: func(req requester.Request) (*requester.Response, error) {
				return &requester.Response{StatusCode: http.StatusOK, Body: []byte(`{"error":"bad_refresh_token","error_description":"The refresh token passed is incorrect or expired."}`)}, nil
			},
			refresh: "R1",
			calls:   2,
		},
		{
			name: "response without refresh token",
			token: func(req requester.Request) (*requester.Response, error) {
				return &requester.Response{StatusCode: http.StatusOK, Body: []byte(`{"access_token":"A2"}`)}, nil
			},
			refresh: "R1",
			calls:   2,
		},
		{
			name: "token store write fails",
			token: func(req requester.Request) (*requester.Response, error) {
				return tokenBody("A2", "R2"), nil
			},
			storeErr: errors.New("connection reset"),
			refresh:  "R1",
			calls:    2,
		},
		{
			name:    "token store read fails",
			loadErr: errors.New("connection reset"),
			refresh: "R1",
			calls:   1,
		},
		{
			name:    "no refresh token stored",
			refresh: "",
			calls:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := &fakeRequester{}
			fr.handle = func(req requester.Request) (*requester.Response, error) {
				if req.URL == tokenURL {
					return tt.token(req)
				}
				return nil, unauthorized(req)
			}
			store := &fakeTokenStore{err: tt.storeErr, loadErr: tt.loadErr}
			authz := &recordingAuthorizer{}
			p := newTestPipeline(fr, store, authz)

			identity := &domain.Identity{ID: 3, AccessToken: "A1", RefreshToken: tt.refresh}
			_, err := p.Request(context.Background(), http.MethodGet, "/user", identity, nil, nil)

			require.ErrorIs(t, err, errAuthorizeCalled)
			assert.Equal(t, []string{MessageExpired}, authz.messages)
			assert.Len(t, fr.Calls(), tt.calls)
			assert.Equal(t, "A1", identity.AccessToken, "identity must keep its old tokens")
			assert.Equal(t, tt.refresh, identity.RefreshToken)
			assert.Empty(t, store.updates)
		})
	}
}

func TestRequest_NonUnauthorizedErrorsPropagate(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"forbidden", &requester.StatusError{StatusCode: http.StatusForbidden}},
		{"not found", &requester.StatusError{StatusCode: http.StatusNotFound}},
		{"server error", &requester.StatusError{StatusCode: http.StatusInternalServerError}},
		{"network", errors.New("dial tcp: connection refused")},
		{"timeout", context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := &fakeRequester{handle: func(req requester.Request) (*requester.Response, error) {
				return nil, tt.err
			}}
			authz := &recordingAuthorizer{}
			p := newTestPipeline(fr, &fakeTokenStore{}, authz)

			identity := &domain.Identity{ID: 1, AccessToken: "A1", RefreshToken: "R1"}
			_, err := p.Request(context.Background(), http.MethodGet, "/repos/o/r", identity, nil, nil)

			assert.True(t, err == tt.err, "error must be returned unmodified, got %v", err)
			assert.Len(t, fr.Calls(), 1)
			assert.Empty(t, authz.messages)
		})
	}
}

func TestRequest_MergesCallerHeaders(t *testing.T) {
	fr := &fakeRequester{handle: func(req requester.Request) (*requester.Response, error) {
		return &requester.Response{StatusCode: http.StatusOK}, nil
	}}
	p := newTestPipeline(fr, &fakeTokenStore{}, nil)

	identity := &domain.Identity{ID: 1, AccessToken: "A1", RefreshToken: "R1"}
	_, err := p.Request(context.Background(), http.MethodPost, "https://uploads.github.test/x", identity,
		map[string]string{"body": "hi"},
		map[string]string{"Accept": "application/vnd.github.squirrel-girl-preview", "X-Trace": "1"},
	)
	require.NoError(t, err)

	calls := fr.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://uploads.github.test/x", calls[0].URL)
	assert.Equal(t, "application/vnd.github.squirrel-girl-preview", calls[0].Headers["accept"])
	assert.Equal(t, "token A1", calls[0].Headers["authorization"])
	assert.Equal(t, "1", calls[0].Headers["x-trace"])
	assert.Equal(t, map[string]string{"body": "hi"}, calls[0].Body)
}

func TestAuthorize_WithoutAuthorizer(t *testing.T) {
	p := newTestPipeline(&fakeRequester{}, &fakeTokenStore{}, nil)

	_, err := p.Request(context.Background(), http.MethodGet, "/user", &domain.Identity{ID: 9}, nil, nil)
	require.True(t, IsAuthorizationRequired(err))

	var authErr *AuthorizationRequiredError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, int64(9), authErr.IdentityID)
	assert.Equal(t, MessageUnauthenticated, authErr.Message)
}

func TestRequest_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const callers = 5

	var rejected, refreshes atomic.Int32
	fr := &fakeRequester{}
	fr.handle = func(req requester.Request) (*requester.Response, error) {
		switch {
		case req.URL == tokenURL:
			// A refresh token can be used once.
			if refreshes.Add(1) > 1 {
				return &requester.Response{StatusCode: http.StatusOK, Body: []byte(`{"error":"bad_refresh_token"}`)}, nil
			}
			// Hold the exchange until every caller has seen its 401.
			deadline := time.Now().Add(2 * time.Second)
			for rejected.Load() < callers && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			time.Sleep(50 * time.Millisecond)
			return tokenBody("A2", "R2"), nil
		case req.Headers["authorization"] == "token A1":
			rejected.Add(1)
			return nil, unauthorized(req)
		default:
			return &requester.Response{StatusCode: http.StatusOK}, nil
		}
	}
	store := &fakeTokenStore{}
	authz := &recordingAuthorizer{}
	p := newTestPipeline(fr, store, authz)

	var wg sync.WaitGroup
	errs := make([]error, callers)
	identities := make([]*domain.Identity, callers)
	for i := range callers {
		identities[i] = &domain.Identity{ID: 42, AccessToken: "A1", RefreshToken: "R1"}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Request(context.Background(), http.MethodGet, "/user", identities[i], nil, nil)
		}(i)
	}
	wg.Wait()

	for i := range callers {
		assert.NoError(t, errs[i])
		assert.Equal(t, "A2", identities[i].AccessToken)
	}
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Len(t, store.updates, 1)
	assert.Empty(t, authz.messages)
}

func TestRequest_StaleIdentityAdoptsRotatedTokens(t *testing.T) {
	var refreshes atomic.Int32
	fr := &fakeRequester{}
	fr.handle = func(req requester.Request) (*requester.Response, error) {
		switch {
		case req.URL == tokenURL:
			// A refresh token can be used once.
			if refreshes.Add(1) > 1 {
				return &requester.Response{StatusCode: http.StatusOK, Body: []byte(`{"error":"bad_refresh_token"}`)}, nil
			}
			return tokenBody("A2", "R2"), nil
		case req.Headers["authorization"] == "token A1":
			return nil, unauthorized(req)
		default:
			return &requester.Response{StatusCode: http.StatusOK}, nil
		}
	}
	store := &fakeTokenStore{stored: map[int64]domain.Identity{1: {ID: 1, AccessToken: "A1", RefreshToken: "R1"}}}
	authz := &recordingAuthorizer{}
	p := newTestPipeline(fr, store, authz)

	// Both copies were loaded before either request ran.
	first := &domain.Identity{ID: 1, AccessToken: "A1", RefreshToken: "R1"}
	second := &domain.Identity{ID: 1, AccessToken: "A1", RefreshToken: "R1"}

	_, err := p.Request(context.Background(), http.MethodGet, "/user", first, nil, nil)
	require.NoError(t, err)
	_, err = p.Request(context.Background(), http.MethodGet, "/user", second, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), refreshes.Load(), "the rotated refresh token must not be spent twice")
	assert.Empty(t, authz.messages)
	assert.Equal(t, "A2", second.AccessToken)
	assert.Equal(t, "R2", second.RefreshToken)
	assert.Len(t, store.updates, 1)
}

func TestGetTokens_CodeExchange(t *testing.T) {
	fr := &fakeRequester{handle: func(req requester.Request) (*requester.Response, error) {
		return tokenBody("A1", "R1"), nil
	}}
	p := newTestPipeline(fr, &fakeTokenStore{}, nil)

	tokens, err := p.GetTokens(context.Background(), map[string]string{"code": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "A1", tokens.AccessToken)
	assert.Equal(t, "R1", tokens.RefreshToken)
	assert.Equal(t, int64(28800), tokens.ExpiresIn)

	form := fr.Calls()[0].Body.(url.Values)
	assert.Equal(t, "abc", form.Get("code"))
	assert.Equal(t, "client-id", form.Get("client_id"))
}
