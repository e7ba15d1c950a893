package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/singleflight"

	"github.com/Priya8975/gh-bridge/internal/domain"
	"github.com/Priya8975/gh-bridge/internal/requester"
)

const acceptGitHubV3 = "application/vnd.github.v3+json"

// TokenStore persists an identity's token pair. Both values must be
// written together or not at all. GetIdentity returns nil for an unknown
// identity.
type TokenStore interface {
	GetIdentity(ctx context.Context, id int64) (*domain.Identity, error)
	UpdateTokens(ctx context.Context, identityID int64, accessToken, refreshToken string) error
}

// Authorizer asks the user behind identity to authorize the integration.
// Its result is returned to the Request caller as is.
type Authorizer interface {
	Authorize(ctx context.Context, identity *domain.Identity, message string) (*requester.Response, error)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, identity *domain.Identity, message string) (*requester.Response, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, identity *domain.Identity, message string) (*requester.Response, error) {
	return f(ctx, identity, message)
}

type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string

	// BaseURL is prepended to request URLs that start with "/".
	BaseURL string

	RequestTimeout time.Duration
}

// Pipeline sends GitHub API requests on behalf of an identity. A 401 is
// answered with one token refresh and one retry; when the refresh fails
// the Authorizer is invoked instead.
//
// The identity passed to Request is updated in place after a refresh, so
// it must not be shared between concurrent calls.
type Pipeline struct {
	cfg        Config
	requester  requester.Requester
	tokens     TokenStore
	authorizer Authorizer
	logger     *slog.Logger

	refreshes singleflight.Group
}

func NewPipeline(cfg Config, req requester.Requester, tokens TokenStore, authorizer Authorizer, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		requester:  req,
		tokens:     tokens,
		authorizer: authorizer,
		logger:     logger,
	}
}

// SetAuthorizer replaces the Authorizer. It must be called before the
// pipeline is used.
func (p *Pipeline) SetAuthorizer(a Authorizer) {
	p.authorizer = a
}

// Request performs an authenticated call. Errors other than a 401 are
// returned unmodified.
func (p *Pipeline) Request(ctx context.Context, method, rawURL string, identity *domain.Identity, body any, headers map[string]string) (*requester.Response, error) {
	if !identity.Authorized() {
		return p.Authorize(ctx, identity, MessageUnauthenticated)
	}

	resp, err := p.send(ctx, method, rawURL, identity.AccessToken, body, headers)
	if !requester.IsUnauthorized(err) {
		return resp, err
	}

	p.logger.Info("access token rejected, refreshing", "identity_id", identity.ID)
	if err := p.refresh(ctx, identity); err != nil {
		p.logger.Warn("token refresh failed", "identity_id", identity.ID, "error", err)
		return p.Authorize(ctx, identity, MessageExpired)
	}

	return p.send(ctx, method, rawURL, identity.AccessToken, body, headers)
}

// Authorize hands identity to the Authorizer. Without one it returns an
// *AuthorizationRequiredError.
func (p *Pipeline) Authorize(ctx context.Context, identity *domain.Identity, message string) (*requester.Response, error) {
	if p.authorizer == nil {
		var id int64
		if identity != nil {
			id = identity.ID
		}
		return nil, &AuthorizationRequiredError{IdentityID: id, Message: message}
	}
	return p.authorizer.Authorize(ctx, identity, message)
}

// GetTokens posts params, together with the client credentials, to the
// OAuth token endpoint.
func (p *Pipeline) GetTokens(ctx context.Context, params map[string]string) (*domain.TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	for k, v := range params {
		form.Set(k, v)
	}

	resp, err := p.requester.Do(ctx, requester.Request{
		Method:  http.MethodPost,
		URL:     p.cfg.TokenURL,
		Body:    form,
		Headers: map[string]string{"accept": "application/json"},
		Timeout: p.cfg.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("requesting tokens: %w", err)
	}

	var tokens domain.TokenResponse
	if err := resp.Decode(&tokens); err != nil {
		return nil, err
	}
	if tokens.Error != "" {
		msg := tokens.Error
		if tokens.ErrorDescription != "" {
			msg += ": " + tokens.ErrorDescription
		}
		return nil, goerrors.New(msg, goerrors.CategoryAuth).
			WithTextCode(TextCodeOAuthError).
			WithMetadata(map[string]any{"oauth_error": tokens.Error})
	}

	return &tokens, nil
}

func (p *Pipeline) send(ctx context.Context, method, rawURL, accessToken string, body any, headers map[string]string) (*requester.Response, error) {
	merged := map[string]string{
		"authorization": "token " + accessToken,
		"accept":        acceptGitHubV3,
	}
	for k, v := range headers {
		merged[strings.ToLower(k)] = v
	}

	return p.requester.Do(ctx, requester.Request{
		Method:  method,
		URL:     p.resolve(rawURL),
		Body:    body,
		Headers: merged,
		Timeout: p.cfg.RequestTimeout,
	})
}

func (p *Pipeline) resolve(rawURL string) string {
	if p.cfg.BaseURL != "" && strings.HasPrefix(rawURL, "/") {
		return strings.TrimRight(p.cfg.BaseURL, "/") + rawURL
	}
	return rawURL
}

// refresh replaces identity's rejected token pair. Refreshes for one
// identity run one at a time; each first rereads the stored pair, and when
// another request has already rotated it the stored pair is used instead
// of spending the rejected refresh token again.
func (p *Pipeline) refresh(ctx context.Context, identity *domain.Identity) error {
	id, rejected := identity.ID, identity.RefreshToken
	if rejected == "" {
		return refreshFailed(errNoRefreshToken, id)
	}

	v, err, shared := p.refreshes.Do(strconv.FormatInt(id, 10), func() (any, error) {
		// Joined callers must not fail because the first one went away.
		ctx := context.WithoutCancel(ctx)

		stored, err := p.tokens.GetIdentity(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading stored tokens: %w", err)
		}
		if stored.Authorized() && stored.RefreshToken != "" && stored.RefreshToken != rejected {
			return &domain.TokenResponse{AccessToken: stored.AccessToken, RefreshToken: stored.RefreshToken}, nil
		}

		tokens, err := p.GetTokens(ctx, map[string]string{
			"refresh_token": rejected,
			"grant_type":    "refresh_token",
		})
		if err != nil {
			return nil, err
		}
		if tokens.AccessToken == "" || tokens.RefreshToken == "" {
			return nil, errors.New("token response is missing a token")
		}
		if err := p.tokens.UpdateTokens(ctx, id, tokens.AccessToken, tokens.RefreshToken); err != nil {
			return nil, fmt.Errorf("storing refreshed tokens: %w", err)
		}
		return tokens, nil
	})
	if err != nil {
		return refreshFailed(err, id)
	}

	tokens := v.(*domain.TokenResponse)
	identity.AccessToken = tokens.AccessToken
	identity.RefreshToken = tokens.RefreshToken

	p.logger.Info("access token refreshed", "identity_id", id, "shared", shared)
	return nil
}
