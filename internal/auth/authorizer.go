package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/Priya8975/gh-bridge/internal/domain"
	"github.com/Priya8975/gh-bridge/internal/requester"
)

// Prompter delivers an authorization prompt to the user behind identity.
type Prompter interface {
	Prompt(ctx context.Context, identity *domain.Identity, message, authorizeURL string) error
}

// Limiter throttles prompts per identity.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) bool
}

type PromptConfig struct {
	AuthorizeURL string
	ClientID     string

	// CallbackURL is sent as redirect_uri when set.
	CallbackURL string

	// Limit is the number of prompts per identity per minute. Zero
	// disables throttling.
	Limit int
}

// PromptAuthorizer sends the user a signed authorization link and
// reports the call as an *AuthorizationRequiredError.
type PromptAuthorizer struct {
	cfg      PromptConfig
	signer   *StateSigner
	prompter Prompter
	limiter  Limiter
	logger   *slog.Logger
}

func NewPromptAuthorizer(cfg PromptConfig, signer *StateSigner, prompter Prompter, limiter Limiter, logger *slog.Logger) *PromptAuthorizer {
	return &PromptAuthorizer{
		cfg:      cfg,
		signer:   signer,
		prompter: prompter,
		limiter:  limiter,
		logger:   logger,
	}
}

func (a *PromptAuthorizer) Authorize(ctx context.Context, identity *domain.Identity, message string) (*requester.Response, error) {
	if identity == nil {
		return nil, &AuthorizationRequiredError{Message: message}
	}

	link, err := a.AuthorizeLink(identity.ID)
	if err != nil {
		return nil, err
	}
	authErr := &AuthorizationRequiredError{IdentityID: identity.ID, Message: message, URL: link}

	if a.limiter != nil && !a.limiter.Allow(ctx, promptKey(identity.ID), a.cfg.Limit, time.Minute) {
		a.logger.Info("authorization prompt throttled", "identity_id", identity.ID)
		return nil, authErr
	}

	if err := a.prompter.Prompt(ctx, identity, message, link); err != nil {
		return nil, fmt.Errorf("sending authorization prompt: %w", err)
	}

	a.logger.Info("authorization prompt sent", "identity_id", identity.ID)
	return nil, authErr
}

// AuthorizeLink builds the GitHub authorization URL for identityID.
func (a *PromptAuthorizer) AuthorizeLink(identityID int64) (string, error) {
	state, err := a.signer.Sign(identityID)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("client_id", a.cfg.ClientID)
	q.Set("state", state)
	if a.cfg.CallbackURL != "" {
		q.Set("redirect_uri", a.cfg.CallbackURL)
	}
	return a.cfg.AuthorizeURL + "?" + q.Encode(), nil
}

func promptKey(identityID int64) string {
	return fmt.Sprintf("prompt:%d", identityID)
}
