package api

import (
	"errors"
	"log/slog"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/Priya8975/gh-bridge/internal/store"
)

// StateVerifier checks the signed state parameter of the OAuth callback.
type StateVerifier interface {
	Verify(state string) (int64, error)
}

// OAuthHandler completes the authorization code flow started by an
// authorization prompt.
type OAuthHandler struct {
	verifier    StateVerifier
	identities  IdentityStore
	github      GitHubClient
	callbackURL string
	redirect    string
	logger      *slog.Logger
}

func NewOAuthHandler(verifier StateVerifier, identities IdentityStore, github GitHubClient, callbackURL, redirect string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		verifier:    verifier,
		identities:  identities,
		github:      github,
		callbackURL: callbackURL,
		redirect:    redirect,
		logger:      logger,
	}
}

func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if ghErr := q.Get("error"); ghErr != "" {
		h.logger.Info("authorization declined", "error", ghErr, "description", q.Get("error_description"))
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "authorization was not granted", TextCode: "AUTHORIZATION_DECLINED"})
		return
	}

	code := q.Get("code")
	if code == "" {
		respondError(w, http.StatusBadRequest, "code is required")
		return
	}

	identityID, err := h.verifier.Verify(q.Get("state"))
	if err != nil {
		respondErr(w, err)
		return
	}

	params := map[string]string{"code": code}
	if h.callbackURL != "" {
		params["redirect_uri"] = h.callbackURL
	}

	tokens, err := h.github.GetTokens(r.Context(), params)
	if err != nil {
		h.logger.Warn("authorization code exchange failed", "error", err, "identity_id", identityID)
		resp := errorResponse{Error: "token exchange failed"}
		var rich *goerrors.Error
		if goerrors.As(err, &rich) {
			resp.TextCode = rich.TextCode
		}
		respondJSON(w, http.StatusBadGateway, resp)
		return
	}

	// Tokens are stored as a pair; an app without expiring user tokens
	// never issues a refresh token.
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		h.logger.Error("token response missing a token", "identity_id", identityID, "has_refresh", tokens.RefreshToken != "")
		respondError(w, http.StatusBadGateway, "GitHub did not return both tokens")
		return
	}

	if err := h.identities.UpdateTokens(r.Context(), identityID, tokens.AccessToken, tokens.RefreshToken); err != nil {
		if errors.Is(err, store.ErrIdentityNotFound) {
			respondError(w, http.StatusNotFound, "identity not found")
			return
		}
		h.logger.Error("failed to store tokens", "error", err, "identity_id", identityID)
		respondError(w, http.StatusInternalServerError, "failed to store tokens")
		return
	}

	h.logger.Info("identity authorized", "identity_id", identityID)

	if h.redirect != "" {
		http.Redirect(w, r, h.redirect, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("GitHub account connected. You can close this window.\n"))
}
