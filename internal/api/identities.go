package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/gh-bridge/internal/domain"
	"github.com/Priya8975/gh-bridge/internal/requester"
	"github.com/Priya8975/gh-bridge/internal/store"
)

// IdentityStore persists chat users and their GitHub tokens.
type IdentityStore interface {
	CreateIdentity(ctx context.Context, name string) (*domain.Identity, error)
	GetIdentity(ctx context.Context, id int64) (*domain.Identity, error)
	UpdateTokens(ctx context.Context, identityID int64, accessToken, refreshToken string) error
	ClearTokens(ctx context.Context, identityID int64) error
}

// GitHubClient is the authenticated GitHub surface the API needs.
type GitHubClient interface {
	Request(ctx context.Context, method, rawURL string, identity *domain.Identity, body any, headers map[string]string) (*requester.Response, error)
	GetTokens(ctx context.Context, params map[string]string) (*domain.TokenResponse, error)
}

// LinkBuilder signs an authorization link for an identity.
type LinkBuilder interface {
	AuthorizeLink(identityID int64) (string, error)
}

type IdentityHandler struct {
	store IdentityStore
	links LinkBuilder
}

func NewIdentityHandler(s IdentityStore, links LinkBuilder) *IdentityHandler {
	return &IdentityHandler{store: s, links: links}
}

type identityResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Authorized bool   `json:"authorized"`
}

func toIdentityResponse(identity *domain.Identity) identityResponse {
	return identityResponse{
		ID:         identity.ID,
		Name:       identity.Name,
		Authorized: identity.Authorized(),
	}
}

func (h *IdentityHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	identity, err := h.store.CreateIdentity(r.Context(), req.Name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create identity")
		return
	}

	respondJSON(w, http.StatusCreated, toIdentityResponse(identity))
}

func (h *IdentityHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.load(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toIdentityResponse(identity))
}

// Authorize redirects the browser to GitHub's consent page for the
// identity.
func (h *IdentityHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.load(w, r)
	if !ok {
		return
	}

	link, err := h.links.AuthorizeLink(identity.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build authorization link")
		return
	}

	http.Redirect(w, r, link, http.StatusFound)
}

// Revoke forgets the identity's tokens.
func (h *IdentityHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := identityParam(w, r)
	if !ok {
		return
	}

	if err := h.store.ClearTokens(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrIdentityNotFound) {
			respondError(w, http.StatusNotFound, "identity not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to clear tokens")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *IdentityHandler) load(w http.ResponseWriter, r *http.Request) (*domain.Identity, bool) {
	id, ok := identityParam(w, r)
	if !ok {
		return nil, false
	}

	identity, err := h.store.GetIdentity(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get identity")
		return nil, false
	}
	if identity == nil {
		respondError(w, http.StatusNotFound, "identity not found")
		return nil, false
	}
	return identity, true
}

func identityParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid identity id")
		return 0, false
	}
	return id, true
}
