package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/Priya8975/gh-bridge/internal/domain"
	"github.com/Priya8975/gh-bridge/internal/store"
)

// RepositoryStore persists webhook source registrations.
type RepositoryStore interface {
	CreateRepository(ctx context.Context, req domain.CreateRepositoryRequest) (*domain.Repository, error)
	ListRepositories(ctx context.Context) ([]domain.Repository, error)
	DeleteRepository(ctx context.Context, name string) (bool, error)
}

var repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

type RepositoryHandler struct {
	store RepositoryStore
}

func NewRepositoryHandler(s RepositoryStore) *RepositoryHandler {
	return &RepositoryHandler{store: s}
}

// Create registers a repository. The response is the only place the
// secret is ever returned.
func (h *RepositoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateRepositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !repoNamePattern.MatchString(req.Name) {
		respondError(w, http.StatusBadRequest, "name must be owner/repo")
		return
	}

	repo, err := h.store.CreateRepository(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrRepositoryExists) {
			respondError(w, http.StatusConflict, "repository already registered")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to register repository")
		return
	}

	respondJSON(w, http.StatusCreated, repo)
}

func (h *RepositoryHandler) List(w http.ResponseWriter, r *http.Request) {
	repos, err := h.store.ListRepositories(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list repositories")
		return
	}

	respondJSON(w, http.StatusOK, repos)
}

func (h *RepositoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	removed, err := h.store.DeleteRepository(r.Context(), repoParam(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete repository")
		return
	}
	if !removed {
		respondError(w, http.StatusNotFound, "repository not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
