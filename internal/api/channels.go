package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/gh-bridge/internal/domain"
)

// ChannelStore persists per-channel webhook filters.
type ChannelStore interface {
	GetChannelSubscriptions(ctx context.Context, channelID string) (domain.ChannelSubscriptions, error)
	SetChannelFilter(ctx context.Context, channelID, source string, filter domain.Filter) error
	RemoveChannelFilter(ctx context.Context, channelID, source string) (bool, error)
}

type ChannelHandler struct {
	store ChannelStore
}

func NewChannelHandler(s ChannelStore) *ChannelHandler {
	return &ChannelHandler{store: s}
}

func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.GetChannelSubscriptions(r.Context(), chi.URLParam(r, "channel"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscriptions")
		return
	}

	respondJSON(w, http.StatusOK, subs)
}

// Put replaces the channel's filter for one repository.
func (h *ChannelHandler) Put(w http.ResponseWriter, r *http.Request) {
	var filter domain.Filter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(filter.Events) == 0 {
		respondError(w, http.StatusBadRequest, "at least one event is required")
		return
	}
	for _, e := range filter.Events {
		key := domain.ParseEventKey(e)
		if key.Name == "" || strings.Contains(key.Action, "/") {
			respondError(w, http.StatusBadRequest, "events must be name or name/action")
			return
		}
	}

	channelID := chi.URLParam(r, "channel")
	source := repoParam(r)
	if err := h.store.SetChannelFilter(r.Context(), channelID, source, filter); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store subscription")
		return
	}

	respondJSON(w, http.StatusOK, domain.Subscription{ChannelID: channelID, Filter: filter})
}

func (h *ChannelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	removed, err := h.store.RemoveChannelFilter(r.Context(), chi.URLParam(r, "channel"), repoParam(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to remove subscription")
		return
	}
	if !removed {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func repoParam(r *http.Request) string {
	return chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo")
}
