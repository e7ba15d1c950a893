package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/gh-bridge/internal/auth"
	"github.com/Priya8975/gh-bridge/internal/domain"
	"github.com/Priya8975/gh-bridge/internal/reply"
	"github.com/Priya8975/gh-bridge/internal/requester"
)

// ReplyHandler posts a quick reply from chat as a GitHub comment on
// behalf of the replying identity.
type ReplyHandler struct {
	replies    reply.Store
	identities IdentityStore
	github     GitHubClient
	footer     string
	logger     *slog.Logger
}

func NewReplyHandler(replies reply.Store, identities IdentityStore, github GitHubClient, footer string, logger *slog.Logger) *ReplyHandler {
	return &ReplyHandler{
		replies:    replies,
		identities: identities,
		github:     github,
		footer:     footer,
		logger:     logger,
	}
}

type replyRequest struct {
	IdentityID int64  `json:"identity_id"`
	Body       string `json:"body"`
}

type replyResponse struct {
	CommentURL   string `json:"comment_url,omitempty"`
	Prompted     bool   `json:"prompted,omitempty"`
	AuthorizeURL string `json:"authorize_url,omitempty"`
	TextCode     string `json:"text_code,omitempty"`
}

func (h *ReplyHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "key")

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		respondError(w, http.StatusBadRequest, "body is required")
		return
	}
	if req.IdentityID <= 0 {
		respondError(w, http.StatusBadRequest, "identity_id is required")
		return
	}

	// Resolve the identity before taking the entry so a bad request does
	// not burn the reply.
	identity, err := h.identities.GetIdentity(ctx, req.IdentityID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get identity")
		return
	}
	if identity == nil {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}

	target, err := h.replies.Take(ctx, key)
	if err != nil {
		h.logger.Error("failed to take reply entry", "error", err, "reply_key", key)
		respondError(w, http.StatusInternalServerError, "failed to load reply")
		return
	}
	if target == nil {
		respondError(w, http.StatusNotFound, "reply expired or already used")
		return
	}

	resp, err := h.github.Request(ctx, http.MethodPost, target.CommentsURL, identity,
		map[string]string{"body": req.Body + h.footer}, nil)
	if err != nil {
		h.handleFailure(ctx, w, key, *target, identity.ID, err)
		return
	}
	if resp == nil {
		// The authorizer handled the call without a response.
		h.restore(ctx, key, *target)
		respondJSON(w, http.StatusAccepted, replyResponse{Prompted: true, TextCode: auth.TextCodeAuthorizationRequired})
		return
	}

	var comment struct {
		HTMLURL string `json:"html_url"`
	}
	if err := resp.Decode(&comment); err != nil {
		h.logger.Warn("unreadable comment response", "error", err, "reply_key", key)
	}

	h.logger.Info("reply posted",
		"identity_id", identity.ID,
		"repository", target.Repository,
		"number", target.Number,
	)
	respondJSON(w, http.StatusCreated, replyResponse{CommentURL: comment.HTMLURL})
}

func (h *ReplyHandler) handleFailure(ctx context.Context, w http.ResponseWriter, key string, target domain.ReplyTarget, identityID int64, err error) {
	var authErr *auth.AuthorizationRequiredError
	if errors.As(err, &authErr) {
		h.restore(ctx, key, target)
		respondJSON(w, http.StatusAccepted, replyResponse{Prompted: true, AuthorizeURL: authErr.URL, TextCode: auth.TextCodeAuthorizationRequired})
		return
	}

	h.logger.Warn("reply failed", "error", err, "identity_id", identityID, "repository", target.Repository)

	switch {
	case requester.IsCircuitOpen(err):
		respondError(w, http.StatusServiceUnavailable, "GitHub is unavailable, try again later")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "GitHub did not answer in time")
	case requester.StatusCode(err) != 0:
		var statusErr *requester.StatusError
		errors.As(err, &statusErr)
		respondError(w, http.StatusBadGateway, statusErr.Message)
	default:
		respondError(w, http.StatusInternalServerError, "failed to post reply")
	}
}

// restore gives the entry back so the user can answer once authorized.
func (h *ReplyHandler) restore(ctx context.Context, key string, target domain.ReplyTarget) {
	if err := h.replies.Put(ctx, key, target); err != nil {
		h.logger.Error("failed to restore reply entry", "error", err, "reply_key", key)
	}
}
