package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Priya8975/gh-bridge/internal/domain"
	"github.com/Priya8975/gh-bridge/internal/engine"
)

const (
	HeaderEvent     = "X-GitHub-Event"
	HeaderDelivery  = "X-GitHub-Delivery"
	HeaderSignature = "X-Hub-Signature-256"

	signaturePrefix = "sha256="

	// GitHub caps webhook payloads at 25 MB.
	MaxPayloadBytes = 25 << 20
)

type RepositoryLookup interface {
	GetRepositoryByName(ctx context.Context, name string) (*domain.Repository, error)
}

type Deduper interface {
	FirstSeen(ctx context.Context, deliveryID string) (bool, error)
	Forget(ctx context.Context, deliveryID string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job engine.WebhookJob) error
}

// Handler receives GitHub webhook deliveries. A delivery is accepted only
// for a registered repository and only with a valid signature for that
// repository's secret; accepted deliveries are queued once per delivery ID.
type Handler struct {
	repos   RepositoryLookup
	dedupe  Deduper
	queue   Enqueuer
	logger  *slog.Logger
	maxBody int64
	now     func() time.Time
}

func NewHandler(repos RepositoryLookup, dedupe Deduper, queue Enqueuer, logger *slog.Logger) *Handler {
	return &Handler{
		repos:   repos,
		dedupe:  dedupe,
		queue:   queue,
		logger:  logger,
		maxBody: MaxPayloadBytes,
		now:     time.Now,
	}
}

type response struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	event := r.Header.Get(HeaderEvent)
	deliveryID := r.Header.Get(HeaderDelivery)
	if event == "" || deliveryID == "" {
		writeJSON(w, http.StatusBadRequest, response{Status: "rejected", Error: "missing GitHub event headers"})
		return
	}
	if !domain.ValidEventName(event) {
		writeJSON(w, http.StatusBadRequest, response{Status: "rejected", Error: "invalid event name"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, response{Status: "rejected", Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, response{Status: "rejected", Error: "unreadable body"})
		return
	}

	var peek struct {
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Status: "rejected", Error: "payload must be JSON"})
		return
	}
	name := peek.Repository.FullName
	if name == "" {
		writeJSON(w, http.StatusBadRequest, response{Status: "rejected", Error: "payload has no repository"})
		return
	}

	repo, err := h.repos.GetRepositoryByName(ctx, name)
	if err != nil {
		h.logger.Error("failed to look up repository", "error", err, "repository", name)
		writeJSON(w, http.StatusInternalServerError, response{Status: "error", Error: "repository lookup failed"})
		return
	}
	// An unregistered repository answers like a bad signature.
	if repo == nil {
		h.logger.Warn("webhook for unregistered repository", "repository", name, "delivery_id", deliveryID)
		writeJSON(w, http.StatusUnauthorized, response{Status: "rejected", Error: "invalid signature"})
		return
	}
	if !Verify(body, repo.Secret, r.Header.Get(HeaderSignature)) {
		h.logger.Warn("webhook signature mismatch", "repository", name, "delivery_id", deliveryID)
		writeJSON(w, http.StatusUnauthorized, response{Status: "rejected", Error: "invalid signature"})
		return
	}

	if event == "ping" {
		writeJSON(w, http.StatusOK, response{Status: "pong"})
		return
	}

	first, err := h.dedupe.FirstSeen(ctx, deliveryID)
	if err != nil {
		h.logger.Error("failed to check delivery id", "error", err, "delivery_id", deliveryID)
		writeJSON(w, http.StatusInternalServerError, response{Status: "error", Error: "dedupe failed"})
		return
	}
	if !first {
		h.logger.Info("duplicate webhook delivery ignored", "delivery_id", deliveryID, "event", event)
		writeJSON(w, http.StatusOK, response{Status: "duplicate"})
		return
	}

	job := engine.WebhookJob{
		ID:         uuid.NewString(),
		Event:      event,
		DeliveryID: deliveryID,
		Repository: name,
		Payload:    body,
		ReceivedAt: h.now(),
	}
	if err := h.queue.Enqueue(ctx, job); err != nil {
		h.logger.Error("failed to queue webhook", "error", err, "delivery_id", deliveryID)
		// Let GitHub's redelivery through next time.
		if err := h.dedupe.Forget(ctx, deliveryID); err != nil {
			h.logger.Error("failed to release delivery id", "error", err, "delivery_id", deliveryID)
		}
		writeJSON(w, http.StatusInternalServerError, response{Status: "error", Error: "queue unavailable"})
		return
	}

	writeJSON(w, http.StatusAccepted, response{Status: "queued", JobID: job.ID})
}

// Sign returns the X-Hub-Signature-256 value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against payload in constant time.
func Verify(payload []byte, secret, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
