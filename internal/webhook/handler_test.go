package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priya8975/gh-bridge/internal/domain"
	"github.com/Priya8975/gh-bridge/internal/engine"
)

const testSecret = "ghb_test_secret"

type fakeRepos map[string]*domain.Repository

func (f fakeRepos) GetRepositoryByName(ctx context.Context, name string) (*domain.Repository, error) {
	return f[name], nil
}

type fakeQueue struct {
	jobs []engine.WebhookJob
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, job engine.WebhookJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func setup(t *testing.T) (*Handler, *fakeQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	repos := fakeRepos{"octo/hello": {ID: 1, Name: "octo/hello", Secret: testSecret}}
	queue := &fakeQueue{}
	return NewHandler(repos, engine.NewDeduper(client, time.Hour), queue, logger), queue
}

func delivery(t *testing.T, event, deliveryID string, payload []byte, signature string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/github/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if event != "" {
		req.Header.Set(HeaderEvent, event)
	}
	if deliveryID != "" {
		req.Header.Set(HeaderDelivery, deliveryID)
	}
	if signature != "" {
		req.Header.Set(HeaderSignature, signature)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var issuesPayload = []byte(`{"action":"opened","repository":{"full_name":"octo/hello"},"issue":{"number":7}}`)

func TestWebhook_QueuesSignedDelivery(t *testing.T) {
	h, queue := setup(t)

	rec := serve(h, delivery(t, "issues", "d-1", issuesPayload, Sign(issuesPayload, testSecret)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "queued", body.Status)

	require.Len(t, queue.jobs, 1)
	job := queue.jobs[0]
	assert.Equal(t, body.JobID, job.ID)
	assert.Equal(t, "issues", job.Event)
	assert.Equal(t, "d-1", job.DeliveryID)
	assert.Equal(t, "octo/hello", job.Repository)
	assert.JSONEq(t, string(issuesPayload), string(job.Payload))
}

func TestWebhook_Rejections(t *testing.T) {
	unknown := []byte(`{"repository":{"full_name":"octo/unknown"}}`)
	noRepo := []byte(`{"zen":"hi"}`)

	tests := []struct {
		name       string
		event      string
		deliveryID string
		payload    []byte
		signature  string
		wantStatus int
	}{
		{"missing event header", "", "d-1", issuesPayload, Sign(issuesPayload, testSecret), http.StatusBadRequest},
		{"missing delivery header", "issues", "", issuesPayload, Sign(issuesPayload, testSecret), http.StatusBadRequest},
		{"not json", "issues", "d-1", []byte("nope"), Sign([]byte("nope"), testSecret), http.StatusBadRequest},
		{"no repository", "issues", "d-1", noRepo, Sign(noRepo, testSecret), http.StatusBadRequest},
		{"event name with separator", "issues/opened", "d-1", issuesPayload, Sign(issuesPayload, testSecret), http.StatusBadRequest},
		{"unknown repository", "issues", "d-1", unknown, Sign(unknown, testSecret), http.StatusUnauthorized},
		{"missing signature", "issues", "d-1", issuesPayload, "", http.StatusUnauthorized},
		{"wrong secret", "issues", "d-1", issuesPayload, Sign(issuesPayload, "other"), http.StatusUnauthorized},
		{"sha1 signature", "issues", "d-1", issuesPayload, "sha1=abcdef", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, queue := setup(t)

			rec := serve(h, delivery(t, tt.event, tt.deliveryID, tt.payload, tt.signature))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Empty(t, queue.jobs)
		})
	}
}

func TestWebhook_UnknownRepositoryLooksLikeBadSignature(t *testing.T) {
	h, _ := setup(t)
	unknown := []byte(`{"repository":{"full_name":"octo/unknown"}}`)

	unregistered := serve(h, delivery(t, "issues", "d-1", unknown, Sign(unknown, "guess")))
	badSignature := serve(h, delivery(t, "issues", "d-2", issuesPayload, Sign(issuesPayload, "guess")))

	assert.Equal(t, badSignature.Code, unregistered.Code)
	assert.Equal(t, badSignature.Body.String(), unregistered.Body.String())
}

func TestWebhook_DuplicateDeliveryIsNoOp(t *testing.T) {
	h, queue := setup(t)
	sig := Sign(issuesPayload, testSecret)

	first := serve(h, delivery(t, "issues", "d-1", issuesPayload, sig))
	require.Equal(t, http.StatusAccepted, first.Code)

	second := serve(h, delivery(t, "issues", "d-1", issuesPayload, sig))
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Contains(t, second.Body.String(), "duplicate")
	assert.Len(t, queue.jobs, 1)
}

func TestWebhook_Ping(t *testing.T) {
	h, queue := setup(t)
	ping := []byte(`{"zen":"Keep it logically awesome.","repository":{"full_name":"octo/hello"}}`)

	rec := serve(h, delivery(t, "ping", "d-ping", ping, Sign(ping, testSecret)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pong")
	assert.Empty(t, queue.jobs)
}

func TestWebhook_QueueFailureReleasesDeliveryID(t *testing.T) {
	h, queue := setup(t)
	sig := Sign(issuesPayload, testSecret)

	queue.err = errors.New("redis down")
	rec := serve(h, delivery(t, "issues", "d-1", issuesPayload, sig))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	queue.err = nil
	rec = serve(h, delivery(t, "issues", "d-1", issuesPayload, sig))
	assert.Equal(t, http.StatusAccepted, rec.Code, "redelivery after a queue failure must be accepted")
	assert.Len(t, queue.jobs, 1)
}

func TestWebhook_PayloadTooLarge(t *testing.T) {
	h, queue := setup(t)
	h.maxBody = 16

	rec := serve(h, delivery(t, "issues", "d-1", issuesPayload, Sign(issuesPayload, testSecret)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, queue.jobs)
}

func TestSign_MatchesGitHubFormat(t *testing.T) {
	payload := []byte(`{"zen":"hi"}`)
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(payload)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, Sign(payload, "secret"))
	assert.True(t, Verify(payload, "secret", want))
	assert.False(t, Verify(payload, "secret", "sha256=zz"))
	assert.False(t, Verify([]byte(`{"zen":"bye"}`), "secret", want))
}
