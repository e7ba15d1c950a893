package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Priya8975/gh-bridge/internal/webhook"
)

// mockGitHub imitates the parts of GitHub the bridge talks to: the OAuth
// token endpoint and the issue comments API. Access tokens can be expired
// on demand to exercise the refresh path.
type mockGitHub struct {
	mu       sync.Mutex
	codes    map[string]bool
	access   map[string]time.Time
	refresh  map[string]bool
	comments int64
	tokenTTL time.Duration
	logger   *slog.Logger

	requestCount  atomic.Int64
	rejectedCount atomic.Int64
	refreshCount  atomic.Int64
}

func newMockGitHub(tokenTTL time.Duration, logger *slog.Logger) *mockGitHub {
	return &mockGitHub{
		codes:    make(map[string]bool),
		access:   make(map[string]time.Time),
		refresh:  make(map[string]bool),
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

func (m *mockGitHub) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.requestCount.Add(1)
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/login/oauth/authorize", m.authorize)
	r.Post("/login/oauth/access_token", m.accessToken)
	r.Post("/repos/{owner}/{repo}/issues/{number}/comments", m.createComment)

	r.Post("/admin/expire", m.expire)
	r.Post("/admin/deliver", m.deliver)
	r.Get("/stats", m.stats)
	return r
}

// authorize consents immediately and sends the browser back with a code.
func (m *mockGitHub) authorize(w http.ResponseWriter, r *http.Request) {
	redirect := r.URL.Query().Get("redirect_uri")
	if redirect == "" {
		http.Error(w, "redirect_uri is required", http.StatusBadRequest)
		return
	}
	target, err := url.Parse(redirect)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	code := randomToken("code")
	m.mu.Lock()
	m.codes[code] = true
	m.mu.Unlock()

	q := target.Query()
	q.Set("code", code)
	q.Set("state", r.URL.Query().Get("state"))
	target.RawQuery = q.Encode()

	m.logger.Info("authorization granted", "client_id", r.URL.Query().Get("client_id"))
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// accessToken mirrors GitHub: errors come back as 200 with an error field.
func (m *mockGitHub) accessToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "refresh_token":
		token := r.PostForm.Get("refresh_token")
		if !m.refresh[token] {
			writeJSON(w, http.StatusOK, map[string]string{
				"error":             "bad_refresh_token",
				"error_description": "The refresh token passed is incorrect or expired.",
			})
			return
		}
		delete(m.refresh, token)
		m.refreshCount.Add(1)
	default:
		code := r.PostForm.Get("code")
		if !m.codes[code] {
			writeJSON(w, http.StatusOK, map[string]string{
				"error":             "bad_verification_code",
				"error_description": "The code passed is incorrect or expired.",
			})
			return
		}
		delete(m.codes, code)
	}

	accessToken, refreshToken := randomToken("ghu"), randomToken("ghr")
	m.access[accessToken] = time.Now()
	m.refresh[refreshToken] = true

	m.logger.Info("tokens issued", "grant_type", r.PostForm.Get("grant_type"))
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"token_type":    "bearer",
	})
}

func (m *mockGitHub) createComment(w http.ResponseWriter, r *http.Request) {
	if !m.validToken(r.Header.Get("Authorization")) {
		m.rejectedCount.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}

	var body struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Body) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Validation Failed"})
		return
	}

	owner, repo, number := chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), chi.URLParam(r, "number")

	m.mu.Lock()
	m.comments++
	id := m.comments
	m.mu.Unlock()

	m.logger.Info("comment created", "repository", owner+"/"+repo, "number", number, "body", truncate(body.Body, 80))
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       id,
		"body":     body.Body,
		"html_url": fmt.Sprintf("https://github.com/%s/%s/issues/%s#issuecomment-%d", owner, repo, number, id),
	})
}

func (m *mockGitHub) validToken(header string) bool {
	token, ok := strings.CutPrefix(header, "token ")
	if !ok {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	issued, ok := m.access[token]
	if !ok {
		return false
	}
	if m.tokenTTL > 0 && time.Since(issued) > m.tokenTTL {
		delete(m.access, token)
		return false
	}
	return true
}

// expire revokes every access token so the next API call gets a 401.
func (m *mockGitHub) expire(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	n := len(m.access)
	m.access = make(map[string]time.Time)
	m.mu.Unlock()

	m.logger.Info("access tokens expired", "count", n)
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

// deliver signs the request body and forwards it to a bridge as a webhook
// delivery.
func (m *mockGitHub) deliver(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, event := q.Get("target"), q.Get("event")
	if target == "" || event == "" {
		http.Error(w, "target and event are required", http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	deliveryID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.HeaderEvent, event)
	req.Header.Set(webhook.HeaderDelivery, deliveryID)
	req.Header.Set(webhook.HeaderSignature, webhook.Sign(payload, q.Get("secret")))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	m.logger.Info("webhook delivered", "event", event, "delivery_id", deliveryID, "status", resp.StatusCode)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
}

func (m *mockGitHub) stats(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	comments := m.comments
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]int64{
		"total_requests": m.requestCount.Load(),
		"rejected":       m.rejectedCount.Load(),
		"refreshes":      m.refreshCount.Load(),
		"comments":       comments,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func randomToken(prefix string) string {
	b := make([]byte, 16)
	rand.Read(b)
	return prefix + "_" + hex.EncodeToString(b)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func main() {
	port := flag.String("port", "9090", "Port to listen on")
	tokenTTL := flag.Duration("token-ttl", 0, "Expire access tokens after this long (0 keeps them valid)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	mock := newMockGitHub(*tokenTTL, logger)

	logger.Info("mock github starting",
		"port", *port,
		"oauth_url", "http://localhost:"+*port+"/login/oauth",
		"api_url", "http://localhost:"+*port,
	)

	if err := http.ListenAndServe(":"+*port, mock.routes()); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
