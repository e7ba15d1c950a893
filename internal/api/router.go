package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Priya8975/gh-bridge/internal/config"
	"github.com/Priya8975/gh-bridge/internal/reply"
)

// Store is everything the API persists.
type Store interface {
	RepositoryStore
	ChannelStore
	IdentityStore
	StatsStore
}

// Stream serves the notification websocket.
type Stream interface {
	ClientCounter
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}

type Deps struct {
	Store        Store
	Health       map[string]Pinger
	Webhook      http.Handler
	Queue        QueueDepther
	Breaker      CircuitInspector
	CircuitHosts []string
	Stream       Stream
	Replies      reply.Store
	GitHub       GitHubClient
	Links        LinkBuilder
	State        StateVerifier
	GitHubConfig config.GitHubConfig
	Logger       *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(corsMiddleware)

	gh := deps.GitHubConfig

	repoHandler := NewRepositoryHandler(deps.Store)
	channelHandler := NewChannelHandler(deps.Store)
	identityHandler := NewIdentityHandler(deps.Store, deps.Links)
	replyHandler := NewReplyHandler(deps.Replies, deps.Store, deps.GitHub, gh.ReplyFooter, deps.Logger)
	oauthHandler := NewOAuthHandler(deps.State, deps.Store, deps.GitHub, gh.CallbackURL(), gh.Redirect, deps.Logger)
	dashHandler := NewDashboardHandler(deps.Store, deps.Queue, deps.Breaker, deps.Stream, deps.CircuitHosts)

	r.Get("/ws", deps.Stream.HandleWebSocket)

	// GitHub-facing endpoints live under the configured integration path.
	r.Route(gh.Path, func(r chi.Router) {
		r.Method(http.MethodPost, "/webhook", deps.Webhook)
		r.Get("/authorize", oauthHandler.Callback)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(deps.Health))

		r.Route("/repositories", func(r chi.Router) {
			r.Post("/", repoHandler.Create)
			r.Get("/", repoHandler.List)
			r.Delete("/{owner}/{repo}", repoHandler.Delete)
		})

		r.Route("/channels/{channel}/subscriptions", func(r chi.Router) {
			r.Get("/", channelHandler.List)
			r.Put("/{owner}/{repo}", channelHandler.Put)
			r.Delete("/{owner}/{repo}", channelHandler.Delete)
		})

		r.Route("/identities", func(r chi.Router) {
			r.Post("/", identityHandler.Create)
			r.Get("/{id}", identityHandler.Get)
			r.Get("/{id}/authorize", identityHandler.Authorize)
			r.Delete("/{id}/tokens", identityHandler.Revoke)
		})

		r.Post("/replies/{key}", replyHandler.Create)

		r.Get("/queue", dashHandler.Queue)
		r.Get("/stats", dashHandler.Stats)
	})

	return r
}

// corsMiddleware adds CORS headers for browser-based chat clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
