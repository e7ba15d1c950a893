package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Priya8975/gh-bridge/internal/api"
	"github.com/Priya8975/gh-bridge/internal/auth"
	"github.com/Priya8975/gh-bridge/internal/config"
	"github.com/Priya8975/gh-bridge/internal/engine"
	"github.com/Priya8975/gh-bridge/internal/events"
	"github.com/Priya8975/gh-bridge/internal/notify"
	"github.com/Priya8975/gh-bridge/internal/reply"
	"github.com/Priya8975/gh-bridge/internal/requester"
	"github.com/Priya8975/gh-bridge/internal/store"
	"github.com/Priya8975/gh-bridge/internal/webhook"
	ws "github.com/Priya8975/gh-bridge/internal/websocket"
	"github.com/Priya8975/gh-bridge/internal/worker"
)

const shutdownTimeout = 30 * time.Second

// Run wires every component and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	gh := cfg.GitHub

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := store.RunMigrations(cfg.DatabaseURL, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisStore.Close()
	rdb := redisStore.Client()
	logger.Info("connected to Redis")

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	breaker := engine.NewCircuitBreaker(rdb, 0, 0, logger)
	queue := engine.NewQueue(rdb, logger)
	replies := newReplyStore(ctx, gh, rdb, logger)

	outbound := requester.WithBreaker(requester.NewClient(&http.Client{}), breaker)
	pipeline := auth.NewPipeline(auth.Config{
		ClientID:       gh.AppID,
		ClientSecret:   gh.AppSecret,
		TokenURL:       gh.TokenURL(),
		BaseURL:        gh.APIURL,
		RequestTimeout: gh.RequestTimeout,
	}, outbound, pgStore, nil, logger)

	notifier := notify.New(pgStore, replies, hub, gh.MessagePrefix, logger)
	signer := auth.NewStateSigner(gh.AppSecret, auth.DefaultStateTTL)
	authorizer := auth.NewPromptAuthorizer(auth.PromptConfig{
		AuthorizeURL: gh.AuthorizeURL(),
		ClientID:     gh.AppID,
		CallbackURL:  gh.CallbackURL(),
		Limit:        gh.PromptLimit,
	}, signer, notifier, engine.NewRateLimiter(rdb, logger), logger)
	pipeline.SetAuthorizer(authorizer)

	dispatcher := events.NewDispatcher(logger)
	events.RegisterDefaults(dispatcher)

	// Workers get their own context so in-flight jobs can finish after
	// the poller has stopped.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	pool := worker.NewPool(cfg.NumWorkers, worker.NewProcessor(dispatcher, notifier, queue, logger), logger)
	pool.Start(workCtx)
	poller := worker.NewPoller(rdb, pool, logger)
	pollerDone := make(chan struct{})
	go func() {
		poller.Start(ctx)
		close(pollerDone)
	}()

	router := api.NewRouter(api.Deps{
		Store: pgStore,
		Health: map[string]api.Pinger{
			"postgres": pgStore,
			"redis":    redisStore,
		},
		Webhook:      webhook.NewHandler(pgStore, engine.NewDeduper(rdb, engine.DeliveryWindow), queue, logger),
		Queue:        queue,
		Breaker:      breaker,
		CircuitHosts: hosts(gh.APIURL, gh.OAuthURL),
		Stream:       hub,
		Replies:      replies,
		GitHub:       pipeline,
		Links:        authorizer,
		State:        signer,
		GitHubConfig: gh,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "github_path", gh.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("serving http: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	<-pollerDone
	pool.Stop()

	logger.Info("server stopped")
	return runErr
}

const replySweepInterval = time.Minute

// newReplyStore builds the configured reply backend. The memory store is
// swept until ctx is cancelled.
func newReplyStore(ctx context.Context, gh config.GitHubConfig, rdb *redis.Client, logger *slog.Logger) reply.Store {
	if gh.ReplyStore == config.ReplyStoreMemory {
		logger.Warn("reply entries are kept in memory and are not shared between replicas")
		store := reply.NewMemoryStore(gh.ReplyTimeout)
		go store.Run(ctx, replySweepInterval)
		return store
	}
	return reply.NewRedisStore(rdb, gh.ReplyTimeout, logger)
}

func hosts(rawURLs ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range rawURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || seen[u.Host] {
			continue
		}
		seen[u.Host] = true
		out = append(out, u.Host)
	}
	return out
}
