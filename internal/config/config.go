package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Reply store backends.
const (
	ReplyStoreRedis  = "redis"
	ReplyStoreMemory = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string       `yaml:"port"`
	DatabaseURL string       `yaml:"database_url"`
	RedisURL    string       `yaml:"redis_url"`
	NumWorkers  int          `yaml:"num_workers"`
	GitHub      GitHubConfig `yaml:"github"`
}

// GitHubConfig holds the integration options.
type GitHubConfig struct {
	// Path is where inbound webhooks and the OAuth callback are mounted.
	Path string `yaml:"path"`

	// AppID and AppSecret are the OAuth client credentials.
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`

	// Redirect is where the browser goes after a successful authorization.
	Redirect string `yaml:"redirect"`

	MessagePrefix string `yaml:"message_prefix"`
	ReplyFooter   string `yaml:"reply_footer"`

	// ReplyTimeout bounds how long a quick-reply entry stays usable.
	ReplyTimeout time.Duration `yaml:"reply_timeout"`

	// ReplyStore is "redis" or "memory". Memory entries are lost on
	// restart and are not shared between replicas.
	ReplyStore string `yaml:"reply_store"`

	// RequestTimeout applies to every outbound call, including token
	// exchanges.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	APIURL    string `yaml:"api_url"`
	OAuthURL  string `yaml:"oauth_url"`
	PublicURL string `yaml:"public_url"`

	// PromptLimit caps re-authorization prompts per identity per minute.
	PromptLimit int `yaml:"prompt_limit"`
}

// TokenURL is the OAuth token exchange endpoint.
func (g GitHubConfig) TokenURL() string {
	return strings.TrimRight(g.OAuthURL, "/") + "/access_token"
}

// AuthorizeURL is the OAuth authorization page.
func (g GitHubConfig) AuthorizeURL() string {
	return strings.TrimRight(g.OAuthURL, "/") + "/authorize"
}

// CallbackURL is the absolute OAuth redirect_uri, empty when PublicURL
// is not configured.
func (g GitHubConfig) CallbackURL() string {
	if g.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(g.PublicURL, "/") + g.Path + "/authorize"
}

// Default returns the configuration used before any file or environment
// overrides are applied.
func Default() *Config {
	return &Config{
		Port:       "8080",
		NumWorkers: 10,
		GitHub: GitHubConfig{
			Path:           "/github",
			MessagePrefix:  "[GitHub] ",
			ReplyTimeout:   time.Hour,
			ReplyStore:     ReplyStoreRedis,
			RequestTimeout: 10 * time.Second,
			APIURL:         "https://api.github.com",
			OAuthURL:       "https://github.com/login/oauth",
			PromptLimit:    3,
		},
	}
}

// Load reads configuration from an optional YAML file, then from
// environment variables, which take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.NumWorkers = getEnvInt("NUM_WORKERS", cfg.NumWorkers)

	gh := &cfg.GitHub
	gh.Path = getEnv("GITHUB_PATH", gh.Path)
	gh.AppID = getEnv("GITHUB_APP_ID", gh.AppID)
	gh.AppSecret = getEnv("GITHUB_APP_SECRET", gh.AppSecret)
	gh.Redirect = getEnv("GITHUB_REDIRECT", gh.Redirect)
	gh.MessagePrefix = getEnv("GITHUB_MESSAGE_PREFIX", gh.MessagePrefix)
	gh.ReplyFooter = getEnv("GITHUB_REPLY_FOOTER", gh.ReplyFooter)
	gh.ReplyTimeout = getEnvDuration("GITHUB_REPLY_TIMEOUT", gh.ReplyTimeout)
	gh.ReplyStore = getEnv("GITHUB_REPLY_STORE", gh.ReplyStore)
	gh.RequestTimeout = getEnvDuration("GITHUB_REQUEST_TIMEOUT", gh.RequestTimeout)
	gh.APIURL = getEnv("GITHUB_API_URL", gh.APIURL)
	gh.OAuthURL = getEnv("GITHUB_OAUTH_URL", gh.OAuthURL)
	gh.PublicURL = getEnv("PUBLIC_URL", gh.PublicURL)
	gh.PromptLimit = getEnvInt("PROMPT_LIMIT", gh.PromptLimit)

	if !strings.HasPrefix(gh.Path, "/") {
		gh.Path = "/" + gh.Path
	}
	gh.Path = strings.TrimRight(gh.Path, "/")
	if gh.Path == "" {
		return nil, fmt.Errorf("GITHUB_PATH must not be the root path")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// Validate checks the settings needed to run the server, beyond what
// Load already requires.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.GitHub.AppID == "" || c.GitHub.AppSecret == "" {
		return fmt.Errorf("GITHUB_APP_ID and GITHUB_APP_SECRET are required")
	}
	if c.NumWorkers < 1 {
		return fmt.Errorf("NUM_WORKERS must be positive, got %d", c.NumWorkers)
	}
	if c.GitHub.ReplyTimeout <= 0 {
		return fmt.Errorf("GITHUB_REPLY_TIMEOUT must be positive")
	}
	if c.GitHub.ReplyStore != ReplyStoreRedis && c.GitHub.ReplyStore != ReplyStoreMemory {
		return fmt.Errorf("GITHUB_REPLY_STORE must be %q or %q, got %q", ReplyStoreRedis, ReplyStoreMemory, c.GitHub.ReplyStore)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
