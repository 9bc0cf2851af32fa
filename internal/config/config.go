// Package config loads the server configuration from the environment.
//
// SOURCES, IN ORDER OF PRECEDENCE:
//  1. real environment variables
//  2. the .env file passed to Load (missing file is fine)
//  3. the defaults below
//
// godotenv.Load never overrides a variable that is already set, which is
// what gives real env vars precedence over the file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Blob backends.
const (
	BlobDeta   = "deta"
	BlobSQLite = "sqlite"
)

// DEBUG modes.
const (
	ModeProduction = ""
	ModeTest       = "test"
	ModeInfo       = "info"
)

// Config is everything cmd/server needs to build the dependency graph.
type Config struct {
	Port  int
	Debug string

	MongoURI      string
	MongoDatabase string

	CORSOrigins []string

	BlobBackend    string
	DetaProjectKey string
	BlobSQLitePath string

	NylasClientID     string
	NylasClientSecret string
	NylasSystemToken  string
	NylasAPIServer    string
	NylasSystemEmail  string

	ClientURI string
	PublicURL string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	UnsubscribeSecret string

	UpstreamTimeout       time.Duration
	LLMTimeout            time.Duration
	TutorialRatePerMinute int
}

// defaultCORSOrigins are the web client's local dev servers.
var defaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
}

// Load reads envFile (if it exists) and then the environment.
// All missing or malformed values are reported together.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: reading %s: %w", envFile, err)
		}
	}

	var problems []string
	required := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			problems = append(problems, key+" is required")
		}
		return v
	}
	intVar := func(key string, def int) int {
		v := getEnv(key, "")
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be a positive integer, got %q", key, v))
			return def
		}
		return n
	}
	durationVar := func(key string, def time.Duration) time.Duration {
		v := getEnv(key, "")
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be a positive duration, got %q", key, v))
			return def
		}
		return d
	}

	cfg := &Config{
		Port:  intVar("PORT", 8000),
		Debug: strings.ToLower(getEnv("DEBUG", ModeProduction)),

		BlobBackend:    strings.ToLower(getEnv("BLOB_BACKEND", BlobDeta)),
		BlobSQLitePath: getEnv("BLOB_SQLITE_PATH", "data/blobs.db"),

		NylasClientID:     required("NYLAS_CLIENT_ID"),
		NylasClientSecret: required("NYLAS_CLIENT_SECRET"),
		NylasSystemToken:  required("NYLAS_SYSTEM_TOKEN"),
		NylasAPIServer:    getEnv("NYLAS_API_SERVER", "https://api.nylas.com"),
		NylasSystemEmail:  getEnv("NYLAS_SYSTEM_EMAIL", ""),

		ClientURI: required("CLIENT_URI"),

		OpenAIAPIKey:  required("OPENAI_API_KEY"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		UnsubscribeSecret: required("UNSUBSCRIBE_SECRET"),

		UpstreamTimeout:       durationVar("UPSTREAM_TIMEOUT", 20*time.Second),
		LLMTimeout:            durationVar("LLM_TIMEOUT", 90*time.Second),
		TutorialRatePerMinute: intVar("TUTORIAL_RATE_PER_MINUTE", 30),
	}

	cfg.PublicURL = strings.TrimRight(getEnv("PUBLIC_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")
	cfg.CORSOrigins = append(append([]string{}, defaultCORSOrigins...), splitList(os.Getenv("CORS_ORIGINS"))...)

	switch cfg.Debug {
	case ModeProduction, ModeTest, ModeInfo:
	default:
		problems = append(problems, fmt.Sprintf("DEBUG must be empty, %q or %q, got %q", ModeTest, ModeInfo, cfg.Debug))
	}

	switch cfg.BlobBackend {
	case BlobDeta:
		cfg.DetaProjectKey = required("DETA_PROJECT_KEY")
	case BlobSQLite:
	default:
		problems = append(problems, fmt.Sprintf("BLOB_BACKEND must be %q or %q, got %q", BlobDeta, BlobSQLite, cfg.BlobBackend))
	}

	if len(cfg.UnsubscribeSecret) > 0 && len(cfg.UnsubscribeSecret) < 16 {
		problems = append(problems, "UNSUBSCRIBE_SECRET must be at least 16 characters")
	}

	cfg.MongoDatabase = getEnv("MONGODB_DATABASE", "")
	if cfg.Debug == ModeTest {
		cfg.MongoDatabase = "test"
	}
	if cfg.MongoDatabase == "" {
		problems = append(problems, "MONGODB_DATABASE is required")
	}

	uri, err := mongoURI(cfg.MongoDatabase)
	if err != nil {
		problems = append(problems, err.Error())
	}
	cfg.MongoURI = uri

	if len(problems) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// Development reports whether human-readable logs are wanted.
func (c *Config) Development() bool {
	return c.Debug != ModeProduction
}

// mongoURI prefers MONGODB_URI and otherwise builds an Atlas SRV URI from
// host and credentials.
func mongoURI(database string) (string, error) {
	if uri := getEnv("MONGODB_URI", ""); uri != "" {
		return uri, nil
	}

	host := getEnv("MONGODB_HOST", "")
	user := getEnv("MONGODB_USERNAME", "")
	pass := getEnv("MONGODB_PASSWORD", "")
	if host == "" || user == "" || pass == "" {
		return "", errors.New("MONGODB_URI or MONGODB_HOST, MONGODB_USERNAME and MONGODB_PASSWORD are required")
	}

	u := url.URL{
		Scheme:   "mongodb+srv",
		User:     url.UserPassword(user, pass),
		Host:     host,
		Path:     "/" + database,
		RawQuery: "retryWrites=true&w=majority",
	}
	return u.String(), nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
