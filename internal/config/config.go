package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	S3      S3Config
	OpenAI  OpenAIConfig
	Explain ExplainConfig
	Worker  WorkerConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	MaxUploadMB int
}

type StorageConfig struct {
	DataDir string
	// Backend selects where uploaded decks and result documents live: "fs" or "s3".
	Backend   string
	UploadDir string
	OutputDir string
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type OpenAIConfig struct {
	BaseURL   string
	Model     string
	MaxTokens int
	APIKey    string
	Timeout   string
}

type ExplainConfig struct {
	RateLimitCooldown string
	Concurrency       int
}

type WorkerConfig struct {
	PollInterval string
	MaxAttempts  int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			MaxUploadMB: 50,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
			Backend: "fs",
		},
		S3: S3Config{
			Bucket: "deckexplain",
		},
		OpenAI: OpenAIConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-3.5-turbo-instruct",
			MaxTokens: 1024,
			Timeout:   "60s",
		},
		Explain: ExplainConfig{
			RateLimitCooldown: "60s",
		},
		Worker: WorkerConfig{
			PollInterval: "10s",
			MaxAttempts:  3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend, a .env file in the
// working directory, environment variables and the local secrets file.
//
// The file backend lives at $XDG_CONFIG_HOME/deckexplain/config.json.
// Environment variables (DECKEXPLAIN_*) override file values. Values from
// .env never override variables already present in the environment.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{}, ".env")
}

// keychain abstracts secret lookup for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain, dotenv string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] could not load %s: %v\n", dotenv, err)
		}
	}

	applyEnvOverrides(&cfg)

	// PORT and OPENAI_API_KEY are the conventional names used by hosting
	// platforms and the OpenAI tooling.
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if os.Getenv("DECKEXPLAIN_SERVER_PORT") == "" {
		if p := os.Getenv("PORT"); p != "" {
			var port int
			if _, err := fmt.Sscanf(p, "%d", &port); err == nil && port > 0 {
				cfg.Server.Port = port
			}
		}
	}

	if cfg.OpenAI.APIKey == "" {
		if key, err := kc.Get("deckexplain", "openai_api_key"); err == nil && key != "" {
			cfg.OpenAI.APIKey = key
		}
	}

	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = filepath.Join(cfg.Storage.DataDir, "uploads")
	}
	if cfg.Storage.OutputDir == "" {
		cfg.Storage.OutputDir = filepath.Join(cfg.Storage.DataDir, "outputs")
	}

	switch cfg.Storage.Backend {
	case "fs", "s3":
	default:
		return Config{}, fmt.Errorf("invalid storage.backend %q: want fs or s3", cfg.Storage.Backend)
	}

	return cfg, nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// BaseURL is the address clients on this machine use to reach the server.
func (c Config) BaseURL() string {
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Server.Port))
}

// RequireAPIKey reports a descriptive error when no completion API key is configured.
// Only the worker needs one; the HTTP API and CLI run without it.
func (c Config) RequireAPIKey() error {
	if c.OpenAI.APIKey != "" {
		return nil
	}
	return fmt.Errorf("missing required config: OpenAI API key. " +
		"Set it via environment variable DECKEXPLAIN_OPENAI_API_KEY or OPENAI_API_KEY")
}

// Duration parses a duration-valued config string, falling back to def when
// the value is empty or malformed.
func Duration(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		fmt.Fprintf(os.Stderr, "[WARN] invalid duration %q, using default %s\n", raw, def)
		return def
	}
	return d
}

// keychainReader reads secrets from the local secrets file.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := readSecret(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
