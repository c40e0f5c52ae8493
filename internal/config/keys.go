package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "DECKEXPLAIN_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "DECKEXPLAIN_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_upload_mb", typ: kInt, env: "DECKEXPLAIN_SERVER_MAX_UPLOAD_MB",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxUploadMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxUploadMB },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DECKEXPLAIN_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.backend", typ: kString, env: "DECKEXPLAIN_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.upload_dir", typ: kString, env: "DECKEXPLAIN_STORAGE_UPLOAD_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.UploadDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.UploadDir },
	},
	{
		key: "storage.output_dir", typ: kString, env: "DECKEXPLAIN_STORAGE_OUTPUT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.OutputDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.OutputDir },
	},
	{
		key: "s3.endpoint", typ: kString, env: "DECKEXPLAIN_S3_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.S3.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.Endpoint },
	},
	{
		key: "s3.bucket", typ: kString, env: "DECKEXPLAIN_S3_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.S3.Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.Bucket },
	},
	{
		key: "s3.access_key", typ: kString, env: "DECKEXPLAIN_S3_ACCESS_KEY",
		apply:   func(cfg *Config, v any) { cfg.S3.AccessKey = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.AccessKey },
	},
	{
		key: "s3.secret_key", typ: kString, env: "DECKEXPLAIN_S3_SECRET_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.S3.SecretKey = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.SecretKey },
	},
	{
		key: "s3.use_ssl", typ: kBool, env: "DECKEXPLAIN_S3_USE_SSL",
		apply:   func(cfg *Config, v any) { cfg.S3.UseSSL = v.(bool) },
		extract: func(cfg Config) any { return cfg.S3.UseSSL },
	},
	{
		key: "openai.base_url", typ: kString, env: "DECKEXPLAIN_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.model", typ: kString, env: "DECKEXPLAIN_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Model },
	},
	{
		key: "openai.max_tokens", typ: kInt, env: "DECKEXPLAIN_OPENAI_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.OpenAI.MaxTokens },
	},
	{
		key: "openai.api_key", typ: kString, env: "DECKEXPLAIN_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.timeout", typ: kString, env: "DECKEXPLAIN_OPENAI_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Timeout },
	},
	{
		key: "explain.rate_limit_cooldown", typ: kString, env: "DECKEXPLAIN_EXPLAIN_RATE_LIMIT_COOLDOWN",
		apply:   func(cfg *Config, v any) { cfg.Explain.RateLimitCooldown = v.(string) },
		extract: func(cfg Config) any { return cfg.Explain.RateLimitCooldown },
	},
	{
		key: "explain.concurrency", typ: kInt, env: "DECKEXPLAIN_EXPLAIN_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Explain.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Explain.Concurrency },
	},
	{
		key: "worker.poll_interval", typ: kString, env: "DECKEXPLAIN_WORKER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Worker.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Worker.PollInterval },
	},
	{
		key: "worker.max_attempts", typ: kInt, env: "DECKEXPLAIN_WORKER_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Worker.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Worker.MaxAttempts },
	},
	{
		key: "log.level", typ: kString, env: "DECKEXPLAIN_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
