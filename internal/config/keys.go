package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
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
		key: "server.port", typ: kInt, env: "CRMPILOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_upload_mb", typ: kInt, env: "CRMPILOT_SERVER_MAX_UPLOAD_MB",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxUploadMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxUploadMB },
	},
	{
		key: "storage.driver", typ: kString, env: "CRMPILOT_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CRMPILOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.database_url", typ: kString, env: "CRMPILOT_DATABASE_URL",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.DatabaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DatabaseURL },
	},
	{
		key: "auth.mode", typ: kString, env: "CRMPILOT_AUTH_MODE",
		apply:   func(cfg *Config, v any) { cfg.Auth.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Mode },
	},
	{
		key: "auth.url", typ: kString, env: "CRMPILOT_AUTH_URL",
		apply:   func(cfg *Config, v any) { cfg.Auth.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.URL },
	},
	{
		key: "auth.anon_key", typ: kString, env: "CRMPILOT_AUTH_ANON_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.AnonKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.AnonKey },
	},
	{
		key: "auth.cookie_name", typ: kString, env: "CRMPILOT_AUTH_COOKIE_NAME",
		apply:   func(cfg *Config, v any) { cfg.Auth.CookieName = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.CookieName },
	},
	{
		key: "ai.api_key", typ: kString, env: "CRMPILOT_AI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.AI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.APIKey },
	},
	{
		key: "ai.base_url", typ: kString, env: "CRMPILOT_AI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.AI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.BaseURL },
	},
	{
		key: "ai.model", typ: kString, env: "CRMPILOT_AI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.AI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.AI.Model },
	},
	{
		key: "ai.temperature", typ: kFloat, env: "CRMPILOT_AI_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.AI.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.AI.Temperature },
	},
	{
		key: "ai.timeout", typ: kDuration, env: "CRMPILOT_AI_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.AI.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.AI.Timeout },
	},
	{
		key: "ai.interaction_limit", typ: kInt, env: "CRMPILOT_AI_INTERACTION_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.AI.InteractionLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.AI.InteractionLimit },
	},
	{
		key: "transcription.backend", typ: kString, env: "CRMPILOT_TRANSCRIPTION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Transcription.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcription.Backend },
	},
	{
		key: "transcription.model", typ: kString, env: "CRMPILOT_TRANSCRIPTION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Transcription.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcription.Model },
	},
	{
		key: "transcription.language", typ: kString, env: "CRMPILOT_TRANSCRIPTION_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Transcription.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcription.Language },
	},
	{
		key: "transcription.temp_dir", typ: kString, env: "CRMPILOT_TRANSCRIPTION_TEMP_DIR",
		apply:   func(cfg *Config, v any) { cfg.Transcription.TempDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcription.TempDir },
	},
	{
		key: "transcription.timeout", typ: kDuration, env: "CRMPILOT_TRANSCRIPTION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Transcription.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Transcription.Timeout },
	},
	{
		key: "events.backend", typ: kString, env: "CRMPILOT_EVENTS_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Events.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Events.Backend },
	},
	{
		key: "events.prefix", typ: kString, env: "CRMPILOT_EVENTS_PREFIX",
		apply:   func(cfg *Config, v any) { cfg.Events.Prefix = v.(string) },
		extract: func(cfg Config) any { return cfg.Events.Prefix },
	},
	{
		key: "events.nats_url", typ: kString, env: "CRMPILOT_EVENTS_NATS_URL",
		apply:   func(cfg *Config, v any) { cfg.Events.NATSURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Events.NATSURL },
	},
	{
		key: "events.nats_token", typ: kString, env: "CRMPILOT_EVENTS_NATS_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Events.NATSToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Events.NATSToken },
	},
	{
		key: "events.kafka_brokers", typ: kString, env: "CRMPILOT_EVENTS_KAFKA_BROKERS",
		apply:   func(cfg *Config, v any) { cfg.Events.KafkaBrokers = v.(string) },
		extract: func(cfg Config) any { return cfg.Events.KafkaBrokers },
	},
	{
		key: "mcp.user_id", typ: kString, env: "CRMPILOT_MCP_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.MCP.UserID = v.(string) },
		extract: func(cfg Config) any { return cfg.MCP.UserID },
	},
	{
		key: "log.level", typ: kString, env: "CRMPILOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "CRMPILOT_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "cli.token", typ: kString, env: "CRMPILOT_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.CLI.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.CLI.Token },
	},
}

// parse converts raw text into the Go type of s.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
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
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			parsed, err := s.parse(v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
				continue
			}
			s.apply(cfg, parsed)
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
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
