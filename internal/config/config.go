package config

import (
	"fmt"
	"strings"
	"time"
)

const keychainService = "crmpilot"

type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Auth          AuthConfig
	AI            AIConfig
	Transcription TranscriptionConfig
	Events        EventsConfig
	MCP           MCPConfig
	Log           LogConfig
	CLI           CLIConfig
}

type ServerConfig struct {
	Port        int
	MaxUploadMB int
}

type StorageConfig struct {
	Driver      string // sqlite or postgres
	DataDir     string
	DatabaseURL string
}

type AuthConfig struct {
	Mode       string // local or remote
	URL        string
	AnonKey    string
	CookieName string
}

type AIConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	Temperature      float64
	Timeout          time.Duration
	InteractionLimit int
}

type TranscriptionConfig struct {
	Backend  string // openai or google
	Model    string
	Language string
	TempDir  string
	Timeout  time.Duration
}

type EventsConfig struct {
	Backend      string // none, nats or kafka
	Prefix       string
	NATSURL      string
	NATSToken    string
	KafkaBrokers string
}

// Brokers splits the comma-separated Kafka broker list.
func (e EventsConfig) Brokers() []string {
	var out []string
	for _, b := range strings.Split(e.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type MCPConfig struct {
	UserID string
}

type LogConfig struct {
	Level  string
	Format string
}

type CLIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        4100,
			MaxUploadMB: 25,
		},
		Storage: StorageConfig{
			Driver:  "sqlite",
			DataDir: defaultDataDir(),
		},
		Auth: AuthConfig{
			Mode:       "local",
			CookieName: "crm-session",
		},
		AI: AIConfig{
			BaseURL:          "https://api.openai.com/v1",
			Model:            "gpt-4o-mini",
			Temperature:      0.7,
			Timeout:          30 * time.Second,
			InteractionLimit: 10,
		},
		Transcription: TranscriptionConfig{
			Backend:  "openai",
			Model:    "whisper-1",
			Language: "en",
			Timeout:  60 * time.Second,
		},
		Events: EventsConfig{
			Backend: "none",
			Prefix:  "crm",
			NATSURL: "nats://localhost:4222",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.crmpilot.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a YAML file at $XDG_CONFIG_HOME/crmpilot/config.yaml
// and secrets fall back to $XDG_DATA_HOME/crmpilot/secrets.yaml.
//
// Environment variables (CRMPILOT_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applySecrets fills secrets still empty after env overrides from the
// platform secret store.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(keychainService, secretAccount(s.key)); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

// secretAccount maps "ai.api_key" to the keychain account "ai_api_key".
func secretAccount(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.driver=postgres requires a database URL (CRMPILOT_DATABASE_URL)")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q (want sqlite or postgres)", c.Storage.Driver)
	}

	switch c.Auth.Mode {
	case "local":
	case "remote":
		if c.Auth.URL == "" {
			return fmt.Errorf("auth.mode=remote requires auth.url")
		}
	default:
		return fmt.Errorf("unknown auth.mode %q (want local or remote)", c.Auth.Mode)
	}

	switch c.Transcription.Backend {
	case "openai", "google":
	default:
		return fmt.Errorf("unknown transcription.backend %q (want openai or google)", c.Transcription.Backend)
	}

	switch c.Events.Backend {
	case "none", "nats":
	case "kafka":
		if len(c.Events.Brokers()) == 0 {
			return fmt.Errorf("events.backend=kafka requires events.kafka_brokers")
		}
	default:
		return fmt.Errorf("unknown events.backend %q (want none, nats or kafka)", c.Events.Backend)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q (want text or json)", c.Log.Format)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive")
	}
	return nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
