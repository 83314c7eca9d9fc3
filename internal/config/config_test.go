package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if service != keychainService {
		return "", errors.New("unknown service")
	}
	v, ok := m.values[account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strings: map[string]string{}, ints: map[string]int{}}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *memBackend) SetString(key, val string) error { m.strings[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error { m.ints[key] = val; return nil }
func (m *memBackend) Delete(key string) error {
	delete(m.strings, key)
	delete(m.ints, key)
	return nil
}

// clearEnv blanks every CRMPILOT_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when nothing is configured.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMemBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.MaxUploadMB != 25 {
		t.Errorf("Server.MaxUploadMB = %d, want 25", cfg.Server.MaxUploadMB)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Auth.Mode != "local" || cfg.Auth.CookieName != "crm-session" {
		t.Errorf("storage/auth defaults = %+v %+v", cfg.Storage, cfg.Auth)
	}
	if cfg.AI.Model != "gpt-4o-mini" || cfg.AI.Temperature != 0.7 || cfg.AI.Timeout != 30*time.Second || cfg.AI.InteractionLimit != 10 {
		t.Errorf("AI defaults = %+v", cfg.AI)
	}
	if cfg.Transcription.Backend != "openai" || cfg.Transcription.Model != "whisper-1" || cfg.Transcription.Language != "en" {
		t.Errorf("Transcription defaults = %+v", cfg.Transcription)
	}
	if cfg.Transcription.Timeout != 60*time.Second {
		t.Errorf("Transcription.Timeout = %v", cfg.Transcription.Timeout)
	}
	if cfg.Events.Backend != "none" || cfg.Events.Prefix != "crm" {
		t.Errorf("Events defaults = %+v", cfg.Events)
	}
	if cfg.AI.APIKey != "" {
		t.Error("API key should be empty by default")
	}
}

// TestPrecedence verifies defaults < backend < env.
func TestPrecedence(t *testing.T) {
	clearEnv(t)
	b := newMemBackend()
	b.ints["server.port"] = 5000
	b.strings["ai.model"] = "backend-model"
	b.strings["ai.temperature"] = "0.2"
	b.strings["ai.timeout"] = "45s"
	t.Setenv("CRMPILOT_AI_MODEL", "env-model")
	t.Setenv("CRMPILOT_TRANSCRIPTION_TIMEOUT", "2m")

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want backend 5000", cfg.Server.Port)
	}
	if cfg.AI.Model != "env-model" {
		t.Errorf("AI.Model = %q, want env-model", cfg.AI.Model)
	}
	if cfg.AI.Temperature != 0.2 {
		t.Errorf("AI.Temperature = %v", cfg.AI.Temperature)
	}
	if cfg.AI.Timeout != 45*time.Second {
		t.Errorf("AI.Timeout = %v", cfg.AI.Timeout)
	}
	if cfg.Transcription.Timeout != 2*time.Minute {
		t.Errorf("Transcription.Timeout = %v", cfg.Transcription.Timeout)
	}
}

// TestBadEnvKeepsDefault verifies unparsable env values fall back to the default.
func TestBadEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("CRMPILOT_SERVER_PORT", "eighty")
	t.Setenv("CRMPILOT_AI_TIMEOUT", "soon")

	cfg, err := loadWith(newMemBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 || cfg.AI.Timeout != 30*time.Second {
		t.Errorf("port=%d timeout=%v", cfg.Server.Port, cfg.AI.Timeout)
	}
}

// TestSecrets verifies env wins over the keychain and the keychain fills the rest.
func TestSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("CRMPILOT_AI_API_KEY", "env-key")
	kc := mockKeychain{values: map[string]string{
		"ai_api_key":        "keychain-key",
		"events_nats_token": "nats-secret",
		"cli_token":         "cli-secret",
	}}

	cfg, err := loadWith(newMemBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AI.APIKey != "env-key" {
		t.Errorf("AI.APIKey = %q, want env-key", cfg.AI.APIKey)
	}
	if cfg.Events.NATSToken != "nats-secret" || cfg.CLI.Token != "cli-secret" {
		t.Errorf("keychain secrets not applied: %+v %+v", cfg.Events, cfg.CLI)
	}
}

// TestSecretsIgnoreBackend verifies secrets are never read from the plain backend.
func TestSecretsIgnoreBackend(t *testing.T) {
	clearEnv(t)
	b := newMemBackend()
	b.strings["ai.api_key"] = "plaintext"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AI.APIKey != "" {
		t.Errorf("AI.APIKey = %q, want empty", cfg.AI.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"postgres without url", func(c *Config) { c.Storage.Driver = "postgres" }, "database URL"},
		{"postgres with url", func(c *Config) {
			c.Storage.Driver = "postgres"
			c.Storage.DatabaseURL = "postgres://localhost/crm"
		}, ""},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"remote without url", func(c *Config) { c.Auth.Mode = "remote" }, "auth.url"},
		{"unknown auth", func(c *Config) { c.Auth.Mode = "ldap" }, "auth.mode"},
		{"unknown transcription", func(c *Config) { c.Transcription.Backend = "vosk" }, "transcription.backend"},
		{"unknown events", func(c *Config) { c.Events.Backend = "rabbit" }, "events.backend"},
		{"kafka without brokers", func(c *Config) { c.Events.Backend = "kafka" }, "kafka_brokers"},
		{"kafka with brokers", func(c *Config) {
			c.Events.Backend = "kafka"
			c.Events.KafkaBrokers = "k1:9092, k2:9092"
		}, ""},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestBrokers(t *testing.T) {
	e := EventsConfig{KafkaBrokers: " k1:9092,,k2:9092 "}
	got := e.Brokers()
	if len(got) != 2 || got[0] != "k1:9092" || got[1] != "k2:9092" {
		t.Errorf("Brokers() = %v", got)
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend()

	if err := setKeyWith(b, "server.port", "4200"); err != nil {
		t.Fatalf("set port: %v", err)
	}
	if b.ints["server.port"] != 4200 {
		t.Errorf("port stored as %v", b.ints)
	}
	if err := setKeyWith(b, "ai.timeout", "10s"); err != nil {
		t.Fatalf("set timeout: %v", err)
	}
	if b.strings["ai.timeout"] != "10s" {
		t.Errorf("timeout stored as %v", b.strings)
	}

	if err := setKeyWith(b, "ai.api_key", "sk-x"); err == nil || !strings.Contains(err.Error(), "CRMPILOT_AI_API_KEY") {
		t.Errorf("secret set err = %v", err)
	}
	if err := setKeyWith(b, "ai.temperature", "warm"); err == nil {
		t.Error("expected error for invalid float")
	}
	if err := setKeyWith(b, "nope.key", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestUnsetKey(t *testing.T) {
	clearEnv(t)
	b := newMemBackend()
	if err := setKeyWith(b, "ai.model", "gpt-4o"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := unsetKeyWith(b, "ai.model"); err != nil {
		t.Fatalf("unset: %v", err)
	}
	if _, ok := b.strings["ai.model"]; ok {
		t.Error("ai.model still stored after unset")
	}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.AI.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want default", cfg.AI.Model)
	}

	if err := unsetKeyWith(b, "cli.token"); err == nil {
		t.Error("expected error unsetting a secret")
	}
	if err := unsetKeyWith(b, "nope.key"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.AI.APIKey = "sk-secret"
	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Value, "sk-secret") {
			t.Errorf("secret shown for %s", k.Key)
		}
		if k.Key == "ai.timeout" && k.Value != "30s" {
			t.Errorf("ai.timeout shown as %q", k.Value)
		}
	}
	for _, k := range ValidKeys() {
		if k == "ai.api_key" || k == "cli.token" {
			t.Errorf("ValidKeys includes secret %s", k)
		}
	}
}
