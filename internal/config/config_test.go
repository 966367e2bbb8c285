package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "irc": {"server": "irc.chat.twitch.tv:6667", "nick": "bot", "token": "oauth:file", "channels": ["#mychan"]},
  "http": {"addr": ":8080"},
  "storage": {"driver": "sqlite", "path": "./rules.db"},
  "dispatch": {"prefix": "#"},
  "cache": {"resync": "@every 5m"},
  "logging": {"level": "info", "console": true}
}`

func noEnv(string) string { return "" }

func TestDecodeJSONStrict(t *testing.T) {
	t.Parallel()
	cfg, err := decode("config.json", []byte(sampleJSON), noEnv)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if cfg.IRC.Server != "irc.chat.twitch.tv:6667" || cfg.IRC.Nick != "bot" {
		t.Fatalf("unexpected irc section: %+v", cfg.IRC)
	}
	if len(cfg.IRC.Channels) != 1 || cfg.IRC.Channels[0] != "#mychan" {
		t.Fatalf("channels = %v", cfg.IRC.Channels)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	if _, err := decode("config.json", []byte(`{"irc":{"server":"x"},"bogus":1}`), noEnv); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := decode("config.json", []byte(`{"irc":{"server":"x"}}{}`), noEnv); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	raw := strings.Join([]string{
		"irc:",
		"  server: irc.chat.twitch.tv:6667",
		"  nick: bot",
		"  channels: [mychan, other]",
		"storage:",
		"  driver: pebble",
		"  path: ./data",
		"task_engine:",
		"  workers: 4",
	}, "\n")
	cfg, err := decode("config.yaml", []byte(raw), noEnv)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if cfg.Storage.Driver != "pebble" || cfg.Storage.Path != "./data" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.TaskEngine == nil || cfg.TaskEngine.Workers != 4 {
		t.Fatalf("task_engine = %+v", cfg.TaskEngine)
	}
	if _, err := decode("config.yml", []byte("irc:\n  nope: 1\n"), noEnv); err == nil {
		t.Fatal("expected unknown field error for yaml")
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvIRCToken:    " oauth:env ",
		EnvDatabaseURL: "/tmp/alias.db",
	}
	cfg, err := decode("config.json", []byte(sampleJSON), func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if cfg.IRC.Token != "oauth:env" {
		t.Fatalf("token = %q, want env value", cfg.IRC.Token)
	}
	if cfg.Storage.Path != "/tmp/alias.db" {
		t.Fatalf("path = %q, want DATABASE_URL value", cfg.Storage.Path)
	}

	env[EnvStoragePath] = "/tmp/primary.db"
	cfg, err = decode("config.json", []byte(sampleJSON), func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if cfg.Storage.Path != "/tmp/primary.db" {
		t.Fatalf("path = %q, want %s to win", cfg.Storage.Path, EnvStoragePath)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{IRC: IRCConfig{Server: "localhost:6667"}}
	}
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{name: "missing server", mut: func(c *Config) { c.IRC.Server = " " }},
		{name: "bad dial timeout", mut: func(c *Config) { c.IRC.DialTimeout = "soon" }},
		{name: "negative rate", mut: func(c *Config) { c.IRC.RatePerSec = -1 }},
		{name: "empty channel", mut: func(c *Config) { c.IRC.Channels = []string{"#"} }},
		{name: "unknown driver", mut: func(c *Config) { c.Storage.Driver = "mongo" }},
		{name: "sqlite without path", mut: func(c *Config) { c.Storage.Driver = "sqlite" }},
		{name: "negative workers", mut: func(c *Config) { c.TaskEngine = &TaskEngineConfig{Workers: -1} }},
		{name: "bad queue delay", mut: func(c *Config) { c.TaskEngine = &TaskEngineConfig{MaxQueueDelay: "-1s"} }},
		{name: "prefix with space", mut: func(c *Config) { c.Dispatch.Prefix = "# " }},
		{name: "bad resync", mut: func(c *Config) { c.Cache.Resync = "every day" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mut(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("base config rejected: %v", err)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "abc", time.Second); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadAndReloadPublishes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(sampleJSON), 0o600); err != nil {
		t.Fatal(err)
	}

	m := NewConfigManager(path)
	m.getenv = noEnv
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// unchanged content is not republished
	m.reload(context.Background())
	select {
	case <-ch:
		t.Fatal("unexpected publish for unchanged file")
	default:
	}

	updated := strings.Replace(sampleJSON, `"level": "info"`, `"level": "debug"`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload(context.Background())
	select {
	case got := <-ch:
		if got.Logging.Level != "debug" {
			t.Fatalf("published level = %q", got.Logging.Level)
		}
	default:
		t.Fatal("expected publish after change")
	}

	// invalid content is rejected and the committed config is kept
	if err := os.WriteFile(path, []byte(`{"irc":{"server":""}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload(context.Background())
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("invalid reload replaced committed config")
	}
}

func TestSummarizeConfigChangeHidesToken(t *testing.T) {
	t.Parallel()
	a := &Config{IRC: IRCConfig{Server: "a:1", Token: "secret1"}}
	b := &Config{IRC: IRCConfig{Server: "a:1", Token: "secret2"}, Logging: LoggingConfig{Level: "debug"}}
	changes, fields := SummarizeConfigChange(a, b)
	if len(changes) == 0 {
		t.Fatal("expected changes")
	}
	for _, c := range changes {
		if strings.Contains(c, "secret") {
			t.Fatalf("change summary leaks token: %q", c)
		}
	}
	_ = fields
}
