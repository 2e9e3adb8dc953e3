package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "unllamabot.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DISCORD_BOT_TOKEN", "LLAMA_CPP_SERVER_URL", "DATABASE_URL"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, DefaultConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Messages.LengthLimit != 1990 {
		t.Fatalf("LengthLimit = %d, want 1990", cfg.Messages.LengthLimit)
	}
	if cfg.Messages.SegmentLimit() != 1985 {
		t.Fatalf("SegmentLimit() = %d, want 1985", cfg.Messages.SegmentLimit())
	}
	if cfg.Messages.EditCooldown() != 750*time.Millisecond {
		t.Fatalf("EditCooldown() = %v, want 750ms", cfg.Messages.EditCooldown())
	}
	if cfg.Bot.Prefix != "$" {
		t.Fatalf("Prefix = %q, want $", cfg.Bot.Prefix)
	}
	if got := cfg.Commands["inference"].Cmd; got != "llm" {
		t.Fatalf("inference command = %q, want llm", got)
	}
	if !cfg.Commands["refresh"].RequiresAdmin {
		t.Fatalf("refresh command must require admin")
	}
	if cfg.Database.URL != "" {
		t.Fatalf("Database.URL = %q, want empty default", cfg.Database.URL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_BOT_TOKEN", "token-from-env")
	t.Setenv("DATABASE_URL", "postgres://bot@localhost/chats")
	path := writeConfig(t, DefaultConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DiscordToken != "token-from-env" {
		t.Fatalf("DiscordToken = %q, want env value", cfg.DiscordToken)
	}
	if cfg.Database.URL != "postgres://bot@localhost/chats" {
		t.Fatalf("Database.URL = %q, want env override", cfg.Database.URL)
	}
}

func TestLoadLlamaURLFallsBackToEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLAMA_CPP_SERVER_URL", "http://gpu-box:8080")
	content := strings.Replace(DefaultConfig, `url = "http://127.0.0.1:8080"`, `url = ""`, 1)
	path := writeConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Llama.URL != "http://gpu-box:8080" {
		t.Fatalf("Llama.URL = %q, want env fallback", cfg.Llama.URL)
	}
}

func TestLoadRejectsTooSmallSegmentLimit(t *testing.T) {
	clearEnv(t)
	content := strings.Replace(DefaultConfig, "length-limit = 1990", "length-limit = 10", 1)
	path := writeConfig(t, content)

	if _, err := Load(path); err == nil {
		t.Fatalf("Load() succeeded with split limit below the minimum")
	}
}

func TestLoadRejectsDuplicateCommandTriggers(t *testing.T) {
	clearEnv(t)
	content := strings.Replace(DefaultConfig, `cmd = "llm-help"`, `cmd = "llm"`, 1)
	path := writeConfig(t, content)

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "share the trigger") {
		t.Fatalf("Load() error = %v, want duplicate trigger error", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, DefaultConfig+"\n[surprise]\nkey = 1\n")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unknown config keys") {
		t.Fatalf("Load() error = %v, want unknown key error", err)
	}
}

func TestCreateDefaultRefusesToOverwrite(t *testing.T) {
	path := writeConfig(t, "existing = true\n")

	if err := CreateDefault(path, false); err == nil {
		t.Fatalf("CreateDefault() overwrote an existing file")
	}
	if err := CreateDefault(path, true); err != nil {
		t.Fatalf("CreateDefault(overwrite) error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if string(data) != DefaultConfig {
		t.Fatalf("config file content does not match DefaultConfig")
	}
}
