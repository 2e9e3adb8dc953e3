// Package config loads the bot's TOML configuration file and environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultConfig is written verbatim when no configuration file exists yet.
const DefaultConfig = `[messages]
edit-cooldown-ms = 750
length-limit = 1990
# Safety margin subtracted from length-limit to leave room for code-fence
# markers inserted when a message is split inside a code block.
split-margin = 5
remove-reaction = "💀"

[bot]
prefix = "$"
default-system-prompt = "You are a helpful AI assistant. Assist the user best to your ability."
# User IDs allowed to run admin commands.
admin-ids = []

[commands.inference]
cmd = "llm"
requires-admin = false

[commands.help]
cmd = "llm-help"
requires-admin = false

[commands.reset-conversation]
cmd = "llm-reset"
requires-admin = false

[commands.stats]
cmd = "llm-stats"
requires-admin = false

[commands.set-param]
cmd = "llm-set"
requires-admin = false

[commands.refresh]
cmd = "llm-refresh"
requires-admin = true

[llama]
# URL is optional; when empty the LLAMA_CPP_SERVER_URL env variable is used.
url = "http://127.0.0.1:8080"
request-timeout-ms = 10000

[database]
# PostgreSQL URL. When empty, conversations are kept in memory only.
url = ""

[http]
bind-addr = ":9090"
metrics-namespace = "unllamabot"
`

// minSegmentLimit is the smallest usable message segment: a fence marker
// plus newline must fit, with room to spare.
const minSegmentLimit = 8

type Config struct {
	Messages MessagesConfig           `toml:"messages"`
	Bot      BotConfig                `toml:"bot"`
	Commands map[string]CommandConfig `toml:"commands"`
	Llama    LlamaConfig              `toml:"llama"`
	Database DatabaseConfig           `toml:"database"`
	HTTP     HTTPConfig               `toml:"http"`

	// DiscordToken comes from the DISCORD_BOT_TOKEN env variable, never
	// from the config file.
	DiscordToken string `toml:"-"`
}

type MessagesConfig struct {
	EditCooldownMS int    `toml:"edit-cooldown-ms"`
	LengthLimit    int    `toml:"length-limit"`
	SplitMargin    int    `toml:"split-margin"`
	RemoveReaction string `toml:"remove-reaction"`
}

// EditCooldown is the minimum time between consecutive message edits.
func (m MessagesConfig) EditCooldown() time.Duration {
	return time.Duration(m.EditCooldownMS) * time.Millisecond
}

// SegmentLimit is the effective split threshold: the platform length limit
// minus the fence-rebalance safety margin.
func (m MessagesConfig) SegmentLimit() int {
	return m.LengthLimit - m.SplitMargin
}

type BotConfig struct {
	Prefix              string  `toml:"prefix"`
	DefaultSystemPrompt string  `toml:"default-system-prompt"`
	AdminIDs            []int64 `toml:"admin-ids"`
}

type CommandConfig struct {
	Cmd           string `toml:"cmd"`
	RequiresAdmin bool   `toml:"requires-admin"`
}

type LlamaConfig struct {
	URL              string `toml:"url"`
	RequestTimeoutMS int    `toml:"request-timeout-ms"`
}

func (l LlamaConfig) RequestTimeout() time.Duration {
	return time.Duration(l.RequestTimeoutMS) * time.Millisecond
}

type DatabaseConfig struct {
	URL string `toml:"url"`
}

type HTTPConfig struct {
	BindAddr         string `toml:"bind-addr"`
	MetricsNamespace string `toml:"metrics-namespace"`
}

// Load reads the TOML file at path, applies environment overrides and
// validates the result. A missing file surfaces the underlying fs error so
// callers can create a default one.
func Load(path string) (Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config keys: %v", undecoded)
	}

	cfg.DiscordToken = strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN"))
	if strings.TrimSpace(cfg.Llama.URL) == "" {
		cfg.Llama.URL = strings.TrimSpace(os.Getenv("LLAMA_CPP_SERVER_URL"))
	}
	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		cfg.Database.URL = dbURL
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// CreateDefault writes the default configuration to path. An existing file
// is only replaced when overwrite is set.
func CreateDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.WriteFile(path, []byte(DefaultConfig), 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	if c.Messages.LengthLimit <= 0 {
		return fmt.Errorf("messages.length-limit must be positive")
	}
	if c.Messages.SplitMargin < 0 {
		return fmt.Errorf("messages.split-margin must not be negative")
	}
	if c.Messages.SegmentLimit() < minSegmentLimit {
		return fmt.Errorf("messages.length-limit minus split-margin must be at least %d", minSegmentLimit)
	}
	if c.Messages.EditCooldownMS < 0 {
		return fmt.Errorf("messages.edit-cooldown-ms must not be negative")
	}
	if strings.TrimSpace(c.Bot.Prefix) == "" {
		return fmt.Errorf("bot.prefix must not be empty")
	}
	if len(c.Commands) == 0 {
		return fmt.Errorf("at least one command must be configured")
	}
	seen := make(map[string]string, len(c.Commands))
	for name, cmd := range c.Commands {
		if strings.TrimSpace(cmd.Cmd) == "" {
			return fmt.Errorf("commands.%s.cmd must not be empty", name)
		}
		if other, dup := seen[cmd.Cmd]; dup {
			return fmt.Errorf("commands.%s and commands.%s share the trigger %q", other, name, cmd.Cmd)
		}
		seen[cmd.Cmd] = name
	}
	if strings.TrimSpace(c.Llama.URL) == "" {
		return fmt.Errorf("llama.url is empty and LLAMA_CPP_SERVER_URL is not set")
	}
	if c.Llama.RequestTimeoutMS <= 0 {
		return fmt.Errorf("llama.request-timeout-ms must be positive")
	}
	if strings.TrimSpace(c.HTTP.BindAddr) == "" {
		return fmt.Errorf("http.bind-addr must not be empty")
	}
	return nil
}
