// Package config loads the gateway's layered configuration: built-in
// defaults, overridden by a JSON config file, overridden by environment
// variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CADUCEUS_CONFIG"

// DefaultConfigPaths are searched in order when -config is not given.
var DefaultConfigPaths = []string{
	".galaxy/config.json",
	"/etc/caduceus/config.json",
}

// OrderStore configures the filesystem order mailbox.
type OrderStore struct {
	OrdersDir    string `koanf:"orders_dir"`
	ArchiveDir   string `koanf:"archive_dir"`
	OutboxDir    string `koanf:"outbox_dir"`
	CorruptedDir string `koanf:"corrupted_dir"`
	ResponsesDir string `koanf:"responses_dir"`
}

// AgentRunner configures how the external agent CLI is invoked.
type AgentRunner struct {
	Binary         string        `koanf:"binary"`
	SessionDir     string        `koanf:"session_dir"`
	Timeout        time.Duration `koanf:"timeout"`
	StartupTimeout time.Duration `koanf:"startup_timeout"`
}

// Executor configures order processing.
type Executor struct {
	PollInterval     time.Duration `koanf:"poll_interval"`
	Timeout          time.Duration `koanf:"timeout"`
	HeartbeatEvery   time.Duration `koanf:"heartbeat_every"`
	HeartbeatStaleAt time.Duration `koanf:"heartbeat_stale_at"`
}

// placeholderTokens are values that mean "chat channel disabled" even
// though the token field is non-empty, matching spec.md §4.8's
// "telegramToken (non-placeholder)" condition — a config template left
// unedited must not silently enable the channel.
var placeholderTokens = map[string]bool{
	"":                true,
	"CHANGEME":        true,
	"your-bot-token":  true,
	"<bot-token-here>": true,
}

// ChatChannel configures the chat-platform channel. It is only built if
// Token is set and is not a known placeholder.
type ChatChannel struct {
	Token          string        `koanf:"token"`
	AuthorizedIDs  []int64       `koanf:"authorized_ids"`
	PollInterval   time.Duration `koanf:"poll_interval"`
	SessionLogPath string        `koanf:"session_log_path"`
}

// Enabled reports whether the chat channel should be constructed.
func (c ChatChannel) Enabled() bool {
	return !placeholderTokens[c.Token]
}

// WebChannel configures the websocket channel. It is only built if
// Enabled is true.
type WebChannel struct {
	Enabled        bool   `koanf:"enabled"`
	Addr           string `koanf:"addr"`
	SecureCookies  bool   `koanf:"secure_cookies"`
	SessionLogPath string `koanf:"session_log_path"`
}

// Auth configures the user store backing the web channel's login.
type Auth struct {
	JWTSecret        string        `koanf:"jwt_secret"`
	TokenExpiryHours time.Duration `koanf:"token_expiry_hours"`
	DBPath           string        `koanf:"db_path"`
}

// Machine identifies one managed host/checkout a chat command can target.
type Machine struct {
	Host         string `koanf:"host"`
	RepoPath     string `koanf:"repo_path"`
	SSHUser      string `koanf:"ssh_user"`
	HeartbeatDir string `koanf:"heartbeat_dir"`
}

// Features gates optional functionality not in this pass's scope; each
// flag defaults off so an absent config section changes nothing.
type Features struct {
	Enrichment bool `koanf:"enrichment"`
	Voice      bool `koanf:"voice"`
	ImagePDF   bool `koanf:"image_pdf"`
	Scheduler  bool `koanf:"scheduler"`
}

// Reference configures the reference-ingestion output directory.
type Reference struct {
	Dir string `koanf:"dir"`
}

// Config is the gateway's fully resolved configuration.
type Config struct {
	LogLevel       string             `koanf:"log_level"`
	OrderStore     OrderStore         `koanf:"order_store"`
	AgentRunner    AgentRunner        `koanf:"agent_runner"`
	Executor       Executor           `koanf:"executor"`
	Chat           ChatChannel        `koanf:"chat"`
	Web            WebChannel         `koanf:"web"`
	Auth           Auth               `koanf:"auth"`
	Reference      Reference          `koanf:"reference"`
	Machines       map[string]Machine `koanf:"machines"`
	DefaultMachine string             `koanf:"default_machine"`
	Features       Features           `koanf:"features"`
	AckPoller      time.Duration      `koanf:"ack_poller_interval"`
	Outbox         time.Duration      `koanf:"outbox_interval"`
}

func defaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		OrderStore: OrderStore{
			OrdersDir:    ".galaxy/orders",
			ArchiveDir:   ".galaxy/orders/archive",
			OutboxDir:    ".galaxy/outbox",
			CorruptedDir: ".galaxy/orders/corrupted",
			ResponsesDir: ".galaxy/orders/responses",
		},
		AgentRunner: AgentRunner{
			Binary:         "opencode",
			SessionDir:     ".galaxy/sessions",
			Timeout:        10 * time.Minute,
			StartupTimeout: 30 * time.Second,
		},
		Executor: Executor{
			PollInterval:     2 * time.Second,
			Timeout:          10 * time.Minute,
			HeartbeatEvery:   60 * time.Second,
			HeartbeatStaleAt: 120 * time.Second,
		},
		Chat: ChatChannel{
			PollInterval:   2 * time.Second,
			SessionLogPath: ".galaxy/logs/chat-sessions.jsonl",
		},
		Web: WebChannel{
			Addr:           ":8080",
			SessionLogPath: ".galaxy/logs/web-sessions.jsonl",
		},
		Auth: Auth{
			TokenExpiryHours: 24 * time.Hour,
			DBPath:           ".galaxy/caduceus.db",
		},
		Reference: Reference{
			Dir: ".galaxy/references",
		},
		AckPoller: 2 * time.Second,
		Outbox:    2 * time.Second,
	}
}

// Load builds the configuration from defaults, an optional JSON file
// (explicit path, CADUCEUS_CONFIG, or one of DefaultConfigPaths), and
// environment variables prefixed CADUCEUS_ (CADUCEUS_WEB_ADDR maps to
// web.addr).
func Load(explicitPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	path := resolveConfigPath(explicitPath)
	if path != "" {
		if err := k.Load(file.Provider(path), json.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("CADUCEUS_", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	return cfg, nil
}

func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKeyMap lists the env var suffixes (after stripping CADUCEUS_) that map
// to a nested koanf path. A plain underscore-to-dot transform breaks on
// multi-word leaf names (ORDERS_DIR -> orders.dir, not orders_dir), so each
// settable field is listed explicitly, the way cartographus's
// envTransformFunc maps legacy env names to nested config paths.
var envKeyMap = map[string]string{
	"LOG_LEVEL":                  "log_level",
	"ACK_POLLER_INTERVAL":        "ack_poller_interval",
	"OUTBOX_INTERVAL":            "outbox_interval",
	"ORDER_STORE_ORDERS_DIR":     "order_store.orders_dir",
	"ORDER_STORE_ARCHIVE_DIR":    "order_store.archive_dir",
	"ORDER_STORE_OUTBOX_DIR":     "order_store.outbox_dir",
	"ORDER_STORE_CORRUPTED_DIR":  "order_store.corrupted_dir",
	"ORDER_STORE_RESPONSES_DIR":  "order_store.responses_dir",
	"AGENT_RUNNER_BINARY":        "agent_runner.binary",
	"AGENT_RUNNER_SESSION_DIR":   "agent_runner.session_dir",
	"AGENT_RUNNER_TIMEOUT":       "agent_runner.timeout",
	"AGENT_RUNNER_STARTUP_TIMEOUT": "agent_runner.startup_timeout",
	"EXECUTOR_POLL_INTERVAL":      "executor.poll_interval",
	"EXECUTOR_TIMEOUT":            "executor.timeout",
	"EXECUTOR_HEARTBEAT_EVERY":    "executor.heartbeat_every",
	"EXECUTOR_HEARTBEAT_STALE_AT": "executor.heartbeat_stale_at",
	"CHAT_TOKEN":                  "chat.token",
	"CHAT_AUTHORIZED_IDS":         "chat.authorized_ids",
	"CHAT_POLL_INTERVAL":          "chat.poll_interval",
	"CHAT_SESSION_LOG_PATH":       "chat.session_log_path",
	"WEB_ENABLED":                 "web.enabled",
	"WEB_ADDR":                    "web.addr",
	"WEB_SECURE_COOKIES":          "web.secure_cookies",
	"WEB_SESSION_LOG_PATH":        "web.session_log_path",
	"AUTH_JWT_SECRET":             "auth.jwt_secret",
	"AUTH_TOKEN_EXPIRY_HOURS":     "auth.token_expiry_hours",
	"AUTH_DB_PATH":                "auth.db_path",
	"DEFAULT_MACHINE":             "default_machine",
	"REFERENCE_DIR":               "reference.dir",
}

// envKey transforms a CADUCEUS_-prefixed environment variable name into
// its koanf dotted path, falling back to the prefix-stripped name,
// otherwise unchanged, for unknown variables (koanf then silently ignores
// the unmapped key).
func envKey(s string) string {
	s = trimPrefix(s, "CADUCEUS_")
	if path, ok := envKeyMap[s]; ok {
		return path
	}
	return s
}

func trimPrefix(s, prefix string) string {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}
