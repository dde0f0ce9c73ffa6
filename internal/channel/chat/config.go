package chat

import "time"

// MachineConfig is one entry in the machine registry: a named target a
// /status, /concerns or /order command can address. Local machines
// (host in {"", "localhost", "127.0.0.1"}) run commands with a direct
// subprocess; anything else goes over ssh.
type MachineConfig struct {
	Host       string `koanf:"host"`
	RepoPath   string `koanf:"repoPath"`
	SSHUser    string `koanf:"sshUser"`
	HeartbeatDir string `koanf:"heartbeatDir"`
}

// Config configures a chat-platform Channel.
type Config struct {
	BotToken       string                   `koanf:"botToken"`
	APIBaseURL     string                   `koanf:"apiBaseURL"` // overridable for tests; defaults to the platform's API origin
	AuthorizedUsers []int64                 `koanf:"authorizedUsers"`
	Machines       map[string]MachineConfig `koanf:"machines"`
	DefaultMachine string                   `koanf:"defaultMachine"`
	PollInterval   time.Duration            `koanf:"pollInterval"`
	SessionLogPath string                   `koanf:"sessionLogPath"`
	ReferenceDir   string                   `koanf:"referenceDir"`
}
