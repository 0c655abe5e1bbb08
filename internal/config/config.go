// Package config loads and validates Tower's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "~/.config/tower/tower.toml"

// Config is the full daemon configuration.
type Config struct {
	Sessions []Session `toml:"session"`
	Monitor  Monitor   `toml:"monitor"`
	Auth     Auth      `toml:"auth"`
	Daemon   Daemon    `toml:"daemon"`
	Telegram Telegram  `toml:"telegram"`
}

// Session names one tmux pane to watch.
type Session struct {
	Name string `toml:"name"`
	Pane string `toml:"pane"`
}

// Monitor holds polling and escalation policy.
type Monitor struct {
	PollInterval   duration `toml:"poll_interval"`
	DebounceWindow duration `toml:"debounce_window"`
	StallThreshold duration `toml:"stall_threshold"`
	CaptureLines   int      `toml:"capture_lines"`
}

// Auth holds the reply gate policy. The shared secret is read from
// SecretFile, never from the config itself, so the config can be checked in
// without leaking it.
type Auth struct {
	SecretFile       string   `toml:"secret_file"`
	FailureThreshold int      `toml:"failure_threshold"`
	LockoutDuration  duration `toml:"lockout_duration"`
}

// Daemon holds process-level paths and addresses.
type Daemon struct {
	SocketPath string `toml:"socket_path"`
	PidFile    string `toml:"pid_file"`
	ListenAddr string `toml:"listen_addr"`
	AuditTrail string `toml:"audit_trail"`
}

// Telegram configures the chat delivery channel. Disabled when Token is
// empty.
type Telegram struct {
	Token  string `toml:"token"`
	ChatID int64  `toml:"chat_id"`
}

// duration lets TOML carry values like "5m" and "30s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (d duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when a field or file is absent.
func Default() Config {
	return Config{
		Monitor: Monitor{
			PollInterval:   duration(2 * time.Second),
			DebounceWindow: duration(5 * time.Minute),
			StallThreshold: duration(10 * time.Minute),
			CaptureLines:   50,
		},
		Auth: Auth{
			SecretFile:       "~/.config/tower/totp.secret",
			FailureThreshold: 3,
			LockoutDuration:  duration(5 * time.Minute),
		},
		Daemon: Daemon{
			SocketPath: "/tmp/tower.sock",
			PidFile:    "/tmp/tower.pid",
			ListenAddr: "127.0.0.1:8737",
			AuditTrail: "~/.local/share/tower/audit.jsonl",
		},
	}
}

// Load reads the config at path, layered over Default. A missing file is
// not an error; the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()

	path = ExpandHome(path)
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("loading config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	seen := make(map[string]bool)
	for i, s := range c.Sessions {
		if s.Pane == "" {
			return fmt.Errorf("session %d (%q): pane is required", i+1, s.Name)
		}
		if seen[s.Pane] {
			return fmt.Errorf("session %d: pane %q is watched twice", i+1, s.Pane)
		}
		seen[s.Pane] = true
	}

	if c.Monitor.PollInterval.Std() <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	if c.Monitor.DebounceWindow.Std() <= 0 {
		return fmt.Errorf("monitor.debounce_window must be positive")
	}
	if c.Monitor.StallThreshold.Std() <= 0 {
		return fmt.Errorf("monitor.stall_threshold must be positive")
	}
	if c.Monitor.CaptureLines <= 0 {
		return fmt.Errorf("monitor.capture_lines must be positive")
	}
	if c.Auth.FailureThreshold <= 0 {
		return fmt.Errorf("auth.failure_threshold must be positive")
	}
	if c.Auth.LockoutDuration.Std() <= 0 {
		return fmt.Errorf("auth.lockout_duration must be positive")
	}
	if c.Daemon.ListenAddr == "" {
		return fmt.Errorf("daemon.listen_addr is required")
	}
	return nil
}

// Targets returns the configured panes in declaration order.
func (c Config) Targets() []string {
	targets := make([]string, 0, len(c.Sessions))
	for _, s := range c.Sessions {
		targets = append(targets, s.Pane)
	}
	return targets
}

// ReadSecret loads the TOTP shared secret from the configured file,
// trimming trailing whitespace.
func (c Config) ReadSecret() (string, error) {
	path := ExpandHome(c.Auth.SecretFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading auth secret: %w", err)
	}
	secret := string(data)
	for len(secret) > 0 && (secret[len(secret)-1] == '\n' || secret[len(secret)-1] == '\r' || secret[len(secret)-1] == ' ') {
		secret = secret[:len(secret)-1]
	}
	if secret == "" {
		return "", fmt.Errorf("auth secret file %s is empty", path)
	}
	return secret, nil
}

// ExpandHome resolves a leading ~/ against the current user's home
// directory.
func ExpandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
