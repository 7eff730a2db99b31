package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Store    Store    `toml:"store"`
	SSH      SSH      `toml:"ssh"`
	Transfer Transfer `toml:"transfer"`
	Services Services `toml:"services"`
	Secrets  Secrets  `toml:"secrets"`
	Log      Log      `toml:"log"`
}

type Store struct {
	Path string `toml:"path"` // servers.json
}

type SSH struct {
	ConnectTimeout Duration `toml:"connect_timeout"`
	CommandTimeout Duration `toml:"command_timeout"` // owner lookups, status polls
}

type Transfer struct {
	MaxOpenBytes int64 `toml:"max_open_bytes"` // text open cap
}

type Services struct {
	LogLines      int      `toml:"log_lines"`
	RepollDelay   Duration `toml:"repoll_delay"`
	LogsDelay     Duration `toml:"logs_delay"`
	WatchSchedule string   `toml:"watch_schedule"` // cron spec
}

type Secrets struct {
	Mode         string `toml:"mode"` // age, plaintext
	IdentityFile string `toml:"identity_file"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console, json
	Output string `toml:"output"` // stderr, stdout, or file path
}

const (
	SecretsAge       = "age"
	SecretsPlaintext = "plaintext"
)

// Duration wraps time.Duration so TOML files can say "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Dir returns the per-user directory holding config, store and identity.
func Dir() string {
	if dir := os.Getenv("SSHDECK_HOME"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(base, "sshdeck")
}

func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

func Default() *Config {
	dir := Dir()
	return &Config{
		Store: Store{Path: filepath.Join(dir, "servers.json")},
		SSH: SSH{
			ConnectTimeout: Duration{10 * time.Second},
			CommandTimeout: Duration{5 * time.Second},
		},
		Transfer: Transfer{MaxOpenBytes: 2_000_000},
		Services: Services{
			LogLines:      100,
			RepollDelay:   Duration{500 * time.Millisecond},
			LogsDelay:     Duration{600 * time.Millisecond},
			WatchSchedule: "@every 30s",
		},
		Secrets: Secrets{
			Mode:         SecretsAge,
			IdentityFile: filepath.Join(dir, "identity.txt"),
		},
		Log: Log{Level: "info", Format: "console", Output: "stderr"},
	}
}

// LoadConfig reads path over the defaults. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Secrets.Mode {
	case SecretsAge, SecretsPlaintext:
	default:
		return fmt.Errorf("secrets.mode must be %q or %q, got %q", SecretsAge, SecretsPlaintext, c.Secrets.Mode)
	}
	if c.Secrets.Mode == SecretsAge && c.Secrets.IdentityFile == "" {
		return errors.New("secrets.identity_file is required when secrets.mode is age")
	}
	if c.Store.Path == "" {
		return errors.New("store.path is required")
	}
	if c.SSH.ConnectTimeout.Duration <= 0 {
		return errors.New("ssh.connect_timeout must be positive")
	}
	if c.Transfer.MaxOpenBytes <= 0 {
		return errors.New("transfer.max_open_bytes must be positive")
	}
	if c.Services.LogLines <= 0 {
		return errors.New("services.log_lines must be positive")
	}
	return nil
}

// Save writes the config as TOML, used by "sshdeck config init".
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
