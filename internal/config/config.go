// Package config handles configuration file loading and parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/jeremyward/tvrelay/internal/placement"
)

// Duration is a time.Duration that can be unmarshaled from human-readable
// strings like "3s" or "500ms", or from integer milliseconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML parsing.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)

	// Integer milliseconds for producers that send raw numbers
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: must be like '3s', '500ms' or milliseconds: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML output.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the daemon configuration, loaded from
// ~/.config/tvrelay/tvrelayd.toml.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Merge     MergeConfig     `toml:"merge"`
	Queue     QueueConfig     `toml:"queue"`
	Media     MediaConfig     `toml:"media"`
	Placement PlacementConfig `toml:"placement"`
	Filter    FilterConfig    `toml:"filter"`
}

// ServerConfig contains ingestion endpoint settings.
type ServerConfig struct {
	Listen string `toml:"listen"` // host:port to bind
}

// MergeConfig contains burst-coalescing settings.
type MergeConfig struct {
	Window Duration `toml:"window"` // merge window, e.g. "3s"
}

// QueueConfig contains display queue settings.
type QueueConfig struct {
	Max int `toml:"max"` // pending entries before oldest eviction
}

// MediaConfig contains media fetch settings.
type MediaConfig struct {
	FetchTimeout Duration `toml:"fetch_timeout"`
}

// PlacementConfig maps source apps to placement classes, layered over the
// built-in table. Values are "messaging", "dialer" or "system".
type PlacementConfig struct {
	Apps map[string]string `toml:"apps"`
}

// FilterConfig holds the optional source-app allowlist. Empty means all
// apps are accepted.
type FilterConfig struct {
	Apps []string `toml:"apps"`
}

// DefaultListen keeps the port the original relay producers expect.
const DefaultListen = ":7979"

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: DefaultListen,
		},
		Merge: MergeConfig{
			Window: Duration(3 * time.Second),
		},
		Queue: QueueConfig{
			Max: 5,
		},
		Media: MediaConfig{
			FetchTimeout: Duration(10 * time.Second),
		},
		Placement: PlacementConfig{
			Apps: make(map[string]string),
		},
	}
}

// ConfigPath returns the path to the daemon config file.
func ConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "tvrelay", "tvrelayd.toml"), nil
}

// Load loads the configuration from the given path, or the default path
// when empty. A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = ConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given path atomically, creating
// parent directories as needed.
func (c *Config) Save(path string) error {
	if path == "" {
		var err error
		path, err = ConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server listen address cannot be empty")
	}
	if c.Merge.Window.Duration() <= 0 {
		return fmt.Errorf("merge window must be positive, got %s", c.Merge.Window.Duration())
	}
	if c.Queue.Max < 1 || c.Queue.Max > 100 {
		return fmt.Errorf("queue max must be between 1 and 100, got %d", c.Queue.Max)
	}
	if c.Media.FetchTimeout.Duration() <= 0 {
		return fmt.Errorf("media fetch timeout must be positive, got %s", c.Media.FetchTimeout.Duration())
	}

	validClasses := make(map[string]bool)
	for _, class := range placement.ValidClasses() {
		validClasses[string(class)] = true
	}
	for app, class := range c.Placement.Apps {
		if !validClasses[class] {
			return fmt.Errorf("invalid placement class %q for app %q, must be one of: %v",
				class, app, placement.ValidClasses())
		}
	}

	return nil
}

// PlacementOverrides converts the configured app table into resolver
// overrides.
func (c *Config) PlacementOverrides() map[string]placement.AppClass {
	if len(c.Placement.Apps) == 0 {
		return nil
	}
	out := make(map[string]placement.AppClass, len(c.Placement.Apps))
	for app, class := range c.Placement.Apps {
		out[app] = placement.AppClass(class)
	}
	return out
}

// AppAllowed reports whether events from the given source app should be
// relayed. An empty allowlist accepts everything.
func (c *Config) AppAllowed(app string) bool {
	if len(c.Filter.Apps) == 0 {
		return true
	}
	for _, allowed := range c.Filter.Apps {
		if allowed == app {
			return true
		}
	}
	return false
}
