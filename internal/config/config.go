package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/blink/internal/gpio"
)

const (
	// ProjectFile is looked up in the working directory first.
	ProjectFile = ".blink.toml"

	SourceDefault = "default"
	SourceFlag    = "flag"
)

// Keys lists the recognised settings in display order.
var Keys = []string{"driver", "chip", "line", "lock_dir", "log_level"}

// Config selects the output line and logging. The blink timing is fixed
// and has no setting.
type Config struct {
	Driver   string `toml:"driver"`
	Chip     string `toml:"chip"`
	Line     int    `toml:"line"`
	LockDir  string `toml:"lock_dir"`
	LogLevel string `toml:"log_level"`

	// Sources records where each key's value came from.
	Sources map[string]string `toml:"-"`
}

// Defaults drive BCM GPIO 3 on the first chip.
func Defaults() *Config {
	cfg := &Config{
		Driver:   gpio.DriverCdev,
		Chip:     "gpiochip0",
		Line:     3,
		LockDir:  gpio.DefaultLockDir(),
		LogLevel: "info",
		Sources:  make(map[string]string, len(Keys)),
	}
	for _, k := range Keys {
		cfg.Sources[k] = SourceDefault
	}
	return cfg
}

// GetUserConfigPath returns the per-user config file path.
func GetUserConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".blink", "config.toml")
}

// Load reads the file at path over the defaults. The file must exist.
// Values are not validated here; callers apply overrides first and then
// call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	for _, k := range Keys {
		if md.IsDefined(k) {
			cfg.Sources[k] = path
		}
	}
	return cfg, nil
}

// LoadWithSources loads the first config found: an explicit path, then
// .blink.toml in workDir, then the user config. With none, defaults apply.
func LoadWithSources(explicit, workDir string) (*Config, error) {
	if explicit != "" {
		return Load(explicit)
	}

	candidates := []string{filepath.Join(workDir, ProjectFile)}
	if user := GetUserConfigPath(); user != "" {
		candidates = append(candidates, user)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
		return Load(path)
	}

	return Defaults(), nil
}

// Validate checks that the settings can address a line.
func (c *Config) Validate() error {
	if !slices.Contains(gpio.Drivers(), c.Driver) {
		return fmt.Errorf("driver %q is not one of %s", c.Driver, strings.Join(gpio.Drivers(), ", "))
	}
	if c.Driver == gpio.DriverCdev && c.Chip == "" {
		return errors.New("chip is required for the cdev driver")
	}
	if c.Line < 0 {
		return fmt.Errorf("line must not be negative, got %d", c.Line)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SetDriver and friends apply a command line override.
func (c *Config) SetDriver(v string)   { c.Driver = v; c.Sources["driver"] = SourceFlag }
func (c *Config) SetChip(v string)     { c.Chip = v; c.Sources["chip"] = SourceFlag }
func (c *Config) SetLine(v int)        { c.Line = v; c.Sources["line"] = SourceFlag }
func (c *Config) SetLockDir(v string)  { c.LockDir = v; c.Sources["lock_dir"] = SourceFlag }
func (c *Config) SetLogLevel(v string) { c.LogLevel = v; c.Sources["log_level"] = SourceFlag }

// GPIO converts the settings for gpio.Open.
func (c *Config) GPIO() gpio.Config {
	return gpio.Config{
		Driver:  c.Driver,
		Chip:    c.Chip,
		Line:    c.Line,
		LockDir: c.LockDir,
	}
}

func (c *Config) value(key string) string {
	switch key {
	case "driver":
		return c.Driver
	case "chip":
		return c.Chip
	case "line":
		return fmt.Sprint(c.Line)
	case "lock_dir":
		return c.LockDir
	case "log_level":
		return c.LogLevel
	}
	return ""
}

// DisplaySettingsWithSources renders every setting with its origin.
func (c *Config) DisplaySettingsWithSources() string {
	var b strings.Builder
	b.WriteString("Current settings:\n")
	for _, k := range Keys {
		fmt.Fprintf(&b, "  %-10s = %-20q # %s\n", k, c.value(k), c.Sources[k])
	}
	return b.String()
}

// Save writes the settings as TOML, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return os.WriteFile(path, buf.Bytes(), 0644)
}
