package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	Paths   Paths   `toml:"paths" mapstructure:"paths"`
	Model   Model   `toml:"model" mapstructure:"model"`
	History History `toml:"history" mapstructure:"history"`
	Server  Server  `toml:"server" mapstructure:"server"`
	Log     Log     `toml:"log" mapstructure:"log"`
}

// Paths locates on-disk state.
type Paths struct {
	// DataDir holds the history database, the image archive and the lock.
	DataDir string `toml:"data_dir" mapstructure:"data_dir"`
}

// Model configures the classifier.
type Model struct {
	Path           string  `toml:"path" mapstructure:"path"`
	MetadataPath   string  `toml:"metadata_path" mapstructure:"metadata_path"`
	RuntimeLibrary string  `toml:"runtime_library" mapstructure:"runtime_library"`
	LabelPolicy    string  `toml:"label_policy" mapstructure:"label_policy"`
	FixedLabel     string  `toml:"fixed_label" mapstructure:"fixed_label"`
	MinConfidence  float64 `toml:"min_confidence" mapstructure:"min_confidence"`
}

// History configures stored records.
type History struct {
	DefaultLocation string `toml:"default_location" mapstructure:"default_location"`
}

// Server configures the local HTTP surface.
type Server struct {
	Bind           string   `toml:"bind" mapstructure:"bind"`
	AllowedOrigins []string `toml:"allowed_origins" mapstructure:"allowed_origins"`
}

// Log configures logging.
type Log struct {
	Level  string `toml:"level" mapstructure:"level"`
	Format string `toml:"format" mapstructure:"format"`
}

// DefaultConfigPath returns the absolute path of the per-user config file.
func DefaultConfigPath() (string, error) {
	return expandPath(filepath.Join(defaultConfigDirectory, "config.toml"))
}

// Load resolves and reads the config file, applies POMEGRANATE_* environment
// overrides, and returns the normalized result with the file path that was
// used. A missing file is not an error; defaults apply.
func Load(path string) (*Config, string, bool, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		v.SetConfigFile(resolved)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", false, eris.Wrapf(err, "config: read %s", resolved)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", false, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("paths.data_dir", d.Paths.DataDir)
	v.SetDefault("model.path", d.Model.Path)
	v.SetDefault("model.metadata_path", d.Model.MetadataPath)
	v.SetDefault("model.runtime_library", d.Model.RuntimeLibrary)
	v.SetDefault("model.label_policy", d.Model.LabelPolicy)
	v.SetDefault("model.fixed_label", d.Model.FixedLabel)
	v.SetDefault("model.min_confidence", d.Model.MinConfidence)
	v.SetDefault("history.default_location", d.History.DefaultLocation)
	v.SetDefault("server.bind", d.Server.Bind)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// resolveConfigPath prefers an explicit path, then the per-user file, then
// pomegranate.toml in the working directory.
func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, eris.Wrap(err, "config: stat")
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, eris.Wrap(err, "config: resolve project path")
	}

	for _, candidate := range []string{defaultPath, projectPath} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true, nil
		}
	}
	return defaultPath, false, nil
}

// DatabasePath is the history database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "pomegranate.db")
}

// LockPath is the file that guards the data directory against a second process.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "pomegranate.lock")
}

// InboxDir receives uploads from the HTTP surface before they are archived.
func (c *Config) InboxDir() string {
	return filepath.Join(c.Paths.DataDir, "inbox")
}

// EnsureDirectories creates the data directory and the upload inbox.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.InboxDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "create directory %q", dir)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", eris.Wrap(err, "resolve home directory")
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", eris.Wrapf(err, "resolve absolute path for %q", pathValue)
	}
	return absolute, nil
}

// ExpandPath applies the config path rules: a leading ~ is the home
// directory and the result is absolute.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
