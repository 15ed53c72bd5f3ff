package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/rotisserie/eris"
)

const sampleHeader = `# pomegranate configuration
#
# Relative model paths resolve against paths.data_dir. Every key can be
# overridden with an environment variable such as POMEGRANATE_LOG_LEVEL.

`

// CreateSample writes a commented default configuration to path. An existing
// file is left alone unless overwrite is set.
func CreateSample(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return eris.Errorf("config file %s already exists", path)
		}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrap(err, "create config directory")
		}
	}

	var buf bytes.Buffer
	buf.WriteString(sampleHeader)
	if err := Encode(&buf, Default()); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return eris.Wrap(err, "write sample config")
	}
	return nil
}

// Encode writes cfg as TOML.
func Encode(w io.Writer, cfg Config) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	if err := enc.Encode(cfg); err != nil {
		return eris.Wrap(err, "encode config")
	}
	return nil
}
