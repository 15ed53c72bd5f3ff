package config

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeModel(); err != nil {
		return err
	}
	c.History.DefaultLocation = strings.TrimSpace(c.History.DefaultLocation)
	if c.History.DefaultLocation == "" {
		c.History.DefaultLocation = defaultLocation
	}
	c.normalizeServer()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return eris.Wrap(err, "paths.data_dir")
	}
	return nil
}

// normalizeModel resolves model files relative to the data directory.
func (c *Config) normalizeModel() error {
	var err error
	if c.Model.Path, err = c.dataRelative(c.Model.Path, defaultModelPath); err != nil {
		return eris.Wrap(err, "model.path")
	}
	if c.Model.MetadataPath, err = c.dataRelative(c.Model.MetadataPath, defaultMetadataPath); err != nil {
		return eris.Wrap(err, "model.metadata_path")
	}
	if strings.TrimSpace(c.Model.RuntimeLibrary) != "" {
		if c.Model.RuntimeLibrary, err = expandPath(c.Model.RuntimeLibrary); err != nil {
			return eris.Wrap(err, "model.runtime_library")
		}
	}
	c.Model.LabelPolicy = strings.ToLower(strings.TrimSpace(c.Model.LabelPolicy))
	if c.Model.LabelPolicy == "" {
		c.Model.LabelPolicy = defaultLabelPolicy
	}
	c.Model.FixedLabel = strings.TrimSpace(c.Model.FixedLabel)
	if c.Model.FixedLabel == "" {
		c.Model.FixedLabel = defaultFixedLabel
	}
	return nil
}

func (c *Config) dataRelative(value, fallback string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = fallback
	}
	if !strings.HasPrefix(value, "~") && !filepath.IsAbs(value) {
		value = filepath.Join(c.Paths.DataDir, value)
	}
	return expandPath(value)
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultServerBind
	}
	origins := c.Server.AllowedOrigins[:0]
	for _, origin := range c.Server.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	c.Server.AllowedOrigins = origins
}

func (c *Config) normalizeLogging() {
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = defaultLogFormat
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
}
