package config

const (
	defaultDataDir         = "~/.local/share/pomegranate"
	defaultModelPath       = "models/model_embedded.onnx"
	defaultMetadataPath    = "models/model_metadata.json"
	defaultLabelPolicy     = "fixed"
	defaultFixedLabel      = "bacterial"
	defaultLocation        = "unknown"
	defaultServerBind      = "127.0.0.1:7489"
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultConfigDirectory = "~/.config/pomegranate"
	projectConfigName      = "pomegranate.toml"
	envPrefix              = "POMEGRANATE"
)

var defaultAllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	origins := make([]string, len(defaultAllowedOrigins))
	copy(origins, defaultAllowedOrigins)
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Model: Model{
			Path:         defaultModelPath,
			MetadataPath: defaultMetadataPath,
			LabelPolicy:  defaultLabelPolicy,
			FixedLabel:   defaultFixedLabel,
		},
		History: History{
			DefaultLocation: defaultLocation,
		},
		Server: Server{
			Bind:           defaultServerBind,
			AllowedOrigins: origins,
		},
		Log: Log{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
