package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/akash-ravi/pomegranate-app/internal/archive"
	"github.com/akash-ravi/pomegranate-app/internal/config"
	"github.com/akash-ravi/pomegranate-app/internal/history"
	"github.com/akash-ravi/pomegranate-app/internal/logging"
	"github.com/akash-ravi/pomegranate-app/internal/model"
	"github.com/akash-ravi/pomegranate-app/internal/pipeline"
	"github.com/akash-ravi/pomegranate-app/internal/predict"
	"github.com/akash-ravi/pomegranate-app/internal/tensor"
)

type contextOption func(*commandContext)

// withLoader replaces the onnxruntime loader.
func withLoader(loader model.Loader) contextOption {
	return func(c *commandContext) { c.loader = loader }
}

type commandContext struct {
	configFlag *string
	loader     model.Loader

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag *string, opts ...contextOption) *commandContext {
	c := &commandContext{configFlag: configFlag}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configSeen = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger(cmd *cobra.Command) (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg, cmd.ErrOrStderr())
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) openStore(cmd *cobra.Command) (*history.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return history.OpenAndInit(cmd.Context(), cfg.DatabasePath())
}

func (c *commandContext) modelLoader(cfg *config.Config) model.Loader {
	if c.loader != nil {
		return c.loader
	}
	return model.ORTLoader{ModelPath: cfg.Model.Path, LibraryPath: cfg.Model.RuntimeLibrary}
}

// workspace holds everything a classifying command needs. The data
// directory lock is held until Close.
type workspace struct {
	cfg     *config.Config
	logger  *slog.Logger
	fs      afero.Fs
	lock    *flock.Flock
	store   *history.Store
	engine  *model.Engine
	codec   *tensor.Codec
	archive *archive.Archive
	policy  predict.LabelPolicy
	orch    *pipeline.Orchestrator
}

func (c *commandContext) openWorkspace(cmd *cobra.Command, nav pipeline.Navigator) (*workspace, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger(cmd)
	if err != nil {
		return nil, err
	}
	policy, err := predict.NewPolicy(cfg.Model.LabelPolicy, cfg.Model.FixedLabel, cfg.Model.MinConfidence)
	if err != nil {
		return nil, err
	}

	ws := &workspace{cfg: cfg, logger: logger, fs: afero.NewOsFs(), policy: policy}
	ws.lock = flock.New(cfg.LockPath())
	locked, err := ws.lock.TryLock()
	if err != nil {
		return nil, eris.Wrapf(err, "acquire lock %s", cfg.LockPath())
	}
	if !locked {
		return nil, eris.Errorf("another pomegranate process is using %s", cfg.Paths.DataDir)
	}

	ws.store, err = history.OpenAndInit(cmd.Context(), cfg.DatabasePath())
	if err != nil {
		ws.Close()
		return nil, err
	}

	ws.engine = model.NewEngine(cfg.Model.MetadataPath, c.modelLoader(cfg), logger.With(logging.FieldComponent, "model"))
	ws.codec = tensor.NewCodec(ws.fs, logger.With(logging.FieldComponent, "codec"))
	ws.archive = archive.New(ws.fs, cfg.Paths.DataDir, archive.WithLogger(logger.With(logging.FieldComponent, "archive")))

	ws.orch, err = pipeline.New(pipeline.Config{
		Archiver:        ws.archive,
		Encoder:         ws.codec,
		Predictor:       ws.engine,
		Recorder:        ws.store,
		Policy:          policy,
		Navigator:       nav,
		Logger:          logger.With(logging.FieldComponent, "pipeline"),
		DefaultLocation: cfg.History.DefaultLocation,
	})
	if err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

func (w *workspace) Close() {
	if w.engine != nil {
		if err := w.engine.Close(); err != nil {
			w.logger.Warn("close model", "error", err)
		}
	}
	if w.store != nil {
		if err := w.store.Close(); err != nil {
			w.logger.Warn("close history", "error", err)
		}
	}
	if w.lock != nil {
		_ = w.lock.Unlock()
	}
}
