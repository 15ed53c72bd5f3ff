package model

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"

	"github.com/akash-ravi/pomegranate-app/internal/faults"
	"github.com/akash-ravi/pomegranate-app/internal/tensor"
)

// Engine owns the loaded classifier. The first Load reads the artifact and
// caches the outcome; a failed load is reported on every later call instead
// of being retried.
type Engine struct {
	metadataPath string
	loader       Loader
	logger       *slog.Logger

	// loadMu serializes the first load; mu guards the cached fields so
	// status reads never wait on a slow session start.
	loadMu  sync.Mutex
	mu      sync.Mutex
	loaded  bool
	loadErr error
	meta    Metadata
	session Session

	// Sessions bind a single input/output buffer pair, so forward passes run
	// one at a time.
	sem *semaphore.Weighted
}

// NewEngine creates an engine that loads lazily on first use.
func NewEngine(metadataPath string, loader Loader, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		metadataPath: metadataPath,
		loader:       loader,
		logger:       logger,
		sem:          semaphore.NewWeighted(1),
	}
}

// Load reads metadata and opens the session if that has not happened yet.
func (e *Engine) Load(ctx context.Context) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if meta, ok, err := e.cached(); ok {
		return meta, err
	}

	start := time.Now()
	meta, session, err := e.open()
	e.mu.Lock()
	e.loaded = true
	e.loadErr = err
	if err == nil {
		e.meta = meta
		e.session = session
	}
	e.mu.Unlock()
	if err != nil {
		return Metadata{}, err
	}

	e.logger.Info("model loaded",
		"classes", len(meta.Classes),
		"input_shape", meta.InputShape,
		"output_shape", meta.OutputShape,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return meta, nil
}

func (e *Engine) cached() (Metadata, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return Metadata{}, false, nil
	}
	if e.loadErr != nil {
		return Metadata{}, true, e.loadErr
	}
	return e.meta, true, nil
}

func (e *Engine) open() (Metadata, Session, error) {
	meta, err := ReadMetadata(e.metadataPath)
	if err != nil {
		e.logger.Error("model metadata unusable", "path", e.metadataPath, "error", err)
		return Metadata{}, nil, faults.Wrap(faults.KindLoad, "load model", err)
	}
	if e.loader == nil {
		return Metadata{}, nil, faults.New(faults.KindLoad, "load model", "no model loader configured")
	}
	session, err := e.loader.Load(meta)
	if err != nil {
		e.logger.Error("model load failed", "error", err)
		return Metadata{}, nil, faults.Wrap(faults.KindLoad, "load model", err)
	}
	return meta, session, nil
}

// Degraded reports whether a load was attempted and failed.
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded && e.loadErr != nil
}

// LoadErr returns the cached load failure, if any.
func (e *Engine) LoadErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadErr
}

// Predict runs the classifier over a canonical tensor.
func (e *Engine) Predict(ctx context.Context, input *tensor.Canonical) (RawScores, error) {
	if err := input.Validate(); err != nil {
		return RawScores{}, err
	}
	meta, err := e.Load(ctx)
	if err != nil {
		return RawScores{}, err
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return RawScores{}, eris.Wrap(err, "wait for model")
	}
	defer e.sem.Release(1)

	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return RawScores{}, faults.New(faults.KindLoad, "predict", "model session closed")
	}

	out, err := session.Run(input.Data)
	if err != nil {
		return RawScores{}, faults.Wrap(faults.KindInference, "predict", err)
	}
	if want := tensor.Elements(meta.OutputShape); int64(len(out)) != want {
		return RawScores{}, faults.New(faults.KindShapeMismatch, "predict", "model returned %d values, want %d", len(out), want)
	}

	shape := make([]int64, len(meta.OutputShape))
	copy(shape, meta.OutputShape)
	return RawScores{Shape: shape, Data: out}, nil
}

// Classes returns the loaded class table in output order.
func (e *Engine) Classes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.meta.Classes))
	copy(out, e.meta.Classes)
	return out
}

// Close releases the session. A closed engine reports a load error on
// subsequent predictions.
func (e *Engine) Close() error {
	if err := e.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer e.sem.Release(1)
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Close()
	e.session = nil
	return err
}
