package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akash-ravi/pomegranate-app/internal/archive"
	"github.com/akash-ravi/pomegranate-app/internal/faults"
	"github.com/akash-ravi/pomegranate-app/internal/history"
	"github.com/akash-ravi/pomegranate-app/internal/model"
	"github.com/akash-ravi/pomegranate-app/internal/predict"
	"github.com/akash-ravi/pomegranate-app/internal/tensor"
)

var classes = []string{"bacterial", "fungal", "healthy"}

type stubSession struct{ out []float32 }

func (s stubSession) Run([]float32) ([]float32, error) { return append([]float32(nil), s.out...), nil }
func (stubSession) Close() error                       { return nil }

type stubLoader struct {
	out []float32
	err error
}

func (l stubLoader) Load(model.Metadata) (model.Session, error) {
	if l.err != nil {
		return nil, l.err
	}
	return stubSession{out: l.out}, nil
}

type recordingNavigator struct{ seen []history.Record }

func (n *recordingNavigator) Navigate(_ context.Context, rec history.Record) {
	n.seen = append(n.seen, rec)
}

type failingRecorder struct{}

func (failingRecorder) Insert(context.Context, history.Record) (int64, error) {
	return 0, faults.Wrap(faults.KindInsert, "insert history", errors.New("disk full"))
}

type harness struct {
	fs        afero.Fs
	store     *history.Store
	engine    *model.Engine
	navigator *recordingNavigator
	orch      *Orchestrator
	now       time.Time
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeMetadata(t *testing.T) string {
	t.Helper()
	raw, err := json.Marshal(model.Metadata{
		InputShape:  []int64{1, 224, 224, 3},
		OutputShape: []int64{1, 3},
		Classes:     classes,
		ImageSize:   224,
	})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "model_metadata.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 180, G: 40, B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func newHarness(t *testing.T, loader model.Loader, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		fs:        afero.NewMemMapFs(),
		navigator: &recordingNavigator{},
		now:       time.UnixMilli(1700000000123),
	}
	logger := discardLogger()
	clock := func() time.Time { return h.now }

	store, err := history.OpenAndInit(context.Background(), filepath.Join(t.TempDir(), "pomegranate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() }) //nolint:errcheck
	h.store = store

	h.engine = model.NewEngine(writeMetadata(t), loader, logger)
	t.Cleanup(func() { h.engine.Close() }) //nolint:errcheck

	cfg := Config{
		Archiver:  archive.New(h.fs, "/data", archive.WithClock(clock), archive.WithLogger(logger)),
		Encoder:   tensor.NewCodec(h.fs, logger),
		Predictor: h.engine,
		Recorder:  store,
		Navigator: h.navigator,
		Logger:    logger,
		Clock:     clock,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	orch, err := New(cfg)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) records(t *testing.T) []history.Record {
	t.Helper()
	recs, err := h.store.ListAll(context.Background())
	require.NoError(t, err)
	return recs
}

func TestSubmitRecordsHistory(t *testing.T) {
	h := newHarness(t, stubLoader{out: []float32{0.1, 0.2, 0.7}})
	require.NoError(t, afero.WriteFile(h.fs, "/tmp/a.jpg", jpegBytes(t), 0o644))

	h.orch.Select(archive.SourceImage{URI: "/tmp/a.jpg"})
	out, err := h.orch.Submit(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, StateDone, h.orch.State())
	assert.NotEmpty(t, out.SubmissionID)
	assert.True(t, h.orch.Selection().Empty(), "selection resets after success")

	recs := h.records(t)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "bacterial", rec.Type)
	assert.Equal(t, "unknown", rec.Location)
	assert.Equal(t, int64(1700000000123), rec.Time)
	assert.Equal(t, "/data/.pomegranate/image_1700000000123.jpg", rec.ImagePath)
	assert.True(t, strings.Contains(rec.ImagePath, ".pomegranate/image_"))

	archived, err := afero.ReadFile(h.fs, rec.ImagePath)
	require.NoError(t, err)
	assert.Equal(t, jpegBytes(t), archived)

	require.NotNil(t, out.Prediction)
	assert.Equal(t, "healthy", out.Prediction.TopClass)
	require.Len(t, h.navigator.seen, 1)
	assert.Equal(t, rec, h.navigator.seen[0])
}

func TestSubmitArgMaxPolicyAndLocation(t *testing.T) {
	h := newHarness(t, stubLoader{out: []float32{0.1, 0.7, 0.2}}, func(cfg *Config) {
		cfg.Policy = predict.ArgMaxLabel{}
	})
	require.NoError(t, afero.WriteFile(h.fs, "/tmp/leaf.jpg", jpegBytes(t), 0o644))

	out, err := h.orch.SubmitImage(context.Background(), archive.SourceImage{URI: "/tmp/leaf.jpg"}, "orchard 4")
	require.NoError(t, err)
	require.NotNil(t, out.Record)
	assert.Equal(t, "fungal", out.Record.Type)
	assert.Equal(t, "orchard 4", out.Record.Location)
}

func TestSubmitWithoutSelectionIsNoop(t *testing.T) {
	h := newHarness(t, stubLoader{out: []float32{1, 0, 0}})

	out, err := h.orch.Submit(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, out.State)
	assert.Equal(t, StateIdle, h.orch.State())
	assert.Empty(t, h.records(t))
	assert.Empty(t, h.navigator.seen)

	exists, err := afero.DirExists(h.fs, "/data/.pomegranate")
	require.NoError(t, err)
	assert.False(t, exists, "archive untouched")
}

func TestCancelClearsSelection(t *testing.T) {
	h := newHarness(t, stubLoader{out: []float32{1, 0, 0}})
	h.orch.Select(archive.SourceImage{URI: "/tmp/a.jpg"})
	h.orch.Cancel()

	out, err := h.orch.Submit(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, out.State)
	assert.Empty(t, h.records(t))
}

func TestLoadFailureLeavesStoreUnchanged(t *testing.T) {
	h := newHarness(t, stubLoader{err: errors.New("model file missing")})
	require.NoError(t, afero.WriteFile(h.fs, "/tmp/a.jpg", jpegBytes(t), 0o644))

	src := archive.SourceImage{URI: "/tmp/a.jpg"}
	h.orch.Select(src)
	out, err := h.orch.Submit(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrLoad)
	assert.Equal(t, StateAborted, out.State)
	assert.Equal(t, faults.KindLoad, out.Reason)
	assert.True(t, h.orch.Degraded())

	assert.Empty(t, h.records(t))
	assert.Empty(t, h.navigator.seen)
	assert.Equal(t, src, h.orch.Selection(), "selection kept for retry")

	// The archived copy is not rolled back.
	exists, err := afero.Exists(h.fs, out.Archived.Path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDecodeFailureAborts(t *testing.T) {
	h := newHarness(t, stubLoader{out: []float32{1, 0, 0}})
	require.NoError(t, afero.WriteFile(h.fs, "/tmp/broken.jpg", []byte("not an image"), 0o644))

	h.orch.Select(archive.SourceImage{URI: "/tmp/broken.jpg"})
	out, err := h.orch.Submit(context.Background(), "")
	assert.ErrorIs(t, err, faults.ErrDecode)
	assert.Equal(t, StateAborted, h.orch.State())
	assert.Equal(t, faults.KindDecode, out.Reason)
	assert.Empty(t, h.records(t))
	assert.False(t, h.orch.Degraded())
}

func TestArchiveFailureAborts(t *testing.T) {
	h := newHarness(t, stubLoader{out: []float32{1, 0, 0}})

	h.orch.Select(archive.SourceImage{URI: "/tmp/missing.jpg"})
	out, err := h.orch.Submit(context.Background(), "")
	assert.ErrorIs(t, err, faults.ErrIO)
	assert.Equal(t, faults.KindIO, out.Reason)
	assert.Empty(t, out.Archived.Path)
	assert.Empty(t, h.records(t))
}

func TestInsertFailureAborts(t *testing.T) {
	h := newHarness(t, stubLoader{out: []float32{1, 0, 0}}, func(cfg *Config) {
		cfg.Recorder = failingRecorder{}
	})
	require.NoError(t, afero.WriteFile(h.fs, "/tmp/a.jpg", jpegBytes(t), 0o644))

	h.orch.Select(archive.SourceImage{URI: "/tmp/a.jpg"})
	out, err := h.orch.Submit(context.Background(), "")
	assert.ErrorIs(t, err, faults.ErrInsert)
	assert.Equal(t, StateAborted, out.State)
	assert.Nil(t, out.Record)
	assert.Empty(t, h.navigator.seen)
	assert.False(t, h.orch.Selection().Empty())
}

func TestCancelledSubmissionCarriesReason(t *testing.T) {
	h := newHarness(t, stubLoader{out: []float32{1, 0, 0}})
	require.NoError(t, afero.WriteFile(h.fs, "/tmp/a.jpg", jpegBytes(t), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := h.orch.SubmitImage(ctx, archive.SourceImage{URI: "/tmp/a.jpg"}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, faults.ErrCancelled)
	assert.Equal(t, StateAborted, out.State)
	assert.Equal(t, faults.KindCancelled, out.Reason)
	assert.Empty(t, h.records(t))
	assert.False(t, h.orch.Selection().Empty())
}

func TestRetryAfterFailureSucceeds(t *testing.T) {
	h := newHarness(t, stubLoader{out: []float32{1, 0, 0}})

	h.orch.Select(archive.SourceImage{URI: "/tmp/late.jpg"})
	_, err := h.orch.Submit(context.Background(), "")
	require.Error(t, err)

	require.NoError(t, afero.WriteFile(h.fs, "/tmp/late.jpg", jpegBytes(t), 0o644))
	out, err := h.orch.Submit(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, StateDone, out.State)
	assert.Len(t, h.records(t), 1)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateAborted.Terminal())
	assert.False(t, StatePredicting.Terminal())
	assert.False(t, StateIdle.Terminal())
}
