package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akash-ravi/pomegranate-app/internal/archive"
	"github.com/akash-ravi/pomegranate-app/internal/faults"
	"github.com/akash-ravi/pomegranate-app/internal/history"
	"github.com/akash-ravi/pomegranate-app/internal/logging"
	"github.com/akash-ravi/pomegranate-app/internal/model"
	"github.com/akash-ravi/pomegranate-app/internal/pipeline"
	"github.com/akash-ravi/pomegranate-app/internal/tensor"
)

type fakePredictor struct {
	scores   []float32
	err      error
	degraded bool
}

func (p *fakePredictor) Predict(_ context.Context, input *tensor.Canonical) (model.RawScores, error) {
	if err := input.Validate(); err != nil {
		return model.RawScores{}, err
	}
	if p.err != nil {
		return model.RawScores{}, p.err
	}
	return model.RawScores{Shape: []int64{1, int64(len(p.scores))}, Data: append([]float32(nil), p.scores...)}, nil
}

func (p *fakePredictor) Classes() []string { return []string{"bacterial", "fungal", "healthy"} }
func (p *fakePredictor) Degraded() bool    { return p.degraded }

type testServer struct {
	fs        afero.Fs
	store     *history.Store
	predictor *fakePredictor
	router    http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logging.NewNop()
	fs := afero.NewMemMapFs()
	predictor := &fakePredictor{scores: []float32{0.2, 0.1, 0.7}}

	store, err := history.OpenAndInit(context.Background(), filepath.Join(t.TempDir(), "pomegranate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() }) //nolint:errcheck

	codec := tensor.NewCodec(fs, logger)
	orch, err := pipeline.New(pipeline.Config{
		Archiver:  archive.New(fs, "/data", archive.WithLogger(logger)),
		Encoder:   codec,
		Predictor: predictor,
		Recorder:  store,
		Logger:    logger,
	})
	require.NoError(t, err)

	h := NewHandler(Deps{
		Encoder:   codec,
		Predictor: predictor,
		Submitter: orch,
		History:   store,
		FS:        fs,
		InboxDir:  "/data/inbox",
		Logger:    logger,
	})
	return &testServer{
		fs:        fs,
		store:     store,
		predictor: predictor,
		router:    h.Routes([]string{"http://localhost:*"}),
	}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func jpegFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, path, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	s.predictor.degraded = true
	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded"}`, rec.Body.String())
}

func TestPredictFromImageDoesNotPersist(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, uploadRequest(t, "/predict/image", "leaf.jpg", jpegFixture(t, 40, 30), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "bacterial", resp.Label)
	assert.Equal(t, "healthy", resp.TopClass)
	assert.InDelta(t, 0.7, resp.Confidence, 1e-6)
	assert.Len(t, resp.Probabilities, 3)

	count, err := s.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPredictFromImageRejectsGarbage(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, uploadRequest(t, "/predict/image", "x.jpg", []byte("nope"), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/predict/image", nil)
	rec = s.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictRawTensor(t *testing.T) {
	s := newTestServer(t)

	payload, err := json.Marshal(PredictionRequest{Image: make([]float32, tensor.Elements(tensor.CanonicalShape))})
	require.NoError(t, err)
	rec := s.do(t, httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(payload)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader([]byte(`{"image":[1,2,3]}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader([]byte(`{`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictWhenModelUnavailable(t *testing.T) {
	s := newTestServer(t)
	s.predictor.err = faults.Wrap(faults.KindLoad, "load model", errors.New("missing"))

	rec := s.do(t, uploadRequest(t, "/predict/image", "leaf.jpg", jpegFixture(t, 8, 8), nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitThenHistoryLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, uploadRequest(t, "/submit", "leaf.png", jpegFixture(t, 64, 48), map[string]string{"location": "orchard"}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sub SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	require.NotNil(t, sub.Record)
	assert.Equal(t, "done", sub.State)
	assert.Equal(t, "bacterial", sub.Record.Type)
	assert.Equal(t, "orchard", sub.Record.Location)
	assert.Equal(t, "healthy", sub.TopClass)
	assert.Contains(t, sub.ArchivedPath, "/data/.pomegranate/image_")

	inbox, err := afero.ReadDir(s.fs, "/data/inbox")
	require.NoError(t, err)
	assert.Empty(t, inbox, "staged upload removed")

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list HistoryListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Records, 1)
	assert.Equal(t, *sub.Record, list.Records[0])

	id := strconv.FormatInt(sub.Record.ID, 10)
	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/history/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/history/"+id+"/thumbnail?size=32", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	thumb, _, err := image.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 32, thumb.Bounds().Dx())
	assert.Equal(t, 24, thumb.Bounds().Dy())

	rec = s.do(t, httptest.NewRequest(http.MethodDelete, "/history/"+id, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodDelete, "/history/"+id, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code, "repeated delete is a no-op")
	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/history/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Deleting the record leaves the archived image in place.
	exists, err := afero.Exists(s.fs, sub.ArchivedPath)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSubmitFailureReportsReason(t *testing.T) {
	s := newTestServer(t)
	s.predictor.err = faults.Wrap(faults.KindLoad, "load model", errors.New("missing"))

	rec := s.do(t, uploadRequest(t, "/submit", "leaf.jpg", jpegFixture(t, 16, 16), nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var sub SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, "aborted", sub.State)
	assert.Equal(t, string(faults.KindLoad), sub.Reason)
	assert.NotEmpty(t, sub.ArchivedPath)

	count, err := s.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSubmitCancelledReportsReason(t *testing.T) {
	s := newTestServer(t)
	s.predictor.err = context.Canceled

	rec := s.do(t, uploadRequest(t, "/submit", "leaf.jpg", jpegFixture(t, 16, 16), nil))
	assert.Equal(t, http.StatusRequestTimeout, rec.Code)

	var sub SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, "aborted", sub.State)
	assert.Equal(t, string(faults.KindCancelled), sub.Reason)
}

func TestHistoryBadAndMissingIDs(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/history/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/history/42/thumbnail", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodDelete, "/history/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodDelete, "/history/999", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"records":[]}`, rec.Body.String())
}

func TestThumbnailMissingArchiveFile(t *testing.T) {
	s := newTestServer(t)
	id, err := s.store.Insert(context.Background(), history.Record{
		ImagePath: "/data/.pomegranate/image_1.jpg",
		Type:      "bacterial",
		Time:      time.Now().UnixMilli(),
	})
	require.NoError(t, err)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/history/"+strconv.FormatInt(id, 10)+"/thumbnail", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/submit", nil)
	req.Header.Set("Origin", "http://localhost:8081")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := s.do(t, req)

	assert.Equal(t, "http://localhost:8081", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/submit", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = s.do(t, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
