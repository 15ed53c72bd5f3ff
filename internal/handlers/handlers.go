package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/akash-ravi/pomegranate-app/internal/archive"
	"github.com/akash-ravi/pomegranate-app/internal/faults"
	"github.com/akash-ravi/pomegranate-app/internal/history"
	"github.com/akash-ravi/pomegranate-app/internal/logging"
	"github.com/akash-ravi/pomegranate-app/internal/pipeline"
	"github.com/akash-ravi/pomegranate-app/internal/predict"
	"github.com/akash-ravi/pomegranate-app/internal/tensor"
)

// maxUploadBytes bounds multipart image uploads.
const maxUploadBytes = 20 << 20

// Encoder turns raw image bytes into a canonical tensor.
type Encoder interface {
	Encode(data []byte) (*tensor.Canonical, error)
}

// Submitter runs the full classify-and-record pipeline.
type Submitter interface {
	SubmitImage(ctx context.Context, src archive.SourceImage, location string) (pipeline.Outcome, error)
}

// HistoryStore is the read and delete side of the history table.
type HistoryStore interface {
	ListAll(ctx context.Context) ([]history.Record, error)
	Get(ctx context.Context, id int64) (*history.Record, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// Deps wires a Handler.
type Deps struct {
	Encoder   Encoder
	Predictor pipeline.Predictor
	Policy    predict.LabelPolicy
	Submitter Submitter
	History   HistoryStore
	// FS holds the upload inbox and the archived images.
	FS       afero.Fs
	InboxDir string
	Logger   *slog.Logger
}

type Handler struct {
	encoder   Encoder
	predictor pipeline.Predictor
	policy    predict.LabelPolicy
	submitter Submitter
	history   HistoryStore
	fs        afero.Fs
	inboxDir  string
	logger    *slog.Logger
}

func NewHandler(deps Deps) *Handler {
	h := &Handler{
		encoder:   deps.Encoder,
		predictor: deps.Predictor,
		policy:    deps.Policy,
		submitter: deps.Submitter,
		history:   deps.History,
		fs:        deps.FS,
		inboxDir:  deps.InboxDir,
		logger:    deps.Logger,
	}
	if h.policy == nil {
		h.policy = predict.FixedLabel{}
	}
	if h.fs == nil {
		h.fs = afero.NewOsFs()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Health reports whether the classifier is usable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.predictor != nil && h.predictor.Degraded() {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Predict classifies a raw canonical tensor sent as JSON.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req PredictionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	shape := make([]int64, len(tensor.CanonicalShape))
	copy(shape, tensor.CanonicalShape)
	input := &tensor.Canonical{Shape: shape, Data: req.Image}

	resp, err := h.classify(r.Context(), input)
	if err != nil {
		h.fail(w, r, "prediction failed", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// PredictFromImage classifies an uploaded image without recording it.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	data, _, err := readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	input, err := h.encoder.Encode(data)
	if err != nil {
		h.fail(w, r, "image rejected", err)
		return
	}
	resp, err := h.classify(r.Context(), input)
	if err != nil {
		h.fail(w, r, "prediction failed", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Submit stores an uploaded image in the inbox and runs it through the
// pipeline. A committed record answers 201.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	data, filename, err := readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	location := r.FormValue("location")

	inboxPath, err := h.stage(data, filename)
	if err != nil {
		h.fail(w, r, "stage upload", err)
		return
	}
	// The archive holds its own copy once the pipeline has run.
	defer func() {
		if rmErr := h.fs.Remove(inboxPath); rmErr != nil {
			h.logger.Warn("remove staged upload", "path", inboxPath, "error", rmErr)
		}
	}()

	out, err := h.submitter.SubmitImage(r.Context(), archive.SourceImage{URI: inboxPath, Filename: filename}, location)
	if err != nil {
		status := statusFor(err)
		h.logger.Warn("submission failed",
			logging.FieldSubmission, out.SubmissionID,
			"reason", out.Reason,
			"error", err,
		)
		writeJSON(w, status, SubmitResponse{
			SubmissionID: out.SubmissionID,
			State:        string(out.State),
			Reason:       string(out.Reason),
			ArchivedPath: out.Archived.Path,
			Error:        err.Error(),
		})
		return
	}

	resp := SubmitResponse{
		SubmissionID: out.SubmissionID,
		State:        string(out.State),
		ArchivedPath: out.Archived.Path,
		Record:       out.Record,
	}
	if out.Prediction != nil {
		resp.TopClass = out.Prediction.TopClass
		resp.Confidence = out.Prediction.Confidence
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.history.ListAll(r.Context())
	if err != nil {
		h.fail(w, r, "list history", err)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, HistoryListResponse{Records: records})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteHistory removes a record. Unknown ids are a no-op and also answer 204.
func (h *Handler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid history id")
		return
	}
	removed, err := h.history.Delete(r.Context(), id)
	if err != nil {
		h.fail(w, r, "delete history", err)
		return
	}
	if !removed {
		h.logger.Debug("delete of unknown history record", "id", id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Thumbnail serves a JPEG preview of a record's archived image.
func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	size := uint(archive.DefaultThumbnailSize)
	if raw := r.URL.Query().Get("size"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 16)
		if err != nil || parsed == 0 {
			writeError(w, http.StatusBadRequest, "invalid thumbnail size")
			return
		}
		size = uint(parsed)
	}

	data, err := archive.Thumbnail(h.fs, rec.ImagePath, size)
	if err != nil {
		if faults.KindOf(err) == faults.KindIO {
			writeError(w, http.StatusNotFound, "archived image missing")
			return
		}
		h.fail(w, r, "render thumbnail", err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (h *Handler) classify(ctx context.Context, input *tensor.Canonical) (*PredictionResponse, error) {
	raw, err := h.predictor.Predict(ctx, input)
	if err != nil {
		return nil, err
	}
	classes := h.predictor.Classes()
	result, err := predict.Interpret(raw, tensor.Batch, 0, classes, h.policy)
	if err != nil {
		return nil, err
	}
	return &PredictionResponse{
		Label:         result.Label,
		TopClass:      result.TopClass,
		Confidence:    result.Confidence,
		Probabilities: predict.Distribution(result.Scores[result.BatchIndex], classes),
	}, nil
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*history.Record, bool) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid history id")
		return nil, false
	}
	rec, err := h.history.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get history", err)
		return nil, false
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "history record not found")
		return nil, false
	}
	return rec, true
}

// stage writes an upload into the inbox under a collision-free name.
func (h *Handler) stage(data []byte, filename string) (string, error) {
	if err := h.fs.MkdirAll(h.inboxDir, 0o755); err != nil {
		return "", faults.Wrap(faults.KindIO, "stage upload", err)
	}
	path := filepath.Join(h.inboxDir, uuid.NewString()+strings.ToLower(filepath.Ext(filename)))
	if err := afero.WriteFile(h.fs, path, data, 0o644); err != nil {
		return "", faults.Wrap(faults.KindIO, "stage upload", err)
	}
	return path, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "path", r.URL.Path, "error", err)
	} else {
		h.logger.Debug(msg, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}

// statusFor maps a failure kind to an HTTP status.
func statusFor(err error) int {
	switch faults.KindOf(err) {
	case faults.KindDecode, faults.KindShapeMismatch:
		return http.StatusBadRequest
	case faults.KindFormat:
		return http.StatusUnsupportedMediaType
	case faults.KindLoad:
		return http.StatusServiceUnavailable
	case faults.KindCancelled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", errors.New("no image uploaded")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", errors.New("failed to read image")
	}
	return data, header.Filename, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
