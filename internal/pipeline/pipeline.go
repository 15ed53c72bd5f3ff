package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/akash-ravi/pomegranate-app/internal/archive"
	"github.com/akash-ravi/pomegranate-app/internal/faults"
	"github.com/akash-ravi/pomegranate-app/internal/history"
	"github.com/akash-ravi/pomegranate-app/internal/logging"
	"github.com/akash-ravi/pomegranate-app/internal/model"
	"github.com/akash-ravi/pomegranate-app/internal/predict"
	"github.com/akash-ravi/pomegranate-app/internal/tensor"
)

// State is a submission lifecycle position.
type State string

const (
	StateIdle       State = "idle"
	StateArchiving  State = "archiving"
	StateEncoding   State = "encoding"
	StatePredicting State = "predicting"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateAborted    State = "aborted"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// batchSize is fixed: one selection yields one tensor.
const batchSize = 1

// Archiver copies a selection into durable storage.
type Archiver interface {
	Archive(ctx context.Context, src archive.SourceImage) (archive.ArchivedImage, error)
}

// Encoder turns an image file into a canonical tensor.
type Encoder interface {
	EncodeFile(ctx context.Context, uri string) (*tensor.Canonical, error)
}

// Predictor runs the classifier.
type Predictor interface {
	Predict(ctx context.Context, input *tensor.Canonical) (model.RawScores, error)
	Classes() []string
	Degraded() bool
}

// Recorder persists a history record and returns its id.
type Recorder interface {
	Insert(ctx context.Context, rec history.Record) (int64, error)
}

// Navigator is told once about each committed record, so a hosting UI can
// move to its history view.
type Navigator interface {
	Navigate(ctx context.Context, rec history.Record)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, rec history.Record)

func (f NavigatorFunc) Navigate(ctx context.Context, rec history.Record) { f(ctx, rec) }

// Outcome summarizes one submission.
type Outcome struct {
	SubmissionID string
	State        State
	Archived     archive.ArchivedImage
	Prediction   *predict.Result
	Record       *history.Record
	// Reason and Err are set when State is StateAborted.
	Reason faults.Kind
	Err    error
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Archiver        Archiver
	Encoder         Encoder
	Predictor       Predictor
	Recorder        Recorder
	Policy          predict.LabelPolicy
	Navigator       Navigator
	Logger          *slog.Logger
	Clock           func() time.Time
	DefaultLocation string
}

// Orchestrator sequences archive, encode, predict and persist for the
// current selection. Submissions run one at a time.
type Orchestrator struct {
	archiver  Archiver
	encoder   Encoder
	predictor Predictor
	recorder  Recorder
	policy    predict.LabelPolicy
	navigator Navigator
	logger    *slog.Logger
	now       func() time.Time
	location  string

	submitMu sync.Mutex

	mu        sync.Mutex
	state     State
	selection archive.SourceImage
}

// New validates cfg and builds an orchestrator in the idle state.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Archiver == nil || cfg.Encoder == nil || cfg.Predictor == nil || cfg.Recorder == nil {
		return nil, eris.New("pipeline requires archiver, encoder, predictor, and recorder")
	}
	o := &Orchestrator{
		archiver:  cfg.Archiver,
		encoder:   cfg.Encoder,
		predictor: cfg.Predictor,
		recorder:  cfg.Recorder,
		policy:    cfg.Policy,
		navigator: cfg.Navigator,
		logger:    cfg.Logger,
		now:       cfg.Clock,
		location:  strings.TrimSpace(cfg.DefaultLocation),
		state:     StateIdle,
	}
	if o.policy == nil {
		o.policy = predict.FixedLabel{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.location == "" {
		o.location = history.DefaultLocation
	}
	return o, nil
}

// Select replaces the current selection and returns to idle.
func (o *Orchestrator) Select(src archive.SourceImage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selection = src
	o.state = StateIdle
}

// Cancel drops the current selection.
func (o *Orchestrator) Cancel() {
	o.Select(archive.SourceImage{})
}

// Selection returns the current selection.
func (o *Orchestrator) Selection() archive.SourceImage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selection
}

// State returns the lifecycle position of the latest submission.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Degraded reports that the classifier failed to load and submissions
// cannot succeed.
func (o *Orchestrator) Degraded() bool {
	return o.predictor.Degraded()
}

// SubmitImage selects src and submits it.
func (o *Orchestrator) SubmitImage(ctx context.Context, src archive.SourceImage, location string) (Outcome, error) {
	o.submitMu.Lock()
	defer o.submitMu.Unlock()
	o.Select(src)
	return o.submit(ctx, location)
}

// Submit runs the pipeline for the current selection. An empty selection is
// a no-op that leaves the orchestrator idle. On failure the selection is kept
// so the caller can retry; an image that was already archived stays on disk.
func (o *Orchestrator) Submit(ctx context.Context, location string) (Outcome, error) {
	o.submitMu.Lock()
	defer o.submitMu.Unlock()
	return o.submit(ctx, location)
}

func (o *Orchestrator) submit(ctx context.Context, location string) (Outcome, error) {
	src := o.Selection()
	out := Outcome{SubmissionID: uuid.NewString(), State: StateIdle}
	logger := o.logger.With(logging.FieldSubmission, out.SubmissionID)

	if src.Empty() {
		logger.Debug("nothing selected, skipping submission")
		return out, nil
	}
	location = strings.TrimSpace(location)
	if location == "" {
		location = o.location
	}
	start := time.Now()

	o.transition(&out, StateArchiving)
	archived, err := o.archiver.Archive(ctx, src)
	if err != nil {
		return o.abort(logger, out, err)
	}
	out.Archived = archived
	logger.Info("image archived", "source", src.URI, "path", archived.Path)

	o.transition(&out, StateEncoding)
	input, err := o.encoder.EncodeFile(ctx, archived.Path)
	if err != nil {
		return o.abort(logger, out, err)
	}

	o.transition(&out, StatePredicting)
	raw, err := o.predictor.Predict(ctx, input)
	if err != nil {
		return o.abort(logger, out, err)
	}
	result, err := predict.Interpret(raw, batchSize, 0, o.predictor.Classes(), o.policy)
	if err != nil {
		return o.abort(logger, out, err)
	}
	out.Prediction = result
	if result.Label != result.TopClass {
		logger.Warn("stored label differs from model output",
			"policy", o.policy.Name(),
			"label", result.Label,
			"top_class", result.TopClass,
			"confidence", result.Confidence,
		)
	}

	o.transition(&out, StatePersisting)
	rec := history.Record{
		ImagePath: archived.Path,
		Type:      result.Label,
		Location:  location,
		Time:      o.now().UnixMilli(),
	}
	id, err := o.recorder.Insert(ctx, rec)
	if err != nil {
		return o.abort(logger, out, err)
	}
	rec.ID = id
	out.Record = &rec

	o.mu.Lock()
	o.state = StateDone
	o.selection = archive.SourceImage{}
	o.mu.Unlock()
	out.State = StateDone

	logger.Info("submission recorded",
		"id", rec.ID,
		"label", rec.Type,
		"confidence", result.Confidence,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	if o.navigator != nil {
		o.navigator.Navigate(ctx, rec)
	}
	return out, nil
}

func (o *Orchestrator) transition(out *Outcome, next State) {
	o.mu.Lock()
	o.state = next
	o.mu.Unlock()
	out.State = next
}

func (o *Orchestrator) abort(logger *slog.Logger, out Outcome, err error) (Outcome, error) {
	failed := out.State
	o.mu.Lock()
	o.state = StateAborted
	o.mu.Unlock()

	out.State = StateAborted
	out.Reason = faults.KindOf(err)
	if out.Reason == faults.KindCancelled {
		err = faults.Wrap(faults.KindCancelled, string(failed), err)
	}
	out.Err = err

	if out.Reason == faults.KindLoad {
		logger.Error("classification unavailable", "step", failed, "error", err)
	} else {
		logger.Warn("submission aborted", "step", failed, "reason", out.Reason, "error", err)
	}
	return out, err
}
