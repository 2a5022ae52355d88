// Package export turns a finished recording into a persisted case. The
// steps run in order and a failed upload removes the case created before
// it.
package export

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/ecgcapture/internal/acquisition"
	"codeberg.org/mutker/ecgcapture/internal/buffer"
	"codeberg.org/mutker/ecgcapture/internal/casestore"
	"codeberg.org/mutker/ecgcapture/internal/ecg"
	"codeberg.org/mutker/ecgcapture/internal/errors"
	"codeberg.org/mutker/ecgcapture/internal/logger"
	"codeberg.org/mutker/ecgcapture/internal/metrics"
	"codeberg.org/mutker/ecgcapture/internal/predict"
	"codeberg.org/mutker/ecgcapture/internal/store"
	"codeberg.org/mutker/ecgcapture/internal/synth"
)

const (
	// StatusExamined is written to the patient after a successful upload.
	StatusExamined = casestore.StatusExamined

	// ImageNote is the case note for a captured document or photo.
	ImageNote = "Captured image"

	compensationTimeout = 15 * time.Second
)

// Deps wires a Workflow. Session, Gate, Predictor and Journal are
// optional. Without a Gate captured images are filed unscored.
type Deps struct {
	Session   Session
	Recording Recording
	Synth     Synthesizer
	Gate      QualityGate
	Cases     CaseStore
	Patients  PatientStore
	Predictor predict.Predictor
	Journal   Journal
	Metrics   metrics.Collector
	Logger    logger.Logger
	Now       func() time.Time
}

type Workflow struct {
	d       Deps
	running atomic.Bool
}

func New(d Deps) (*Workflow, error) {
	errFactory := errors.New()

	switch {
	case d.Recording == nil:
		return nil, errFactory.WithMessage(ErrMissingDependency, "recording")
	case d.Synth == nil:
		return nil, errFactory.WithMessage(ErrMissingDependency, "synthesizer")
	case d.Cases == nil:
		return nil, errFactory.WithMessage(ErrMissingDependency, "case store")
	case d.Patients == nil:
		return nil, errFactory.WithMessage(ErrMissingDependency, "patient store")
	case d.Logger == nil:
		return nil, errFactory.WithMessage(ErrMissingDependency, "logger")
	}

	if d.Metrics == nil {
		d.Metrics = metrics.Noop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	return &Workflow{d: d}, nil
}

// Running reports whether an export is in flight.
func (w *Workflow) Running() bool {
	return w.running.Load()
}

// Run exports the current recording for patientID. The returned error is
// also carried in Result.Err. Only one export or capture runs at a time.
func (w *Workflow) Run(ctx context.Context, patientID string, progress Progress) (Result, error) {
	return w.exclusive(ctx, patientID, progress, func(progress Progress) (Result, string) {
		return w.run(ctx, patientID, progress)
	})
}

// RunImage scores an already encoded image and files it as a new case for
// patientID. An empty filename is replaced by ImageFileName at the time the
// case is created.
func (w *Workflow) RunImage(ctx context.Context, patientID string, data []byte, filename string, progress Progress) (Result, error) {
	return w.exclusive(ctx, patientID, progress, func(progress Progress) (Result, string) {
		return w.runImage(ctx, patientID, data, filename, progress), ""
	})
}

// exclusive runs fn unless another export holds the workflow, then logs,
// counts and journals the outcome.
func (w *Workflow) exclusive(ctx context.Context, patientID string, progress Progress, fn func(Progress) (Result, string)) (Result, error) {
	errFactory := errors.New()

	if !w.running.CompareAndSwap(false, true) {
		err := errFactory.New(ErrExportInProgress)
		return Result{Outcome: OutcomeAborted, Err: err, Message: "An export is already in progress."}, err
	}
	defer w.running.Store(false)

	if progress == nil {
		progress = func(int, string) {}
	}

	start := w.d.Now()
	res, sessionID := fn(progress)
	res.Duration = w.d.Now().Sub(start)

	if res.Err != nil {
		res.Outcome = OutcomeAborted
		w.d.Logger.Warn().
			Err(res.Err).
			Str("error_code", string(errors.CodeOf(res.Err))).
			Str("patient_id", patientID).
			Str("case_id", res.CaseID).
			Msg("Export aborted")
	} else {
		res.Outcome = OutcomeSuccess
		w.d.Logger.Info().
			Str("patient_id", patientID).
			Str("case_id", res.CaseID).
			Int("warnings", len(res.Warnings)).
			Dur("duration", res.Duration).
			Msg("Export finished")
	}

	w.d.Metrics.ExportFinished(string(res.Outcome), res.Duration)
	w.journal(ctx, sessionID, patientID, res)

	return res, res.Err
}

func (w *Workflow) run(ctx context.Context, patientID string, progress Progress) (Result, string) {
	errFactory := errors.New()

	var sessionID string
	if w.d.Session != nil {
		if w.d.Session.State() == acquisition.Recording {
			w.d.Session.Stop()
		}
		sessionID = w.d.Session.SessionID()
	}

	snap := w.d.Recording.Snapshot()
	if snap.Series.Len(ecg.Reference) == 0 {
		return Result{
			Err:     errFactory.WithMessage(errors.ErrEmptyData, "no recorded samples"),
			Message: "No recorded data. Record for at least a few seconds.",
		}, sessionID
	}

	if strings.TrimSpace(patientID) == "" {
		return Result{
			Err:     errFactory.New(ErrInvalidPatient),
			Message: "No patient selected.",
		}, sessionID
	}

	progress(0, "Generating ECG image...")

	img, err := w.d.Synth.Synthesize(snap.Series)
	var data []byte
	if err == nil {
		data, err = w.d.Synth.Encode(img)
	}
	if err != nil {
		if !errors.HasCode(err, errors.ErrSynthesis) {
			err = errFactory.Wrap(errors.ErrSynthesis, err)
		}
		return Result{Err: err, Message: "Failed to generate the ECG image."}, sessionID
	}

	var res Result
	if w.d.Gate != nil {
		report := w.d.Gate.Assess(img)
		res.Quality = &report
		progress(10, fmt.Sprintf("Image quality: %s (%.0f)", report.Verdict, report.BlurScore))
	}

	ok := w.persist(ctx, upload{
		patientID: patientID,
		note:      Note(snap.Duration()),
		data:      data,
		filename:  synth.FileName,
	}, progress, &res)
	if !ok {
		return res, sessionID
	}

	if w.d.Predictor != nil {
		w.predict(ctx, snap, &res)
	}

	progress(100, "Done.")
	res.Message = "Measurement saved."

	return res, sessionID
}

func (w *Workflow) runImage(ctx context.Context, patientID string, data []byte, filename string, progress Progress) Result {
	errFactory := errors.New()

	if len(data) == 0 {
		return Result{
			Err:     errFactory.WithMessage(errors.ErrEmptyData, "empty image"),
			Message: "No image to save.",
		}
	}

	if strings.TrimSpace(patientID) == "" {
		return Result{
			Err:     errFactory.New(ErrInvalidPatient),
			Message: "No patient selected.",
		}
	}

	progress(0, "Checking image quality...")

	var res Result
	if w.d.Gate != nil {
		report, err := w.d.Gate.AssessBytes(data)
		if err != nil {
			return Result{Err: err, Message: "The image could not be read."}
		}
		res.Quality = &report
		progress(10, fmt.Sprintf("Image quality: %s (%.0f)", report.Verdict, report.BlurScore))
	}

	name := ImageFileName
	if filename = strings.TrimSpace(filename); filename != "" {
		name = func(time.Time) string { return filename }
	}

	ok := w.persist(ctx, upload{
		patientID: patientID,
		note:      ImageNote,
		data:      data,
		filename:  name,
	}, progress, &res)
	if !ok {
		return res
	}

	progress(100, "Done.")
	res.Message = "Image saved."

	return res
}

// upload is one image headed for a new case.
type upload struct {
	patientID string
	note      string
	data      []byte
	filename  func(measuredAt time.Time) string
}

// persist creates the case, uploads the image and marks the patient
// examined. A failed upload deletes the case again. It reports false when
// res.Err has been set.
func (w *Workflow) persist(ctx context.Context, u upload, progress Progress, res *Result) bool {
	errFactory := errors.New()

	progress(20, "Creating case...")

	measuredAt := w.d.Now()
	caseID, err := w.d.Cases.CreateCase(ctx, u.patientID, measuredAt, u.note)
	if err != nil {
		res.Err = errFactory.Wrap(errors.ErrPersistence, err)
		res.Message = "Failed to create the case."
		return false
	}
	res.CaseID = caseID

	progress(50, "Uploading image...")

	if err := w.d.Cases.UploadImage(ctx, caseID, u.data, u.filename(measuredAt)); err != nil {
		progress(50, "Upload failed, rolling back...")

		res.Err = errFactory.Wrap(errors.ErrPersistence, err)
		res.Message = "Image upload failed. The case was removed."

		if cerr := w.compensate(ctx, caseID); cerr != nil {
			res.Warnings = append(res.Warnings, cerr)
			res.Message = "Image upload failed and the case could not be removed."
		}
		return false
	}

	progress(80, "Updating patient...")

	if err := w.d.Patients.UpdateStatus(ctx, u.patientID, StatusExamined); err != nil {
		w.d.Logger.Warn().Err(err).Str("patient_id", u.patientID).Msg("Failed to update patient status")
		res.Warnings = append(res.Warnings, errFactory.Wrap(errors.ErrBestEffort, err))
	}

	return true
}

// compensate deletes the case created by this run. It outlives a cancelled
// ctx so that the undo still reaches the store.
func (w *Workflow) compensate(ctx context.Context, caseID string) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := w.d.Cases.DeleteCase(cctx, caseID); err != nil {
		w.d.Logger.Error().Err(err).Str("case_id", caseID).Msg("Failed to delete case after upload failure")
		return errors.New().Wrap(errors.ErrBestEffort, err)
	}

	w.d.Logger.Info().Str("case_id", caseID).Msg("Deleted case after upload failure")
	return nil
}

func (w *Workflow) predict(ctx context.Context, snap buffer.Snapshot, res *Result) {
	errFactory := errors.New()

	p, err := w.d.Predictor.Predict(ctx, snap.Series)
	if err != nil {
		w.d.Logger.Warn().Err(err).Str("case_id", res.CaseID).Msg("Prediction failed")
		res.Warnings = append(res.Warnings, errFactory.Wrap(errors.ErrBestEffort, err))
		return
	}
	res.Prediction = &p

	ps, ok := w.d.Cases.(PredictionStore)
	if !ok {
		return
	}
	if err := ps.SavePrediction(ctx, res.CaseID, p); err != nil {
		w.d.Logger.Warn().Err(err).Str("case_id", res.CaseID).Msg("Failed to store prediction")
		res.Warnings = append(res.Warnings, errFactory.Wrap(errors.ErrBestEffort, err))
	}
}

func (w *Workflow) journal(ctx context.Context, sessionID, patientID string, res Result) {
	if w.d.Journal == nil {
		return
	}

	entry := store.ExportEntry{
		SessionID:  sessionID,
		PatientID:  patientID,
		CaseID:     res.CaseID,
		Outcome:    string(res.Outcome),
		Warnings:   len(res.Warnings),
		FinishedAt: w.d.Now(),
	}
	if res.Err != nil {
		entry.ErrorCode = string(errors.CodeOf(res.Err))
	}

	if err := w.d.Journal.RecordExport(context.WithoutCancel(ctx), entry); err != nil {
		w.d.Logger.Warn().Err(err).Msg("Failed to journal export")
	}
}

// ImageFileName is the upload name for a captured image filed at t.
func ImageFileName(t time.Time) string {
	return "IMG_" + t.Format("20060102_150405") + ".jpg"
}

// Note is the case note for a recording of duration d.
func Note(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("ECG recording (%02d:%02d)", secs/60, secs%60)
}
