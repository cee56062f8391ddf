package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/pedscribe/pedscribe/internal/pkg/audio"
	"github.com/pedscribe/pedscribe/internal/pkg/dedup"
	"github.com/pedscribe/pedscribe/internal/pkg/extractor"
	"github.com/pedscribe/pedscribe/internal/pkg/llm"
	"github.com/pedscribe/pedscribe/internal/pkg/messages"
	"github.com/pedscribe/pedscribe/internal/pkg/metrics"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"
	"github.com/pedscribe/pedscribe/internal/pkg/status"
	"github.com/pedscribe/pedscribe/internal/pkg/transcriber"
	tapi "github.com/pedscribe/pedscribe/internal/pkg/transcriber/api"
	"github.com/pedscribe/pedscribe/internal/pkg/utils"
)

// DefaultLeaseTime after which a started run is considered dead
const DefaultLeaseTime = 2 * time.Hour

const previousLimit = 10

// ErrBusy is returned when another run holds the consultation lease
var ErrBusy = errors.New("consultation is being processed")

// DB provides consultation persistence
type DB interface {
	LoadConsultation(ctx context.Context, id string) (*persistence.Consultation, error)
	AcquireLease(ctx context.Context, id string, lease time.Duration) (bool, error)
	LoadPatient(ctx context.Context, id string) (*persistence.PatientContext, error)
	LoadPreviousConsultations(ctx context.Context, patientID, exceptID string, limit int) ([]*persistence.PreviousConsultation, error)
	SaveSteps(ctx context.Context, id string, steps []persistence.ProcessingStep) error
	SaveDownload(ctx context.Context, id string, steps []persistence.ProcessingStep, hash string) error
	SaveTranscription(ctx context.Context, id string, steps []persistence.ProcessingStep, res *persistence.TranscriptionResult) error
	SaveCleaned(ctx context.Context, id string, steps []persistence.ProcessingStep, text string) error
	SaveExtraction(ctx context.Context, id string, steps []persistence.ProcessingStep, fields *persistence.ExtractedFields) error
	SaveFailure(ctx context.Context, id string, steps []persistence.ProcessingStep, msg, code string) error
}

// Filer retrieves files
type Filer interface {
	LoadFile(ctx context.Context, fileName string) (io.ReadSeekCloser, error)
}

// SizeGuard keeps audio under the transcription upload limit
type SizeGuard interface {
	NeedsCompression(file string) (bool, error)
	Compress(ctx context.Context, in, out string) (int64, error)
}

// Chunker splits long audio
type Chunker interface {
	OptimalChunkDuration(ctx context.Context, file string) (time.Duration, error)
	Split(ctx context.Context, file string, chunkLen time.Duration, dir string) ([]*audio.Chunk, error)
}

// TextCleaner cleans raw transcripts
type TextCleaner interface {
	Clean(ctx context.Context, raw string, patient *persistence.PatientContext) (string, error)
}

// FieldExtractor extracts structured fields
type FieldExtractor interface {
	Extract(ctx context.Context, in *extractor.Input) (*persistence.ExtractedFields, error)
}

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, string) error
}

// Data keeps the pipeline dependencies
type Data struct {
	DB          DB
	Filer       Filer
	Guard       SizeGuard
	Chunker     Chunker
	Transcriber transcriber.Single
	TextCleaner TextCleaner
	Extractor   FieldExtractor
	MsgSender   MsgSender
	Metrics     *metrics.Pipeline
	WorkDir     string
	Language    string
	LeaseTime   time.Duration

	now func() time.Time
}

// Options of one run
type Options struct {
	// Resume skips steps whose stored results are still valid
	Resume bool
	// UseOriginal processes the preserved pre-compression audio
	UseOriginal bool
}

type run struct {
	data  *Data
	c     *persistence.Consultation
	opt   Options
	steps []persistence.ProcessingStep
	step  status.Step
	dir   string

	file          string
	hash          string
	raw           string
	cleaned       string
	transcribed   bool
	patient       *persistence.PatientContext
	patientLoaded bool
}

// Validate checks the dependencies
func (d *Data) Validate() error {
	if d.DB == nil {
		return fmt.Errorf("no DB")
	}
	if d.Filer == nil {
		return fmt.Errorf("no Filer")
	}
	if d.Guard == nil {
		return fmt.Errorf("no size guard")
	}
	if d.Chunker == nil {
		return fmt.Errorf("no chunker")
	}
	if d.Transcriber == nil {
		return fmt.Errorf("no transcriber")
	}
	if d.TextCleaner == nil {
		return fmt.Errorf("no text cleaner")
	}
	if d.Extractor == nil {
		return fmt.Errorf("no extractor")
	}
	if d.MsgSender == nil {
		return fmt.Errorf("no msg sender")
	}
	return nil
}

// Process runs download, transcription, cleaning and extraction for the consultation.
// Returns ErrBusy if another run holds the lease. A failure is recorded on the consultation
// and returned.
func Process(ctx context.Context, data *Data, id string, opt *Options) error {
	if opt == nil {
		opt = &Options{}
	}
	c, err := data.DB.LoadConsultation(ctx, id)
	if err != nil {
		return fmt.Errorf("can't load consultation: %w", err)
	}
	ok, err := data.DB.AcquireLease(ctx, id, leaseTime(data.LeaseTime))
	if err != nil {
		return fmt.Errorf("can't acquire lease: %w", err)
	}
	if !ok {
		return ErrBusy
	}
	goapp.Log.Info().Str("ID", id).Bool("resume", opt.Resume).Bool("original", opt.UseOriginal).
		Float64("duration", utils.FromSQLFloat64OrZero(c.AudioDuration)).Msg("processing")
	dir, err := os.MkdirTemp(data.WorkDir, "ps-")
	if err != nil {
		err = fmt.Errorf("can't create work dir: %w", err)
		r := &run{data: data, c: c, opt: *opt, step: status.Download}
		r.fail(ctx, err)
		return err
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			goapp.Log.Warn().Err(err).Str("dir", dir).Msg("can't remove work dir")
		}
	}()
	r := &run{data: data, c: c, opt: *opt, dir: dir}
	if err := r.do(ctx); err != nil {
		r.fail(ctx, err)
		return err
	}
	goapp.Log.Info().Str("ID", id).Msg("consultation processed")
	r.inform(ctx, amessages.InformTypeFinished)
	return nil
}

func (r *run) do(ctx context.Context) error {
	if err := r.exec(ctx, status.Download, r.download); err != nil {
		return err
	}
	if r.canSkipTranscription() {
		goapp.Log.Info().Str("ID", r.c.ID).Msg("transcription is up to date, skip")
		r.keep(status.Transcription)
		r.raw = r.c.RawTranscription.String
	} else {
		r.transcribed = true
		if err := r.exec(ctx, status.Transcription, r.transcribe); err != nil {
			return err
		}
	}
	if r.canSkipCleaning() {
		goapp.Log.Info().Str("ID", r.c.ID).Msg("cleaned text is up to date, skip")
		r.keep(status.Cleaning)
		r.cleaned = r.c.CleanedTranscription.String
	} else {
		if err := r.exec(ctx, status.Cleaning, r.clean); err != nil {
			return err
		}
	}
	return r.exec(ctx, status.Extraction, r.extract)
}

// exec marks the step as started and runs it, f must persist the completed step
func (r *run) exec(ctx context.Context, st status.Step, f func(context.Context) error) error {
	r.step = st
	r.steps = persistence.SetStep(r.steps, st, status.InProgress, r.data.time())
	if err := r.data.DB.SaveSteps(ctx, r.c.ID, r.steps); err != nil {
		return fmt.Errorf("can't save steps: %w", err)
	}
	r.notify(ctx)
	start := time.Now()
	err := f(ctx)
	r.data.Metrics.ObserveStep(st.String(), err, time.Since(start))
	if err != nil {
		return err
	}
	goapp.Log.Info().Str("ID", r.c.ID).Str("step", st.String()).Dur("took", time.Since(start)).Msg("step done")
	r.notify(ctx)
	return nil
}

// keep copies the stored entry of a skipped step
func (r *run) keep(st status.Step) {
	if s, ok := persistence.FindStep(r.c.Steps, st); ok {
		r.steps = persistence.SetStep(r.steps, st, status.StepStatusFrom(s.Status), s.Timestamp)
	}
}

func (r *run) completed() []persistence.ProcessingStep {
	r.steps = persistence.SetStep(r.steps, r.step, status.Done, r.data.time())
	return r.steps
}

func (r *run) download(ctx context.Context) error {
	key := r.c.AudioURL
	if r.opt.UseOriginal {
		if !r.c.OriginalAudioURL.Valid || r.c.OriginalAudioURL.String == "" {
			return fmt.Errorf("no original audio")
		}
		key = r.c.OriginalAudioURL.String
	}
	if key == "" {
		return fmt.Errorf("no audio")
	}
	f, err := r.data.Filer.LoadFile(ctx, key)
	if err != nil {
		return fmt.Errorf("can't load audio '%s': %w", key, err)
	}
	defer f.Close()
	r.file = filepath.Join(r.dir, "audio"+strings.ToLower(filepath.Ext(key)))
	r.hash, err = copyWithHash(r.file, f)
	if err != nil {
		return err
	}
	return r.data.DB.SaveDownload(ctx, r.c.ID, r.completed(), r.hash)
}

func (r *run) canSkipTranscription() bool {
	return r.opt.Resume && persistence.StepCompleted(r.c.Steps, status.Transcription) &&
		strings.TrimSpace(r.c.RawTranscription.String) != "" &&
		r.c.TranscribedAudioHash.Valid && r.c.TranscribedAudioHash.String == r.hash
}

func (r *run) canSkipCleaning() bool {
	return !r.transcribed && persistence.StepCompleted(r.c.Steps, status.Cleaning) &&
		strings.TrimSpace(r.c.CleanedTranscription.String) != ""
}

func (r *run) transcribe(ctx context.Context) error {
	text, err := r.transcribeFile(ctx)
	if err != nil {
		return err
	}
	text, st := dedup.Deduplicate(text)
	r.data.Metrics.ObserveDedup(st)
	if st.Suspicious {
		goapp.Log.Warn().Str("ID", r.c.ID).Float64("removed", st.RemovedRatio).Msg("suspicious deduplication, continue")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("empty transcription")
	}
	r.raw = text
	return r.data.DB.SaveTranscription(ctx, r.c.ID, r.completed(), &persistence.TranscriptionResult{Text: text, AudioHash: r.hash})
}

func (r *run) transcribeFile(ctx context.Context) (string, error) {
	need, err := r.data.Guard.NeedsCompression(r.file)
	if err != nil {
		return "", err
	}
	if !need {
		return r.data.Transcriber.Transcribe(ctx, &tapi.Request{FilePath: r.file, Language: r.data.Language})
	}
	compressed := filepath.Join(r.dir, "compressed.mp3")
	_, err = r.data.Guard.Compress(ctx, r.file, compressed)
	if err == nil {
		return r.data.Transcriber.Transcribe(ctx, &tapi.Request{FilePath: compressed, Language: r.data.Language})
	}
	if !errors.Is(err, audio.ErrTooLarge) {
		return "", fmt.Errorf("can't compress: %w", err)
	}
	goapp.Log.Info().Str("ID", r.c.ID).Msg("compressed audio too large, chunking")
	chunkLen, err := r.data.Chunker.OptimalChunkDuration(ctx, compressed)
	if err != nil {
		return "", err
	}
	chunks, err := r.data.Chunker.Split(ctx, compressed, chunkLen, r.dir)
	if err != nil {
		return "", fmt.Errorf("can't split: %w", err)
	}
	goapp.Log.Info().Str("ID", r.c.ID).Int("chunks", len(chunks)).Dur("len", chunkLen).Msg("split")
	return transcriber.TranscribeChunks(ctx, r.data.Transcriber, chunks, r.data.Language)
}

func (r *run) clean(ctx context.Context) error {
	p, err := r.loadPatient(ctx)
	if err != nil {
		return err
	}
	res, err := r.data.TextCleaner.Clean(ctx, r.raw, p)
	if err != nil {
		return err
	}
	r.cleaned = res
	return r.data.DB.SaveCleaned(ctx, r.c.ID, r.completed(), res)
}

func (r *run) extract(ctx context.Context) error {
	p, err := r.loadPatient(ctx)
	if err != nil {
		return err
	}
	prev, err := r.data.DB.LoadPreviousConsultations(ctx, r.c.PatientID, r.c.ID, previousLimit)
	if err != nil {
		return fmt.Errorf("can't load previous consultations: %w", err)
	}
	res, err := r.data.Extractor.Extract(ctx, &extractor.Input{Text: r.cleaned, Patient: p, Type: r.c.Type,
		Subtype: utils.FromSQLStr(r.c.Subtype), Previous: prev})
	if err != nil {
		return err
	}
	return r.data.DB.SaveExtraction(ctx, r.c.ID, r.completed(), res)
}

func (r *run) loadPatient(ctx context.Context) (*persistence.PatientContext, error) {
	if r.patientLoaded {
		return r.patient, nil
	}
	p, err := r.data.DB.LoadPatient(ctx, r.c.PatientID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("can't load patient: %w", err)
	}
	if p == nil {
		goapp.Log.Warn().Str("ID", r.c.ID).Str("patient", r.c.PatientID).Msg("no patient context")
	}
	r.patient, r.patientLoaded = p, true
	return p, nil
}

func (r *run) fail(ctx context.Context, err error) {
	code := ErrorCode(err)
	goapp.Log.Error().Err(err).Str("ID", r.c.ID).Str("step", r.step.String()).Str("code", code.String()).Msg("processing failed")
	ctx = context.WithoutCancel(ctx)
	if r.step > 0 {
		r.steps = persistence.SetStep(r.steps, r.step, status.Failed, r.data.time())
	}
	if errS := r.data.DB.SaveFailure(ctx, r.c.ID, r.steps, err.Error(), code.String()); errS != nil {
		goapp.Log.Error().Err(errS).Str("ID", r.c.ID).Msg("can't save failure")
	}
	r.notify(ctx)
	r.inform(ctx, amessages.InformTypeFailed)
}

func (r *run) notify(ctx context.Context) {
	err := r.data.MsgSender.SendMessage(ctx, &messages.StatusMessage{QueueMessage: amessages.QueueMessage{ID: r.c.ID},
		Step: r.step.String()}, messages.StatusChange)
	if err != nil {
		goapp.Log.Warn().Err(err).Str("ID", r.c.ID).Msg("can't send status change")
	}
}

func (r *run) inform(ctx context.Context, tp string) {
	err := r.data.MsgSender.SendMessage(ctx, &amessages.InformMessage{QueueMessage: amessages.QueueMessage{ID: r.c.ID},
		Type: tp, At: r.data.time()}, messages.Inform)
	if err != nil {
		goapp.Log.Warn().Err(err).Str("ID", r.c.ID).Msg("can't send inform msg")
	}
}

// ErrorCode maps a pipeline error to the code stored with the consultation
func ErrorCode(err error) status.ErrCode {
	var ide *extractor.InsufficientDataError
	var bre *llm.BadResponseError
	switch {
	case errors.As(err, &ide):
		return status.ECInsufficientData
	case errors.Is(err, audio.ErrTooLarge):
		return status.ECMediaTooLarge
	case errors.As(err, &bre):
		return status.ECBadResponse
	}
	return status.ECServiceError
}

func copyWithHash(file string, r io.Reader) (string, error) {
	f, err := os.Create(file)
	if err != nil {
		return "", fmt.Errorf("can't create '%s': %w", file, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), r); err != nil {
		return "", fmt.Errorf("can't copy audio: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("can't close '%s': %w", file, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func leaseTime(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultLeaseTime
	}
	return d
}

func (d *Data) time() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}
