package mocks

import (
	"context"
	"io"
	"time"

	"github.com/airenas/async-api/pkg/messages"
	"github.com/pedscribe/pedscribe/internal/pkg/audio"
	"github.com/pedscribe/pedscribe/internal/pkg/llm"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"
	"github.com/pedscribe/pedscribe/internal/pkg/transcriber/api"
	"github.com/stretchr/testify/mock"
)

// Filer is minio mock
type Filer struct{ mock.Mock }

func (m *Filer) SaveFile(ctx context.Context, name string, r io.Reader, size int64) error {
	args := m.Called(ctx, name, r, size)
	return args.Error(0)
}

// LoadFile func mock
func (m *Filer) LoadFile(ctx context.Context, fileName string) (io.ReadSeekCloser, error) {
	args := m.Called(ctx, fileName)
	return to[io.ReadSeekCloser](args.Get(0)), args.Error(1)
}

// Clean func mock
func (m *Filer) Clean(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// DB is postgress DB mock
type DB struct{ mock.Mock }

func (m *DB) LoadConsultation(ctx context.Context, id string) (*persistence.Consultation, error) {
	args := m.Called(ctx, id)
	return to[*persistence.Consultation](args.Get(0)), args.Error(1)
}

func (m *DB) AcquireLease(ctx context.Context, id string, lease time.Duration) (bool, error) {
	args := m.Called(ctx, id, lease)
	return args.Bool(0), args.Error(1)
}

func (m *DB) LoadPatient(ctx context.Context, id string) (*persistence.PatientContext, error) {
	args := m.Called(ctx, id)
	return to[*persistence.PatientContext](args.Get(0)), args.Error(1)
}

func (m *DB) LoadPreviousConsultations(ctx context.Context, patientID, exceptID string, limit int) ([]*persistence.PreviousConsultation, error) {
	args := m.Called(ctx, patientID, exceptID, limit)
	return to[[]*persistence.PreviousConsultation](args.Get(0)), args.Error(1)
}

func (m *DB) SaveSteps(ctx context.Context, id string, steps []persistence.ProcessingStep) error {
	args := m.Called(ctx, id, steps)
	return args.Error(0)
}

func (m *DB) SaveDownload(ctx context.Context, id string, steps []persistence.ProcessingStep, hash string) error {
	args := m.Called(ctx, id, steps, hash)
	return args.Error(0)
}

func (m *DB) SaveTranscription(ctx context.Context, id string, steps []persistence.ProcessingStep, res *persistence.TranscriptionResult) error {
	args := m.Called(ctx, id, steps, res)
	return args.Error(0)
}

func (m *DB) SaveCleaned(ctx context.Context, id string, steps []persistence.ProcessingStep, text string) error {
	args := m.Called(ctx, id, steps, text)
	return args.Error(0)
}

func (m *DB) SaveExtraction(ctx context.Context, id string, steps []persistence.ProcessingStep, fields *persistence.ExtractedFields) error {
	args := m.Called(ctx, id, steps, fields)
	return args.Error(0)
}

func (m *DB) SaveFailure(ctx context.Context, id string, steps []persistence.ProcessingStep, msg, code string) error {
	args := m.Called(ctx, id, steps, msg, code)
	return args.Error(0)
}

func (m *DB) InsertConsultation(ctx context.Context, c *persistence.Consultation) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *DB) FindConsultationByHash(ctx context.Context, doctorID, hash string) (string, error) {
	args := m.Called(ctx, doctorID, hash)
	return args.String(0), args.Error(1)
}

func (m *DB) LoadUploadSession(ctx context.Context, id string) (*persistence.UploadSession, error) {
	args := m.Called(ctx, id)
	return to[*persistence.UploadSession](args.Get(0)), args.Error(1)
}

func (m *DB) SaveUploadPart(ctx context.Context, s *persistence.UploadSession, p *persistence.UploadPart) error {
	args := m.Called(ctx, s, p)
	return args.Error(0)
}

func (m *DB) LoadDoctorEmail(ctx context.Context, consultationID string) (string, error) {
	args := m.Called(ctx, consultationID)
	return args.String(0), args.Error(1)
}

func (m *DB) LockEmailTable(ctx context.Context, id string, tp string) error {
	args := m.Called(ctx, id, tp)
	return args.Error(0)
}

func (m *DB) UnLockEmailTable(ctx context.Context, id string, tp string, v *int) error {
	args := m.Called(ctx, id, tp, *v)
	return args.Error(0)
}

// Sender is postgres queue mock
type Sender struct{ mock.Mock }

func (m *Sender) SendMessage(ctx context.Context, msg messages.Message, queue string) error {
	args := m.Called(ctx, msg, queue)
	return args.Error(0)
}

// Cleaner is clean job mock
type Cleaner struct{ mock.Mock }

func (m *Cleaner) Clean(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// Transcriber is transcription client mock
type Transcriber struct{ mock.Mock }

func (m *Transcriber) Transcribe(ctx context.Context, audio *api.Request) (string, error) {
	args := m.Called(ctx, audio)
	return args.String(0), args.Error(1)
}

// LLM is chat completion client mock
type LLM struct{ mock.Mock }

func (m *LLM) Complete(ctx context.Context, r *llm.Request) (string, error) {
	args := m.Called(ctx, r)
	return args.String(0), args.Error(1)
}

// TextCleaner mock
type TextCleaner struct{ mock.Mock }

func (m *TextCleaner) Clean(ctx context.Context, raw string, patient *persistence.PatientContext) (string, error) {
	args := m.Called(ctx, raw, patient)
	return args.String(0), args.Error(1)
}

// SizeGuard mock
type SizeGuard struct{ mock.Mock }

func (m *SizeGuard) NeedsCompression(file string) (bool, error) {
	args := m.Called(file)
	return args.Bool(0), args.Error(1)
}

func (m *SizeGuard) Compress(ctx context.Context, in, out string) (int64, error) {
	args := m.Called(ctx, in, out)
	return args.Get(0).(int64), args.Error(1)
}

// Chunker mock
type Chunker struct{ mock.Mock }

func (m *Chunker) OptimalChunkDuration(ctx context.Context, file string) (time.Duration, error) {
	args := m.Called(ctx, file)
	return args.Get(0).(time.Duration), args.Error(1)
}

func (m *Chunker) Split(ctx context.Context, file string, chunkLen time.Duration, dir string) ([]*audio.Chunk, error) {
	args := m.Called(ctx, file, chunkLen, dir)
	return to[[]*audio.Chunk](args.Get(0)), args.Error(1)
}

func to[T interface{}](val interface{}) T {
	if val == nil {
		var res T
		return res
	}
	return val.(T)
}
