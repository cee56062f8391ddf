package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"
	"github.com/pedscribe/pedscribe/internal/pkg/status"
)

// DB provides operations with postgresql
type DB struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewDB creates DB instance
func NewDB(pool *pgxpool.Pool) (*DB, error) {
	if pool == nil {
		return nil, fmt.Errorf("no pool")
	}
	res := &DB{pool: pool, now: time.Now}
	return res, nil
}

const consultationFields = `id, doctor_id, patient_id, status, consultation_type, subtype, audio_url,
	original_audio_url, audio_hash, audio_duration, file_name, file_type, processing_steps, processing_error,
	error_code, processing_started_at, raw_transcription, transcribed_audio_hash, cleaned_transcription,
	created_at, updated_at`

// LoadConsultation loads a not deleted consultation
func (db *DB) LoadConsultation(ctx context.Context, id string) (*persistence.Consultation, error) {
	var res persistence.Consultation
	var steps []byte
	var tp string
	err := db.pool.QueryRow(ctx, `SELECT `+consultationFields+` FROM consultations
		WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&res.ID, &res.DoctorID, &res.PatientID, &res.Status, &tp,
		&res.Subtype, &res.AudioURL, &res.OriginalAudioURL, &res.AudioHash, &res.AudioDuration, &res.FileName,
		&res.FileType, &steps, &res.Error, &res.ErrorCode, &res.StartedAt, &res.RawTranscription,
		&res.TranscribedAudioHash, &res.CleanedTranscription, &res.Created, &res.Updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("consultation %s: %w", id, persistence.ErrNotFound)
		}
		return nil, fmt.Errorf("can't load consultation: %w", err)
	}
	res.Type = persistence.ConsultationType(tp)
	if res.Steps, err = stepsFromJSON(steps); err != nil {
		return nil, err
	}
	return &res, nil
}

// AcquireLease marks the consultation as processing if nobody holds the lease or it is older than lease
func (db *DB) AcquireLease(ctx context.Context, id string, lease time.Duration) (bool, error) {
	now := db.now()
	cmd, err := db.pool.Exec(ctx, `UPDATE consultations SET
	processing_started_at = $2,
	status = $3,
	processing_error = NULL,
	error_code = NULL,
	updated_at = $2
	WHERE id = $1 AND deleted_at IS NULL AND (processing_started_at IS NULL OR processing_started_at < $4)`,
		id, now, status.Processing.String(), now.Add(-lease))
	if err != nil {
		return false, fmt.Errorf("can't acquire lease: %w", err)
	}
	return cmd.RowsAffected() == 1, nil
}

// LoadPatient loads the patient context
func (db *DB) LoadPatient(ctx context.Context, id string) (*persistence.PatientContext, error) {
	var res persistence.PatientContext
	var sex, allergies, meds, blood, history sql.NullString
	err := db.pool.QueryRow(ctx, `SELECT id, name, birth_date, sex, weight_kg, height_cm, head_circumference_cm,
	allergies, current_medications, blood_type, medical_history FROM patients
		WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&res.ID, &res.Name, &res.BirthDate, &sex, &res.WeightKg,
		&res.HeightCm, &res.HeadCircumferenceCm, &allergies, &meds, &blood, &history)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("patient %s: %w", id, persistence.ErrNotFound)
		}
		return nil, fmt.Errorf("can't load patient: %w", err)
	}
	res.Sex, res.Allergies, res.CurrentMedications = sex.String, allergies.String, meds.String
	res.BloodType, res.MedicalHistory = blood.String, history.String
	if res.BirthDate != nil {
		res.Age = persistence.AgeText(*res.BirthDate, db.now())
	}
	return &res, nil
}

// LoadPreviousConsultations returns completed consultations of the patient, newest first
func (db *DB) LoadPreviousConsultations(ctx context.Context, patientID, exceptID string, limit int) ([]*persistence.PreviousConsultation, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, created_at, COALESCE(chief_complaint, ''), COALESCE(diagnosis, ''),
	COALESCE(plan, '') FROM consultations
		WHERE patient_id = $1 AND id <> $2 AND status = $3 AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT $4`, patientID, exceptID, status.Completed.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("can't select previous consultations: %w", err)
	}
	defer rows.Close()
	res := []*persistence.PreviousConsultation{}
	for rows.Next() {
		var pc persistence.PreviousConsultation
		if err := rows.Scan(&pc.ID, &pc.Date, &pc.ChiefComplaint, &pc.Diagnosis, &pc.Plan); err != nil {
			return nil, fmt.Errorf("can't retrieve previous consultation: %w", err)
		}
		res = append(res, &pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("can't retrieve previous consultations: %w", err)
	}
	return res, nil
}

// SaveSteps updates processing steps
func (db *DB) SaveSteps(ctx context.Context, id string, steps []persistence.ProcessingStep) error {
	return db.update(ctx, id, steps, ``)
}

// SaveDownload stores steps and the audio fingerprint if it is not set yet
func (db *DB) SaveDownload(ctx context.Context, id string, steps []persistence.ProcessingStep, hash string) error {
	return db.update(ctx, id, steps, `audio_hash = COALESCE(audio_hash, $4),`, hash)
}

// SaveTranscription stores steps and the deduplicated raw transcript
func (db *DB) SaveTranscription(ctx context.Context, id string, steps []persistence.ProcessingStep, res *persistence.TranscriptionResult) error {
	return db.update(ctx, id, steps, `raw_transcription = $4, transcribed_audio_hash = $5,`, res.Text, res.AudioHash)
}

// SaveCleaned stores steps and the cleaned transcript
func (db *DB) SaveCleaned(ctx context.Context, id string, steps []persistence.ProcessingStep, text string) error {
	return db.update(ctx, id, steps, `cleaned_transcription = $4,`, text)
}

// SaveExtraction stores the extracted fields, completes the consultation and releases the lease.
// original_ai_version is written only once.
func (db *DB) SaveExtraction(ctx context.Context, id string, steps []persistence.ProcessingStep, f *persistence.ExtractedFields) error {
	if f == nil {
		return fmt.Errorf("no fields")
	}
	orig, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("can't marshal fields: %w", err)
	}
	pu, err := json.Marshal(f.PatientUpdates)
	if err != nil {
		return fmt.Errorf("can't marshal patient updates: %w", err)
	}
	sa, err := json.Marshal(f.SpeakerAnalysis)
	if err != nil {
		return fmt.Errorf("can't marshal speaker analysis: %w", err)
	}
	return db.update(ctx, id, steps, `chief_complaint = $4, hma = $5, history = $6, family_history = $7,
	prenatal_perinatal_history = $8, physical_exam = $9, development_notes = $10, weight_kg = $11, height_cm = $12,
	head_circumference_cm = $13, weight_source = $14, height_source = $15, head_circumference_source = $16,
	diagnosis = $17, diagnosis_is_ai_suggestion = $18, conduct = $19, plan = $20, notes = $21,
	medication_alerts = $22, patient_updates = $23, speaker_analysis = $24, quality_score = $25,
	original_ai_version = COALESCE(original_ai_version, $26),
	status = $27, processing_error = NULL, error_code = NULL, processing_started_at = NULL,`,
		f.ChiefComplaint, f.HMA, f.History, f.FamilyHistory, f.PrenatalPerinatalHistory, f.PhysicalExam,
		f.DevelopmentNotes, f.WeightKg, f.HeightCm, f.HeadCircumferenceCm, sourceStr(f.WeightSource),
		sourceStr(f.HeightSource), sourceStr(f.HeadCircumferenceSource), f.Diagnosis, f.DiagnosisIsAISuggestion,
		f.Conduct, f.Plan, f.Notes, f.MedicationAlerts, pu, sa, f.QualityScore, orig, status.Completed.String())
}

// SaveFailure marks the consultation failed and releases the lease
func (db *DB) SaveFailure(ctx context.Context, id string, steps []persistence.ProcessingStep, msg, code string) error {
	return db.update(ctx, id, steps, `status = $4, processing_error = $5, error_code = $6, processing_started_at = NULL,`,
		status.Error.String(), msg, code)
}

// update sets processing_steps($2), updated_at($3) and the provided set clause, args start at $4
func (db *DB) update(ctx context.Context, id string, steps []persistence.ProcessingStep, set string, args ...interface{}) error {
	js, err := stepsToJSON(steps)
	if err != nil {
		return err
	}
	cmd, err := db.pool.Exec(ctx, `UPDATE consultations SET `+set+`
	processing_steps = $2,
	updated_at = $3
	WHERE id = $1`, append([]interface{}{id, js, db.now()}, args...)...)
	if err != nil {
		return fmt.Errorf("can't update consultation: %w", err)
	}
	if cmd.RowsAffected() != 1 {
		return fmt.Errorf("can't update consultation %s: %w", id, persistence.ErrNotFound)
	}
	return nil
}

// InsertConsultation inserts a pending consultation
func (db *DB) InsertConsultation(ctx context.Context, c *persistence.Consultation) error {
	steps, err := stepsToJSON(c.Steps)
	if err != nil {
		return err
	}
	_, err = db.pool.Exec(ctx, `INSERT INTO consultations(id, doctor_id, patient_id, status, consultation_type,
	subtype, audio_url, original_audio_url, audio_hash, audio_duration, file_name, file_type, processing_steps,
	created_at, updated_at)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`, c.ID, c.DoctorID, c.PatientID,
		status.Pending.String(), string(c.Type), c.Subtype, c.AudioURL, c.OriginalAudioURL, c.AudioHash,
		c.AudioDuration, c.FileName, c.FileType, steps, c.Created)
	if err != nil {
		return fmt.Errorf("can't insert consultation: %w", err)
	}
	return nil
}

// FindConsultationByHash returns ID of a not deleted consultation of the doctor with the same audio, or ""
func (db *DB) FindConsultationByHash(ctx context.Context, doctorID, hash string) (string, error) {
	var res string
	err := db.pool.QueryRow(ctx, `SELECT id FROM consultations
		WHERE doctor_id = $1 AND audio_hash = $2 AND deleted_at IS NULL
		ORDER BY created_at LIMIT 1`, doctorID, hash).Scan(&res)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("can't find consultation: %w", err)
	}
	return res, nil
}

// LoadUploadSession loads the session with its parts ordered by index
func (db *DB) LoadUploadSession(ctx context.Context, id string) (*persistence.UploadSession, error) {
	var res persistence.UploadSession
	err := db.pool.QueryRow(ctx, `SELECT id, doctor_id, total_chunks, created, updated FROM upload_sessions
		WHERE id = $1`, id).Scan(&res.ID, &res.DoctorID, &res.TotalChunks, &res.Created, &res.Updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("upload session %s: %w", id, persistence.ErrNotFound)
		}
		return nil, fmt.Errorf("can't load upload session: %w", err)
	}
	rows, err := db.pool.Query(ctx, `SELECT session_id, idx, size, created FROM upload_parts
		WHERE session_id = $1 ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("can't select upload parts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p persistence.UploadPart
		if err := rows.Scan(&p.SessionID, &p.Index, &p.Size, &p.Created); err != nil {
			return nil, fmt.Errorf("can't retrieve upload part: %w", err)
		}
		res.Parts = append(res.Parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("can't retrieve upload parts: %w", err)
	}
	return &res, nil
}

// SaveUploadPart creates or touches the session and upserts the part
func (db *DB) SaveUploadPart(ctx context.Context, s *persistence.UploadSession, p *persistence.UploadPart) error {
	now := db.now()
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO upload_sessions(id, doctor_id, total_chunks, created, updated)
		VALUES($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE SET updated = $4`, s.ID, s.DoctorID, s.TotalChunks, now)
		if err != nil {
			return fmt.Errorf("can't save upload session: %w", err)
		}
		_, err = tx.Exec(ctx, `INSERT INTO upload_parts(session_id, idx, size, created)
		VALUES($1, $2, $3, $4)
		ON CONFLICT (session_id, idx) DO UPDATE SET size = $3, created = $4`, s.ID, p.Index, p.Size, now)
		if err != nil {
			return fmt.Errorf("can't save upload part: %w", err)
		}
		return nil
	})
}

// LoadDoctorEmail returns the email of the consultation's doctor, "" if none
func (db *DB) LoadDoctorEmail(ctx context.Context, consultationID string) (string, error) {
	var res sql.NullString
	err := db.pool.QueryRow(ctx, `SELECT d.email FROM consultations c JOIN doctors d ON d.id = c.doctor_id
		WHERE c.id = $1`, consultationID).Scan(&res)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("can't load email: %w", err)
	}
	return res.String, nil
}

// LockEmailTable marks the (id, type) email as being sent.
// Fails if it is already locked or sent.
func (db *DB) LockEmailTable(ctx context.Context, id string, tp string) error {
	_, err := db.pool.Exec(ctx, `INSERT INTO email_lock(id, type, key, created) VALUES($1, $2, 0, $3)
	ON CONFLICT DO NOTHING`, id, tp, db.now())
	if err != nil {
		return fmt.Errorf("can't insert email lock: %w", err)
	}
	cmd, err := db.pool.Exec(ctx, `UPDATE email_lock SET key = 1 WHERE id = $1 AND type = $2 AND key = 0`, id, tp)
	if err != nil {
		return fmt.Errorf("can't lock email: %w", err)
	}
	if cmd.RowsAffected() != 1 {
		return fmt.Errorf("email %s(%s) is locked or sent", id, tp)
	}
	return nil
}

// UnLockEmailTable sets the lock value: 0 - may retry, 2 - sent
func (db *DB) UnLockEmailTable(ctx context.Context, id string, tp string, v *int) error {
	val := 0
	if v != nil {
		val = *v
	}
	_, err := db.pool.Exec(ctx, `UPDATE email_lock SET key = $3 WHERE id = $1 AND type = $2`, id, tp, val)
	if err != nil {
		return fmt.Errorf("can't unlock email: %w", err)
	}
	return nil
}

// Live returns no error if db is reachable and initialized
func (db *DB) Live(ctx context.Context) error {
	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT FROM pg_tables WHERE tablename = 'gue_jobs')`).Scan(&exists); err != nil {
		return fmt.Errorf("can't check table: %w", err)
	}
	if !exists {
		return fmt.Errorf("no migration done")
	}
	return nil
}

func stepsToJSON(steps []persistence.ProcessingStep) ([]byte, error) {
	if steps == nil {
		steps = []persistence.ProcessingStep{}
	}
	res, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("can't marshal steps: %w", err)
	}
	return res, nil
}

func stepsFromJSON(data []byte) ([]persistence.ProcessingStep, error) {
	res := []persistence.ProcessingStep{}
	if len(data) == 0 {
		return res, nil
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("can't unmarshal steps: %w", err)
	}
	return res, nil
}

func sourceStr(s *persistence.MeasureSource) *string {
	if s == nil {
		return nil
	}
	res := string(*s)
	return &res
}
