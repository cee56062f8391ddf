package persistence

import (
	"database/sql"
	"errors"
	"time"
)

type (

	//Consultation table, the fields the pipeline reads
	Consultation struct {
		ID                   string
		DoctorID             string
		PatientID            string
		Status               string
		Type                 ConsultationType
		Subtype              sql.NullString
		AudioURL             string
		OriginalAudioURL     sql.NullString
		AudioHash            sql.NullString
		AudioDuration        sql.NullFloat64
		FileName             string
		FileType             sql.NullString
		Steps                []ProcessingStep
		Error                sql.NullString
		ErrorCode            sql.NullString
		StartedAt            sql.NullTime
		RawTranscription     sql.NullString
		TranscribedAudioHash sql.NullString
		CleanedTranscription sql.NullString
		Created              time.Time
		Updated              time.Time
	}

	// ProcessingStep is one entry of consultations.processing_steps
	ProcessingStep struct {
		Step      string    `json:"step"`
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}

	// TranscriptionResult is persisted when the transcription step completes
	TranscriptionResult struct {
		Text      string
		AudioHash string
	}

	//UploadSession table
	UploadSession struct {
		ID          string
		DoctorID    string
		TotalChunks int
		Parts       []UploadPart
		Created     time.Time
		Updated     time.Time
	}

	//UploadPart table
	UploadPart struct {
		SessionID string
		Index     int
		Size      int64
		Created   time.Time
	}

	// PatientContext is read from the patients table, never written by the pipeline
	PatientContext struct {
		ID                  string     `json:"-"`
		Name                string     `json:"name"`
		BirthDate           *time.Time `json:"-"`
		Age                 string     `json:"age,omitempty"`
		Sex                 string     `json:"sex,omitempty"`
		WeightKg            *float64   `json:"weight_kg,omitempty"`
		HeightCm            *float64   `json:"height_cm,omitempty"`
		HeadCircumferenceCm *float64   `json:"head_circumference_cm,omitempty"`
		Allergies           string     `json:"allergies,omitempty"`
		CurrentMedications  string     `json:"current_medications,omitempty"`
		BloodType           string     `json:"blood_type,omitempty"`
		MedicalHistory      string     `json:"medical_history,omitempty"`
	}

	// PreviousConsultation is a completed consultation of the same patient
	PreviousConsultation struct {
		ID             string
		Date           time.Time
		ChiefComplaint string
		Diagnosis      string
		Plan           string
	}
)

// ErrNotFound indicates a missing or soft deleted record
var ErrNotFound = errors.New("not found")
