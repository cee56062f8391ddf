package persistence

import (
	"fmt"
	"strings"
)

// ConsultationType selects extraction guidance
type ConsultationType string

const (
	// WellChild - routine growth and development visit (puericultura)
	WellChild ConsultationType = "well_child"
	// Urgent - acute complaint
	Urgent ConsultationType = "urgent"
	// Routine - general follow up
	Routine ConsultationType = "routine"
)

// ParseConsultationType validates the type, empty value means routine
func ParseConsultationType(s string) (ConsultationType, error) {
	switch ConsultationType(strings.ToLower(strings.TrimSpace(s))) {
	case "", Routine:
		return Routine, nil
	case WellChild:
		return WellChild, nil
	case Urgent:
		return Urgent, nil
	}
	return "", fmt.Errorf("wrong consultation type '%s'", s)
}

// MeasureSource tells where a measurement came from
type MeasureSource string

const (
	// SourceAudio - stated during the consultation
	SourceAudio MeasureSource = "audio"
	// SourceProfile - taken from the patient record
	SourceProfile MeasureSource = "profile"
)

type (
	// ExtractedFields is the structured LLM output of one consultation
	ExtractedFields struct {
		ChiefComplaint           *string         `json:"chief_complaint"`
		HMA                      *string         `json:"hma"`
		History                  *string         `json:"history"`
		FamilyHistory            *string         `json:"family_history"`
		PrenatalPerinatalHistory *string         `json:"prenatal_perinatal_history"`
		PhysicalExam             *string         `json:"physical_exam"`
		DevelopmentNotes         *string         `json:"development_notes"`
		WeightKg                 *float64        `json:"weight_kg"`
		HeightCm                 *float64        `json:"height_cm"`
		HeadCircumferenceCm      *float64        `json:"head_circumference_cm"`
		WeightSource             *MeasureSource  `json:"weight_source"`
		HeightSource             *MeasureSource  `json:"height_source"`
		HeadCircumferenceSource  *MeasureSource  `json:"head_circumference_source"`
		Diagnosis                *string         `json:"diagnosis"`
		DiagnosisIsAISuggestion  bool            `json:"diagnosis_is_ai_suggestion"`
		Conduct                  *string         `json:"conduct"`
		Plan                     *string         `json:"plan"`
		Notes                    *string         `json:"notes"`
		MedicationAlerts         *string         `json:"medication_alerts"`
		PatientUpdates           PatientUpdates  `json:"patient_updates"`
		SpeakerAnalysis          SpeakerAnalysis `json:"speaker_analysis"`
		QualityScore             *float64        `json:"quality_score,omitempty"`
	}

	// PatientUpdates are suggestions only, a human confirms them elsewhere
	PatientUpdates struct {
		Allergies          *string `json:"allergies,omitempty"`
		CurrentMedications *string `json:"current_medications,omitempty"`
		BloodType          *string `json:"blood_type,omitempty"`
		MedicalHistory     *string `json:"medical_history,omitempty"`
	}

	// SpeakerAnalysis attributes statements to the caregiver and the doctor
	SpeakerAnalysis struct {
		MotherStatements []string `json:"mother_statements"`
		DoctorStatements []string `json:"doctor_statements"`
	}
)

// Empty returns true if no update is suggested
func (p PatientUpdates) Empty() bool {
	return p.Allergies == nil && p.CurrentMedications == nil && p.BloodType == nil && p.MedicalHistory == nil
}
