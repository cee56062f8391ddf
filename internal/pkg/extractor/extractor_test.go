package extractor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pedscribe/pedscribe/internal/pkg/llm"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"
	"github.com/pedscribe/pedscribe/internal/pkg/test"
	"github.com/pedscribe/pedscribe/internal/pkg/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testText = "Mãe relata febre de 39 graus há dois dias com tosse seca e coriza, sem vômitos."

const testResp = `{"chief_complaint":"Febre há 2 dias","hma":"Febre 39°C, tosse seca e coriza","history":null,
"family_history":null,"prenatal_perinatal_history":null,"physical_exam":null,"development_notes":null,
"weight_kg":12.5,"height_cm":null,"head_circumference_cm":null,"weight_source":"audio","height_source":null,
"head_circumference_source":null,"diagnosis":"IVAS","diagnosis_is_ai_suggestion":true,"conduct":"Sintomáticos",
"plan":"Retorno se piora","notes":null,"medication_alerts":null,"patient_updates":{"allergies":"dipirona"},
"speaker_analysis":{"mother_statements":["febre há dois dias"],"doctor_statements":[]},"quality_score":72}`

func initTest(t *testing.T) (*Extractor, *mocks.LLM) {
	t.Helper()
	m := &mocks.LLM{}
	e, err := NewExtractor(m, 0, 2)
	require.Nil(t, err)
	return e, m
}

func TestNewExtractor(t *testing.T) {
	e, err := NewExtractor(&mocks.LLM{}, 0, 0)
	require.Nil(t, err)
	assert.Equal(t, DefaultMinWords, e.minWords)
	assert.Equal(t, DefaultMaxPrevious, e.maxPrevious)
	_, err = NewExtractor(nil, 0, 0)
	assert.NotNil(t, err)
}

func TestExtract(t *testing.T) {
	e, m := initTest(t)
	m.On("Complete", mock.Anything, mock.Anything).Return("```json\n"+testResp+"\n```", nil)
	got, err := e.Extract(test.Ctx(t), &Input{Text: testText, Type: persistence.Urgent,
		Patient: &persistence.PatientContext{Name: "Ana", Age: "2 anos"}})
	require.Nil(t, err)
	assert.Equal(t, "Febre há 2 dias", *got.ChiefComplaint)
	assert.Equal(t, 12.5, *got.WeightKg)
	assert.Equal(t, persistence.SourceAudio, *got.WeightSource)
	assert.Nil(t, got.HeightCm)
	assert.True(t, got.DiagnosisIsAISuggestion)
	assert.Equal(t, "dipirona", *got.PatientUpdates.Allergies)
	assert.Equal(t, []string{"febre há dois dias"}, got.SpeakerAnalysis.MotherStatements)
	assert.Equal(t, 72.0, *got.QualityScore)
	r := m.Calls[0].Arguments.Get(1).(*llm.Request)
	assert.Contains(t, r.User, testText)
	assert.Contains(t, r.User, `"name": "Ana"`)
	assert.Contains(t, r.User, typeGuidance[persistence.Urgent])
}

func TestExtract_ExtraKeys(t *testing.T) {
	e, m := initTest(t)
	resp := strings.Replace(testResp, `"quality_score":72`, `"quality_score":72,"confidence":"alta","icd10":["J06.9"]`, 1)
	m.On("Complete", mock.Anything, mock.Anything).Return(resp, nil)
	got, err := e.Extract(test.Ctx(t), &Input{Text: testText})
	require.Nil(t, err)
	assert.Equal(t, "IVAS", *got.Diagnosis)
	assert.Equal(t, 72.0, *got.QualityScore)
}

func TestExtract_InsufficientData(t *testing.T) {
	e, m := initTest(t)
	_, err := e.Extract(test.Ctx(t), &Input{Text: "Oi, tudo bem? Tchau."})
	var ie *InsufficientDataError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 4, ie.Words)
	assert.Equal(t, 10, ie.Min)
	assert.Equal(t, "DADOS_INSUFICIENTES", ie.Code())
	assert.True(t, strings.HasPrefix(err.Error(), "DADOS_INSUFICIENTES: transcript has 4 words"))
	m.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestExtract_LLMFail(t *testing.T) {
	e, m := initTest(t)
	m.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("olia"))
	_, err := e.Extract(test.Ctx(t), &Input{Text: testText})
	assert.NotNil(t, err)
	var be *llm.BadResponseError
	assert.False(t, errors.As(err, &be))
}

func TestExtract_BadResponse(t *testing.T) {
	tests := []struct {
		name string
		resp string
	}{
		{name: "not json", resp: "olia"},
		{name: "wrong source", resp: `{"weight_kg":10,"weight_source":"guess"}`},
		{name: "source without value", resp: `{"height_source":"profile"}`},
		{name: "negative", resp: `{"head_circumference_cm":-1,"head_circumference_source":"audio"}`},
		{name: "zero", resp: `{"weight_kg":0}`},
		{name: "quality", resp: `{"quality_score":101}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, m := initTest(t)
			m.On("Complete", mock.Anything, mock.Anything).Return(tt.resp, nil)
			_, err := e.Extract(test.Ctx(t), &Input{Text: testText})
			var be *llm.BadResponseError
			assert.True(t, errors.As(err, &be), err)
		})
	}
}

func TestCountWords(t *testing.T) {
	assert.Equal(t, 0, CountWords("  \n"))
	assert.Equal(t, 3, CountWords(" a\tb\n\nc "))
}

func TestPreviousText(t *testing.T) {
	d := func(m int) time.Time { return time.Date(2024, time.Month(m), 1, 0, 0, 0, 0, time.UTC) }
	prev := []*persistence.PreviousConsultation{
		{Date: d(1), ChiefComplaint: "c1"},
		{Date: d(5), ChiefComplaint: "c5", Diagnosis: "d5"},
		nil,
		{Date: d(3), ChiefComplaint: "c3"},
		{Date: d(2), ChiefComplaint: "c2"},
	}
	got := previousText(prev, 3)
	assert.True(t, strings.HasPrefix(got, "- 2024-05-01 [MAIS RECENTE]\n  queixa: c5\n  diagnóstico: d5\n  plano: -\n"), got)
	assert.Less(t, strings.Index(got, "c3"), strings.Index(got, "c2"))
	assert.NotContains(t, got, "c1")
	assert.Equal(t, 1, strings.Count(got, "MAIS RECENTE"))
	assert.Equal(t, "", previousText(nil, 3))
}

func TestUserPrompt(t *testing.T) {
	e, _ := initTest(t)
	got := e.userPrompt(&Input{Text: "olia", Type: persistence.WellChild, Subtype: "1 mês"})
	assert.Contains(t, got, "TIPO DE CONSULTA: well_child (1 mês)")
	assert.Contains(t, got, typeGuidance[persistence.WellChild])
	assert.NotContains(t, got, "PERFIL DO PACIENTE")
	assert.NotContains(t, got, "CONSULTAS ANTERIORES")
	got = e.userPrompt(&Input{Text: "olia"})
	assert.Contains(t, got, "TIPO DE CONSULTA: routine")
}
