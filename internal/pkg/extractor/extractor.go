package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/pedscribe/pedscribe/internal/pkg/llm"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"
	"github.com/pedscribe/pedscribe/internal/pkg/status"
)

const (
	// DefaultMinWords required to attempt an extraction
	DefaultMinWords = 10
	// DefaultMaxPrevious consultations passed as history
	DefaultMaxPrevious = 3
)

// Completer makes an LLM call
type Completer interface {
	Complete(ctx context.Context, r *llm.Request) (string, error)
}

// Input for one extraction
type Input struct {
	Text     string
	Patient  *persistence.PatientContext
	Type     persistence.ConsultationType
	Subtype  string
	Previous []*persistence.PreviousConsultation
}

// InsufficientDataError is returned when the transcript is too short to document a consultation
type InsufficientDataError struct {
	Words int
	Min   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: transcript has %d words, at least %d required; record again with more detail",
		e.Code(), e.Words, e.Min)
}

// Code returns the machine readable error code
func (e *InsufficientDataError) Code() string {
	return status.ECInsufficientData.String()
}

// Extractor produces structured clinical fields from a cleaned transcript
type Extractor struct {
	llm         Completer
	minWords    int
	maxPrevious int
}

// NewExtractor creates the extractor, values <= 0 mean defaults
func NewExtractor(c Completer, minWords, maxPrevious int) (*Extractor, error) {
	if c == nil {
		return nil, fmt.Errorf("no llm")
	}
	if minWords <= 0 {
		minWords = DefaultMinWords
	}
	if maxPrevious <= 0 {
		maxPrevious = DefaultMaxPrevious
	}
	goapp.Log.Info().Int("minWords", minWords).Int("maxPrevious", maxPrevious).Msg("field extractor")
	return &Extractor{llm: c, minWords: minWords, maxPrevious: maxPrevious}, nil
}

// Extract calls the LLM and validates its output.
// Returns *InsufficientDataError without calling the LLM for short texts.
func (e *Extractor) Extract(ctx context.Context, in *Input) (*persistence.ExtractedFields, error) {
	if in == nil {
		return nil, fmt.Errorf("no input")
	}
	if wc := CountWords(in.Text); wc < e.minWords {
		return nil, &InsufficientDataError{Words: wc, Min: e.minWords}
	}
	defer goapp.Estimate("extract")()
	resp, err := e.llm.Complete(ctx, &llm.Request{System: systemPrompt, User: e.userPrompt(in)})
	if err != nil {
		return nil, fmt.Errorf("can't extract: %w", err)
	}
	res, err := llm.DecodeJSON[persistence.ExtractedFields](resp)
	if err != nil {
		return nil, err
	}
	if err := validate(res); err != nil {
		return nil, err
	}
	return res, nil
}

// CountWords returns the number of whitespace separated words
func CountWords(s string) int {
	return len(strings.Fields(s))
}

func validate(f *persistence.ExtractedFields) error {
	measures := []struct {
		name   string
		value  *float64
		source *persistence.MeasureSource
	}{
		{name: "weight", value: f.WeightKg, source: f.WeightSource},
		{name: "height", value: f.HeightCm, source: f.HeightSource},
		{name: "head_circumference", value: f.HeadCircumferenceCm, source: f.HeadCircumferenceSource},
	}
	for _, m := range measures {
		if m.source != nil && *m.source != persistence.SourceAudio && *m.source != persistence.SourceProfile {
			return llm.NewBadResponseError(fmt.Sprintf("wrong %s source '%s'", m.name, *m.source))
		}
		if m.value == nil && m.source != nil {
			return llm.NewBadResponseError(fmt.Sprintf("%s source without value", m.name))
		}
		if m.value != nil && *m.value <= 0 {
			return llm.NewBadResponseError(fmt.Sprintf("wrong %s %v", m.name, *m.value))
		}
	}
	if f.QualityScore != nil && (*f.QualityScore < 0 || *f.QualityScore > 100) {
		return llm.NewBadResponseError(fmt.Sprintf("wrong quality score %v", *f.QualityScore))
	}
	return nil
}
