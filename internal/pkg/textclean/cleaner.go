package textclean

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/pedscribe/pedscribe/internal/pkg/llm"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"
)

const (
	// DefaultMaxChars of the transcript sent to the LLM
	DefaultMaxChars = 30000
	// TruncatedMarker is appended to a cut transcript
	TruncatedMarker = "\n\n[... transcrição truncada ...]"
)

// Completer makes an LLM call
type Completer interface {
	Complete(ctx context.Context, r *llm.Request) (string, error)
}

// Cleaner turns a raw transcript into a readable clinical text
type Cleaner struct {
	llm      Completer
	maxChars int
}

type cleanResponse struct {
	CleanedText string `json:"cleaned_text"`
}

// NewCleaner creates the cleaner, maxChars <= 0 means DefaultMaxChars
func NewCleaner(c Completer, maxChars int) (*Cleaner, error) {
	if c == nil {
		return nil, fmt.Errorf("no llm")
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	goapp.Log.Info().Int("maxChars", maxChars).Msg("text cleaner")
	return &Cleaner{llm: c, maxChars: maxChars}, nil
}

// Clean removes small talk and noise keeping all clinical content
func (c *Cleaner) Clean(ctx context.Context, raw string, patient *persistence.PatientContext) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty transcript")
	}
	defer goapp.Estimate("clean")()
	text, cut := truncate(raw, c.maxChars)
	if cut {
		goapp.Log.Warn().Int("maxChars", c.maxChars).Int("len", utf8.RuneCountInString(raw)).Msg("transcript truncated")
	}
	resp, err := c.llm.Complete(ctx, &llm.Request{System: systemPrompt, User: userPrompt(text, patient)})
	if err != nil {
		return "", fmt.Errorf("can't clean: %w", err)
	}
	res, err := llm.DecodeJSON[cleanResponse](resp)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(res.CleanedText) == "" {
		return "", llm.NewBadResponseError("empty cleaned_text")
	}
	return strings.TrimSpace(res.CleanedText), nil
}

func truncate(s string, l int) (string, bool) {
	if utf8.RuneCountInString(s) <= l {
		return s, false
	}
	return string([]rune(s)[:l]) + TruncatedMarker, true
}

const systemPrompt = `Você é um assistente de documentação clínica pediátrica.
Recebe a transcrição bruta de uma consulta entre médico, criança e responsável.
Tarefas:
- remova conversas sociais, ruídos, hesitações e repetições sem valor clínico;
- mantenha TODO o conteúdo clínico: sintomas, datas, doses, medidas, exame físico, orientações;
- corrija pontuação e divida em parágrafos legíveis, mantendo a identificação dos falantes quando existir;
- use o nome e a idade do paciente apenas para desambiguar, nunca para inventar fatos.
Responda somente com JSON no formato {"cleaned_text": "..."}.`

func userPrompt(text string, patient *persistence.PatientContext) string {
	sb := strings.Builder{}
	if patient != nil {
		b, _ := json.Marshal(struct {
			Name string `json:"name,omitempty"`
			Age  string `json:"age,omitempty"`
		}{Name: patient.Name, Age: patient.Age})
		sb.WriteString("Paciente: ")
		sb.Write(b)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Transcrição:\n")
	sb.WriteString(text)
	return sb.String()
}
