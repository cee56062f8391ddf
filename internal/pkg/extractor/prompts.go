package extractor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pedscribe/pedscribe/internal/pkg/persistence"
)

const systemPrompt = `Você é um assistente de documentação clínica pediátrica.
A partir da transcrição de uma consulta, preencha o prontuário estruturado.
Regras:
- use somente informações presentes na transcrição ou no perfil do paciente;
- campos sem informação devem ser null;
- medidas (peso em kg, altura em cm, perímetro cefálico em cm) ditas na consulta têm fonte "audio";
  se não forem ditas, use as do perfil com fonte "profile"; sem valor, valor e fonte null;
- se o médico não disser o diagnóstico e você sugerir um, marque diagnosis_is_ai_suggestion=true;
- medication_alerts: interações, alergias conflitantes ou doses inadequadas para o peso;
- patient_updates: apenas novidades sobre alergias, medicamentos em uso, tipo sanguíneo e antecedentes;
- speaker_analysis: falas atribuídas à mãe/responsável e ao médico;
- quality_score: 0 a 100, completude da documentação.
Responda somente com um objeto JSON com exatamente estes campos:
{"chief_complaint": string|null, "hma": string|null, "history": string|null, "family_history": string|null,
"prenatal_perinatal_history": string|null, "physical_exam": string|null, "development_notes": string|null,
"weight_kg": number|null, "height_cm": number|null, "head_circumference_cm": number|null,
"weight_source": "audio"|"profile"|null, "height_source": "audio"|"profile"|null,
"head_circumference_source": "audio"|"profile"|null,
"diagnosis": string|null, "diagnosis_is_ai_suggestion": boolean,
"conduct": string|null, "plan": string|null, "notes": string|null, "medication_alerts": string|null,
"patient_updates": {"allergies"?: string, "current_medications"?: string, "blood_type"?: string, "medical_history"?: string},
"speaker_analysis": {"mother_statements": [string], "doctor_statements": [string]},
"quality_score": number}`

var typeGuidance = map[persistence.ConsultationType]string{
	persistence.WellChild: "Consulta de puericultura: priorize crescimento (peso, altura, perímetro cefálico), " +
		"marcos do desenvolvimento, alimentação, sono, vacinação e orientações preventivas.",
	persistence.Urgent: "Consulta de urgência: priorize a queixa principal, a cronologia dos sintomas, " +
		"sinais de alarme, exame físico dirigido e conduta imediata.",
	persistence.Routine: "Consulta de rotina: faça a revisão por sistemas, acompanhe problemas crônicos " +
		"e registre o plano de seguimento.",
}

func (e *Extractor) userPrompt(in *Input) string {
	sb := strings.Builder{}
	if in.Patient != nil {
		b, _ := json.MarshalIndent(in.Patient, "", "  ")
		sb.WriteString("PERFIL DO PACIENTE:\n")
		sb.Write(b)
		sb.WriteString("\n\n")
	}
	tp := in.Type
	if _, ok := typeGuidance[tp]; !ok {
		tp = persistence.Routine
	}
	sb.WriteString("TIPO DE CONSULTA: ")
	sb.WriteString(string(tp))
	if s := strings.TrimSpace(in.Subtype); s != "" {
		sb.WriteString(" (" + s + ")")
	}
	sb.WriteString("\n")
	sb.WriteString(typeGuidance[tp])
	sb.WriteString("\n\n")
	if prev := previousText(in.Previous, e.maxPrevious); prev != "" {
		sb.WriteString("CONSULTAS ANTERIORES (da mais recente para a mais antiga):\n")
		sb.WriteString(prev)
		sb.WriteString("\n")
	}
	sb.WriteString("TRANSCRIÇÃO:\n")
	sb.WriteString(in.Text)
	return sb.String()
}

// previousText lists up to max consultations, newest first
func previousText(prev []*persistence.PreviousConsultation, max int) string {
	items := make([]*persistence.PreviousConsultation, 0, len(prev))
	for _, p := range prev {
		if p != nil {
			items = append(items, p)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Date.After(items[j].Date) })
	if len(items) > max {
		items = items[:max]
	}
	sb := strings.Builder{}
	for i, p := range items {
		mark := ""
		if i == 0 {
			mark = " [MAIS RECENTE]"
		}
		sb.WriteString(fmt.Sprintf("- %s%s\n  queixa: %s\n  diagnóstico: %s\n  plano: %s\n",
			p.Date.Format("2006-01-02"), mark, orDash(p.ChiefComplaint), orDash(p.Diagnosis), orDash(p.Plan)))
	}
	return sb.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
